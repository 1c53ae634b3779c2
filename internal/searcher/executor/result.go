package executor

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Stats describes the work done by one evaluation.
type Stats struct {
	Phrases int `json:"phrases"`
	Tokens  int `json:"tokens"`
	// Deferred counts tokens whose doclists were not decoded.
	Deferred int `json:"deferred"`
	// Candidates counts rows that needed verification.
	Candidates int `json:"candidates"`
	// Verified counts rows that were re-tokenized.
	Verified int `json:"verified"`
}

// Instance is one token of one matched phrase occurrence.
type Instance struct {
	Phrase   int `json:"phrase"`
	Token    int `json:"token"`
	Column   int `json:"column"`
	Position int `json:"position"`
}

// Offset locates an Instance in the row text. Start and End are byte
// offsets into the column.
type Offset struct {
	Instance
	Start int `json:"start"`
	End   int `json:"end"`
}

// Result is the outcome of Evaluate. Instances and Offsets read through the
// sources the Executor was built with, which must still be usable.
type Result struct {
	ev     *evaluation
	expr   *parser.Expr
	docids []int64
	set    *roaring64.Bitmap
}

// Len returns the number of matching rows.
func (r *Result) Len() int { return len(r.docids) }

// DocIDs returns the matching docids in the requested order.
func (r *Result) DocIDs() []int64 { return slices.Clone(r.docids) }

// Stats returns evaluation counters.
func (r *Result) Stats() Stats { return r.ev.stats }

// Rows returns a cursor over the matching docids.
func (r *Result) Rows() *Rows { return &Rows{ids: r.docids, i: -1} }

// Rows is a forward cursor over a Result.
type Rows struct {
	ids []int64
	i   int
}

// Next advances the cursor.
func (rs *Rows) Next() bool {
	if rs.i+1 >= len(rs.ids) {
		rs.i = len(rs.ids)
		return false
	}
	rs.i++
	return true
}

// DocID returns the docid at the cursor.
func (rs *Rows) DocID() int64 { return rs.ids[rs.i] }

// Instances lists the phrase token occurrences that make docid match, in
// column and position order. Phrases under the right side of a NOT are not
// reported, and phrases under a NEAR only where the NEAR holds.
func (r *Result) Instances(ctx context.Context, docid int64) ([]Instance, error) {
	if !r.set.Contains(storage.EncodeDocID(docid)) {
		return nil, fmt.Errorf("row %d is not in the result: %w", docid, apperrors.ErrDocumentNotFound)
	}
	dm := r.ev.newDocMatch(docid)
	var hits []hit
	if _, _, err := dm.eval(ctx, r.expr, true, &hits); err != nil {
		return nil, err
	}

	var out []Instance
	for _, h := range hits {
		n := len(r.ev.phrases[h.phrase].tokens)
		for t := range n {
			out = append(out, Instance{Phrase: h.phrase, Token: t, Column: h.col, Position: h.start + t})
		}
	}
	slices.SortFunc(out, func(a, b Instance) int {
		return cmp.Or(
			cmp.Compare(a.Column, b.Column),
			cmp.Compare(a.Position, b.Position),
			cmp.Compare(a.Phrase, b.Phrase),
			cmp.Compare(a.Token, b.Token),
		)
	})
	return slices.Compact(out), nil
}

// Offsets is Instances with byte offsets taken from re-tokenizing the row.
func (r *Result) Offsets(ctx context.Context, docid int64) ([]Offset, error) {
	instances, err := r.Instances(ctx, docid)
	if err != nil {
		return nil, err
	}
	dm := r.ev.newDocMatch(docid)
	if err := dm.load(ctx); err != nil {
		return nil, err
	}
	if !dm.found {
		return nil, fmt.Errorf("row %d: %w", docid, apperrors.ErrDocumentNotFound)
	}

	type key struct{ col, pos int }
	bounds := make(map[key][2]int)
	for col, text := range dm.columns {
		for tok := range r.ev.ex.tok.Tokens(text) {
			bounds[key{col, tok.Position}] = [2]int{tok.Start, tok.End}
		}
	}

	out := make([]Offset, 0, len(instances))
	for _, in := range instances {
		b, ok := bounds[key{in.Column, in.Position}]
		if !ok {
			return nil, apperrors.Corruptf("row %d has no token at column %d position %d", docid, in.Column, in.Position)
		}
		out = append(out, Offset{Instance: in, Start: b[0], End: b[1]})
	}
	return out, nil
}
