package executor

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
)

// docMatch evaluates a query against a single row. Loaded tokens use their
// doclists; deferred tokens use the row's own text, tokenized on first use.
type docMatch struct {
	ev      *evaluation
	docid   int64
	loaded  bool
	found   bool
	columns []string
	terms   map[string][]doclist.Posting
}

func (ev *evaluation) newDocMatch(docid int64) *docMatch {
	return &docMatch{ev: ev, docid: docid}
}

func (d *docMatch) load(ctx context.Context) error {
	if d.loaded {
		return nil
	}
	cols, found, err := d.ev.ex.docs.Document(ctx, d.docid)
	if err != nil {
		return fmt.Errorf("reading row %d: %w", d.docid, err)
	}
	d.loaded, d.found, d.columns = true, found, cols
	return nil
}

// rowPostings returns the positions of term in the row, restricted to one
// column unless column is parser.AllColumns.
func (d *docMatch) rowPostings(ctx context.Context, term string, column int) ([]doclist.Posting, error) {
	if d.terms == nil {
		if err := d.load(ctx); err != nil {
			return nil, err
		}
		d.terms = make(map[string][]doclist.Posting)
		for col, text := range d.columns {
			for tok := range d.ev.ex.tok.Tokens(text) {
				d.terms[tok.Term] = append(d.terms[tok.Term], doclist.Posting{Col: col, Pos: tok.Position})
			}
		}
		d.ev.stats.Verified++
	}
	all := d.terms[term]
	if column < 0 {
		return all, nil
	}
	var out []doclist.Posting
	for _, p := range all {
		if p.Col == column {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *docMatch) phraseSpans(ctx context.Context, ps *phraseState) ([]span, error) {
	if ps.empty {
		return nil, nil
	}
	postings := make([][]doclist.Posting, len(ps.tokens))
	for i, t := range ps.tokens {
		var p []doclist.Posting
		if t.deferred {
			var err error
			if p, err = d.rowPostings(ctx, t.token.Term, ps.phrase.Column); err != nil {
				return nil, err
			}
		} else {
			p = t.list.find(d.docid)
		}
		if len(p) == 0 {
			return nil, nil
		}
		postings[i] = p
	}
	return matchPhrase(ps, func(i int) ([]doclist.Posting, bool) { return postings[i], true }), nil
}

// eval reports whether the row satisfies e. When hits is non-nil every
// matching phrase occurrence outside the right side of a NOT is appended to
// it, and AND/OR no longer short-circuit.
func (d *docMatch) eval(ctx context.Context, e *parser.Expr, positive bool, hits *[]hit) (bool, []span, error) {
	collect := func(spans []span) {
		if hits == nil || !positive {
			return
		}
		for _, s := range spans {
			*hits = append(*hits, s.hits...)
		}
	}

	switch e.Op {
	case parser.OpPhrase:
		spans, err := d.phraseSpans(ctx, d.ev.phrases[e.Phrase.ID])
		if err != nil {
			return false, nil, err
		}
		collect(spans)
		return len(spans) > 0, spans, nil

	case parser.OpNear:
		_, ls, err := d.eval(ctx, e.Left, false, nil)
		if err != nil {
			return false, nil, err
		}
		_, rs, err := d.eval(ctx, e.Right, false, nil)
		if err != nil {
			return false, nil, err
		}
		spans := nearSpans(ls, rs, e.Near)
		collect(spans)
		return len(spans) > 0, spans, nil

	case parser.OpAnd, parser.OpOr:
		l, _, err := d.eval(ctx, e.Left, positive, hits)
		if err != nil {
			return false, nil, err
		}
		if hits == nil && (l == (e.Op == parser.OpOr)) {
			return l, nil, nil
		}
		r, _, err := d.eval(ctx, e.Right, positive, hits)
		if err != nil {
			return false, nil, err
		}
		if e.Op == parser.OpAnd {
			return l && r, nil, nil
		}
		return l || r, nil, nil

	case parser.OpNot:
		l := true
		if e.Left != nil {
			var err error
			if l, _, err = d.eval(ctx, e.Left, positive, hits); err != nil {
				return false, nil, err
			}
			if !l && hits == nil {
				return false, nil, nil
			}
		}
		r, _, err := d.eval(ctx, e.Right, false, nil)
		if err != nil {
			return false, nil, err
		}
		return l && !r, nil, nil
	}
	return false, nil, fmt.Errorf("unknown query operator %v", e.Op)
}
