package indexer

import (
	"cmp"
	"context"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// TermStat counts one term of the merged index.
type TermStat struct {
	Term        string `json:"term"`
	Docs        int    `json:"docs"`
	Occurrences int    `json:"occurrences"`
}

// Vocabulary summarizes the terms of the merged index.
type Vocabulary struct {
	Documents   uint64 `json:"documents"`
	Occurrences int64  `json:"occurrences"`
	Distinct    int    `json:"distinct"`
	// Once counts terms with a single occurrence and SingleDoc terms found
	// in a single row.
	Once      int        `json:"once"`
	SingleDoc int        `json:"single_doc"`
	Top       []TermStat `json:"top"`
}

// Vocabulary walks every term of the index, pending terms included, and
// returns the top most frequent by row count.
func (e *Engine) Vocabulary(ctx context.Context, top int) (Vocabulary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, withPending, done, err := e.readTx(ctx)
	if err != nil {
		return Vocabulary{}, err
	}
	defer done()

	ids, err := tx.DocIDs(ctx)
	if err != nil {
		return Vocabulary{}, apperrors.IO("listing rows", err)
	}
	v := Vocabulary{Documents: ids.GetCardinality()}

	f := merge.All()
	f.DropEmpty = true
	srcs, err := e.sources(ctx, tx, withPending, f)
	if err != nil {
		return Vocabulary{}, err
	}
	var terms []TermStat
	it := merge.NewIterator(srcs, f)
	for it.Next(ctx) {
		entries, err := doclist.Decode(it.Doclist())
		if err != nil {
			return Vocabulary{}, err
		}
		ts := TermStat{Term: string(it.Term()), Docs: len(entries)}
		for _, en := range entries {
			ts.Occurrences += len(en.Postings)
		}
		v.Distinct++
		v.Occurrences += int64(ts.Occurrences)
		if ts.Occurrences == 1 {
			v.Once++
		}
		if ts.Docs == 1 {
			v.SingleDoc++
		}
		terms = append(terms, ts)
	}
	if err := it.Err(); err != nil {
		return Vocabulary{}, err
	}

	slices.SortFunc(terms, func(a, b TermStat) int {
		return cmp.Or(cmp.Compare(b.Docs, a.Docs), cmp.Compare(a.Term, b.Term))
	})
	v.Top = terms[:min(max(top, 0), len(terms))]
	return v, nil
}

// SegmentInfo describes one row of the segment directory.
type SegmentInfo struct {
	Level int `json:"level"`
	Idx   int `json:"idx"`
	// RootOnly is set for segments stored entirely in the directory row.
	RootOnly  bool  `json:"root_only"`
	RootBytes int   `json:"root_bytes"`
	FirstLeaf int64 `json:"first_leaf,omitempty"`
	LastLeaf  int64 `json:"last_leaf,omitempty"`
	// LastBlock is past LastLeaf when the segment has interior nodes.
	LastBlock int64 `json:"last_block,omitempty"`
}

// Leaves returns the number of leaf blocks.
func (s SegmentInfo) Leaves() int64 {
	if s.RootOnly {
		return 0
	}
	return s.LastLeaf - s.FirstLeaf + 1
}

// SegmentMap lists the segment directory by level, then by idx.
func (e *Engine) SegmentMap(ctx context.Context) ([]SegmentInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, _, done, err := e.readTx(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	segs, err := tx.Segments(ctx)
	if err != nil {
		return nil, apperrors.IO("reading segment directory", err)
	}
	out := make([]SegmentInfo, 0, len(segs))
	for _, s := range segs {
		info := SegmentInfo{
			Level:     s.Level,
			Idx:       s.Idx,
			RootOnly:  s.Inline(),
			RootBytes: len(s.Root),
		}
		if !s.Inline() {
			info.FirstLeaf = int64(s.StartBlock)
			info.LastLeaf = int64(s.LeavesEndBlock)
			info.LastBlock = int64(s.EndBlock)
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b SegmentInfo) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.Idx, b.Idx))
	})
	return out, nil
}
