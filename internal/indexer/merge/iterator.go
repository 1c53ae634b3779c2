// Package merge combines the term streams of several segments, and of the
// pending buffer, into one sorted stream with a single doclist per term.
package merge

import (
	"bytes"
	"context"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
)

// Source is a sorted stream of (term, doclist) records.
type Source interface {
	// Seek positions the source so that Next returns the first term >= term.
	Seek(ctx context.Context, term []byte) error
	Next(ctx context.Context) bool
	Term() []byte
	Doclist() []byte
	Err() error
}

// Filter restricts what an Iterator emits.
type Filter struct {
	// Term is the lower bound of the scan. Nil scans from the first term.
	Term []byte
	// Exact stops after Term itself.
	Exact bool
	// Prefix stops at the first term that does not start with Term.
	Prefix bool
	// Column keeps the positions of one column, or every column when it is
	// doclist.AllColumns.
	Column int
	// MinDocID and MaxDocID clip doclists; both zero means unbounded.
	MinDocID int64
	MaxDocID int64
	// DropEmpty removes tombstones and skips terms left without entries.
	DropEmpty bool
}

// All returns a Filter that emits every term with tombstones kept.
func All() Filter {
	return Filter{Column: doclist.AllColumns}
}

func (f Filter) mergeOptions() doclist.MergeOptions {
	return doclist.MergeOptions{
		DropEmpty: f.DropEmpty,
		Column:    f.Column,
		MinDocID:  f.MinDocID,
		MaxDocID:  f.MaxDocID,
	}
}

func (f Filter) passthrough() bool {
	return !f.DropEmpty && f.Column < 0 && f.MinDocID == 0 && f.MaxDocID == 0
}

type cursor struct {
	src Source
	ok  bool
}

// Iterator yields merged (term, doclist) pairs in term order. Sources are
// ranked by recency: sources[0] is the newest and wins docid conflicts. An
// Iterator is single pass.
type Iterator struct {
	cursors []*cursor
	filter  Filter
	started bool
	done    bool
	term    []byte
	doclist []byte
	err     error
}

// NewIterator returns an Iterator over sources, newest first.
func NewIterator(sources []Source, f Filter) *Iterator {
	cursors := make([]*cursor, len(sources))
	for i, s := range sources {
		cursors[i] = &cursor{src: s}
	}
	return &Iterator{cursors: cursors, filter: f}
}

func (it *Iterator) start(ctx context.Context) error {
	it.started = true
	for _, c := range it.cursors {
		if it.filter.Term != nil {
			if err := c.src.Seek(ctx, it.filter.Term); err != nil {
				return err
			}
		}
		if err := it.advance(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (it *Iterator) advance(ctx context.Context, c *cursor) error {
	c.ok = c.src.Next(ctx)
	if !c.ok {
		return c.src.Err()
	}
	return nil
}

// Next moves to the next term. It returns false when the stream is exhausted
// or an error occurred.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	if !it.started {
		if it.err = it.start(ctx); it.err != nil {
			return false
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		var smallest []byte
		for _, c := range it.cursors {
			if c.ok && (smallest == nil || bytes.Compare(c.src.Term(), smallest) < 0) {
				smallest = c.src.Term()
			}
		}
		if smallest == nil || !it.inBounds(smallest) {
			it.done = true
			return false
		}
		term := bytes.Clone(smallest)

		var lists [][]byte
		for _, c := range it.cursors {
			if !c.ok || !bytes.Equal(c.src.Term(), term) {
				continue
			}
			lists = append(lists, c.src.Doclist())
			if it.err = it.advance(ctx, c); it.err != nil {
				return false
			}
		}

		merged := lists[0]
		if len(lists) > 1 || !it.filter.passthrough() {
			if merged, it.err = doclist.Merge(lists, it.filter.mergeOptions()); it.err != nil {
				return false
			}
		}
		if len(merged) == 0 && it.filter.DropEmpty {
			if it.filter.Exact {
				it.done = true
				return false
			}
			continue
		}
		it.term = term
		it.doclist = merged
		return true
	}
}

func (it *Iterator) inBounds(term []byte) bool {
	switch {
	case it.filter.Exact:
		return bytes.Equal(term, it.filter.Term)
	case it.filter.Prefix:
		return bytes.HasPrefix(term, it.filter.Term)
	}
	return true
}

// Term returns the current term.
func (it *Iterator) Term() []byte { return it.term }

// Doclist returns the merged doclist of the current term.
func (it *Iterator) Doclist() []byte { return it.doclist }

// Err returns the first error from any source or from merging.
func (it *Iterator) Err() error { return it.err }
