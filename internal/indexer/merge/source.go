package merge

import (
	"bytes"
	"context"
	"sort"
)

// Item is one record of a SliceSource.
type Item struct {
	Term    []byte
	Doclist []byte
}

// SliceSource serves sorted in-memory items, such as a snapshot of the
// pending buffer.
type SliceSource struct {
	items []Item
	pos   int
}

// NewSliceSource wraps items, which must be sorted by term.
func NewSliceSource(items []Item) *SliceSource {
	return &SliceSource{items: items, pos: -1}
}

func (s *SliceSource) Seek(_ context.Context, term []byte) error {
	s.pos = sort.Search(len(s.items), func(i int) bool {
		return bytes.Compare(s.items[i].Term, term) >= 0
	}) - 1
	return nil
}

func (s *SliceSource) Next(context.Context) bool {
	if s.pos+1 >= len(s.items) {
		s.pos = len(s.items)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Term() []byte    { return s.items[s.pos].Term }
func (s *SliceSource) Doclist() []byte { return s.items[s.pos].Doclist }
func (s *SliceSource) Err() error      { return nil }
