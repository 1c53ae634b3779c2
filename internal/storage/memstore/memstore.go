// Package memstore is an in-memory Store. Committed state is immutable:
// every transaction starts on the current snapshot, and a write transaction
// copies it on its first write and publishes the copy on Commit.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

type segKey struct{ level, idx int }

type state struct {
	version  uint64
	blocks   map[storage.BlockID][]byte
	maxBlock storage.BlockID
	segments map[segKey]storage.Segment
	docs     map[int64][]string
	live     *roaring64.Bitmap
	stat     []byte
}

func (s *state) clone() *state {
	c := &state{
		version:  s.version,
		blocks:   make(map[storage.BlockID][]byte, len(s.blocks)),
		maxBlock: s.maxBlock,
		segments: make(map[segKey]storage.Segment, len(s.segments)),
		docs:     make(map[int64][]string, len(s.docs)),
		live:     s.live.Clone(),
		stat:     s.stat,
	}
	for k, v := range s.blocks {
		c.blocks[k] = v
	}
	for k, v := range s.segments {
		c.segments[k] = v
	}
	for k, v := range s.docs {
		c.docs[k] = v
	}
	return c
}

// Store is a Store kept entirely in memory.
type Store struct {
	mu     sync.Mutex
	state  *state
	closed bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		blocks:   map[storage.BlockID][]byte{},
		segments: map[segKey]storage.Segment{},
		docs:     map[int64][]string{},
		live:     roaring64.New(),
	}}
}

// Begin starts a transaction on the current snapshot. Nothing is copied
// until the transaction writes.
func (s *Store) Begin(_ context.Context, writable bool) (storage.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.ErrClosed
	}
	return &tx{store: s, st: s.state, writable: writable}, nil
}

// Close drops all data.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// BlockCount returns the number of committed blocks.
func (s *Store) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.blocks)
}

type tx struct {
	store    *Store
	st       *state
	writable bool
	// owned is set once st is a private copy.
	owned bool
	done  bool
}

// write checks that t may write and returns its private state.
func (t *tx) write() (*state, error) {
	if err := t.check(true); err != nil {
		return nil, err
	}
	if !t.owned {
		t.st = t.st.clone()
		t.owned = true
	}
	return t.st, nil
}

func (t *tx) check(write bool) error {
	if t.done {
		return storage.ErrTxDone
	}
	if write && !t.writable {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *tx) ReadBlock(_ context.Context, id storage.BlockID) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	b, ok := t.st.blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", storage.ErrBlockNotFound, id)
	}
	return b, nil
}

func (t *tx) WriteBlock(_ context.Context, data []byte) (storage.BlockID, error) {
	st, err := t.write()
	if err != nil {
		return 0, err
	}
	st.maxBlock++
	st.blocks[st.maxBlock] = slices.Clone(data)
	return st.maxBlock, nil
}

func (t *tx) DeleteBlocks(_ context.Context, first, last storage.BlockID) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	for id := first; id <= last; id++ {
		delete(st.blocks, id)
	}
	if last >= st.maxBlock {
		st.maxBlock = 0
		for id := range st.blocks {
			st.maxBlock = max(st.maxBlock, id)
		}
	}
	return nil
}

func (t *tx) Segments(_ context.Context) ([]storage.Segment, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	out := make([]storage.Segment, 0, len(t.st.segments))
	for _, seg := range t.st.segments {
		out = append(out, seg)
	}
	storage.SortSegments(out)
	return out, nil
}

func (t *tx) SegmentsAtLevel(ctx context.Context, level int) ([]storage.Segment, error) {
	all, err := t.Segments(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, seg := range all {
		if seg.Level == level {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (t *tx) PutSegment(_ context.Context, seg storage.Segment) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	st.segments[segKey{seg.Level, seg.Idx}] = seg
	return nil
}

func (t *tx) DeleteSegment(_ context.Context, level, idx int) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	delete(st.segments, segKey{level, idx})
	return nil
}

func (t *tx) NextIdx(_ context.Context, level int) (int, error) {
	if err := t.check(false); err != nil {
		return 0, err
	}
	next := 0
	for k := range t.st.segments {
		if k.level == level && k.idx >= next {
			next = k.idx + 1
		}
	}
	return next, nil
}

func (t *tx) PutDocument(_ context.Context, docid int64, columns []string) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	st.docs[docid] = slices.Clone(columns)
	st.live.Add(storage.EncodeDocID(docid))
	return nil
}

func (t *tx) Document(_ context.Context, docid int64) ([]string, bool, error) {
	if err := t.check(false); err != nil {
		return nil, false, err
	}
	cols, ok := t.st.docs[docid]
	return cols, ok, nil
}

func (t *tx) DeleteDocument(_ context.Context, docid int64) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	delete(st.docs, docid)
	st.live.Remove(storage.EncodeDocID(docid))
	return nil
}

func (t *tx) DocIDs(_ context.Context) (*roaring64.Bitmap, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.st.live.Clone(), nil
}

func (t *tx) Stat(context.Context) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.st.stat, nil
}

func (t *tx) PutStat(_ context.Context, data []byte) error {
	st, err := t.write()
	if err != nil {
		return err
	}
	st.stat = slices.Clone(data)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	if !t.owned {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return apperrors.ErrClosed
	}
	if t.store.state.version != t.st.version {
		return storage.ErrConflict
	}
	t.st.version++
	t.store.state = t.st
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return storage.ErrTxDone
	}
	t.done = true
	return nil
}
