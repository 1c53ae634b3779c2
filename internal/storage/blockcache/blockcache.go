// Package blockcache keeps recently read blocks in memory in front of a
// storage.Store.
//
// Only read-only transactions fill the cache. Write transactions read
// through to the store, and on Commit they evict every block they wrote or
// deleted so that a reused block id never serves old bytes.
package blockcache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

// DefaultSize is the number of blocks kept when no size is given.
const DefaultSize = 1024

// Store caches the blocks of an inner store.
type Store struct {
	inner   storage.Store
	cache   *lru.Cache[storage.BlockID, []byte]
	metrics *metrics.Metrics

	// mu orders cache fills against invalidation; epoch changes on every
	// commit that touched blocks.
	mu    sync.Mutex
	epoch uint64
}

// Wrap returns inner with a cache of size blocks. m may be nil.
func Wrap(inner storage.Store, size int, m *metrics.Metrics) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[storage.BlockID, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, cache: cache, metrics: m}, nil
}

// Len returns the number of cached blocks.
func (s *Store) Len() int { return s.cache.Len() }

// Purge empties the cache.
func (s *Store) Purge() {
	s.mu.Lock()
	s.epoch++
	s.cache.Purge()
	s.mu.Unlock()
}

func (s *Store) Begin(ctx context.Context, writable bool) (storage.Tx, error) {
	inner, err := s.inner.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	return &tx{Tx: inner, s: s, writable: writable, epoch: epoch}, nil
}

func (s *Store) Close() error {
	s.cache.Purge()
	return s.inner.Close()
}

type blockRange struct{ first, last storage.BlockID }

type tx struct {
	storage.Tx
	s        *Store
	writable bool
	epoch    uint64
	written  []storage.BlockID
	deleted  []blockRange
}

func (t *tx) ReadBlock(ctx context.Context, id storage.BlockID) ([]byte, error) {
	if t.writable {
		return t.Tx.ReadBlock(ctx, id)
	}
	if data, ok := t.s.cache.Get(id); ok {
		if m := t.s.metrics; m != nil {
			m.BlockCacheHits.Inc()
		}
		return data, nil
	}
	if m := t.s.metrics; m != nil {
		m.BlockCacheMisses.Inc()
	}
	data, err := t.Tx.ReadBlock(ctx, id)
	if err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	if t.s.epoch == t.epoch {
		t.s.cache.Add(id, data)
	}
	t.s.mu.Unlock()
	return data, nil
}

func (t *tx) WriteBlock(ctx context.Context, data []byte) (storage.BlockID, error) {
	id, err := t.Tx.WriteBlock(ctx, data)
	if err == nil {
		t.written = append(t.written, id)
	}
	return id, err
}

func (t *tx) DeleteBlocks(ctx context.Context, first, last storage.BlockID) error {
	if err := t.Tx.DeleteBlocks(ctx, first, last); err != nil {
		return err
	}
	t.deleted = append(t.deleted, blockRange{first, last})
	return nil
}

func (t *tx) Commit() error {
	err := t.Tx.Commit()
	if err == nil && (len(t.written) > 0 || len(t.deleted) > 0) {
		t.s.invalidate(t.written, t.deleted)
	}
	t.written, t.deleted = nil, nil
	return err
}

func (t *tx) Rollback() error {
	t.written, t.deleted = nil, nil
	return t.Tx.Rollback()
}

func (s *Store) invalidate(written []storage.BlockID, deleted []blockRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	for _, id := range written {
		s.cache.Remove(id)
	}
	if len(deleted) == 0 {
		return
	}
	for _, id := range s.cache.Keys() {
		for _, r := range deleted {
			if id >= r.first && id <= r.last {
				s.cache.Remove(id)
				break
			}
		}
	}
}
