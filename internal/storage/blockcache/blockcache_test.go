package blockcache

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/memstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/storagetest"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Wrap(memstore.New(), 8, nil)
		require.NoError(t, err)
		return s
	})
}

func writeBlock(t *testing.T, s storage.Store, data string) storage.BlockID {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	id, err := tx.WriteBlock(ctx, []byte(data))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return id
}

func readBlock(t *testing.T, s storage.Store, id storage.BlockID) string {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()
	data, err := tx.ReadBlock(ctx, id)
	require.NoError(t, err)
	return string(data)
}

func TestReadsAreCached(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s, err := Wrap(memstore.New(), 4, m)
	require.NoError(t, err)

	id := writeBlock(t, s, "leaf")
	assert.Equal(t, "leaf", readBlock(t, s, id))
	assert.Equal(t, "leaf", readBlock(t, s, id))
	assert.Equal(t, "leaf", readBlock(t, s, id))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockCacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BlockCacheHits))
}

func TestDeletedBlocksAreEvicted(t *testing.T) {
	ctx := context.Background()
	s, err := Wrap(memstore.New(), 16, nil)
	require.NoError(t, err)

	a := writeBlock(t, s, "a")
	b := writeBlock(t, s, "b")
	readBlock(t, s, a)
	readBlock(t, s, b)
	require.Equal(t, 2, s.Len())

	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteBlocks(ctx, b, b))
	assert.Equal(t, 2, s.Len(), "eviction waits for commit")
	require.NoError(t, tx.Commit())
	assert.Equal(t, 1, s.Len())

	r, err := s.Begin(ctx, false)
	require.NoError(t, err)
	defer r.Rollback()
	_, err = r.ReadBlock(ctx, b)
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)
}

func TestRolledBackDeleteKeepsCache(t *testing.T) {
	ctx := context.Background()
	s, err := Wrap(memstore.New(), 16, nil)
	require.NoError(t, err)
	a := writeBlock(t, s, "a")
	readBlock(t, s, a)

	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, tx.DeleteBlocks(ctx, a, a))
	require.NoError(t, tx.Rollback())

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "a", readBlock(t, s, a))
}

func TestStaleReaderDoesNotFill(t *testing.T) {
	ctx := context.Background()
	s, err := Wrap(memstore.New(), 16, nil)
	require.NoError(t, err)
	a := writeBlock(t, s, "a")

	old, err := s.Begin(ctx, false)
	require.NoError(t, err)
	defer old.Rollback()

	writeBlock(t, s, "b")
	data, err := old.ReadBlock(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
	assert.Zero(t, s.Len())
}

func TestWriteTransactionsBypassCache(t *testing.T) {
	ctx := context.Background()
	s, err := Wrap(memstore.New(), 16, nil)
	require.NoError(t, err)

	tx, err := s.Begin(ctx, true)
	require.NoError(t, err)
	id, err := tx.WriteBlock(ctx, []byte("pending"))
	require.NoError(t, err)
	data, err := tx.ReadBlock(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pending", string(data))
	require.NoError(t, tx.Rollback())

	assert.Zero(t, s.Len())
	s.Purge()
}
