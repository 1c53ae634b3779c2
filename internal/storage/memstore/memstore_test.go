package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return New() })
}

func TestConcurrentWritersConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, err := s.Begin(ctx, true)
	require.NoError(t, err)
	b, err := s.Begin(ctx, true)
	require.NoError(t, err)

	require.NoError(t, a.PutDocument(ctx, 1, []string{"a"}))
	require.NoError(t, b.PutDocument(ctx, 2, []string{"b"}))
	require.NoError(t, a.Commit())
	assert.ErrorIs(t, b.Commit(), storage.ErrConflict)
}

func TestTransactionsShareSnapshotUntilWrite(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, w.PutDocument(ctx, 1, []string{"one"}))
	require.NoError(t, w.Commit())

	r, err := s.Begin(ctx, false)
	require.NoError(t, err)
	assert.Same(t, s.state, r.(*tx).st)

	w, err = s.Begin(ctx, true)
	require.NoError(t, err)
	assert.Same(t, s.state, w.(*tx).st)
	require.NoError(t, w.PutDocument(ctx, 2, []string{"two"}))
	assert.NotSame(t, s.state, w.(*tx).st)
	require.NoError(t, w.Commit())

	_, found, err := r.Document(ctx, 2)
	require.NoError(t, err)
	assert.False(t, found, "reader keeps its snapshot")
	cols, found, err := r.Document(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"one"}, cols)
	require.NoError(t, r.Rollback())
}
