// Package storagetest holds the behaviour every storage.Store must share.
// Store packages call Run from their own tests.
package storagetest

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises a store implementation.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"Blocks", testBlocks},
		{"DeleteBlocks", testDeleteBlocks},
		{"Segments", testSegments},
		{"Documents", testDocuments},
		{"Isolation", testIsolation},
		{"Rollback", testRollback},
		{"ReadOnly", testReadOnly},
		{"TxDone", testTxDone},
		{"Stat", testStat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

func begin(t *testing.T, s storage.Store, writable bool) storage.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background(), writable)
	require.NoError(t, err)
	return tx
}

func testBlocks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	var ids []storage.BlockID
	for i := range 5 {
		id, err := tx.WriteBlock(ctx, bytes.Repeat([]byte{byte(i + 1)}, 10+i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		assert.Equal(t, ids[i-1]+1, ids[i], "block ids are contiguous within a transaction")
	}
	assert.Positive(t, int64(ids[0]))
	require.NoError(t, tx.Commit())

	tx = begin(t, s, false)
	defer tx.Rollback()
	for i, id := range ids {
		data, err := tx.ReadBlock(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, 10+i), data)
	}
	_, err := tx.ReadBlock(ctx, ids[len(ids)-1]+100)
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)
}

func testDeleteBlocks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	var ids []storage.BlockID
	for range 4 {
		id, err := tx.WriteBlock(ctx, []byte("block"))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tx.DeleteBlocks(ctx, ids[1], ids[2]))
	require.NoError(t, tx.Commit())

	tx = begin(t, s, true)
	defer tx.Rollback()
	_, err := tx.ReadBlock(ctx, ids[1])
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)
	_, err = tx.ReadBlock(ctx, ids[2])
	assert.ErrorIs(t, err, storage.ErrBlockNotFound)
	_, err = tx.ReadBlock(ctx, ids[3])
	assert.NoError(t, err)

	next, err := tx.WriteBlock(ctx, []byte("after"))
	require.NoError(t, err)
	assert.Greater(t, next, ids[3])
}

func testSegments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	rows := []storage.Segment{
		{Level: 0, Idx: 0, Root: []byte("r00")},
		{Level: 1, Idx: 0, StartBlock: 1, LeavesEndBlock: 3, EndBlock: 4, Root: []byte("r10")},
		{Level: 0, Idx: 1, Root: []byte("r01")},
		{Level: 1, Idx: 2, StartBlock: 5, LeavesEndBlock: 5, EndBlock: 6, Root: []byte("r12")},
	}
	for _, r := range rows {
		require.NoError(t, tx.PutSegment(ctx, r))
	}

	segs, err := tx.Segments(ctx)
	require.NoError(t, err)
	var order [][2]int
	for _, sg := range segs {
		order = append(order, [2]int{sg.Level, sg.Idx})
	}
	assert.Equal(t, [][2]int{{1, 0}, {1, 2}, {0, 0}, {0, 1}}, order)
	assert.Equal(t, rows[1], segs[0])
	assert.True(t, segs[2].Inline())
	assert.False(t, segs[0].Inline())

	lvl0, err := tx.SegmentsAtLevel(ctx, 0)
	require.NoError(t, err)
	require.Len(t, lvl0, 2)
	assert.Equal(t, []byte("r01"), lvl0[1].Root)

	next, err := tx.NextIdx(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	next, err = tx.NextIdx(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	require.NoError(t, tx.DeleteSegment(ctx, 1, 0))
	segs, err = tx.Segments(ctx)
	require.NoError(t, err)
	assert.Len(t, segs, 3)
	require.NoError(t, tx.Commit())

	tx = begin(t, s, false)
	defer tx.Rollback()
	segs, err = tx.Segments(ctx)
	require.NoError(t, err)
	assert.Len(t, segs, 3)
}

func testDocuments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	require.NoError(t, tx.PutDocument(ctx, 7, []string{"title", "body text"}))
	require.NoError(t, tx.PutDocument(ctx, -3, []string{"negative"}))
	require.NoError(t, tx.PutDocument(ctx, 12, []string{""}))
	require.NoError(t, tx.PutDocument(ctx, 7, []string{"replaced", "body"}))
	require.NoError(t, tx.DeleteDocument(ctx, 12))
	require.NoError(t, tx.DeleteDocument(ctx, 99))
	require.NoError(t, tx.Commit())

	tx = begin(t, s, false)
	defer tx.Rollback()
	cols, found, err := tx.Document(ctx, 7)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"replaced", "body"}, cols)

	_, found, err = tx.Document(ctx, 12)
	require.NoError(t, err)
	assert.False(t, found)

	ids, err := tx.DocIDs(ctx)
	require.NoError(t, err)
	var got []int64
	it := ids.Iterator()
	for it.HasNext() {
		got = append(got, storage.DecodeDocID(it.Next()))
	}
	assert.Equal(t, []int64{-3, 7}, got)
}

func testIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w := begin(t, s, true)
	require.NoError(t, w.PutDocument(ctx, 1, []string{"hidden"}))
	require.NoError(t, w.PutSegment(ctx, storage.Segment{Level: 0, Idx: 0, Root: []byte("x")}))

	r := begin(t, s, false)
	_, found, err := r.Document(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found, "uncommitted rows are not visible to other transactions")
	require.NoError(t, r.Rollback())

	require.NoError(t, w.Commit())

	r = begin(t, s, false)
	defer r.Rollback()
	_, found, err = r.Document(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	_, err := tx.WriteBlock(ctx, []byte("gone"))
	require.NoError(t, err)
	require.NoError(t, tx.PutSegment(ctx, storage.Segment{Level: 0, Idx: 0, Root: []byte("gone")}))
	require.NoError(t, tx.PutDocument(ctx, 1, []string{"gone"}))
	require.NoError(t, tx.Rollback())

	tx = begin(t, s, false)
	defer tx.Rollback()
	segs, err := tx.Segments(ctx)
	require.NoError(t, err)
	assert.Empty(t, segs)
	ids, err := tx.DocIDs(ctx)
	require.NoError(t, err)
	assert.True(t, ids.IsEmpty())
}

func testReadOnly(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, false)
	defer tx.Rollback()
	_, err := tx.WriteBlock(ctx, []byte("x"))
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	assert.ErrorIs(t, tx.PutDocument(ctx, 1, []string{"x"}), storage.ErrReadOnly)
	assert.ErrorIs(t, tx.PutSegment(ctx, storage.Segment{}), storage.ErrReadOnly)
}

func testTxDone(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	require.NoError(t, tx.Commit())
	_, err := tx.Segments(ctx)
	assert.ErrorIs(t, err, storage.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(), storage.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), storage.ErrTxDone)
}

func testStat(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx := begin(t, s, true)
	v, err := tx.Stat(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)

	want := storage.Totals{Docs: 3, Tokens: []int64{12, 40}}
	require.NoError(t, tx.PutStat(ctx, want.Encode()))
	require.NoError(t, tx.Commit())

	tx = begin(t, s, true)
	got, err := storage.LoadTotals(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	want.Add([]int{2, 5}, 1)
	require.NoError(t, tx.PutStat(ctx, want.Encode()))
	require.NoError(t, tx.Rollback())

	tx = begin(t, s, false)
	defer tx.Rollback()
	got, err = storage.LoadTotals(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Docs)
	assert.ErrorIs(t, tx.PutStat(ctx, nil), storage.ErrReadOnly)
}
