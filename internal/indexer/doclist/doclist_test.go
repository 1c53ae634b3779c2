package doclist

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

type posting struct {
	doc      int64
	col, pos int
}

func build(t *testing.T, ps ...posting) []byte {
	t.Helper()
	var b Builder
	for _, p := range ps {
		require.NoError(t, b.AppendPosting(p.doc, p.col, p.pos))
	}
	return b.Bytes()
}

func TestBuilderWireFormat(t *testing.T) {
	data := build(t,
		posting{3, 0, 0},
		posting{3, 0, 4},
		posting{3, 2, 1},
		posting{10, 0, 7},
	)
	want := []byte{
		3, 2, 6, 1, 2, 3, 0, // doc 3: pos 0, pos 4, column 2, pos 1
		7, 9, 0, // doc 10: pos 7
	}
	assert.Equal(t, want, data)
}

func TestEmptyEntry(t *testing.T) {
	var b Builder
	require.NoError(t, b.EmptyEntry(5))
	require.NoError(t, b.AppendPosting(9, 0, 1))
	require.NoError(t, b.EmptyEntry(9))

	entries, err := Decode(b.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsTombstone())
	assert.Equal(t, int64(5), entries[0].DocID)
	assert.Equal(t, []Posting{{Col: 0, Pos: 1}}, entries[1].Postings)
}

func TestBuilderRejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name string
		ps   []posting
	}{
		{"docid", []posting{{5, 0, 0}, {4, 0, 0}}},
		{"column", []posting{{5, 2, 0}, {5, 1, 0}}},
		{"position", []posting{{5, 0, 3}, {5, 0, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Builder
			var err error
			for _, p := range tt.ps {
				if err = b.AppendPosting(p.doc, p.col, p.pos); err != nil {
					break
				}
			}
			assert.ErrorIs(t, err, ErrOutOfOrder)
		})
	}
}

func TestDecodeOrderedForAnyInsertOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	var ps []posting
	seen := map[posting]bool{}
	for len(ps) < 300 {
		p := posting{doc: r.Int64N(50) - 10, col: r.IntN(3), pos: r.IntN(40)}
		if !seen[p] {
			seen[p] = true
			ps = append(ps, p)
		}
	}
	slices.SortFunc(ps, func(a, b posting) int {
		switch {
		case a.doc != b.doc:
			if a.doc < b.doc {
				return -1
			}
			return 1
		case a.col != b.col:
			return a.col - b.col
		default:
			return a.pos - b.pos
		}
	})

	entries, err := Decode(build(t, ps...))
	require.NoError(t, err)

	var got []posting
	for _, e := range entries {
		for _, p := range e.Postings {
			got = append(got, posting{e.DocID, p.Col, p.Pos})
		}
	}
	assert.Equal(t, ps, got)
}

func TestReaderPositionsByColumn(t *testing.T) {
	r := NewReader(build(t,
		posting{1, 0, 2},
		posting{1, 1, 0},
		posting{1, 1, 5},
		posting{1, 3, 9},
	))
	require.True(t, r.Next())
	assert.Equal(t, []int{2}, slices.Collect(r.Positions(0)))
	assert.Equal(t, []int{0, 5}, slices.Collect(r.Positions(1)))
	assert.Empty(t, slices.Collect(r.Positions(2)))
	assert.Equal(t, []int{9}, slices.Collect(r.Positions(3)))
	assert.Equal(t, []int{2, 0, 5, 9}, slices.Collect(r.Positions(AllColumns)))
	assert.False(t, r.Next())
	assert.NoError(t, r.Err())
}

func TestReaderCorruption(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated varint", []byte{0x81}},
		{"missing terminator", []byte{1, 2}},
		{"docid not increasing", []byte{5, 2, 0, 0, 2, 0}},
		{"column zero marker", []byte{1, 1, 0, 2, 0}},
		{"column decreasing", []byte{1, 1, 3, 2, 1, 2, 2, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, apperrors.ErrCorrupt)
		})
	}
}

func TestMergeNewestWins(t *testing.T) {
	older := build(t, posting{1, 0, 0}, posting{2, 0, 3}, posting{4, 0, 1})
	var b Builder
	require.NoError(t, b.EmptyEntry(2))
	require.NoError(t, b.AppendPosting(3, 0, 8))
	newer := b.Bytes()

	merged, err := Merge([][]byte{newer, older}, DefaultMergeOptions())
	require.NoError(t, err)
	entries, err := Decode(merged)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, []int64{1, 2, 3, 4}, docids(entries))
	assert.True(t, entries[1].IsTombstone())

	opts := DefaultMergeOptions()
	opts.DropEmpty = true
	merged, err = Merge([][]byte{newer, older}, opts)
	require.NoError(t, err)
	entries, err = Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, docids(entries))

	// Reversing recency lets the old postings for doc 2 win.
	merged, err = Merge([][]byte{older, newer}, opts)
	require.NoError(t, err)
	entries, err = Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, docids(entries))
	assert.Equal(t, []Posting{{Col: 0, Pos: 3}}, entries[1].Postings)
}

func TestMergeColumnAndRange(t *testing.T) {
	list := build(t,
		posting{1, 0, 1}, posting{1, 2, 4},
		posting{2, 0, 2},
		posting{3, 2, 0}, posting{3, 2, 6},
		posting{9, 2, 1},
	)
	opts := DefaultMergeOptions()
	opts.Column = 2
	merged, err := Merge([][]byte{list}, opts)
	require.NoError(t, err)
	entries, err := Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 9}, docids(entries))
	assert.Equal(t, []Posting{{Col: 2, Pos: 0}, {Col: 2, Pos: 6}}, entries[1].Postings)

	opts.MinDocID, opts.MaxDocID = 2, 3
	merged, err = Merge([][]byte{list}, opts)
	require.NoError(t, err)
	entries, err = Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, docids(entries))

	opts = DefaultMergeOptions()
	opts.Column = 0
	merged, err = Merge([][]byte{list}, opts)
	require.NoError(t, err)
	entries, err = Decode(merged)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, docids(entries))
	assert.Equal(t, []Posting{{Col: 0, Pos: 1}}, entries[0].Postings)
}

func TestUnion(t *testing.T) {
	a := build(t, posting{1, 0, 1}, posting{4, 1, 2})
	b := build(t, posting{1, 0, 0}, posting{1, 0, 1}, posting{2, 0, 5})

	merged, err := Union([][]byte{a, b})
	require.NoError(t, err)
	entries, err := Decode(merged)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []Posting{{0, 0}, {0, 1}}, entries[0].Postings)
	assert.Equal(t, int64(2), entries[1].DocID)
	assert.Equal(t, []Posting{{1, 2}}, entries[2].Postings)
}

func docids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.DocID
	}
	return out
}
