package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
)

var _ Source = (*segment.Reader)(nil)

type memBlocks struct {
	blocks map[storage.BlockID][]byte
}

func (m *memBlocks) WriteBlock(_ context.Context, data []byte) (storage.BlockID, error) {
	id := storage.BlockID(len(m.blocks) + 1)
	m.blocks[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *memBlocks) ReadBlock(_ context.Context, id storage.BlockID) ([]byte, error) {
	return m.blocks[id], nil
}

type posting struct {
	doc      int64
	col, pos int
}

func list(t *testing.T, ps ...posting) []byte {
	t.Helper()
	var b doclist.Builder
	for _, p := range ps {
		require.NoError(t, b.AppendPosting(p.doc, p.col, p.pos))
	}
	return b.Bytes()
}

func tombstone(t *testing.T, docs ...int64) []byte {
	t.Helper()
	var b doclist.Builder
	for _, d := range docs {
		require.NoError(t, b.EmptyEntry(d))
	}
	return b.Bytes()
}

func items(kv ...any) []Item {
	var out []Item
	for i := 0; i < len(kv); i += 2 {
		out = append(out, Item{Term: []byte(kv[i].(string)), Doclist: kv[i+1].([]byte)})
	}
	return out
}

type result struct {
	term string
	docs []int64
}

func collect(t *testing.T, it *Iterator) []result {
	t.Helper()
	var out []result
	ctx := context.Background()
	for it.Next(ctx) {
		entries, err := doclist.Decode(it.Doclist())
		require.NoError(t, err)
		r := result{term: string(it.Term())}
		for _, e := range entries {
			r.docs = append(r.docs, e.DocID)
		}
		out = append(out, r)
	}
	require.NoError(t, it.Err())
	return out
}

func TestIteratorMergesInTermOrder(t *testing.T) {
	newer := NewSliceSource(items(
		"dog", list(t, posting{5, 0, 0}),
		"fox", list(t, posting{4, 0, 1}),
	))
	older := NewSliceSource(items(
		"ant", list(t, posting{1, 0, 0}),
		"fox", list(t, posting{1, 0, 2}, posting{4, 0, 7}),
	))

	got := collect(t, NewIterator([]Source{newer, older}, All()))
	assert.Equal(t, []result{
		{"ant", []int64{1}},
		{"dog", []int64{5}},
		{"fox", []int64{1, 4}},
	}, got)
}

func TestIteratorNewestWins(t *testing.T) {
	newest := NewSliceSource(items("fox", tombstone(t, 1)))
	middle := NewSliceSource(items("fox", list(t, posting{2, 0, 3})))
	oldest := NewSliceSource(items("fox", list(t, posting{1, 0, 0}, posting{2, 0, 0})))

	it := NewIterator([]Source{newest, middle, oldest}, All())
	require.True(t, it.Next(context.Background()))
	entries, err := doclist.Decode(it.Doclist())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsTombstone())
	assert.Equal(t, []doclist.Posting{{Col: 0, Pos: 3}}, entries[1].Postings)

	f := All()
	f.DropEmpty = true
	got := collect(t, NewIterator([]Source{
		NewSliceSource(items("fox", tombstone(t, 1))),
		NewSliceSource(items("fox", list(t, posting{1, 0, 0}))),
	}, f))
	assert.Empty(t, got, "a term whose only document was deleted disappears")
}

func TestIteratorBounds(t *testing.T) {
	mk := func() []Source {
		return []Source{
			NewSliceSource(items(
				"car", list(t, posting{1, 0, 0}),
				"carbon", list(t, posting{2, 0, 0}),
				"cat", list(t, posting{3, 0, 0}),
			)),
			NewSliceSource(items(
				"card", list(t, posting{4, 0, 0}),
				"dog", list(t, posting{5, 0, 0}),
			)),
		}
	}

	prefix := All()
	prefix.Term, prefix.Prefix = []byte("car"), true
	var terms []string
	for _, r := range collect(t, NewIterator(mk(), prefix)) {
		terms = append(terms, r.term)
	}
	assert.Equal(t, []string{"car", "carbon", "card"}, terms)

	exact := All()
	exact.Term, exact.Exact = []byte("card"), true
	assert.Equal(t, []result{{"card", []int64{4}}}, collect(t, NewIterator(mk(), exact)))

	missing := All()
	missing.Term, missing.Exact = []byte("cow"), true
	assert.Empty(t, collect(t, NewIterator(mk(), missing)))

	from := All()
	from.Term = []byte("cas")
	terms = terms[:0]
	for _, r := range collect(t, NewIterator(mk(), from)) {
		terms = append(terms, r.term)
	}
	assert.Equal(t, []string{"cat", "dog"}, terms)
}

func TestIteratorColumnAndRangeFilter(t *testing.T) {
	src := NewSliceSource(items(
		"fox", list(t, posting{1, 0, 0}, posting{2, 1, 4}, posting{3, 1, 1}),
		"owl", list(t, posting{1, 0, 3}),
	))
	f := All()
	f.Column = 1
	f.DropEmpty = true
	assert.Equal(t, []result{{"fox", []int64{2, 3}}}, collect(t, NewIterator([]Source{src}, f)))

	src = NewSliceSource(items("fox", list(t, posting{1, 0, 0}, posting{2, 1, 4}, posting{3, 1, 1})))
	f = All()
	f.MinDocID, f.MaxDocID = 2, 2
	f.DropEmpty = true
	assert.Equal(t, []result{{"fox", []int64{2}}}, collect(t, NewIterator([]Source{src}, f)))
}

func TestIteratorOverSegments(t *testing.T) {
	ctx := context.Background()
	blocks := &memBlocks{blocks: map[storage.BlockID][]byte{}}

	w := segment.NewWriter(blocks, 48)
	var want []string
	for _, term := range []string{"alpha", "beta", "delta", "epsilon", "eta", "gamma", "iota", "kappa", "zeta"} {
		require.NoError(t, w.Add(ctx, []byte(term), list(t, posting{1, 0, 0})))
		want = append(want, term)
	}
	res, err := w.Finish(ctx)
	require.NoError(t, err)

	pending := NewSliceSource(items("beta", tombstone(t, 1), "theta", list(t, posting{2, 0, 0})))
	f := All()
	f.DropEmpty = true
	var got []string
	for _, r := range collect(t, NewIterator([]Source{pending, segment.NewReader(blocks, res.Segment(0, 0))}, f)) {
		got = append(got, r.term)
	}
	assert.Equal(t, []string{"alpha", "delta", "epsilon", "eta", "gamma", "iota", "kappa", "theta", "zeta"}, got)
}

type failingSource struct{ SliceSource }

func (failingSource) Next(context.Context) bool { return false }
func (failingSource) Err() error                { return errors.New("boom") }

func TestIteratorPropagatesSourceErrors(t *testing.T) {
	it := NewIterator([]Source{&failingSource{}}, All())
	assert.False(t, it.Next(context.Background()))
	assert.EqualError(t, it.Err(), "boom")
}

func TestIteratorStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewIterator([]Source{NewSliceSource(items("a", list(t, posting{1, 0, 0})))}, All())
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestEstimateSumsStoredDoclists(t *testing.T) {
	ctx := context.Background()
	fox := list(t, posting{1, 0, 0})
	foxes := list(t, posting{2, 0, 1}, posting{3, 0, 0})
	newer := NewSliceSource(items("fox", tombstone(t, 1), "zebra", fox))
	older := NewSliceSource(items("dog", fox, "fox", fox, "foxes", foxes))
	sources := func() []Source { return []Source{newer, older} }

	got, err := Estimate(ctx, sources(), Filter{Term: []byte("fox"), Exact: true})
	require.NoError(t, err)
	assert.Equal(t, len(tombstone(t, 1))+len(fox), got)

	got, err = Estimate(ctx, sources(), Filter{Term: []byte("fox"), Prefix: true})
	require.NoError(t, err)
	assert.Equal(t, len(tombstone(t, 1))+len(fox)+len(foxes), got)

	got, err = Estimate(ctx, sources(), Filter{Term: []byte("cat"), Exact: true})
	require.NoError(t, err)
	assert.Zero(t, got)
}
