package segment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

type blockMap struct {
	blocks map[storage.BlockID][]byte
	next   storage.BlockID
	reads  int
}

func newBlockMap() *blockMap {
	return &blockMap{blocks: map[storage.BlockID][]byte{}, next: 1}
}

func (m *blockMap) WriteBlock(_ context.Context, data []byte) (storage.BlockID, error) {
	id := m.next
	m.next++
	m.blocks[id] = append([]byte(nil), data...)
	return id, nil
}

func (m *blockMap) ReadBlock(_ context.Context, id storage.BlockID) ([]byte, error) {
	m.reads++
	b, ok := m.blocks[id]
	if !ok {
		return nil, apperrors.IO(fmt.Sprintf("read block %d", id), errors.New("missing"))
	}
	return b, nil
}

func writeSegment(t *testing.T, blocks *blockMap, nodeSize int, terms []string) storage.Segment {
	t.Helper()
	w := NewWriter(blocks, nodeSize)
	ctx := context.Background()
	for i, term := range terms {
		require.NoError(t, w.Add(ctx, []byte(term), []byte(fmt.Sprintf("dl-%d", i))))
	}
	res, err := w.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(terms), res.Terms)
	return res.Segment(0, 0)
}

func genTerms(n int) []string {
	terms := make([]string, n)
	for i := range terms {
		terms[i] = fmt.Sprintf("term%05d", i*3)
	}
	return terms
}

func scan(t *testing.T, r *Reader) []string {
	t.Helper()
	var got []string
	for r.Next(context.Background()) {
		got = append(got, string(r.Term()))
	}
	require.NoError(t, r.Err())
	return got
}

func TestSmallSegmentIsInline(t *testing.T) {
	blocks := newBlockMap()
	seg := writeSegment(t, blocks, 0, []string{"fox", "quick", "the"})

	assert.True(t, seg.Inline())
	assert.Empty(t, blocks.blocks)
	assert.Equal(t, byte(0), seg.Root[0])

	r := NewReader(blocks, seg)
	assert.Equal(t, []string{"fox", "quick", "the"}, scan(t, r))
}

func TestLeafWireFormat(t *testing.T) {
	blocks := newBlockMap()
	w := NewWriter(blocks, 0)
	ctx := context.Background()
	require.NoError(t, w.Add(ctx, []byte("car"), []byte{1, 2, 0}))
	require.NoError(t, w.Add(ctx, []byte("cart"), []byte{2, 2, 0}))
	res, err := w.Finish(ctx)
	require.NoError(t, err)

	want := []byte{
		0, 3, 'c', 'a', 'r', 3, 1, 2, 0,
		3, 1, 't', 3, 2, 2, 0,
	}
	assert.Equal(t, want, res.Root)
}

func TestMultiLevelTree(t *testing.T) {
	blocks := newBlockMap()
	terms := genTerms(2000)
	seg := writeSegment(t, blocks, 64, terms)

	require.False(t, seg.Inline())
	assert.Equal(t, storage.BlockID(1), seg.StartBlock)
	assert.Greater(t, seg.EndBlock, seg.LeavesEndBlock)
	assert.GreaterOrEqual(t, int(seg.Root[0]), 2, "tiny nodes need more than one interior level")

	r := NewReader(blocks, seg)
	assert.Equal(t, terms, scan(t, r))
}

func TestSeek(t *testing.T) {
	blocks := newBlockMap()
	terms := genTerms(500)
	seg := writeSegment(t, blocks, 80, terms)
	ctx := context.Background()

	for i := 0; i < len(terms); i += 37 {
		r := NewReader(blocks, seg)
		require.NoError(t, r.Seek(ctx, []byte(terms[i])))
		require.True(t, r.Next(ctx))
		assert.Equal(t, terms[i], string(r.Term()))
		assert.Equal(t, fmt.Sprintf("dl-%d", i), string(r.Doclist()))
	}

	// A missing term lands on its successor.
	r := NewReader(blocks, seg)
	require.NoError(t, r.Seek(ctx, []byte("term00004")))
	require.True(t, r.Next(ctx))
	assert.Equal(t, "term00006", string(r.Term()))

	// Past the last term.
	r = NewReader(blocks, seg)
	require.NoError(t, r.Seek(ctx, []byte("zzz")))
	assert.False(t, r.Next(ctx))
	assert.NoError(t, r.Err())

	// Before the first term.
	r = NewReader(blocks, seg)
	require.NoError(t, r.Seek(ctx, []byte("a")))
	require.True(t, r.Next(ctx))
	assert.Equal(t, terms[0], string(r.Term()))
}

func TestSeekReadsOnlyOnePath(t *testing.T) {
	blocks := newBlockMap()
	seg := writeSegment(t, blocks, 64, genTerms(2000))
	ctx := context.Background()

	blocks.reads = 0
	r := NewReader(blocks, seg)
	require.NoError(t, r.Seek(ctx, []byte("term03000")))
	require.True(t, r.Next(ctx))
	assert.Equal(t, "term03000", string(r.Term()))
	assert.LessOrEqual(t, blocks.reads, 8)
}

func TestWriterRejectsUnsortedTerms(t *testing.T) {
	w := NewWriter(newBlockMap(), 0)
	ctx := context.Background()
	require.NoError(t, w.Add(ctx, []byte("b"), nil))
	assert.ErrorIs(t, w.Add(ctx, []byte("a"), nil), apperrors.ErrCorrupt)
	assert.ErrorIs(t, w.Add(ctx, []byte("b"), nil), apperrors.ErrCorrupt)
	assert.ErrorIs(t, w.Add(ctx, nil, nil), apperrors.ErrInvalidInput)

	_, err := NewWriter(newBlockMap(), 0).Finish(ctx)
	assert.ErrorIs(t, err, ErrEmptySegment)
}

func TestReaderDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		root []byte
	}{
		{"truncated doclist", []byte{0, 1, 'a', 5, 1}},
		{"prefix too long", []byte{0, 1, 'a', 0, 4, 1, 'b', 0}},
		{"terms out of order", []byte{0, 1, 'b', 0, 0, 1, 'a', 0}},
		{"bad varint", []byte{0, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(newBlockMap(), storage.Segment{Root: tt.root})
			for r.Next(ctx) {
			}
			assert.ErrorIs(t, r.Err(), apperrors.ErrCorrupt)
		})
	}
}

func TestReaderPropagatesIOErrors(t *testing.T) {
	blocks := newBlockMap()
	seg := writeSegment(t, blocks, 64, genTerms(200))
	delete(blocks.blocks, seg.StartBlock+1)

	r := NewReader(blocks, seg)
	for r.Next(context.Background()) {
	}
	assert.ErrorIs(t, r.Err(), apperrors.ErrIO)
}
