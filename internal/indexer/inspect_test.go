package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineVocabulary(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, 1, "the quick fox"))
	require.NoError(t, e.Insert(ctx, 2, "the lazy dog"))
	require.NoError(t, e.Commit(ctx))
	require.NoError(t, e.Insert(ctx, 3, "the fox"))

	v, err := e.Vocabulary(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Vocabulary{
		Documents:   3,
		Occurrences: 8,
		Distinct:    5,
		Once:        3,
		SingleDoc:   3,
		Top: []TermStat{
			{Term: "the", Docs: 3, Occurrences: 3},
			{Term: "fox", Docs: 2, Occurrences: 2},
		},
	}, v)

	require.NoError(t, e.Delete(ctx, 2))
	require.NoError(t, e.Commit(ctx))
	v, err = e.Vocabulary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Distinct)
	assert.Len(t, v.Top, 3)
}

func TestEngineSegmentMap(t *testing.T) {
	cfg := testConfig()
	cfg.NodeSize = 64
	e, _ := openEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, 1, "tiny"))
	require.NoError(t, e.Commit(ctx))
	for i := int64(2); i <= 40; i++ {
		require.NoError(t, e.Insert(ctx, i, fmt.Sprintf("w%03d spread across many leaves", i)))
	}
	require.NoError(t, e.Commit(ctx))

	segs, err := e.SegmentMap(ctx)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, [2]int{0, 0}, [2]int{segs[0].Level, segs[0].Idx})
	assert.Equal(t, [2]int{0, 1}, [2]int{segs[1].Level, segs[1].Idx})

	assert.True(t, segs[0].RootOnly)
	assert.Positive(t, segs[0].RootBytes)
	assert.Zero(t, segs[0].Leaves())

	assert.False(t, segs[1].RootOnly)
	assert.Greater(t, segs[1].Leaves(), int64(1))
	assert.GreaterOrEqual(t, segs[1].LastBlock, segs[1].LastLeaf)
}
