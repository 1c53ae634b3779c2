package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/memstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/redis"
)

// countingSearcher counts evaluations that reach the engine.
type countingSearcher struct {
	*indexer.Engine
	calls atomic.Int64
}

func (s *countingSearcher) Search(ctx context.Context, q string, opts indexer.SearchOptions) (*indexer.SearchResult, error) {
	s.calls.Add(1)
	return s.Engine.Search(ctx, q, opts)
}

func setup(t *testing.T) (*QueryCache, *countingSearcher, *miniredis.Miniredis, *metrics.Metrics) {
	t.Helper()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := config.RedisConfig{Addr: mr.Addr(), CacheTTL: time.Minute}
	client, err := pkgredis.NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	e, err := indexer.Open(ctx, memstore.New(), config.IndexerConfig{Columns: []string{"content"}})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(ctx) })
	require.NoError(t, e.Insert(ctx, 1, "the quick fox"))
	require.NoError(t, e.Insert(ctx, 2, "the quick dog"))
	require.NoError(t, e.Insert(ctx, 3, "a lazy fox"))
	require.NoError(t, e.Commit(ctx))

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(client, cfg, m), &countingSearcher{Engine: e}, mr, m
}

func TestSearchHitsCacheOnRepeat(t *testing.T) {
	c, s, mr, m := setup(t)
	ctx := context.Background()
	opts := indexer.SearchOptions{Instances: true}

	res, hit, err := c.Search(ctx, s, "fox", opts)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int64{1, 3}, res.DocIDs())

	res, hit, err = c.Search(ctx, s, "fox", opts)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []int64{1, 3}, res.DocIDs())
	assert.Len(t, res.Rows[0].Instances, 1)
	assert.Equal(t, int64(1), s.calls.Load())

	assert.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasPrefix(mr.Keys()[0], keyPrefix))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses, "first lookup and the re-check inside the flight")
}

func TestOptionsAreSeparateEntries(t *testing.T) {
	c, s, mr, _ := setup(t)
	ctx := context.Background()
	_, _, err := c.Search(ctx, s, "fox", indexer.SearchOptions{})
	require.NoError(t, err)
	_, hit, err := c.Search(ctx, s, "fox", indexer.SearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, mr.Keys(), 2)
}

func TestCommitChangesGeneration(t *testing.T) {
	c, s, mr, _ := setup(t)
	ctx := context.Background()

	_, _, err := c.Search(ctx, s, "fox", indexer.SearchOptions{})
	require.NoError(t, err)
	oldKey := mr.Keys()[0]

	require.NoError(t, s.Insert(ctx, 4, "grey fox"))
	require.NoError(t, s.Commit(ctx))

	res, hit, err := c.Search(ctx, s, "fox", indexer.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int64{1, 3, 4}, res.DocIDs())
	assert.False(t, mr.Exists(oldKey), "entries of the old generation are flushed")
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisOutageFallsBackToEngine(t *testing.T) {
	c, s, mr, _ := setup(t)
	ctx := context.Background()
	mr.Close()

	res, hit, err := c.Search(ctx, s, "quick", indexer.SearchOptions{})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []int64{1, 2}, res.DocIDs())
}

func TestEngineErrorsAreNotCached(t *testing.T) {
	c, s, mr, _ := setup(t)
	_, _, err := c.Search(context.Background(), s, `"unterminated`, indexer.SearchOptions{})
	assert.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestInvalidate(t *testing.T) {
	c, s, mr, _ := setup(t)
	ctx := context.Background()
	for _, q := range []string{"fox", "dog", "lazy"} {
		_, _, err := c.Search(ctx, s, q, indexer.SearchOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("unrelated", "1"))
	require.NoError(t, c.Invalidate(ctx))
	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestBuildKey(t *testing.T) {
	a := buildKey("g1", "fox", indexer.SearchOptions{})
	assert.Equal(t, a, buildKey("g1", "fox", indexer.SearchOptions{}))
	assert.NotEqual(t, a, buildKey("g2", "fox", indexer.SearchOptions{}))
	assert.NotEqual(t, a, buildKey("g1", "fox", indexer.SearchOptions{Offsets: true}))
	assert.NotEqual(t, a, buildKey("g1", "fox", indexer.SearchOptions{Rank: true}))
	snip := executor.DefaultSnippetOptions()
	assert.NotEqual(t, a, buildKey("g1", "fox", indexer.SearchOptions{Snippet: &snip}))
	assert.True(t, strings.HasPrefix(a, keyPrefix+"g1:"))
}
