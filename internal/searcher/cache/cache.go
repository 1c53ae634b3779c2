// Package cache keeps search results in Redis. Keys embed the index
// generation, so a commit that changes the segment directory makes every
// older entry unreachable; those entries are flushed when the change is
// first seen.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/resilience"
)

const keyPrefix = "fts:q:"

// Searcher is the part of the engine the cache sits in front of.
type Searcher interface {
	Search(ctx context.Context, query string, opts indexer.SearchOptions) (*indexer.SearchResult, error)
	Generation(ctx context.Context) (string, error)
}

type QueryCache struct {
	client  *pkgredis.Client
	ttl     time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger

	genMu   sync.Mutex
	lastGen string

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a cache over client. m may be nil.
func New(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     cfg.CacheTTL,
		breaker: resilience.NewCircuitBreaker("query-cache", resilience.CircuitBreakerConfig{}),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Search answers from the cache when it can and from s otherwise. The
// boolean reports a cache hit. Concurrent identical misses share one
// evaluation. Redis failures only cost the cache, never the search.
func (c *QueryCache) Search(ctx context.Context, s Searcher, query string, opts indexer.SearchOptions) (*indexer.SearchResult, bool, error) {
	gen, err := s.Generation(ctx)
	if err != nil {
		return nil, false, err
	}
	c.observeGeneration(ctx, gen)
	key := buildKey(gen, query, opts)

	if res, ok := c.get(ctx, key); ok {
		return res, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		if res, ok := c.get(ctx, key); ok {
			return res, nil
		}
		res, err := s.Search(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, res)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*indexer.SearchResult), false, nil
}

func (c *QueryCache) get(ctx context.Context, key string) (*indexer.SearchResult, bool) {
	var data []byte
	var found bool
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		data, found, err = c.client.GetBytes(ctx, key)
		return err
	})
	if err != nil || !found {
		if err != nil {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var res indexer.SearchResult
	if err := msgpack.Unmarshal(data, &res); err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &res, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *QueryCache) set(ctx context.Context, key string, res *indexer.SearchResult) {
	data, err := msgpack.Marshal(res)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// observeGeneration flushes the entries of the previous generation the first
// time a new one is seen.
func (c *QueryCache) observeGeneration(ctx context.Context, gen string) {
	c.genMu.Lock()
	prev := c.lastGen
	c.lastGen = gen
	c.genMu.Unlock()
	if prev == "" || prev == gen {
		return
	}
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		n, err := c.client.FlushByPattern(ctx, keyPrefix+prev+":*")
		if err == nil {
			c.logger.Info("index generation changed", "from", prev, "to", gen, "keys_deleted", n)
		}
		return err
	})
	if err != nil {
		c.logger.Warn("flushing stale generation failed", "generation", prev, "error", err)
	}
}

// Invalidate deletes every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(gen, query string, opts indexer.SearchOptions) string {
	raw := fmt.Sprintf("%s\x00%d:%d:%d:%d:%d:%d:%t:%t:%t:%v:%t:%+v",
		query, opts.Order, opts.MinDocID, opts.MaxDocID, opts.Defer,
		opts.Limit, opts.Offset, opts.Instances, opts.Offsets,
		opts.Rank, opts.Weights, opts.MatchInfo, opts.Snippet)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", keyPrefix, gen, hash[:16])
}
