// Package backend opens the host store named by the storage configuration
// and stacks the compression and block cache decorators on top of it.
package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/blockcache"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/boltstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/compress"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/memstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/sqlstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

type options struct {
	postgres *sql.DB
	metrics  *metrics.Metrics
}

// Option configures Open.
type Option func(*options)

// WithPostgres supplies the connection used by the postgres driver. The
// caller keeps ownership of db.
func WithPostgres(db *sql.DB) Option {
	return func(o *options) { o.postgres = db }
}

// WithMetrics reports block cache hits and misses to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Open returns the configured store.
func Open(ctx context.Context, cfg config.StorageConfig, opts ...Option) (storage.Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	codec, err := compress.ParseCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var store storage.Store
	switch cfg.Driver {
	case "memory":
		store = memstore.New()
	case "", "bolt":
		store, err = boltstore.Open(cfg.Path)
	case "sqlite":
		store, err = sqlstore.OpenSQLite(ctx, cfg.Path)
	case "postgres":
		if o.postgres == nil {
			return nil, fmt.Errorf("%w: postgres driver needs a database connection", apperrors.ErrInvalidInput)
		}
		s := sqlstore.New(o.postgres, sqlstore.Postgres)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", apperrors.ErrInvalidInput, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if codec != compress.None {
		store = compress.Wrap(store, codec)
	}
	if cfg.BlockCacheSize > 0 {
		cached, err := blockcache.Wrap(store, cfg.BlockCacheSize, o.metrics)
		if err != nil {
			return nil, multierror.Append(fmt.Errorf("creating block cache: %w", err), store.Close())
		}
		store = cached
	}

	slog.Default().With("component", "storage").Info("store opened",
		"driver", cfg.Driver,
		"path", cfg.Path,
		"compression", codec.String(),
		"block_cache", cfg.BlockCacheSize,
	)
	return store, nil
}
