// Package bootstrap opens the index the way every binary in cmd/ needs it:
// host store from the storage config, Postgres pool when the driver asks for
// one, engine options from the search config.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/backend"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/postgres"
)

// Index is an open engine and the connections it owns.
type Index struct {
	Engine   *indexer.Engine
	postgres *postgres.Client
}

// Open opens the index described by cfg. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Index, error) {
	var storeOpts []backend.Option
	var engineOpts []indexer.Option
	if m != nil {
		storeOpts = append(storeOpts, backend.WithMetrics(m))
		engineOpts = append(engineOpts, indexer.WithMetrics(m))
	}
	engineOpts = append(engineOpts, indexer.WithSearch(cfg.Search))

	idx := &Index{}
	if cfg.Storage.Driver == "postgres" {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		idx.postgres = pg
		storeOpts = append(storeOpts, backend.WithPostgres(pg.DB))
	}

	store, err := backend.Open(ctx, cfg.Storage, storeOpts...)
	if err != nil {
		idx.closePostgres()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	engine, err := indexer.Open(ctx, store, cfg.Indexer, engineOpts...)
	if err != nil {
		store.Close()
		idx.closePostgres()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	idx.Engine = engine
	return idx, nil
}

// RegisterChecks adds the index and its database to checker.
func (idx *Index) RegisterChecks(checker *health.Checker) {
	checker.Register("index", health.Ping(func(ctx context.Context) error {
		_, err := idx.Engine.Generation(ctx)
		return err
	}))
	if idx.postgres != nil {
		checker.Register("postgres", idx.postgres.Check())
	}
}

// Close commits outstanding work and releases every connection.
func (idx *Index) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := idx.Engine.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := idx.closePostgres(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing postgres: %w", err))
	}
	return result.ErrorOrNil()
}

func (idx *Index) closePostgres() error {
	if idx.postgres == nil {
		return nil
	}
	return idx.postgres.Close()
}
