// Package metrics defines the Prometheus collectors for the index engine and
// the HTTP services, and serves a per-service registry for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the index and its services.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	DocsIndexedTotal     *prometheus.CounterVec
	IndexFlushesTotal    *prometheus.CounterVec
	MergesTotal          *prometheus.CounterVec
	Segments             *prometheus.GaugeVec
	PendingBytes         prometheus.Gauge
	DeferredTokensTotal  prometheus.Counter
	RowsVerifiedTotal    prometheus.Counter
	BlockCacheHits       prometheus.Counter
	BlockCacheMisses     prometheus.Counter
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_queries_total",
				Help: "Total full-text queries by result type (hit, zero_result, syntax_error, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fts_query_latency_seconds",
				Help:    "Full-text query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fts_query_results",
				Help:    "Number of rows matched per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 1000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_query_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_query_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_documents_total",
				Help: "Documents written to the index by operation (insert, update, delete).",
			},
			[]string{"op"},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_flushes_total",
				Help: "Pending buffer flushes by status.",
			},
			[]string{"status"},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fts_merges_total",
				Help: "Segment merges by source level.",
			},
			[]string{"level"},
		),
		Segments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fts_segments",
				Help: "Number of segments per level.",
			},
			[]string{"level"},
		),
		PendingBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fts_pending_bytes",
				Help: "Tracked size of the pending terms buffer.",
			},
		),
		DeferredTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_deferred_tokens_total",
				Help: "Phrase tokens verified against row text instead of loading their doclist.",
			},
		),
		RowsVerifiedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_rows_verified_total",
				Help: "Candidate rows re-tokenized to check deferred tokens.",
			},
		),
		BlockCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_block_cache_hits_total",
				Help: "Block reads served from the block cache.",
			},
		),
		BlockCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fts_block_cache_misses_total",
				Help: "Block reads that went to the store.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.MergesTotal,
		m.Segments,
		m.PendingBytes,
		m.DeferredTokensTotal,
		m.RowsVerifiedTotal,
		m.BlockCacheHits,
		m.BlockCacheMisses,
	)

	return m
}

