// Package handler serves the search HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/tracing"
)

// Index is the engine surface the handler needs.
type Index interface {
	cache.Searcher
	Stats(ctx context.Context) (indexer.Stats, error)
}

type Handler struct {
	index        Index
	cache        *cache.QueryCache
	defaultLimit int
	maxResults   int
	deferMode    executor.DeferMode
	logger       *slog.Logger
}

// New returns a handler. queryCache may be nil.
func New(index Index, queryCache *cache.QueryCache, cfg config.SearchConfig) *Handler {
	mode, _ := executor.ParseDeferMode(cfg.DeferMode)
	return &Handler{
		index:        index,
		cache:        queryCache,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		deferMode:    mode,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Routes registers the handler on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /stats", h.Stats)
	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("POST /cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	*indexer.SearchResult
	CacheHit  bool  `json:"cache_hit"`
	LatencyMs int64 `json:"latency_ms"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracing.StartSpan(r.Context(), "search", w.Header().Get(middleware.RequestIDHeader))
	log := logger.FromContext(ctx)
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	opts, err := h.searchOptions(q)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result *indexer.SearchResult
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.Search(ctx, h.index, query, opts)
	} else {
		result, err = h.index.Search(ctx, query, opts)
	}
	if err != nil {
		var syntaxErr *parser.SyntaxError
		switch {
		case errors.As(err, &syntaxErr):
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":    "invalid query",
				"reason":   syntaxErr.Reason,
				"offset":   syntaxErr.Offset,
				"fragment": syntaxErr.Fragment,
			})
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn("search timed out", "query", query)
			h.writeError(w, http.StatusGatewayTimeout, "search timed out")
		default:
			status := apperrors.HTTPStatusCode(err)
			log.Error("search failed", "query", query, "error", err, "status_code", status)
			h.writeError(w, status, "search failed")
		}
		return
	}

	latency := time.Since(start)
	log.Info("search completed",
		"query", query,
		"total", result.Total,
		"returned", len(result.Rows),
		"deferred", result.Stats.Deferred,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, searchResponse{
		SearchResult: result,
		CacheHit:     cacheHit,
		LatencyMs:    latency.Milliseconds(),
	})
}

type badParam struct {
	name, reason string
}

func (e *badParam) Error() string { return e.name + " " + e.reason }

func (h *Handler) searchOptions(q map[string][]string) (indexer.SearchOptions, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	opts := indexer.SearchOptions{Limit: h.defaultLimit, Defer: h.deferMode}

	switch get("order") {
	case "", "asc":
	case "desc":
		opts.Order = executor.Descending
	case "rank":
		opts.Rank = true
	default:
		return opts, &badParam{"order", "must be asc, desc or rank"}
	}
	if v := get("defer"); v != "" {
		mode, err := executor.ParseDeferMode(v)
		if err != nil {
			return opts, &badParam{"defer", "must be auto, always or never"}
		}
		opts.Defer = mode
	}
	for _, p := range []struct {
		name string
		dst  *int64
	}{{"min", &opts.MinDocID}, {"max", &opts.MaxDocID}} {
		if v := get(p.name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return opts, &badParam{p.name, "must be an integer docid"}
			}
			*p.dst = n
		}
	}
	if v := get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, &badParam{"limit", "must be a positive integer"}
		}
		opts.Limit = n
	}
	if h.maxResults > 0 && (opts.Limit == 0 || opts.Limit > h.maxResults) {
		opts.Limit = h.maxResults
	}
	if v := get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, &badParam{"offset", "must be a non-negative integer"}
		}
		opts.Offset = n
	}
	for _, p := range []struct {
		name string
		dst  *bool
	}{{"instances", &opts.Instances}, {"offsets", &opts.Offsets}, {"matchinfo", &opts.MatchInfo}} {
		if v := get(p.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, &badParam{p.name, "must be a boolean"}
			}
			*p.dst = b
		}
	}
	if v := get("snippet"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return opts, &badParam{"snippet", "must be a boolean"}
		}
		if on {
			snip, err := snippetOptions(get)
			if err != nil {
				return opts, err
			}
			opts.Snippet = &snip
		}
	}
	return opts, nil
}

// snippetOptions reads snippet_start, snippet_end, snippet_ellipsis,
// snippet_column and snippet_tokens over the defaults.
func snippetOptions(get func(string) string) (executor.SnippetOptions, error) {
	snip := executor.DefaultSnippetOptions()
	for _, p := range []struct {
		name string
		dst  *string
	}{{"snippet_start", &snip.Start}, {"snippet_end", &snip.End}, {"snippet_ellipsis", &snip.Ellipsis}} {
		if v := get(p.name); v != "" {
			*p.dst = v
		}
	}
	if v := get("snippet_column"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < parser.AllColumns {
			return snip, &badParam{"snippet_column", "must be a column index or -1"}
		}
		snip.Column = n
	}
	if v := get("snippet_tokens"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return snip, &badParam{"snippet_tokens", "must be an integer"}
		}
		snip.Tokens = n
	}
	return snip, nil
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.index.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats failed", "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "stats unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": hitRate,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
