package indexer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/tracing"
)

// SearchOptions controls one query.
type SearchOptions struct {
	Order executor.Order
	// MinDocID and MaxDocID bound the result. Zero leaves that side open.
	MinDocID int64
	MaxDocID int64
	Defer    executor.DeferMode
	// Limit caps the returned rows; zero returns all of them.
	Limit  int
	Offset int
	// Instances and Offsets attach match positions to each returned row.
	Instances bool
	Offsets   bool
	// Rank orders rows by BM25 score instead of docid. Every match is
	// scored before Offset and Limit apply.
	Rank bool
	// Weights scales the score of each column when Rank is set.
	Weights []float64
	// MatchInfo attaches match counts to each returned row.
	MatchInfo bool
	// Snippet, when set, attaches a highlighted extract to each row.
	Snippet *executor.SnippetOptions
}

// Row is one matching document.
type Row struct {
	DocID     int64               `json:"doc_id"`
	Score     *float64            `json:"score,omitempty"`
	Instances []executor.Instance `json:"instances,omitempty"`
	Offsets   []executor.Offset   `json:"offsets,omitempty"`
	MatchInfo *executor.MatchInfo `json:"matchinfo,omitempty"`
	Snippet   string              `json:"snippet,omitempty"`
}

// SearchResult is the answer to a query.
type SearchResult struct {
	Query string         `json:"query"`
	Expr  string         `json:"expr"`
	Total int            `json:"total"`
	Rows  []Row          `json:"rows"`
	Stats executor.Stats `json:"stats"`
}

// DocIDs returns the docids of the returned rows.
func (r *SearchResult) DocIDs() []int64 {
	out := make([]int64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.DocID
	}
	return out
}

// ParseOptions returns the parser options matching the index layout.
func (e *Engine) ParseOptions() parser.Options {
	return parser.Options{
		Tokenizer:     e.tok,
		Columns:       e.cfg.Columns,
		DefaultColumn: parser.AllColumns,
		NearDefault:   e.nearDefault,
	}
}

// Search parses and evaluates query. Inside an open write transaction the
// pending terms of that transaction are visible.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	start := time.Now()
	res, err := e.search(ctx, query, opts)
	if e.metrics != nil {
		e.metrics.SearchLatency.WithLabelValues("miss").Observe(time.Since(start).Seconds())
		switch {
		case errors.Is(err, apperrors.ErrSyntax):
			e.metrics.SearchQueriesTotal.WithLabelValues("syntax_error").Inc()
		case err != nil:
			e.metrics.SearchQueriesTotal.WithLabelValues("error").Inc()
		case res.Total == 0:
			e.metrics.SearchQueriesTotal.WithLabelValues("zero_result").Inc()
		default:
			e.metrics.SearchQueriesTotal.WithLabelValues("hit").Inc()
		}
		if err == nil {
			e.metrics.SearchResultsCount.Observe(float64(res.Total))
		}
	}
	return res, err
}

func (e *Engine) search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	expr, err := parser.Parse(query, e.ParseOptions())
	parseSpan.End()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	tx, withPending, done, err := e.readTx(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	req := executor.Request{Order: opts.Order, Defer: opts.Defer}
	if opts.MinDocID != 0 || opts.MaxDocID != 0 {
		req.MinDocID, req.MaxDocID = int64(math.MinInt64), int64(math.MaxInt64)
		if opts.MinDocID != 0 {
			req.MinDocID = opts.MinDocID
		}
		if opts.MaxDocID != 0 {
			req.MaxDocID = opts.MaxDocID
		}
	}

	evalCtx, evalSpan := tracing.StartChildSpan(ctx, "evaluate")
	ex := executor.New(
		txTerms{e: e, tx: tx, withPending: withPending},
		txDocs{Tx: tx, e: e, withPending: withPending},
		e.tok,
		e.execOpts,
	)
	res, err := ex.Evaluate(evalCtx, expr, req)
	evalSpan.End()
	if err != nil {
		return nil, err
	}
	evalSpan.SetAttr("matches", res.Len())
	evalSpan.SetAttr("deferred_tokens", res.Stats().Deferred)

	_, rowsSpan := tracing.StartChildSpan(ctx, "rows")
	defer rowsSpan.End()

	ids := res.DocIDs()
	out := &SearchResult{Query: query, Expr: expr.String(), Total: len(ids), Rows: []Row{}}
	var scores map[int64]float64
	if opts.Rank {
		ranked, err := ranker.Rank(ctx, res, ids, opts.Weights, 0)
		if err != nil {
			return nil, err
		}
		scores = make(map[int64]float64, len(ranked))
		for i, d := range ranked {
			ids[i] = d.DocID
			scores[d.DocID] = d.Score
		}
	}
	if opts.Offset > 0 {
		ids = ids[min(opts.Offset, len(ids)):]
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	for _, id := range ids {
		row := Row{DocID: id}
		if score, ok := scores[id]; ok {
			row.Score = &score
		}
		if opts.MatchInfo {
			mi, err := res.MatchInfo(ctx, id)
			if err != nil {
				return nil, err
			}
			row.MatchInfo = &mi
		}
		if opts.Snippet != nil {
			snip, err := res.Snippet(ctx, id, *opts.Snippet)
			if err != nil {
				return nil, err
			}
			row.Snippet = snip
		}
		switch {
		case opts.Offsets:
			offs, err := res.Offsets(ctx, id)
			if err != nil {
				return nil, err
			}
			row.Offsets = offs
		case opts.Instances:
			inst, err := res.Instances(ctx, id)
			if err != nil {
				return nil, err
			}
			row.Instances = inst
		}
		out.Rows = append(out.Rows, row)
	}
	out.Stats = res.Stats()
	return out, nil
}
