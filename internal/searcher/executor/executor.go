// Package executor evaluates parsed full-text queries against the merged
// index. Each node yields two docid sets: rows known to match and rows that
// may match. A row is only "maybe" when a phrase beneath it has deferred
// tokens; those rows are settled by re-tokenizing their text.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

// TermSource opens merged term streams over the pending buffer and every
// segment.
type TermSource interface {
	Terms(ctx context.Context, f merge.Filter) (*merge.Iterator, error)
	// Estimate returns the stored doclist bytes f selects, before merging.
	Estimate(ctx context.Context, f merge.Filter) (int, error)
}

// DocumentSource returns stored row text.
type DocumentSource interface {
	Document(ctx context.Context, docid int64) ([]string, bool, error)
	// DocIDs returns every live docid encoded with storage.EncodeDocID.
	DocIDs(ctx context.Context) (*roaring64.Bitmap, error)
	// Totals returns the row count and per-column token counts.
	Totals(ctx context.Context) (storage.Totals, error)
}

// DeferMode selects when phrase tokens are verified against row text
// instead of loading their doclists.
type DeferMode int

const (
	// DeferAuto defers tokens whose doclists are much larger than the
	// cheapest token of the same phrase.
	DeferAuto DeferMode = iota
	// DeferAlways defers every non-prefix token except the cheapest.
	DeferAlways
	// DeferNever loads every doclist.
	DeferNever
)

func (m DeferMode) String() string {
	switch m {
	case DeferAlways:
		return "always"
	case DeferNever:
		return "never"
	}
	return "auto"
}

// ParseDeferMode maps "auto", "always" or "never" onto a DeferMode. The empty
// string is DeferAuto.
func ParseDeferMode(s string) (DeferMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return DeferAuto, nil
	case "always":
		return DeferAlways, nil
	case "never":
		return DeferNever, nil
	}
	return DeferAuto, fmt.Errorf("%w: defer mode %q", apperrors.ErrInvalidInput, s)
}

// Order is the docid order of a Result.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Options tunes an Executor.
type Options struct {
	// DeferRatio is how many times larger than the cheapest token a token's
	// doclist must be before DeferAuto defers it.
	DeferRatio float64
	// MinDeferCost is the smallest doclist, in bytes, DeferAuto defers.
	MinDeferCost int
	// Columns is the column count of the index, used to size match info.
	Columns int
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// DefaultOptions returns the options used by the engine.
func DefaultOptions() Options {
	return Options{DeferRatio: 4, MinDeferCost: 256}
}

// Request carries per-query settings.
type Request struct {
	Order Order
	// MinDocID and MaxDocID restrict the result; both zero means unbounded.
	MinDocID int64
	MaxDocID int64
	Defer    DeferMode
}

// Executor evaluates queries. It holds no per-query state and may be shared
// by queries that use the same sources.
type Executor struct {
	terms  TermSource
	docs   DocumentSource
	tok    tokenizer.Tokenizer
	opts   Options
	logger *slog.Logger
}

// New returns an Executor. tok must be the tokenizer the index was built with.
func New(terms TermSource, docs DocumentSource, tok tokenizer.Tokenizer, opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DeferRatio <= 0 {
		opts.DeferRatio = DefaultOptions().DeferRatio
	}
	return &Executor{
		terms:  terms,
		docs:   docs,
		tok:    tok,
		opts:   opts,
		logger: logger.With("component", "query-executor"),
	}
}

// Evaluate runs expr and returns the matching rows.
func (e *Executor) Evaluate(ctx context.Context, expr *parser.Expr, req Request) (*Result, error) {
	ev := &evaluation{
		ex:      e,
		req:     req,
		phrases: make(map[int]*phraseState),
		global:  make(map[int][]PhraseHits),
	}
	for _, ph := range expr.Phrases() {
		ps, err := ev.loadPhrase(ctx, ph)
		if err != nil {
			return nil, err
		}
		ev.phrases[ph.ID] = ps
	}

	root, err := ev.eval(ctx, expr, false)
	if err != nil {
		return nil, err
	}

	final := root.sure.Clone()
	candidates := roaring64.AndNot(root.maybe, root.sure)
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := it.Next()
		dm := ev.newDocMatch(storage.DecodeDocID(key))
		ok, _, err := dm.eval(ctx, expr, true, nil)
		if err != nil {
			return nil, fmt.Errorf("verifying row %d: %w", dm.docid, err)
		}
		if ok {
			final.Add(key)
		}
	}

	keys := final.ToArray()
	docids := make([]int64, len(keys))
	for i, k := range keys {
		docids[i] = storage.DecodeDocID(k)
	}
	if req.Order == Descending {
		slices.Reverse(docids)
	}

	ev.stats.Candidates = int(candidates.GetCardinality())
	if m := e.opts.Metrics; m != nil {
		m.DeferredTokensTotal.Add(float64(ev.stats.Deferred))
		m.RowsVerifiedTotal.Add(float64(ev.stats.Verified))
	}
	e.logger.Debug("query evaluated",
		"query", expr.String(),
		"matches", len(docids),
		"deferred_tokens", ev.stats.Deferred,
		"rows_verified", ev.stats.Verified,
	)

	return &Result{ev: ev, expr: expr, docids: docids, set: final}, nil
}

// evaluation is the state of one query.
type evaluation struct {
	ex       *Executor
	req      Request
	phrases  map[int]*phraseState
	universe *roaring64.Bitmap
	stats    Stats
	// global caches the whole-index hit counts of each phrase by column.
	global map[int][]PhraseHits
	totals *storage.Totals
}

// nodeResult is the outcome of one node: sure is a subset of maybe. spans is
// only filled for phrase and NEAR nodes whose parent needs positions.
type nodeResult struct {
	sure  *roaring64.Bitmap
	maybe *roaring64.Bitmap
	spans map[int64][]span
}

func newNodeResult() *nodeResult {
	return &nodeResult{
		sure:  roaring64.New(),
		maybe: roaring64.New(),
		spans: make(map[int64][]span),
	}
}

func (ev *evaluation) eval(ctx context.Context, e *parser.Expr, needSpans bool) (*nodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch e.Op {
	case parser.OpPhrase:
		return ev.evalPhrase(ev.phrases[e.Phrase.ID], needSpans), nil

	case parser.OpNear:
		l, err := ev.eval(ctx, e.Left, true)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(ctx, e.Right, true)
		if err != nil {
			return nil, err
		}
		out := newNodeResult()
		it := roaring64.And(l.maybe, r.maybe).Iterator()
		for it.HasNext() {
			key := it.Next()
			docid := storage.DecodeDocID(key)
			spans := nearSpans(l.spans[docid], r.spans[docid], e.Near)
			if len(spans) == 0 {
				continue
			}
			out.maybe.Add(key)
			if l.sure.Contains(key) && r.sure.Contains(key) {
				out.sure.Add(key)
			}
			if needSpans {
				out.spans[docid] = spans
			}
		}
		return out, nil

	case parser.OpAnd, parser.OpOr:
		l, err := ev.eval(ctx, e.Left, false)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(ctx, e.Right, false)
		if err != nil {
			return nil, err
		}
		out := newNodeResult()
		if e.Op == parser.OpAnd {
			out.sure = roaring64.And(l.sure, r.sure)
			out.maybe = roaring64.And(l.maybe, r.maybe)
		} else {
			out.sure = roaring64.Or(l.sure, r.sure)
			out.maybe = roaring64.Or(l.maybe, r.maybe)
		}
		return out, nil

	case parser.OpNot:
		var l *nodeResult
		if e.Left == nil {
			u, err := ev.allDocs(ctx)
			if err != nil {
				return nil, err
			}
			l = &nodeResult{sure: u, maybe: u}
		} else {
			var err error
			if l, err = ev.eval(ctx, e.Left, false); err != nil {
				return nil, err
			}
		}
		r, err := ev.eval(ctx, e.Right, false)
		if err != nil {
			return nil, err
		}
		out := newNodeResult()
		out.sure = roaring64.AndNot(l.sure, r.maybe)
		out.maybe = roaring64.AndNot(l.maybe, r.sure)
		return out, nil
	}
	return nil, fmt.Errorf("unknown query operator %v", e.Op)
}

// allDocs returns every live row inside the requested docid range.
func (ev *evaluation) allDocs(ctx context.Context) (*roaring64.Bitmap, error) {
	if ev.universe != nil {
		return ev.universe, nil
	}
	all, err := ev.ex.docs.DocIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rows: %w", err)
	}
	if ev.req.MinDocID != 0 || ev.req.MaxDocID != 0 {
		clipped := roaring64.New()
		it := all.Iterator()
		for it.HasNext() {
			key := it.Next()
			if d := storage.DecodeDocID(key); d >= ev.req.MinDocID && d <= ev.req.MaxDocID {
				clipped.Add(key)
			}
		}
		all = clipped
	}
	ev.universe = all
	return all, nil
}
