// Package indexer is the index handle: it owns the pending-terms buffer of
// the current write transaction, flushes it into level-0 segments, merges
// segments as levels fill up and answers queries over the merged view.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/merge"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

// Engine is a handle on one index. All methods are safe for concurrent use;
// calls are serialized.
type Engine struct {
	mu      sync.Mutex
	store   storage.Store
	cfg     config.IndexerConfig
	tok     tokenizer.Tokenizer
	pending *index.PendingTerms
	tx      storage.Tx
	// totals tracks the column totals of tx; nil until tx first writes.
	totals *storage.Totals
	closed bool

	execOpts    executor.Options
	nearDefault int
	metrics     *metrics.Metrics
	logger      *slog.Logger

	flushes int64
	merges  int64
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTokenizer overrides the tokenizer named in the config.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(e *Engine) { e.tok = t }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSearch applies the search section of the config.
func WithSearch(cfg config.SearchConfig) Option {
	return func(e *Engine) {
		if cfg.DeferRatio > 0 {
			e.execOpts.DeferRatio = cfg.DeferRatio
		}
		if cfg.MinDeferCost > 0 {
			e.execOpts.MinDeferCost = cfg.MinDeferCost
		}
		if cfg.NearDefault > 0 {
			e.nearDefault = cfg.NearDefault
		}
	}
}

func withDefaults(cfg config.IndexerConfig) config.IndexerConfig {
	if cfg.NodeSize <= 0 {
		cfg.NodeSize = segment.DefaultNodeSize
	}
	if cfg.PendingBudget <= 0 {
		cfg.PendingBudget = index.DefaultBudget
	}
	if cfg.MergeThreshold < 2 {
		cfg.MergeThreshold = 16
	}
	if len(cfg.Columns) == 0 {
		cfg.Columns = []string{"content"}
	}
	return cfg
}

// Open returns an Engine over store. The Engine takes ownership of store and
// closes it in Close.
func Open(ctx context.Context, store storage.Store, cfg config.IndexerConfig, opts ...Option) (*Engine, error) {
	cfg = withDefaults(cfg)
	e := &Engine{
		store:       store,
		cfg:         cfg,
		tok:         tokenizer.ByName(cfg.Tokenizer),
		pending:     index.NewPendingTerms(cfg.PendingBudget),
		execOpts:    executor.DefaultOptions(),
		nearDefault: 10,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "indexer")
	e.execOpts.Metrics = e.metrics
	e.execOpts.Logger = e.logger
	e.execOpts.Columns = len(cfg.Columns)

	tx, err := store.Begin(ctx, false)
	if err != nil {
		return nil, apperrors.IO("opening index", err)
	}
	defer tx.Rollback()
	segs, err := tx.Segments(ctx)
	if err != nil {
		return nil, apperrors.IO("reading segment directory", err)
	}
	e.updateSegmentGauges(segs)
	e.logger.Info("index opened",
		"segments", len(segs),
		"columns", cfg.Columns,
		"merge_threshold", cfg.MergeThreshold,
	)
	return e, nil
}

// Columns returns the column names of the index.
func (e *Engine) Columns() []string { return e.cfg.Columns }

// Tokenizer returns the tokenizer documents are indexed with.
func (e *Engine) Tokenizer() tokenizer.Tokenizer { return e.tok }

func (e *Engine) writeTx(ctx context.Context) (storage.Tx, error) {
	if e.closed {
		return nil, apperrors.ErrClosed
	}
	if e.tx != nil {
		return e.tx, nil
	}
	tx, err := e.store.Begin(ctx, true)
	if err != nil {
		return nil, apperrors.IO("beginning write transaction", err)
	}
	e.tx = tx
	return tx, nil
}

func (e *Engine) checkColumns(columns []string) error {
	if len(columns) == 0 || len(columns) > len(e.cfg.Columns) {
		return fmt.Errorf("%w: document has %d columns, index has %d",
			apperrors.ErrInvalidInput, len(columns), len(e.cfg.Columns))
	}
	if limit := e.cfg.MaxDocumentBytes; limit > 0 {
		size := 0
		for _, c := range columns {
			size += len(c)
		}
		if size > limit {
			return fmt.Errorf("%w: document is %d bytes, limit %d",
				apperrors.ErrResourceExhausted, size, limit)
		}
	}
	return nil
}

// Insert adds a new document. It fails with ErrDocumentExists when docid is
// already present.
func (e *Engine) Insert(ctx context.Context, docid int64, columns ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkColumns(columns); err != nil {
		return err
	}
	tx, err := e.writeTx(ctx)
	if err != nil {
		return err
	}
	_, found, err := tx.Document(ctx, docid)
	if err != nil {
		return apperrors.IO("reading document", err)
	}
	if found {
		return fmt.Errorf("document %d: %w", docid, apperrors.ErrDocumentExists)
	}
	return e.write(ctx, tx, "insert", docid, columns, nil)
}

// Update replaces the columns of an existing document.
func (e *Engine) Update(ctx context.Context, docid int64, columns ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkColumns(columns); err != nil {
		return err
	}
	tx, err := e.writeTx(ctx)
	if err != nil {
		return err
	}
	old, found, err := tx.Document(ctx, docid)
	if err != nil {
		return apperrors.IO("reading document", err)
	}
	if !found {
		return fmt.Errorf("document %d: %w", docid, apperrors.ErrDocumentNotFound)
	}
	return e.write(ctx, tx, "update", docid, columns, old)
}

// Upsert inserts docid or replaces it when present.
func (e *Engine) Upsert(ctx context.Context, docid int64, columns ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkColumns(columns); err != nil {
		return err
	}
	tx, err := e.writeTx(ctx)
	if err != nil {
		return err
	}
	old, found, err := tx.Document(ctx, docid)
	if err != nil {
		return apperrors.IO("reading document", err)
	}
	op := "insert"
	if found {
		op = "update"
	}
	return e.write(ctx, tx, op, docid, columns, old)
}

// Delete removes a document from the index.
func (e *Engine) Delete(ctx context.Context, docid int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.writeTx(ctx)
	if err != nil {
		return err
	}
	old, found, err := tx.Document(ctx, docid)
	if err != nil {
		return apperrors.IO("reading document", err)
	}
	if !found {
		return fmt.Errorf("document %d: %w", docid, apperrors.ErrDocumentNotFound)
	}
	return e.write(ctx, tx, "delete", docid, nil, old)
}

// write records the postings of columns for docid and tombstones every term
// of old that columns no longer contain. A nil columns deletes the row.
func (e *Engine) write(ctx context.Context, tx storage.Tx, op string, docid int64, columns, old []string) error {
	if e.pending.NeedsFlushBefore(docid) {
		if err := e.flushLocked(ctx); err != nil {
			return err
		}
	}

	totals, err := e.loadTotals(ctx, tx)
	if err != nil {
		return err
	}

	e.pending.StartDocument(docid)
	kept := make(map[string]struct{})
	newLengths := make([]int, len(columns))
	for col, text := range columns {
		for tok := range e.tok.Tokens(text) {
			if err := e.pending.Add(tok.Term, docid, col, tok.Position); err != nil {
				return e.abortLocked(fmt.Errorf("adding %q for document %d: %w", tok.Term, docid, err))
			}
			kept[tok.Term] = struct{}{}
			newLengths[col]++
		}
	}
	oldLengths := make([]int, len(old))
	for col, text := range old {
		for tok := range e.tok.Tokens(text) {
			oldLengths[col]++
			if _, ok := kept[tok.Term]; ok {
				continue
			}
			kept[tok.Term] = struct{}{}
			if err := e.pending.Tombstone(tok.Term, docid); err != nil {
				return e.abortLocked(fmt.Errorf("removing %q from document %d: %w", tok.Term, docid, err))
			}
		}
	}
	if old != nil {
		totals.Add(oldLengths, -1)
	}
	if columns != nil {
		totals.Add(newLengths, 1)
	}

	if columns == nil {
		err = tx.DeleteDocument(ctx, docid)
	} else {
		err = tx.PutDocument(ctx, docid, columns)
	}
	if err != nil {
		return e.abortLocked(apperrors.IO("writing document", err))
	}

	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.WithLabelValues(op).Inc()
		e.metrics.PendingBytes.Set(float64(e.pending.Size()))
	}
	e.logger.Debug("document buffered", "op", op, "doc_id", docid, "pending_bytes", e.pending.Size())

	if e.pending.ShouldFlush() {
		e.logger.Info("pending buffer over budget, flushing",
			"size", e.pending.Size(),
			"budget", e.cfg.PendingBudget,
		)
		return e.flushLocked(ctx)
	}
	return nil
}

// Flush writes the pending buffer to a level-0 segment inside the open
// transaction and runs any merges that fall due.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return apperrors.ErrClosed
	}
	return e.flushLocked(ctx)
}

// flushLocked rolls the transaction back when anything fails so a broken
// flush never leaves a partial segment behind.
func (e *Engine) flushLocked(ctx context.Context) error {
	if e.tx == nil || e.pending.Len() == 0 {
		return nil
	}
	terms := e.pending.Len()
	docs := e.pending.DocCount()
	seg, err := e.writeSegment(ctx, e.tx)
	if err == nil {
		err = e.mergeDue(ctx, e.tx)
	}
	if err != nil {
		e.countFlush("error")
		e.logger.Error("flush failed, rolling back", "error", err)
		return e.abortLocked(fmt.Errorf("flushing pending terms: %w", err))
	}
	e.flushes++
	e.countFlush("ok")
	e.logger.Info("pending terms flushed",
		"terms", terms,
		"docs", docs,
		"idx", seg.Idx,
		"inline", seg.Inline(),
	)
	return nil
}

// loadTotals returns the column totals of the write transaction, reading
// them on first use.
func (e *Engine) loadTotals(ctx context.Context, tx storage.Tx) (*storage.Totals, error) {
	if e.totals != nil {
		return e.totals, nil
	}
	t, err := storage.LoadTotals(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("reading column totals: %w", err)
	}
	e.totals = &t
	return e.totals, nil
}

// abortLocked discards the write transaction after a failure that left it
// half applied. The returned error wraps ErrRolledBack and err.
func (e *Engine) abortLocked(err error) error {
	if rbErr := e.rollbackLocked(); rbErr != nil {
		e.logger.Error("rollback failed", "error", rbErr)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrRolledBack, err)
}

func (e *Engine) countFlush(status string) {
	if e.metrics != nil {
		e.metrics.IndexFlushesTotal.WithLabelValues(status).Inc()
		e.metrics.PendingBytes.Set(float64(e.pending.Size()))
	}
}

func (e *Engine) writeSegment(ctx context.Context, tx storage.Tx) (storage.Segment, error) {
	w := segment.NewWriter(tx, e.cfg.NodeSize)
	for term, dl := range e.pending.DrainSorted() {
		if err := w.Add(ctx, []byte(term), dl); err != nil {
			return storage.Segment{}, err
		}
	}
	res, err := w.Finish(ctx)
	if err != nil {
		return storage.Segment{}, err
	}
	idx, err := tx.NextIdx(ctx, 0)
	if err != nil {
		return storage.Segment{}, apperrors.IO("allocating segment index", err)
	}
	seg := res.Segment(0, idx)
	if err := tx.PutSegment(ctx, seg); err != nil {
		return storage.Segment{}, apperrors.IO("writing segment row", err)
	}
	return seg, nil
}

// Commit flushes pending terms and commits the write transaction.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commitLocked(ctx)
}

func (e *Engine) commitLocked(ctx context.Context) error {
	if e.tx == nil {
		return nil
	}
	if err := e.flushLocked(ctx); err != nil {
		return err
	}
	if e.tx == nil {
		return nil
	}
	if e.totals != nil {
		if err := e.tx.PutStat(ctx, e.totals.Encode()); err != nil {
			return e.abortLocked(apperrors.IO("writing column totals", err))
		}
	}
	tx := e.tx
	e.tx = nil
	e.totals = nil
	if err := tx.Commit(); err != nil {
		e.pending.Clear()
		return apperrors.IO("committing", err)
	}
	if e.metrics != nil {
		e.refreshGauges(ctx)
	}
	return nil
}

// Rollback discards the write transaction and the pending buffer.
func (e *Engine) Rollback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollbackLocked()
}

func (e *Engine) rollbackLocked() error {
	e.pending.Clear()
	e.totals = nil
	if e.tx == nil {
		return nil
	}
	tx := e.tx
	e.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, storage.ErrTxDone) {
		return apperrors.IO("rolling back", err)
	}
	return nil
}

// Close commits any open transaction and closes the store.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	var result *multierror.Error
	if err := e.commitLocked(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("final commit: %w", err))
		if rbErr := e.rollbackLocked(); rbErr != nil {
			result = multierror.Append(result, rbErr)
		}
	}
	if err := e.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("closing store: %w", err))
	}
	e.closed = true
	e.logger.Info("index closed", "flushes", e.flushes, "merges", e.merges)
	return result.ErrorOrNil()
}

// readTx returns the open write transaction or a new read transaction. done
// must be called when the caller is finished with tx.
func (e *Engine) readTx(ctx context.Context) (tx storage.Tx, withPending bool, done func(), err error) {
	if e.closed {
		return nil, false, nil, apperrors.ErrClosed
	}
	if e.tx != nil {
		return e.tx, true, func() {}, nil
	}
	tx, err = e.store.Begin(ctx, false)
	if err != nil {
		return nil, false, nil, apperrors.IO("beginning read transaction", err)
	}
	return tx, false, func() { tx.Rollback() }, nil
}

// sources returns the merge sources of the index, newest first: the pending
// buffer, then level 0 from the highest idx down, then level 1 and so on.
func (e *Engine) sources(ctx context.Context, tx storage.Tx, withPending bool, f merge.Filter) ([]merge.Source, error) {
	var out []merge.Source
	if withPending && e.pending.Len() > 0 {
		from := ""
		if f.Term != nil {
			from = string(f.Term)
		}
		var items []merge.Item
		for _, te := range e.pending.Terms(from, f.Exact || f.Prefix) {
			if f.Exact && te.Term != from {
				continue
			}
			items = append(items, merge.Item{Term: []byte(te.Term), Doclist: te.Doclist})
		}
		out = append(out, merge.NewSliceSource(items))
	}
	segs, err := tx.Segments(ctx)
	if err != nil {
		return nil, apperrors.IO("reading segment directory", err)
	}
	for i := len(segs) - 1; i >= 0; i-- {
		out = append(out, segment.NewReader(tx, segs[i]))
	}
	return out, nil
}

// txTerms serves merged term streams to the query executor.
type txTerms struct {
	e           *Engine
	tx          storage.Tx
	withPending bool
}

func (t txTerms) Terms(ctx context.Context, f merge.Filter) (*merge.Iterator, error) {
	srcs, err := t.e.sources(ctx, t.tx, t.withPending, f)
	if err != nil {
		return nil, err
	}
	return merge.NewIterator(srcs, f), nil
}

func (t txTerms) Estimate(ctx context.Context, f merge.Filter) (int, error) {
	srcs, err := t.e.sources(ctx, t.tx, t.withPending, f)
	if err != nil {
		return 0, err
	}
	return merge.Estimate(ctx, srcs, f)
}

// txDocs serves row text and column totals to the query executor. Inside
// the write transaction the totals not yet stored are used.
type txDocs struct {
	storage.Tx
	e           *Engine
	withPending bool
}

func (d txDocs) Totals(ctx context.Context) (storage.Totals, error) {
	if d.withPending && d.e.totals != nil {
		return *d.e.totals, nil
	}
	data, err := d.Stat(ctx)
	if err != nil {
		return storage.Totals{}, apperrors.IO("reading column totals", err)
	}
	return storage.DecodeTotals(data)
}

func (e *Engine) updateSegmentGauges(segs []storage.Segment) {
	if e.metrics == nil {
		return
	}
	e.metrics.Segments.Reset()
	for _, s := range segs {
		e.metrics.Segments.WithLabelValues(strconv.Itoa(s.Level)).Inc()
	}
}

func (e *Engine) refreshGauges(ctx context.Context) {
	tx, err := e.store.Begin(ctx, false)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if segs, err := tx.Segments(ctx); err == nil {
		e.updateSegmentGauges(segs)
	}
	e.metrics.PendingBytes.Set(float64(e.pending.Size()))
}
