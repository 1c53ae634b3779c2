package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage/memstore"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/metrics"
)

func testConfig() config.IndexerConfig {
	return config.IndexerConfig{
		Columns:        []string{"content"},
		NodeSize:       4000,
		PendingBudget:  1 << 20,
		MergeThreshold: 16,
	}
}

func openEngine(t *testing.T, cfg config.IndexerConfig, opts ...Option) (*Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	e, err := Open(context.Background(), store, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e, store
}

func search(t *testing.T, e *Engine, q string) []int64 {
	t.Helper()
	res, err := e.Search(context.Background(), q, SearchOptions{})
	require.NoError(t, err, q)
	return res.DocIDs()
}

func insertSample(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, 1, "the quick fox"))
	require.NoError(t, e.Insert(ctx, 2, "the quick dog"))
	require.NoError(t, e.Insert(ctx, 3, "a lazy fox"))
	require.NoError(t, e.Commit(ctx))
}

func TestEngineSampleQueries(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	insertSample(t, e)

	assert.Equal(t, []int64{1}, search(t, e, `"quick fox"`))
	assert.Equal(t, []int64{2}, search(t, e, `quick NEAR/2 dog`))
	assert.Equal(t, []int64{1, 2, 3}, search(t, e, `fox OR dog`))
	assert.Equal(t, []int64{1, 2}, search(t, e, `quick OR dog`))
	assert.Equal(t, []int64{1, 2}, search(t, e, `-lazy`))
	assert.Empty(t, search(t, e, `elephant`))

	_, err := e.Search(context.Background(), `"unterminated`, SearchOptions{})
	assert.ErrorIs(t, err, apperrors.ErrSyntax)
}

func TestEngineSearchOptions(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	insertSample(t, e)
	ctx := context.Background()

	res, err := e.Search(ctx, `fox OR dog`, SearchOptions{Order: executor.Descending, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []int64{3, 2}, res.DocIDs())

	res, err = e.Search(ctx, `fox OR dog`, SearchOptions{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, res.DocIDs())

	res, err = e.Search(ctx, `fox`, SearchOptions{MinDocID: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, res.DocIDs())

	res, err = e.Search(ctx, `"lazy fox"`, SearchOptions{Offsets: true})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.Len(t, res.Rows[0].Offsets, 2)
	assert.Equal(t, 2, res.Rows[0].Offsets[0].Start)
	assert.Equal(t, 10, res.Rows[0].Offsets[1].End)
}

func TestEngineSeesPendingTermsInsideTransaction(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, 1, "pending words"))

	assert.Equal(t, []int64{1}, search(t, e, "pending"))
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Segments)
	assert.Positive(t, st.PendingTerms)

	require.NoError(t, e.Rollback())
	assert.Empty(t, search(t, e, "pending"))
	st, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Documents)
}

// Sixteen single-document commits fill level 0 and cause exactly one merge;
// the seventeenth starts a new level-0 segment.
func TestEngineMergeCascade(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	e, _ := openEngine(t, testConfig(), WithMetrics(m))
	ctx := context.Background()

	for i := int64(1); i <= 16; i++ {
		require.NoError(t, e.Insert(ctx, i, fmt.Sprintf("doc number %d shared", i)))
		require.NoError(t, e.Commit(ctx))
	}
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(16), st.Flushes)
	assert.Equal(t, int64(1), st.Merges)
	assert.Equal(t, map[int]int{1: 1}, st.SegmentLevels)

	require.NoError(t, e.Insert(ctx, 17, "doc number 17 shared"))
	require.NoError(t, e.Commit(ctx))
	st, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Merges)
	assert.Equal(t, map[int]int{0: 1, 1: 1}, st.SegmentLevels)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesTotal.WithLabelValues("0")))
	assert.Equal(t, 17.0, testutil.ToFloat64(m.DocsIndexedTotal.WithLabelValues("insert")))
	assert.Len(t, search(t, e, "shared"), 17)
	require.NoError(t, e.IntegrityCheck(ctx))
}

func TestEngineUpdateAndDelete(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	ctx := context.Background()
	insertSample(t, e)

	require.NoError(t, e.Update(ctx, 1, "a slow turtle"))
	require.NoError(t, e.Commit(ctx))
	assert.Equal(t, []int64{3}, search(t, e, "fox"))
	assert.Equal(t, []int64{1}, search(t, e, "turtle"))
	assert.Equal(t, []int64{2}, search(t, e, "quick"))

	require.NoError(t, e.Delete(ctx, 2))
	require.NoError(t, e.Commit(ctx))
	assert.Empty(t, search(t, e, "quick"))
	assert.Equal(t, []int64{1, 3}, search(t, e, "-dog"))
	require.NoError(t, e.IntegrityCheck(ctx))

	assert.ErrorIs(t, e.Delete(ctx, 2), apperrors.ErrDocumentNotFound)
	assert.ErrorIs(t, e.Update(ctx, 99, "x"), apperrors.ErrDocumentNotFound)
	assert.ErrorIs(t, e.Insert(ctx, 1, "again"), apperrors.ErrDocumentExists)

	require.NoError(t, e.Upsert(ctx, 1, "quick again"))
	require.NoError(t, e.Upsert(ctx, 50, "quick new"))
	require.NoError(t, e.Commit(ctx))
	assert.Equal(t, []int64{1, 50}, search(t, e, "quick"))
}

func TestEngineUpdateInsideOneTransaction(t *testing.T) {
	e, _ := openEngine(t, testConfig())
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, 5, "first version"))
	require.NoError(t, e.Insert(ctx, 3, "lower docid"))
	require.NoError(t, e.Update(ctx, 5, "second version"))
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Flushes, "an out of order docid flushes the buffer first")

	require.NoError(t, e.Commit(ctx))
	assert.Empty(t, search(t, e, "first"))
	assert.Equal(t, []int64{5}, search(t, e, "second"))
	assert.Equal(t, []int64{3}, search(t, e, "lower"))
	require.NoError(t, e.IntegrityCheck(ctx))
}

func TestEngineOptimizeDropsTombstones(t *testing.T) {
	cfg := testConfig()
	cfg.MergeThreshold = 4
	e, store := openEngine(t, cfg)
	ctx := context.Background()

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, e.Insert(ctx, i, fmt.Sprintf("item %d colour red", i)))
		require.NoError(t, e.Commit(ctx))
	}
	for i := int64(2); i <= 10; i += 2 {
		require.NoError(t, e.Delete(ctx, i))
		require.NoError(t, e.Commit(ctx))
	}
	before := search(t, e, "red")
	assert.Equal(t, []int64{1, 3, 5, 7, 9}, before)

	require.NoError(t, e.Optimize(ctx))
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, before, search(t, e, "red"))
	require.NoError(t, e.IntegrityCheck(ctx))

	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()
	segs, err := tx.Segments(ctx)
	require.NoError(t, err)
	r := segment.NewReader(tx, segs[0])
	for r.Next(ctx) {
		entries, err := doclist.Decode(r.Doclist())
		require.NoError(t, err)
		for _, en := range entries {
			assert.False(t, en.IsTombstone(), "term %s doc %d", r.Term(), en.DocID)
		}
	}
	require.NoError(t, r.Err())

	require.NoError(t, e.Optimize(ctx), "optimizing a single segment is a no-op")
}

func TestEngineIntegrityCheckDetectsLostSegment(t *testing.T) {
	e, store := openEngine(t, testConfig())
	ctx := context.Background()
	insertSample(t, e)
	require.NoError(t, e.Insert(ctx, 4, "zebra crossing"))
	require.NoError(t, e.Commit(ctx))
	require.NoError(t, e.IntegrityCheck(ctx))

	tx, err := store.Begin(ctx, true)
	require.NoError(t, err)
	segs, err := tx.Segments(ctx)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.NoError(t, tx.DeleteSegment(ctx, segs[1].Level, segs[1].Idx))
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, e.IntegrityCheck(ctx), apperrors.ErrCorrupt)
}

func TestEngineSmallNodesAndBudget(t *testing.T) {
	cfg := testConfig()
	cfg.NodeSize = 64
	cfg.PendingBudget = 512
	e, _ := openEngine(t, cfg)
	ctx := context.Background()

	for i := int64(1); i <= 60; i++ {
		text := fmt.Sprintf("w%03d w%03d common", i, i+1000)
		require.NoError(t, e.Insert(ctx, i, text))
	}
	require.NoError(t, e.Commit(ctx))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, st.Flushes, int64(1))
	assert.Equal(t, []int64{42}, search(t, e, "w042"))
	assert.Equal(t, []int64{7}, search(t, e, `"w007 w1007"`))
	assert.Len(t, search(t, e, "common"), 60)
	assert.Len(t, search(t, e, "w0*"), 60)
	require.NoError(t, e.IntegrityCheck(ctx))
}

func TestEngineRejectsBadDocuments(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDocumentBytes = 16
	e, _ := openEngine(t, cfg)
	ctx := context.Background()

	assert.ErrorIs(t, e.Insert(ctx, 1), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, e.Insert(ctx, 1, "a", "b"), apperrors.ErrInvalidInput)
	assert.ErrorIs(t, e.Insert(ctx, 1, strings.Repeat("x", 17)), apperrors.ErrResourceExhausted)
}

func TestEngineGenerationAndClose(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	e, err := Open(ctx, store, testConfig())
	require.NoError(t, err)

	g0, err := e.Generation(ctx)
	require.NoError(t, err)
	require.NoError(t, e.Insert(ctx, 1, "hello world"))
	g1, err := e.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, g0, g1, "uncommitted writes do not change the generation")

	require.NoError(t, e.Close(ctx))
	assert.ErrorIs(t, e.Insert(ctx, 2, "late"), apperrors.ErrClosed)
	_, err = e.Search(ctx, "hello", SearchOptions{})
	assert.ErrorIs(t, err, apperrors.ErrClosed)
	assert.NoError(t, e.Close(ctx))
}

func TestEngineCloseCommits(t *testing.T) {
	store := &keepOpen{Store: memstore.New()}
	ctx := context.Background()
	e, err := Open(ctx, store, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Insert(ctx, 1, "durable text"))
	require.NoError(t, e.Close(ctx))

	e2, err := Open(ctx, store, testConfig())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, search(t, e2, "durable"))
}

// keepOpen lets a test reopen the same in-memory store.
type keepOpen struct{ *memstore.Store }

func (keepOpen) Close() error { return nil }

var _ storage.Store = keepOpen{}

func TestEngineMultipleColumns(t *testing.T) {
	cfg := testConfig()
	cfg.Columns = []string{"title", "body"}
	e, _ := openEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, 1, "Fox News", "the weather today"))
	require.NoError(t, e.Insert(ctx, 2, "Weather", "a fox in the garden"))
	require.NoError(t, e.Commit(ctx))

	assert.Equal(t, []int64{1}, search(t, e, "title:fox"))
	assert.Equal(t, []int64{2}, search(t, e, "body:fox"))
	assert.Equal(t, []int64{1, 2}, search(t, e, "fox weather"))
	require.NoError(t, e.IntegrityCheck(ctx))
}

func TestEngineColumnTotals(t *testing.T) {
	cfg := testConfig()
	cfg.Columns = []string{"title", "body"}
	e, store := openEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, 1, "Fox News", "the weather today"))
	require.NoError(t, e.Insert(ctx, 2, "Weather", "a fox in the garden"))
	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8}, st.ColumnTokens, "open transaction sees its own totals")
	require.NoError(t, e.Commit(ctx))

	require.NoError(t, e.Update(ctx, 1, "Fox", "sunny"))
	require.NoError(t, e.Delete(ctx, 2))
	require.NoError(t, e.Commit(ctx))
	st, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, st.ColumnTokens)

	require.NoError(t, e.Insert(ctx, 3, "Rolled back", "never stored"))
	require.NoError(t, e.Rollback())
	st, err = e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, st.ColumnTokens)

	tx, err := store.Begin(ctx, false)
	require.NoError(t, err)
	defer tx.Rollback()
	totals, err := storage.LoadTotals(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, storage.Totals{Docs: 1, Tokens: []int64{1, 1}}, totals)
}

func TestEngineRankedSearchWithSnippets(t *testing.T) {
	cfg := testConfig()
	cfg.Columns = []string{"title", "body"}
	e, _ := openEngine(t, cfg)
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, 1, "Notes", "a fox was seen near the river bank today"))
	require.NoError(t, e.Insert(ctx, 2, "Fox", "fox tracks and more fox tracks"))
	require.NoError(t, e.Insert(ctx, 3, "Weather", "rain"))
	require.NoError(t, e.Commit(ctx))

	snip := executor.DefaultSnippetOptions()
	snip.Column = 1
	res, err := e.Search(ctx, "fox", SearchOptions{Rank: true, MatchInfo: true, Snippet: &snip})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, res.DocIDs())
	require.NotNil(t, res.Rows[0].Score)
	assert.Greater(t, *res.Rows[0].Score, *res.Rows[1].Score)
	assert.Equal(t, "<b>fox</b> tracks and more <b>fox</b> tracks", res.Rows[0].Snippet)
	assert.Equal(t, "a <b>fox</b> was seen near the river bank today", res.Rows[1].Snippet)

	mi := res.Rows[1].MatchInfo
	require.NotNil(t, mi)
	assert.Equal(t, int64(3), mi.Rows)
	assert.Equal(t, []int{1, 9}, mi.Length)
	assert.Equal(t, executor.PhraseHits{Row: 1, Total: 3, Docs: 2}, mi.Hits[0][1])

	weighted, err := e.Search(ctx, "fox", SearchOptions{Rank: true, Weights: []float64{0, 1}})
	require.NoError(t, err)
	assert.Len(t, weighted.Rows, 2)
}

var errDiskFull = errors.New("disk full")

// flakyStore fails one directory write while armed.
type flakyStore struct {
	*memstore.Store
	failOn string
}

func (s *flakyStore) Begin(ctx context.Context, writable bool) (storage.Tx, error) {
	tx, err := s.Store.Begin(ctx, writable)
	if err != nil {
		return nil, err
	}
	return &flakyTx{Tx: tx, s: s}, nil
}

type flakyTx struct {
	storage.Tx
	s *flakyStore
}

func (t *flakyTx) PutSegment(ctx context.Context, seg storage.Segment) error {
	if t.s.failOn == "put" {
		return errDiskFull
	}
	return t.Tx.PutSegment(ctx, seg)
}

func (t *flakyTx) DeleteSegment(ctx context.Context, level, idx int) error {
	if t.s.failOn == "delete" {
		return errDiskFull
	}
	return t.Tx.DeleteSegment(ctx, level, idx)
}

func TestEngineWriteFailureKeepsCommittedSegments(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
	}{
		{"flush", "put"},
		{"merge", "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &flakyStore{Store: memstore.New()}
			cfg := testConfig()
			cfg.MergeThreshold = 2
			e, err := Open(ctx, store, cfg)
			require.NoError(t, err)
			t.Cleanup(func() { e.Close(ctx) })

			require.NoError(t, e.Insert(ctx, 1, "the quick fox"))
			require.NoError(t, e.Commit(ctx))

			store.failOn = tt.failOn
			require.NoError(t, e.Insert(ctx, 2, "a lazy fox"))
			err = e.Commit(ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, errDiskFull)
			assert.ErrorIs(t, err, apperrors.ErrIO)
			assert.ErrorIs(t, err, apperrors.ErrRolledBack)
			store.failOn = ""

			assert.Equal(t, []int64{1}, search(t, e, "fox"))
			assert.Empty(t, search(t, e, "lazy"))
			st, err := e.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Segments)
			require.NoError(t, e.IntegrityCheck(ctx))

			require.NoError(t, e.Insert(ctx, 2, "a lazy fox"))
			require.NoError(t, e.Commit(ctx))
			assert.Equal(t, []int64{1, 2}, search(t, e, "fox"))
			require.NoError(t, e.IntegrityCheck(ctx))
		})
	}
}

func TestEngineSearchFailsOnCorruptSegment(t *testing.T) {
	e, store := openEngine(t, testConfig())
	ctx := context.Background()
	insertSample(t, e)

	tx, err := store.Begin(ctx, true)
	require.NoError(t, err)
	segs, err := tx.Segments(ctx)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	seg := segs[0]
	require.True(t, seg.Inline())
	// "quick" is the last term; cutting the root truncates its doclist.
	seg.Root = seg.Root[:len(seg.Root)-2]
	require.NoError(t, tx.PutSegment(ctx, seg))
	require.NoError(t, tx.Commit())

	for _, q := range []string{"quick", "fox OR quick", `"the quick fox"`, "-quick"} {
		res, err := e.Search(ctx, q, SearchOptions{})
		assert.ErrorIs(t, err, apperrors.ErrCorrupt, q)
		assert.Nil(t, res, q)
	}
	assert.ErrorIs(t, e.IntegrityCheck(ctx), apperrors.ErrCorrupt)
}
