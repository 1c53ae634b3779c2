package indexer

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Stats summarizes the index.
type Stats struct {
	Documents     uint64      `json:"documents"`
	Segments      int         `json:"segments"`
	SegmentLevels map[int]int `json:"segment_levels"`
	// ColumnTokens counts the tokens stored in each column.
	ColumnTokens []int64 `json:"column_tokens"`
	PendingTerms int     `json:"pending_terms"`
	PendingBytes int64   `json:"pending_bytes"`
	Flushes      int64   `json:"flushes"`
	Merges       int64   `json:"merges"`
	Generation   string  `json:"generation"`
}

// Stats reports document and segment counts. Flushes and Merges count
// events since Open.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, withPending, done, err := e.readTx(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer done()

	ids, err := tx.DocIDs(ctx)
	if err != nil {
		return Stats{}, apperrors.IO("listing rows", err)
	}
	segs, err := tx.Segments(ctx)
	if err != nil {
		return Stats{}, apperrors.IO("reading segment directory", err)
	}
	totals, err := txDocs{Tx: tx, e: e, withPending: withPending}.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	tokens := make([]int64, len(e.cfg.Columns))
	copy(tokens, totals.Tokens)
	st := Stats{
		Documents:     ids.GetCardinality(),
		ColumnTokens:  tokens,
		Segments:      len(segs),
		SegmentLevels: make(map[int]int),
		PendingTerms:  e.pending.Len(),
		PendingBytes:  e.pending.Size(),
		Flushes:       e.flushes,
		Merges:        e.merges,
		Generation:    fingerprint(segs),
	}
	for _, s := range segs {
		st.SegmentLevels[s.Level]++
	}
	return st, nil
}

// Generation identifies the committed state of the index. It changes with
// every commit that flushed or merged segments, so it can key caches shared
// between processes.
func (e *Engine) Generation(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", apperrors.ErrClosed
	}
	tx, err := e.store.Begin(ctx, false)
	if err != nil {
		return "", apperrors.IO("beginning read transaction", err)
	}
	defer tx.Rollback()
	segs, err := tx.Segments(ctx)
	if err != nil {
		return "", apperrors.IO("reading segment directory", err)
	}
	return fingerprint(segs), nil
}

func fingerprint(segs []storage.Segment) string {
	h := xxhash.New()
	var buf [8]byte
	put := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	for _, s := range segs {
		put(int64(s.Level))
		put(int64(s.Idx))
		put(int64(s.StartBlock))
		put(int64(s.EndBlock))
		put(int64(len(s.Root)))
		h.Write(s.Root)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
