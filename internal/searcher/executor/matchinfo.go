package executor

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/doclist"
	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/storage"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// PhraseHits counts the occurrences of one phrase in one column.
type PhraseHits struct {
	// Row counts occurrences in the row being described.
	Row int64 `json:"row"`
	// Total counts occurrences in every row of the index.
	Total int64 `json:"total"`
	// Docs counts rows with at least one occurrence.
	Docs int64 `json:"docs"`
}

// MatchInfo describes how a row matched, in the shape a ranking function
// needs. Hits is indexed by phrase, then by column.
type MatchInfo struct {
	Phrases   int            `json:"phrases"`
	Columns   int            `json:"columns"`
	Rows      int64          `json:"rows"`
	AvgLength []float64      `json:"avg_length"`
	Length    []int          `json:"length"`
	Hits      [][]PhraseHits `json:"hits"`
}

// MatchInfo returns the match counts of docid, which must be in the result.
// The whole-index counts are loaded once per Result and ignore the docid
// bounds of the request.
func (r *Result) MatchInfo(ctx context.Context, docid int64) (MatchInfo, error) {
	if !r.set.Contains(storage.EncodeDocID(docid)) {
		return MatchInfo{}, fmt.Errorf("row %d is not in the result: %w", docid, apperrors.ErrDocumentNotFound)
	}
	dm := r.ev.newDocMatch(docid)
	if err := dm.load(ctx); err != nil {
		return MatchInfo{}, err
	}
	if !dm.found {
		return MatchInfo{}, fmt.Errorf("row %d: %w", docid, apperrors.ErrDocumentNotFound)
	}
	totals, err := r.ev.loadTotals(ctx)
	if err != nil {
		return MatchInfo{}, err
	}

	ncol := max(r.ev.ex.opts.Columns, len(dm.columns))
	phrases := r.expr.Phrases()
	mi := MatchInfo{
		Phrases:   len(phrases),
		Columns:   ncol,
		Rows:      totals.Docs,
		AvgLength: make([]float64, ncol),
		Length:    make([]int, ncol),
		Hits:      make([][]PhraseHits, len(phrases)),
	}
	for col := range ncol {
		mi.AvgLength[col] = totals.Average(col)
	}
	for col, text := range dm.columns {
		for range r.ev.ex.tok.Tokens(text) {
			mi.Length[col]++
		}
	}

	for i, ph := range phrases {
		ps := r.ev.phrases[ph.ID]
		global, err := r.ev.globalHits(ctx, ps, ncol)
		if err != nil {
			return MatchInfo{}, err
		}
		spans, err := dm.phraseSpans(ctx, ps)
		if err != nil {
			return MatchInfo{}, err
		}
		hits := make([]PhraseHits, ncol)
		copy(hits, global)
		for _, s := range spans {
			if s.col < ncol {
				hits[s.col].Row++
			}
		}
		mi.Hits[i] = hits
	}
	return mi, nil
}

func (ev *evaluation) loadTotals(ctx context.Context) (storage.Totals, error) {
	if ev.totals == nil {
		t, err := ev.ex.docs.Totals(ctx)
		if err != nil {
			return storage.Totals{}, fmt.Errorf("reading column totals: %w", err)
		}
		ev.totals = &t
	}
	return *ev.totals, nil
}

// globalHits counts the occurrences of ps across the whole index by
// loading every token's doclist without docid bounds.
func (ev *evaluation) globalHits(ctx context.Context, ps *phraseState, ncol int) ([]PhraseHits, error) {
	if hits, ok := ev.global[ps.phrase.ID]; ok {
		return hits, nil
	}
	hits := make([]PhraseHits, ncol)

	lists := make([]posList, len(ps.tokens))
	driver := 0
	for i, t := range ps.tokens {
		f := ev.tokenFilter(t.token, ps.phrase.Column)
		f.MinDocID, f.MaxDocID = 0, 0
		raw, err := ev.loadRaw(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", t.token.Term, err)
		}
		if len(raw) == 0 {
			ev.global[ps.phrase.ID] = hits
			return hits, nil
		}
		if lists[i], err = decodeList(raw); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", t.token.Term, err)
		}
		if len(lists[i].docs) < len(lists[driver].docs) {
			driver = i
		}
	}

	seen := make([]bool, ncol)
	for _, docid := range lists[driver].docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clear(seen)
		for _, s := range matchPhrase(ps, func(i int) ([]doclist.Posting, bool) {
			return lists[i].find(docid), true
		}) {
			if s.col >= ncol {
				continue
			}
			hits[s.col].Total++
			if !seen[s.col] {
				seen[s.col] = true
				hits[s.col].Docs++
			}
		}
	}
	ev.global[ps.phrase.ID] = hits
	return hits, nil
}
