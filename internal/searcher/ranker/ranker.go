// Package ranker orders matching rows by Okapi BM25 computed from their
// match info. Each phrase is scored per column as if it were a term.
package ranker

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/searcher/executor"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	DocID int64   `json:"doc_id"`
	Score float64 `json:"score"`
}

// MatchInfoSource returns the match info of one row.
type MatchInfoSource interface {
	MatchInfo(ctx context.Context, docid int64) (executor.MatchInfo, error)
}

// Score returns the BM25 score of one row. weights scales each column and
// may be shorter than the column count; missing weights are 1.
func Score(mi executor.MatchInfo, weights []float64) float64 {
	var score float64
	for _, cols := range mi.Hits {
		for col, h := range cols {
			if h.Row == 0 || col >= len(mi.Length) {
				continue
			}
			w := 1.0
			if col < len(weights) {
				w = weights[col]
			}
			idf := computeIDF(mi.Rows, h.Docs)
			tfNorm := computeTFNorm(float64(h.Row), float64(mi.Length[col]), mi.AvgLength[col])
			score += w * idf * tfNorm
		}
	}
	return math.Round(score*10000) / 10000
}

// Rank scores every docid and returns them best first, ties broken by
// ascending docid. A positive limit truncates the result.
func Rank(ctx context.Context, src MatchInfoSource, docids []int64, weights []float64, limit int) ([]ScoredDoc, error) {
	result := make([]ScoredDoc, 0, len(docids))
	for _, id := range docids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mi, err := src.MatchInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, ScoredDoc{DocID: id, Score: Score(mi, weights)})
	}
	slices.SortFunc(result, func(x, y ScoredDoc) int {
		return cmp.Or(cmp.Compare(y.Score, x.Score), cmp.Compare(x.DocID, y.DocID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
