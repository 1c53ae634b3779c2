package storage

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/indexer/varint"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

// Totals counts the live rows and the tokens stored in each column. It is
// kept in the StatStore as varints: the row count, then one token count per
// column.
type Totals struct {
	Docs   int64
	Tokens []int64
}

// LoadTotals reads the Totals record. A store without one yields zero
// Totals.
func LoadTotals(ctx context.Context, s StatStore) (Totals, error) {
	data, err := s.Stat(ctx)
	if err != nil {
		return Totals{}, err
	}
	return DecodeTotals(data)
}

// DecodeTotals parses an encoded Totals record.
func DecodeTotals(data []byte) (Totals, error) {
	var t Totals
	if len(data) == 0 {
		return t, nil
	}
	docs, n, err := varint.Decode(data)
	if err != nil {
		return Totals{}, fmt.Errorf("decoding row total: %w", err)
	}
	t.Docs = int64(docs)
	for off := n; off < len(data); off += n {
		var v uint64
		if v, n, err = varint.Decode(data[off:]); err != nil {
			return Totals{}, fmt.Errorf("decoding column total %d: %w", len(t.Tokens), err)
		}
		t.Tokens = append(t.Tokens, int64(v))
	}
	if t.Docs < 0 {
		return Totals{}, apperrors.Corruptf("negative row total %d", t.Docs)
	}
	return t, nil
}

// Encode returns the stored form of t.
func (t Totals) Encode() []byte {
	buf := varint.Append(nil, uint64(max(t.Docs, 0)))
	for _, n := range t.Tokens {
		buf = varint.Append(buf, uint64(max(n, 0)))
	}
	return buf
}

// Add counts one row with the given column lengths, or removes it when sign
// is negative. Counts never drop below zero.
func (t *Totals) Add(lengths []int, sign int) {
	if sign < 0 {
		t.Docs = max(t.Docs-1, 0)
	} else {
		t.Docs++
	}
	for len(t.Tokens) < len(lengths) {
		t.Tokens = append(t.Tokens, 0)
	}
	for i, n := range lengths {
		if sign < 0 {
			t.Tokens[i] = max(t.Tokens[i]-int64(n), 0)
		} else {
			t.Tokens[i] += int64(n)
		}
	}
}

// Average returns the mean token count of column col, or zero for an empty
// index.
func (t Totals) Average(col int) float64 {
	if t.Docs == 0 || col < 0 || col >= len(t.Tokens) {
		return 0
	}
	return float64(t.Tokens[col]) / float64(t.Docs)
}
