package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
)

func TestTotals(t *testing.T) {
	var tot Totals
	tot.Add([]int{3, 10}, 1)
	tot.Add([]int{1}, 1)
	assert.Equal(t, int64(2), tot.Docs)
	assert.Equal(t, []int64{4, 10}, tot.Tokens)
	assert.Equal(t, 2.0, tot.Average(0))
	assert.Equal(t, 5.0, tot.Average(1))
	assert.Zero(t, tot.Average(2))

	got, err := DecodeTotals(tot.Encode())
	require.NoError(t, err)
	assert.Equal(t, tot, got)

	tot.Add([]int{3, 10}, -1)
	tot.Add([]int{9}, -1)
	tot.Add(nil, -1)
	assert.Zero(t, tot.Docs)
	assert.Equal(t, []int64{0, 0}, tot.Tokens)

	empty, err := DecodeTotals(nil)
	require.NoError(t, err)
	assert.Zero(t, empty.Docs)
	assert.Zero(t, empty.Average(0))

	_, err = DecodeTotals([]byte{0x02, 0x80})
	assert.ErrorIs(t, err, apperrors.ErrCorrupt)
}
