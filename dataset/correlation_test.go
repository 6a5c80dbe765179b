package dataset

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

func TestCorrelation(t *testing.T) {
	nan := math.NaN()
	frame := NewFrame([]string{"a", "b", "c", "d"}, [][]float64{
		{1, 2, 4, 7},
		{2, 4, 3, 7},
		{3, 6, 2, 7},
		{4, 8, 1, 7},
		{nan, 1, nan, 7},
	})

	m, err := frame.Correlation([]string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, m, 4)

	assert.InDelta(t, 1, m[0][0], 1e-12)
	assert.InDelta(t, 1, m[0][1], 1e-12, "rows missing a are skipped for the a/b pair")
	assert.InDelta(t, -1, m[0][2], 1e-12)
	assert.Equal(t, m[1][0], m[0][1])
	// a constant column has no variance
	assert.Equal(t, 0.0, m[0][3])
	assert.Equal(t, 0.0, m[3][3])
}

func TestCorrelationUnknownColumn(t *testing.T) {
	frame := NewFrame([]string{"a"}, [][]float64{{1}, {2}})
	_, err := frame.Correlation([]string{"a", "zzz"})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}
