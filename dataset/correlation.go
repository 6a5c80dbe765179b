package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

// CorrelationSampleSize bounds the rows used for a correlation matrix.
const CorrelationSampleSize = 5000

// Correlation computes the Pearson correlation matrix of the named columns.
// Each pair uses the rows where both cells are present. Pairs without
// variance or without enough rows are reported as 0.
func (f *Frame) Correlation(columns []string) ([][]float64, error) {
	data := make([][]float64, len(columns))
	for i, name := range columns {
		col, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %q not in dataset: %w", name, errdefs.ErrValidation)
		}
		data[i] = col
	}

	matrix := make([][]float64, len(columns))
	for i := range matrix {
		matrix[i] = make([]float64, len(columns))
	}
	for i := range columns {
		for j := i; j < len(columns); j++ {
			r := pairCorrelation(data[i], data[j])
			matrix[i][j] = r
			matrix[j][i] = r
		}
	}
	return matrix, nil
}

func pairCorrelation(x, y []float64) float64 {
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for k := range x {
		if math.IsNaN(x[k]) || math.IsNaN(y[k]) {
			continue
		}
		xs = append(xs, x[k])
		ys = append(ys, y[k])
	}
	if len(xs) < 2 {
		return 0
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}
