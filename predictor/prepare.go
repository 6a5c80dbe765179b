package predictor

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

type scaler struct {
	FeatureMean []float64 `json:"feature_mean"`
	FeatureStd  []float64 `json:"feature_std"`
	SeqMean     float64   `json:"seq_mean"`
	SeqStd      float64   `json:"seq_std"`
}

// Prepare samples the frame, picks feature columns, splits rows 80/20
// stratified on the label and fits the scaler on the training rows.
func (m *CTRModel) Prepare(frame *dataset.Frame, sampleSize int) (*Split, *Split, []string, error) {
	if frame == nil {
		return nil, nil, nil, fmt.Errorf("no data: %w", errdefs.ErrValidation)
	}
	labelIdx, ok := frame.ColumnIndex(dataset.LabelColumn)
	if !ok {
		return nil, nil, nil, fmt.Errorf("missing label column %q: %w", dataset.LabelColumn, errdefs.ErrValidation)
	}
	seqIdx, ok := frame.ColumnIndex(dataset.SequenceColumn)
	if !ok {
		return nil, nil, nil, fmt.Errorf("missing sequence column %q: %w", dataset.SequenceColumn, errdefs.ErrValidation)
	}

	frame = frame.Sample(sampleSize, Seed)

	var features []string
	var featureIdx []int
	for i, col := range frame.Columns {
		if i == labelIdx || i == seqIdx {
			continue
		}
		features = append(features, col)
		featureIdx = append(featureIdx, i)
	}

	byClass := map[float64][]int{}
	for r, row := range frame.Rows {
		y := row[labelIdx]
		if math.IsNaN(y) {
			continue
		}
		if y != 0 && y != 1 {
			return nil, nil, nil, fmt.Errorf("label %q must be 0 or 1, got %v in row %d: %w", dataset.LabelColumn, y, r+1, errdefs.ErrValidation)
		}
		byClass[y] = append(byClass[y], r)
	}
	total := len(byClass[0]) + len(byClass[1])
	if total < 2 {
		return nil, nil, nil, fmt.Errorf("need at least 2 labelled rows, got %d: %w", total, errdefs.ErrValidation)
	}

	rng := rand.New(rand.NewSource(Seed))
	var trainRows, valRows []int
	for _, class := range []float64{0, 1} {
		rows := byClass[class]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nVal := int(math.Round(float64(len(rows)) * ValidationFraction))
		valRows = append(valRows, rows[:nVal]...)
		trainRows = append(trainRows, rows[nVal:]...)
	}
	if len(valRows) == 0 {
		valRows, trainRows = trainRows[:1], trainRows[1:]
	}
	sort.Ints(trainRows)
	sort.Ints(valRows)

	m.features = features
	m.scaler = fitScaler(frame, trainRows, featureIdx, seqIdx)
	m.net = nil

	train := m.scaler.apply(frame, trainRows, featureIdx, seqIdx, labelIdx)
	val := m.scaler.apply(frame, valRows, featureIdx, seqIdx, labelIdx)
	return train, val, append([]string(nil), features...), nil
}

func fitScaler(frame *dataset.Frame, rows, featureIdx []int, seqIdx int) scaler {
	s := scaler{
		FeatureMean: make([]float64, len(featureIdx)),
		FeatureStd:  make([]float64, len(featureIdx)),
	}
	for j, col := range featureIdx {
		s.FeatureMean[j], s.FeatureStd[j] = meanStd(frame, rows, col)
	}
	s.SeqMean, s.SeqStd = meanStd(frame, rows, seqIdx)
	return s
}

// meanStd ignores NaN cells. An all-missing column has mean 0, and a
// constant column has std 1.
func meanStd(frame *dataset.Frame, rows []int, col int) (float64, float64) {
	var sum, sq float64
	n := 0
	for _, r := range rows {
		v := frame.Rows[r][col]
		if math.IsNaN(v) {
			continue
		}
		sum += v
		sq += v * v
		n++
	}
	if n == 0 {
		return 0, 1
	}
	mean := sum / float64(n)
	variance := sq/float64(n) - mean*mean
	if variance <= 1e-12 {
		return mean, 1
	}
	return mean, math.Sqrt(variance)
}

func (s scaler) apply(frame *dataset.Frame, rows, featureIdx []int, seqIdx, labelIdx int) *Split {
	out := &Split{
		Features: make([][]float64, len(rows)),
		Seq:      make([]float64, len(rows)),
		Labels:   make([]float64, len(rows)),
	}
	for i, r := range rows {
		row := frame.Rows[r]
		x := make([]float64, len(featureIdx))
		for j, col := range featureIdx {
			x[j] = scale(row[col], s.FeatureMean[j], s.FeatureStd[j])
		}
		out.Features[i] = x
		out.Seq[i] = scale(row[seqIdx], s.SeqMean, s.SeqStd)
		if labelIdx >= 0 {
			out.Labels[i] = row[labelIdx]
		}
	}
	return out
}

func scale(v, mean, std float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return (v - mean) / std
}

// transform maps a frame onto the fitted feature layout. Rows without a
// label are dropped when requireLabel is set.
func (m *CTRModel) transform(frame *dataset.Frame, requireLabel bool) (*Split, error) {
	if m.net == nil {
		return nil, fmt.Errorf("model is not trained: %w", errdefs.ErrNotReady)
	}
	seqIdx, ok := frame.ColumnIndex(dataset.SequenceColumn)
	if !ok {
		return nil, fmt.Errorf("missing sequence column %q: %w", dataset.SequenceColumn, errdefs.ErrValidation)
	}
	featureIdx := make([]int, len(m.features))
	for j, name := range m.features {
		idx, ok := frame.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("missing feature column %q: %w", name, errdefs.ErrValidation)
		}
		featureIdx[j] = idx
	}

	labelIdx := -1
	rows := make([]int, 0, frame.Len())
	if requireLabel {
		idx, ok := frame.ColumnIndex(dataset.LabelColumn)
		if !ok {
			return nil, fmt.Errorf("missing label column %q: %w", dataset.LabelColumn, errdefs.ErrValidation)
		}
		labelIdx = idx
		for r, row := range frame.Rows {
			if !math.IsNaN(row[labelIdx]) {
				rows = append(rows, r)
			}
		}
	} else {
		for r := range frame.Rows {
			rows = append(rows, r)
		}
	}
	return m.scaler.apply(frame, rows, featureIdx, seqIdx, labelIdx), nil
}
