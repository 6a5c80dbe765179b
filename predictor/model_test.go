package predictor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

// syntheticFrame builds rows where clicked depends only on "signal".
func syntheticFrame(rows, noise int) *dataset.Frame {
	rng := rand.New(rand.NewSource(7))
	cols := []string{"clicked", "seq", "signal"}
	for i := 0; i < noise; i++ {
		cols = append(cols, fmt.Sprintf("f%d", i+1))
	}
	data := make([][]float64, rows)
	for r := range data {
		signal := rng.NormFloat64()
		clicked := 0.0
		if signal > 0.3 {
			clicked = 1
		}
		row := []float64{clicked, float64(r % 10), signal}
		for i := 0; i < noise; i++ {
			row = append(row, rng.NormFloat64())
		}
		data[r] = row
	}
	return dataset.NewFrame(cols, data)
}

func TestPrepareStratifiedSplit(t *testing.T) {
	frame := syntheticFrame(100, 3)
	m := NewCTRModel(Options{})

	train, val, features, err := m.Prepare(frame, 10000)
	require.NoError(t, err)

	assert.Equal(t, []string{"signal", "f1", "f2", "f3"}, features)
	assert.Equal(t, 100, train.Len()+val.Len())
	assert.InDelta(t, 20, val.Len(), 1)

	positives := func(s *Split) int {
		n := 0
		for _, y := range s.Labels {
			if y == 1 {
				n++
			}
		}
		return n
	}
	total := positives(train) + positives(val)
	assert.InDelta(t, math.Round(float64(total)*0.2), positives(val), 0.5)
}

func TestPrepareSamples(t *testing.T) {
	m := NewCTRModel(Options{})
	train, val, _, err := m.Prepare(syntheticFrame(500, 1), 50)
	require.NoError(t, err)
	assert.Equal(t, 50, train.Len()+val.Len())
}

func TestPrepareImputesMissingValues(t *testing.T) {
	frame := dataset.NewFrame([]string{"clicked", "seq", "f1"}, [][]float64{
		{1, 1, 2}, {0, 2, math.NaN()}, {1, 3, 4}, {0, 4, 2}, {1, 5, 4},
		{0, 6, 2}, {1, 7, 4}, {0, 8, 2}, {1, 9, 4}, {0, 10, 2},
	})
	m := NewCTRModel(Options{})
	train, val, _, err := m.Prepare(frame, 0)
	require.NoError(t, err)
	for _, s := range []*Split{train, val} {
		for _, x := range s.Features {
			assert.False(t, math.IsNaN(x[0]))
		}
	}
}

func TestPrepareRejectsBadInput(t *testing.T) {
	m := NewCTRModel(Options{})

	_, _, _, err := m.Prepare(dataset.NewFrame([]string{"seq", "f1"}, [][]float64{{1, 2}}), 0)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, _, _, err = m.Prepare(dataset.NewFrame([]string{"clicked", "f1"}, [][]float64{{1, 2}}), 0)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, _, _, err = m.Prepare(dataset.NewFrame([]string{"clicked", "seq"}, [][]float64{{2, 1}, {0, 1}}), 0)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, _, _, err = m.Prepare(dataset.NewFrame([]string{"clicked", "seq"}, [][]float64{{1, 1}}), 0)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestFitLearnsSignal(t *testing.T) {
	m := NewCTRModel(Options{})
	frame := syntheticFrame(400, 3)
	train, val, _, err := m.Prepare(frame, 0)
	require.NoError(t, err)

	var epochs []int
	history, err := m.Fit(context.Background(), train, val, FitConfig{Epochs: 30, BatchSize: 16, LearningRate: 0.01}, func(r EpochResult) error {
		epochs = append(epochs, r.Epoch)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, 30, history.Len())
	assert.Equal(t, 1, epochs[0])
	assert.Equal(t, 30, epochs[len(epochs)-1])
	assert.Less(t, history.TrainLoss[29], history.TrainLoss[0])
	assert.Greater(t, history.ValAcc[29], 0.8)

	scores, err := m.FeatureImportance(frame)
	require.NoError(t, err)
	require.Len(t, scores, 4)
	assert.Equal(t, "signal", scores[0].Feature)

	var sum float64
	for i, s := range scores {
		assert.GreaterOrEqual(t, s.Importance, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, scores[i-1].Importance, s.Importance)
		}
		sum += s.Importance
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestFitIsDeterministic(t *testing.T) {
	run := func() History {
		m := NewCTRModel(Options{})
		train, val, _, err := m.Prepare(syntheticFrame(120, 2), 0)
		require.NoError(t, err)
		h, err := m.Fit(context.Background(), train, val, FitConfig{Epochs: 3, BatchSize: 32, LearningRate: 1e-3}, nil)
		require.NoError(t, err)
		return h
	}
	assert.Equal(t, run(), run())
}

func TestFitStopsOnCallbackError(t *testing.T) {
	m := NewCTRModel(Options{})
	train, val, _, err := m.Prepare(syntheticFrame(60, 1), 0)
	require.NoError(t, err)

	stop := errors.New("stop")
	history, err := m.Fit(context.Background(), train, val, FitConfig{Epochs: 5, BatchSize: 8, LearningRate: 1e-3}, func(r EpochResult) error {
		if r.Epoch == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, history.Len())
}

func TestFitHonoursContext(t *testing.T) {
	m := NewCTRModel(Options{})
	train, val, _, err := m.Prepare(syntheticFrame(60, 1), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	history, err := m.Fit(ctx, train, val, FitConfig{Epochs: 5, BatchSize: 8, LearningRate: 1e-3}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, history.Len())
}

func TestFitRejectsBadConfig(t *testing.T) {
	m := NewCTRModel(Options{})
	train, val, _, err := m.Prepare(syntheticFrame(60, 1), 0)
	require.NoError(t, err)

	for _, cfg := range []FitConfig{
		{Epochs: 0, BatchSize: 8, LearningRate: 1e-3},
		{Epochs: 1, BatchSize: 0, LearningRate: 1e-3},
		{Epochs: 1, BatchSize: 8, LearningRate: 0},
	} {
		_, err := m.Fit(context.Background(), train, val, cfg, nil)
		assert.ErrorIs(t, err, errdefs.ErrValidation)
	}
}

func TestUntrainedModel(t *testing.T) {
	m := NewCTRModel(Options{})
	_, err := m.Predict(syntheticFrame(10, 1))
	assert.ErrorIs(t, err, errdefs.ErrNotReady)
	assert.ErrorIs(t, m.Save(&bytes.Buffer{}), errdefs.ErrNotReady)
}

func TestCheckpointRoundTrip(t *testing.T) {
	m := NewCTRModel(Options{SeqHidden: 4, HiddenUnits: []int{8}, HeadUnits: 4})
	frame := syntheticFrame(80, 2)
	train, val, _, err := m.Prepare(frame, 0)
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), train, val, FitConfig{Epochs: 2, BatchSize: 16, LearningRate: 1e-2}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, m.Features(), loaded.Features())

	want, err := m.Predict(frame)
	require.NoError(t, err)
	got, err := loaded.Predict(frame)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-12)
		assert.True(t, got[i] > 0 && got[i] < 1)
	}
}

func TestLoadRejectsBrokenCheckpoint(t *testing.T) {
	_, err := Load(bytes.NewBufferString(`{"version":1,"feature_cols":["a"]}`))
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = Load(bytes.NewBufferString(`{"version":9}`))
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = Load(bytes.NewBufferString(`not json`))
	assert.Error(t, err)
}

func TestPredictRequiresFeatureColumns(t *testing.T) {
	m := NewCTRModel(Options{SeqHidden: 2, HiddenUnits: []int{4}, HeadUnits: 2})
	train, val, _, err := m.Prepare(syntheticFrame(40, 1), 0)
	require.NoError(t, err)
	_, err = m.Fit(context.Background(), train, val, FitConfig{Epochs: 1, BatchSize: 8, LearningRate: 1e-3}, nil)
	require.NoError(t, err)

	_, err = m.Predict(dataset.NewFrame([]string{"seq", "signal"}, [][]float64{{1, 0}}))
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}
