// Package predictor implements the trainable CTR model: a single-step LSTM
// encoder over the seq column joined with an MLP over the tabular features,
// followed by a sigmoid click-probability head.
package predictor

import (
	"context"
	"io"

	"github.com/loiht2/ctr-aiops/backend/dataset"
)

// Seed drives sampling, splitting, weight init and shuffling.
const Seed = 42

// ValidationFraction is the share of rows held out for validation.
const ValidationFraction = 0.2

// TrainableModel is what the training registry needs from a model.
type TrainableModel interface {
	Prepare(frame *dataset.Frame, sampleSize int) (train, val *Split, features []string, err error)
	Fit(ctx context.Context, train, val *Split, cfg FitConfig, onEpoch EpochFunc) (History, error)
	Predict(frame *dataset.Frame) ([]float64, error)
	FeatureImportance(frame *dataset.Frame) ([]FeatureScore, error)
	Save(w io.Writer) error
}

// Split is a scaled, imputed partition of a dataset.
type Split struct {
	Features [][]float64
	Seq      []float64
	Labels   []float64
}

// Len returns the number of rows in the split.
func (s *Split) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Labels)
}

// FitConfig holds optimizer settings.
type FitConfig struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
}

// EpochResult is reported after every epoch. Epoch is 1-based.
type EpochResult struct {
	Epoch         int
	TrainLoss     float64
	ValLoss       float64
	TrainAccuracy float64
	ValAccuracy   float64
}

// EpochFunc receives per-epoch progress. A non-nil error stops training.
type EpochFunc func(EpochResult) error

// History is the per-epoch learning curve.
type History struct {
	TrainLoss []float64 `json:"train_loss"`
	ValLoss   []float64 `json:"val_loss"`
	TrainAcc  []float64 `json:"train_acc"`
	ValAcc    []float64 `json:"val_acc"`
}

// Len returns the number of recorded epochs.
func (h History) Len() int {
	return len(h.TrainLoss)
}

func (h *History) append(r EpochResult) {
	h.TrainLoss = append(h.TrainLoss, r.TrainLoss)
	h.ValLoss = append(h.ValLoss, r.ValLoss)
	h.TrainAcc = append(h.TrainAcc, r.TrainAccuracy)
	h.ValAcc = append(h.ValAcc, r.ValAccuracy)
}

// FeatureScore is one row of the importance table.
type FeatureScore struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Options sizes the network.
type Options struct {
	SeqHidden   int   `json:"seq_hidden"`
	HiddenUnits []int `json:"hidden_units"`
	HeadUnits   int   `json:"head_units"`
}

// DefaultOptions returns the layer sizes used for training jobs.
func DefaultOptions() Options {
	return Options{SeqHidden: 16, HiddenUnits: []int{64, 32}, HeadUnits: 16}
}

// CTRModel is the default TrainableModel.
type CTRModel struct {
	opts     Options
	features []string
	scaler   scaler
	net      *network
}

var _ TrainableModel = (*CTRModel)(nil)

// NewCTRModel creates an untrained model.
func NewCTRModel(opts Options) *CTRModel {
	def := DefaultOptions()
	if opts.SeqHidden <= 0 {
		opts.SeqHidden = def.SeqHidden
	}
	if len(opts.HiddenUnits) == 0 {
		opts.HiddenUnits = def.HiddenUnits
	}
	if opts.HeadUnits <= 0 {
		opts.HeadUnits = def.HeadUnits
	}
	return &CTRModel{opts: opts}
}

// Features returns the feature columns chosen by Prepare.
func (m *CTRModel) Features() []string {
	return append([]string(nil), m.features...)
}
