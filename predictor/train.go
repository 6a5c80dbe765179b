package predictor

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

// Validate checks optimizer settings.
func (c FitConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d: %w", c.Epochs, errdefs.ErrValidation)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d: %w", c.BatchSize, errdefs.ErrValidation)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v: %w", c.LearningRate, errdefs.ErrValidation)
	}
	return nil
}

// Fit trains a freshly initialized network with shuffled mini-batch Adam.
// It stops early when ctx is done or onEpoch returns an error, returning the
// history of the completed epochs.
func (m *CTRModel) Fit(ctx context.Context, train, val *Split, cfg FitConfig, onEpoch EpochFunc) (History, error) {
	var history History
	if err := cfg.Validate(); err != nil {
		return history, err
	}
	if train.Len() == 0 {
		return history, fmt.Errorf("no training rows: %w", errdefs.ErrValidation)
	}
	if len(train.Features[0]) != len(m.features) {
		return history, fmt.Errorf("split has %d features, model expects %d: %w", len(train.Features[0]), len(m.features), errdefs.ErrValidation)
	}

	rng := rand.New(rand.NewSource(Seed))
	net := newNetwork(len(m.features), m.opts, rng)
	opt := newAdam(net, cfg.LearningRate)
	t := net.newTrace()

	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return history, err
		}

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct := 0
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(order) {
				end = len(order)
			}
			net.zeroGrads()
			for _, r := range order[start:end] {
				y := train.Labels[r]
				p := net.forward(train.Features[r], train.Seq[r], t)
				lossSum += bce(p, y)
				if predictLabel(p) == y {
					correct++
				}
				net.backward(t, y)
			}
			opt.update(net, end-start)
		}

		result := EpochResult{
			Epoch:         epoch,
			TrainLoss:     lossSum / float64(len(order)),
			TrainAccuracy: float64(correct) / float64(len(order)),
		}
		result.ValLoss, result.ValAccuracy = evaluate(net, val)
		history.append(result)

		if onEpoch != nil {
			if err := onEpoch(result); err != nil {
				m.net = net
				return history, err
			}
		}
	}

	m.net = net
	return history, nil
}

func predictLabel(p float64) float64 {
	if p > 0.5 {
		return 1
	}
	return 0
}

// evaluate returns mean BCE loss and accuracy; an empty split scores zero.
func evaluate(net *network, s *Split) (float64, float64) {
	if s.Len() == 0 {
		return 0, 0
	}
	t := net.newTrace()
	var loss float64
	correct := 0
	for i := range s.Labels {
		p := net.forward(s.Features[i], s.Seq[i], t)
		loss += bce(p, s.Labels[i])
		if predictLabel(p) == s.Labels[i] {
			correct++
		}
	}
	n := float64(s.Len())
	return loss / n, float64(correct) / n
}

// Predict returns click probabilities for every row of frame.
func (m *CTRModel) Predict(frame *dataset.Frame) ([]float64, error) {
	s, err := m.transform(frame, false)
	if err != nil {
		return nil, err
	}
	t := m.net.newTrace()
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = m.net.forward(s.Features[i], s.Seq[i], t)
	}
	return out, nil
}

// FeatureImportance scores every feature by how much shuffling it raises the
// BCE loss on frame. Scores are clipped at zero, normalized to sum to one
// when any is positive, and sorted descending with ties ordered by name.
func (m *CTRModel) FeatureImportance(frame *dataset.Frame) ([]FeatureScore, error) {
	s, err := m.transform(frame, true)
	if err != nil {
		return nil, err
	}
	if s.Len() == 0 {
		return nil, fmt.Errorf("no labelled rows to score: %w", errdefs.ErrValidation)
	}

	base, _ := evaluate(m.net, s)
	rng := rand.New(rand.NewSource(Seed))
	perm := make([]int, s.Len())
	shuffled := &Split{Features: make([][]float64, s.Len()), Seq: s.Seq, Labels: s.Labels}

	scores := make([]FeatureScore, len(m.features))
	var total float64
	for j, name := range m.features {
		for i := range perm {
			perm[i] = i
		}
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })
		for i := range s.Features {
			row := append([]float64(nil), s.Features[i]...)
			row[j] = s.Features[perm[i]][j]
			shuffled.Features[i] = row
		}

		loss, _ := evaluate(m.net, shuffled)
		score := loss - base
		if score < 0 {
			score = 0
		}
		scores[j] = FeatureScore{Feature: name, Importance: score}
		total += score
	}

	if total > 0 {
		for i := range scores {
			scores[i].Importance /= total
		}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].Importance != scores[b].Importance {
			return scores[a].Importance > scores[b].Importance
		}
		return scores[a].Feature < scores[b].Feature
	})
	return scores, nil
}
