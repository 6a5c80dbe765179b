package predictor

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
)

const checkpointVersion = 1

type checkpoint struct {
	Version  int      `json:"version"`
	Features []string `json:"feature_cols"`
	Options  Options  `json:"options"`
	Scaler   scaler   `json:"scaler"`
	Network  *network `json:"network"`
}

// Save writes a JSON checkpoint of a trained model.
func (m *CTRModel) Save(w io.Writer) error {
	if m.net == nil {
		return fmt.Errorf("model is not trained: %w", errdefs.ErrNotReady)
	}
	enc := json.NewEncoder(w)
	return enc.Encode(checkpoint{
		Version:  checkpointVersion,
		Features: m.features,
		Options:  m.opts,
		Scaler:   m.scaler,
		Network:  m.net,
	})
}

// Load rebuilds a model from a checkpoint written by Save.
func Load(r io.Reader) (*CTRModel, error) {
	var cp checkpoint
	if err := json.NewDecoder(r).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d: %w", cp.Version, errdefs.ErrValidation)
	}
	if cp.Network == nil || cp.Network.Cell == nil || cp.Network.Head == nil || cp.Network.Out == nil {
		return nil, fmt.Errorf("checkpoint has no network: %w", errdefs.ErrValidation)
	}
	if len(cp.Scaler.FeatureMean) != len(cp.Features) || len(cp.Scaler.FeatureStd) != len(cp.Features) {
		return nil, fmt.Errorf("checkpoint scaler does not match %d features: %w", len(cp.Features), errdefs.ErrValidation)
	}

	for _, l := range cp.Network.layers() {
		if l == nil || len(l.W) != l.In*l.Out || len(l.B) != l.Out {
			return nil, fmt.Errorf("checkpoint layer has inconsistent shape: %w", errdefs.ErrValidation)
		}
		l.initGrads()
	}
	if err := cp.Network.checkShape(len(cp.Features)); err != nil {
		return nil, err
	}

	return &CTRModel{
		opts:     cp.Options,
		features: cp.Features,
		scaler:   cp.Scaler,
		net:      cp.Network,
	}, nil
}
