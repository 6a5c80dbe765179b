package converter

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/loiht2/ctr-aiops/backend/config"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/models"
)

const (
	DefaultEpochs       = 10
	DefaultBatchSize    = 1024
	DefaultLearningRate = 1e-3
	DefaultSampleSize   = 10000
	MaxEpochs           = 1000
)

// TopFeatureCount is how many importance rows are kept on a run record
const TopFeatureCount = 20

// Converter maps request payloads, in-memory jobs, database rows and API views
type Converter struct{}

// NewConverter creates a new converter instance
func NewConverter() *Converter {
	return &Converter{}
}

// DefaultTrainingConfig returns the hyperparameters used when a request omits them
func DefaultTrainingConfig() models.TrainingConfig {
	return models.TrainingConfig{
		Epochs:       DefaultEpochs,
		BatchSize:    DefaultBatchSize,
		LearningRate: DefaultLearningRate,
		SampleSize:   DefaultSampleSize,
	}
}

// ParseTrainingConfig reads hyperparameters from a loosely typed request map.
// Missing keys take defaults; unknown keys are ignored.
func (c *Converter) ParseTrainingConfig(raw map[string]interface{}) (models.TrainingConfig, error) {
	cfg := DefaultTrainingConfig()

	var err error
	if v, ok := raw["epochs"]; ok {
		if cfg.Epochs, err = toInt("epochs", v); err != nil {
			return cfg, err
		}
	}
	if v, ok := raw["batch_size"]; ok {
		if cfg.BatchSize, err = toInt("batch_size", v); err != nil {
			return cfg, err
		}
	}
	if v, ok := raw["learning_rate"]; ok {
		if cfg.LearningRate, err = toFloat("learning_rate", v); err != nil {
			return cfg, err
		}
	}
	if v, ok := raw["sample_size"]; ok {
		if cfg.SampleSize, err = toInt("sample_size", v); err != nil {
			return cfg, err
		}
	}

	return cfg, ValidateTrainingConfig(cfg)
}

// ValidateTrainingConfig checks hyperparameter ranges
func ValidateTrainingConfig(cfg models.TrainingConfig) error {
	switch {
	case cfg.Epochs <= 0 || cfg.Epochs > MaxEpochs:
		return fmt.Errorf("epochs must be between 1 and %d, got %d: %w", MaxEpochs, cfg.Epochs, errdefs.ErrValidation)
	case cfg.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive, got %d: %w", cfg.BatchSize, errdefs.ErrValidation)
	case cfg.LearningRate <= 0 || cfg.LearningRate >= 1:
		return fmt.Errorf("learning_rate must be in (0, 1), got %v: %w", cfg.LearningRate, errdefs.ErrValidation)
	case cfg.SampleSize <= 0:
		return fmt.Errorf("sample_size must be positive, got %d: %w", cfg.SampleSize, errdefs.ErrValidation)
	}
	return nil
}

func toFloat(name string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s must be a number: %w", name, errdefs.ErrValidation)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number, got %q: %w", name, n, errdefs.ErrValidation)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%s must be a number, got %T: %w", name, v, errdefs.ErrValidation)
}

func toInt(name string, v interface{}) (int, error) {
	f, err := toFloat(name, v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be an integer, got %v: %w", name, f, errdefs.ErrValidation)
	}
	return int(f), nil
}

// ToRecord converts a job to its database row
func (c *Converter) ToRecord(job *models.TrainingJob) (*config.TrainingRun, error) {
	rec := &config.TrainingRun{
		RunID:        job.RunID,
		FileID:       job.FileID,
		Status:       string(job.Status),
		CurrentEpoch: job.CurrentEpoch,
		TotalEpochs:  job.TotalEpochs,
		TrainSize:    job.TrainSize,
		ValSize:      job.ValSize,
		Error:        job.Error,
		StartTime:    job.StartTime,
		EndTime:      job.EndTime,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    time.Now(),
	}

	fields := []struct {
		name string
		dst  *string
		v    interface{}
	}{
		{"config", &rec.Config, job.Config},
		{"metrics", &rec.Metrics, job.Metrics},
		{"history", &rec.History, job.History},
		{"feature columns", &rec.FeatureCols, job.FeatureCols},
		{"feature importance", &rec.FeatureImportance, job.FeatureImportance},
		{"artifacts", &rec.Artifacts, job.Artifacts},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}
	return rec, nil
}

// FromRecord converts a database row back to a job
func (c *Converter) FromRecord(rec *config.TrainingRun) (*models.TrainingJob, error) {
	status := models.JobStatus(rec.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("run %s has unknown status %q", rec.RunID, rec.Status)
	}

	job := &models.TrainingJob{
		RunID:        rec.RunID,
		FileID:       rec.FileID,
		Status:       status,
		CurrentEpoch: rec.CurrentEpoch,
		TotalEpochs:  rec.TotalEpochs,
		TrainSize:    rec.TrainSize,
		ValSize:      rec.ValSize,
		Error:        rec.Error,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		CreatedAt:    rec.CreatedAt,
	}

	fields := []struct {
		name string
		src  string
		dst  interface{}
	}{
		{"config", rec.Config, &job.Config},
		{"metrics", rec.Metrics, &job.Metrics},
		{"history", rec.History, &job.History},
		{"feature columns", rec.FeatureCols, &job.FeatureCols},
		{"feature importance", rec.FeatureImportance, &job.FeatureImportance},
		{"artifacts", rec.Artifacts, &job.Artifacts},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s of run %s: %w", f.name, rec.RunID, err)
		}
	}
	if job.Metrics == nil {
		job.Metrics = map[string]float64{}
	}
	return job, nil
}

// ToStatusResponse builds the progress snapshot of a job
func (c *Converter) ToStatusResponse(job *models.TrainingJob) models.StatusResponse {
	return models.StatusResponse{
		Status:       job.Status,
		CurrentEpoch: job.CurrentEpoch,
		TotalEpochs:  job.TotalEpochs,
		Metrics:      copyMetrics(job.Metrics),
		Error:        optional(job.Error),
	}
}

// ToRunSummary builds a run list entry
func (c *Converter) ToRunSummary(job *models.TrainingJob) models.RunSummary {
	return models.RunSummary{
		RunID:     job.RunID,
		CreatedAt: job.CreatedAt,
		Status:    job.Status,
		FileID:    job.FileID,
		Config:    job.Config,
		Accuracy:  job.Metrics[models.MetricFinalValAccuracy],
	}
}

// ToResultsResponse builds the full view of a job
func (c *Converter) ToResultsResponse(job *models.TrainingJob) models.ResultsResponse {
	clone := job.Clone()
	resp := models.ResultsResponse{
		RunID:             clone.RunID,
		Status:            clone.Status,
		FileID:            clone.FileID,
		Config:            clone.Config,
		CurrentEpoch:      clone.CurrentEpoch,
		TotalEpochs:       clone.TotalEpochs,
		Metrics:           copyMetrics(clone.Metrics),
		History:           clone.History,
		FeatureCols:       clone.FeatureCols,
		TrainSize:         clone.TrainSize,
		ValSize:           clone.ValSize,
		FeatureImportance: TopFeatures(clone.FeatureImportance, TopFeatureCount),
		CreatedAt:         clone.CreatedAt,
		StartTime:         clone.StartTime,
		EndTime:           clone.EndTime,
		Error:             optional(clone.Error),
	}
	if clone.Artifacts != (models.Artifacts{}) {
		resp.Artifacts = &clone.Artifacts
	}
	return resp
}

// ToResultsSnapshot builds the results document of a completed job
func (c *Converter) ToResultsSnapshot(job *models.TrainingJob, ts time.Time) models.ResultsSnapshot {
	clone := job.Clone()
	return models.ResultsSnapshot{
		RunID:             clone.RunID,
		Config:            clone.Config,
		History:           clone.History,
		Metrics:           copyMetrics(clone.Metrics),
		FeatureImportance: TopFeatures(clone.FeatureImportance, TopFeatureCount),
		Timestamp:         ts,
	}
}

// TopFeatures returns at most n leading rows
func TopFeatures(rows []models.FeatureImportance, n int) []models.FeatureImportance {
	if len(rows) > n {
		rows = rows[:n]
	}
	if rows == nil {
		return nil
	}
	return append([]models.FeatureImportance(nil), rows...)
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
