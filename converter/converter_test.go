package converter

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/models"
)

func TestParseTrainingConfigDefaults(t *testing.T) {
	converter := NewConverter()

	cfg, err := converter.ParseTrainingConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultTrainingConfig() {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestParseTrainingConfigValues(t *testing.T) {
	converter := NewConverter()

	// JSON numbers decode as float64; the CLI may send strings
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(`{"epochs": 3, "batch_size": "64", "learning_rate": 0.01, "extra": true}`), &raw); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	cfg, err := converter.ParseTrainingConfig(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Epochs != 3 {
		t.Errorf("Expected epochs=3, got %d", cfg.Epochs)
	}
	if cfg.BatchSize != 64 {
		t.Errorf("Expected batch_size=64, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate != 0.01 {
		t.Errorf("Expected learning_rate=0.01, got %v", cfg.LearningRate)
	}
	if cfg.SampleSize != DefaultSampleSize {
		t.Errorf("Expected default sample_size, got %d", cfg.SampleSize)
	}
}

func TestParseTrainingConfigInvalid(t *testing.T) {
	converter := NewConverter()

	cases := map[string]map[string]interface{}{
		"zero epochs":       {"epochs": 0},
		"fractional epochs": {"epochs": 2.5},
		"too many epochs":   {"epochs": MaxEpochs + 1},
		"negative batch":    {"batch_size": -1},
		"bad string":        {"batch_size": "lots"},
		"bool":              {"learning_rate": true},
		"huge rate":         {"learning_rate": 3},
		"zero sample":       {"sample_size": 0},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := converter.ParseTrainingConfig(raw)
			if !errors.Is(err, errdefs.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func sampleJob() *models.TrainingJob {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	start := created.Add(time.Second)
	end := start.Add(time.Minute)
	return &models.TrainingJob{
		RunID:        "run-1",
		FileID:       "file-1",
		Status:       models.StatusCompleted,
		Config:       models.TrainingConfig{Epochs: 2, BatchSize: 64, LearningRate: 1e-3, SampleSize: 100},
		CurrentEpoch: 2,
		TotalEpochs:  2,
		Metrics: map[string]float64{
			models.MetricValAccuracy:      0.8,
			models.MetricFinalValAccuracy: 0.8,
		},
		History: models.History{
			TrainLoss: []float64{0.7, 0.6},
			ValLoss:   []float64{0.72, 0.65},
			TrainAcc:  []float64{0.6, 0.7},
			ValAcc:    []float64{0.75, 0.8},
		},
		FeatureCols:       []string{"f1", "f2"},
		FeatureImportance: []models.FeatureImportance{{Feature: "f2", Importance: 0.7}, {Feature: "f1", Importance: 0.3}},
		TrainSize:         80,
		ValSize:           20,
		Artifacts:         models.Artifacts{ModelKey: "models/model_run-1.json"},
		CreatedAt:         created,
		StartTime:         &start,
		EndTime:           &end,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	converter := NewConverter()
	job := sampleJob()

	rec, err := converter.ToRecord(job)
	if err != nil {
		t.Fatalf("ToRecord failed: %v", err)
	}
	if rec.Status != "completed" {
		t.Errorf("Expected status=completed, got %s", rec.Status)
	}

	back, err := converter.FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord failed: %v", err)
	}
	if !reflect.DeepEqual(job, back) {
		t.Errorf("Round trip mismatch:\n got  %+v\n want %+v", back, job)
	}
}

func TestFromRecordRejectsUnknownStatus(t *testing.T) {
	converter := NewConverter()
	rec, err := converter.ToRecord(sampleJob())
	if err != nil {
		t.Fatalf("ToRecord failed: %v", err)
	}
	rec.Status = "Succeeded"
	if _, err := converter.FromRecord(rec); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestViews(t *testing.T) {
	converter := NewConverter()
	job := sampleJob()

	status := converter.ToStatusResponse(job)
	if status.Error != nil {
		t.Errorf("Expected nil error, got %q", *status.Error)
	}
	status.Metrics["val_accuracy"] = 0
	if job.Metrics["val_accuracy"] != 0.8 {
		t.Error("Status view must not share the metrics map")
	}

	summary := converter.ToRunSummary(job)
	if summary.Accuracy != 0.8 {
		t.Errorf("Expected accuracy=0.8, got %v", summary.Accuracy)
	}

	job.Error = "boom"
	results := converter.ToResultsResponse(job)
	if results.Error == nil || *results.Error != "boom" {
		t.Errorf("Expected error=boom, got %v", results.Error)
	}
	if results.Artifacts == nil || results.Artifacts.ModelKey != "models/model_run-1.json" {
		t.Errorf("Expected artifacts in results, got %+v", results.Artifacts)
	}
}

func TestTopFeatures(t *testing.T) {
	rows := make([]models.FeatureImportance, 30)
	if got := TopFeatures(rows, TopFeatureCount); len(got) != TopFeatureCount {
		t.Errorf("Expected %d rows, got %d", TopFeatureCount, len(got))
	}
	if got := TopFeatures(rows[:3], TopFeatureCount); len(got) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(got))
	}
	if got := TopFeatures(nil, TopFeatureCount); got != nil {
		t.Errorf("Expected nil, got %v", got)
	}
}
