package training

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/loiht2/ctr-aiops/backend/converter"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/predictor"
	"github.com/loiht2/ctr-aiops/backend/storage"
)

// Artifact object keys of a run.
func ModelKey(dir, runID string) string      { return storage.Key(dir, "model_"+runID+".json") }
func ImportanceKey(dir, runID string) string { return storage.Key(dir, "importance_"+runID+".csv") }
func ResultsKey(dir, runID string) string    { return storage.Key(dir, "results_"+runID+".json") }

func (r *Registry) execute(ctx context.Context, t *task, runID, fileID string, cfg models.TrainingConfig) {
	defer r.wg.Done()
	defer close(t.done)
	defer t.cancel()
	defer func() {
		if p := recover(); p != nil {
			r.fail(runID, fmt.Errorf("%w: panic: %v", errdefs.ErrTrainingFailure, p))
		}
	}()

	if err := r.train(ctx, runID, fileID, cfg); err != nil {
		if isCancellation(ctx, err) {
			err = errors.New(CancelledMessage)
		}
		r.fail(runID, err)
	}
}

func (r *Registry) train(ctx context.Context, runID, fileID string, cfg models.TrainingConfig) error {
	log := logger.WithFields(map[string]interface{}{"run_id": runID})

	frame, err := r.datasets.Load(ctx, fileID, cfg.SampleSize)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}

	model := r.opts.NewModel()
	train, val, features, err := model.Prepare(frame, cfg.SampleSize)
	if err != nil {
		return fmt.Errorf("failed to prepare dataset: %w", err)
	}
	r.update(runID, func(job *models.TrainingJob) *Event {
		job.FeatureCols = append([]string(nil), features...)
		job.TrainSize = train.Len()
		job.ValSize = val.Len()
		return nil
	})
	log.Infof("Prepared %d training and %d validation rows with %d features", train.Len(), val.Len(), len(features))

	fitCfg := predictor.FitConfig{Epochs: cfg.Epochs, BatchSize: cfg.BatchSize, LearningRate: cfg.LearningRate}
	history, err := model.Fit(ctx, train, val, fitCfg, func(res predictor.EpochResult) error {
		r.recordEpoch(runID, res)
		log.Infof("Epoch %d/%d: train_acc=%.4f val_acc=%.4f", res.Epoch, cfg.Epochs, res.TrainAccuracy, res.ValAccuracy)
		if res.Epoch < cfg.Epochs {
			return r.pause(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if history.Len() != cfg.Epochs {
		return fmt.Errorf("%w: model ran %d of %d epochs", errdefs.ErrTrainingFailure, history.Len(), cfg.Epochs)
	}
	// a cancel accepted during the last epoch still wins
	if err := ctx.Err(); err != nil {
		return err
	}

	importance, err := model.FeatureImportance(frame)
	if err != nil {
		return fmt.Errorf("failed to compute feature importance: %w", err)
	}
	rows := make([]models.FeatureImportance, len(importance))
	for i, s := range importance {
		rows[i] = models.FeatureImportance{Feature: s.Feature, Importance: s.Importance}
	}

	final := SummaryMetrics(history)

	job, err := r.Job(runID)
	if err != nil {
		return err
	}
	for k, v := range final {
		job.Metrics[k] = v
	}
	job.FeatureImportance = rows

	artifacts, err := r.writeArtifacts(ctx, model, job)
	if err != nil {
		return err
	}

	completed := false
	r.update(runID, func(job *models.TrainingJob) *Event {
		// Cancel reads the status under the same lock
		if ctx.Err() != nil {
			return nil
		}
		for k, v := range final {
			job.Metrics[k] = v
		}
		job.FeatureImportance = converter.TopFeatures(rows, converter.TopFeatureCount)
		job.Artifacts = artifacts
		r.transition(job, models.StatusCompleted)
		end := r.now()
		job.EndTime = &end
		completed = true
		ev := newEvent(EventCompleted, job)
		return &ev
	})
	if !completed {
		return ctx.Err()
	}
	log.Info("Training completed")
	return nil
}

func (r *Registry) recordEpoch(runID string, res predictor.EpochResult) {
	r.update(runID, func(job *models.TrainingJob) *Event {
		if res.Epoch > job.CurrentEpoch && res.Epoch <= job.TotalEpochs {
			job.CurrentEpoch = res.Epoch
		}
		job.Metrics = map[string]float64{
			models.MetricTrainLoss:     res.TrainLoss,
			models.MetricValLoss:       res.ValLoss,
			models.MetricTrainAccuracy: res.TrainAccuracy,
			models.MetricValAccuracy:   res.ValAccuracy,
		}
		job.History.TrainLoss = append(job.History.TrainLoss, res.TrainLoss)
		job.History.ValLoss = append(job.History.ValLoss, res.ValLoss)
		job.History.TrainAcc = append(job.History.TrainAcc, res.TrainAccuracy)
		job.History.ValAcc = append(job.History.ValAcc, res.ValAccuracy)
		ev := newEvent(EventEpoch, job)
		return &ev
	})
}

func (r *Registry) pause(ctx context.Context) error {
	if r.opts.EpochDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.opts.EpochDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Registry) fail(runID string, err error) {
	r.update(runID, func(job *models.TrainingJob) *Event {
		r.transition(job, models.StatusFailed)
		job.Error = err.Error()
		if job.Error == "" {
			job.Error = errdefs.ErrTrainingFailure.Error()
		}
		end := r.now()
		job.EndTime = &end
		ev := newEvent(EventFailed, job)
		return &ev
	})
	logger.WithFields(map[string]interface{}{"run_id": runID}).Errorf("Training failed: %v", err)
}

func (r *Registry) transition(job *models.TrainingJob, next models.JobStatus) {
	if !job.Status.CanTransition(next) {
		logger.Warnf("Ignoring transition of run %s from %s to %s", job.RunID, job.Status, next)
		return
	}
	job.Status = next
}

func (r *Registry) writeArtifacts(ctx context.Context, model predictor.TrainableModel, job *models.TrainingJob) (models.Artifacts, error) {
	artifacts := models.Artifacts{
		ModelKey:      ModelKey(r.opts.ModelDir, job.RunID),
		ImportanceKey: ImportanceKey(r.opts.ResultsDir, job.RunID),
		ResultsKey:    ResultsKey(r.opts.ResultsDir, job.RunID),
	}

	var checkpoint bytes.Buffer
	if err := model.Save(&checkpoint); err != nil {
		return artifacts, fmt.Errorf("failed to save model checkpoint: %w", err)
	}
	if err := storage.PutBytes(ctx, r.objects, artifacts.ModelKey, checkpoint.Bytes(), "application/json"); err != nil {
		return artifacts, fmt.Errorf("failed to store model checkpoint: %w", err)
	}

	table, err := ImportanceCSV(job.FeatureImportance)
	if err != nil {
		return artifacts, err
	}
	if err := storage.PutBytes(ctx, r.objects, artifacts.ImportanceKey, table, "text/csv"); err != nil {
		return artifacts, fmt.Errorf("failed to store importance table: %w", err)
	}

	snapshot, err := json.MarshalIndent(r.converter.ToResultsSnapshot(job, r.now()), "", "  ")
	if err != nil {
		return artifacts, fmt.Errorf("failed to encode results: %w", err)
	}
	if err := storage.PutBytes(ctx, r.objects, artifacts.ResultsKey, snapshot, "application/json"); err != nil {
		return artifacts, fmt.Errorf("failed to store results: %w", err)
	}
	return artifacts, nil
}

// ImportanceCSV renders the importance table with a feature,importance header.
func ImportanceCSV(rows []models.FeatureImportance) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"feature", "importance"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Feature, strconv.FormatFloat(row.Importance, 'g', -1, 64)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write importance table: %w", err)
	}
	return buf.Bytes(), nil
}

// SummaryMetrics computes the final and best metrics of a finished history.
func SummaryMetrics(h predictor.History) map[string]float64 {
	out := map[string]float64{}
	n := h.Len()
	if n == 0 {
		return out
	}
	out[models.MetricFinalTrainAccuracy] = h.TrainAcc[n-1]
	out[models.MetricFinalValAccuracy] = h.ValAcc[n-1]
	out[models.MetricFinalTrainLoss] = h.TrainLoss[n-1]
	out[models.MetricFinalValLoss] = h.ValLoss[n-1]

	bestAcc, bestLoss := h.ValAcc[0], h.ValLoss[0]
	for i := 1; i < n; i++ {
		if h.ValAcc[i] > bestAcc {
			bestAcc = h.ValAcc[i]
		}
		if h.ValLoss[i] < bestLoss {
			bestLoss = h.ValLoss[i]
		}
	}
	out[models.MetricBestValAccuracy] = bestAcc
	out[models.MetricBestValLoss] = bestLoss
	return out
}
