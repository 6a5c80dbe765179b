// Package training owns the lifecycle of training runs: it schedules one
// background task per run, applies progress under a lock, persists every
// change and streams progress events to subscribers.
package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loiht2/ctr-aiops/backend/converter"
	"github.com/loiht2/ctr-aiops/backend/dataset"
	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
	"github.com/loiht2/ctr-aiops/backend/predictor"
	"github.com/loiht2/ctr-aiops/backend/repository"
	"github.com/loiht2/ctr-aiops/backend/storage"
)

// Failure messages recorded on runs that did not finish on their own.
const (
	CancelledMessage   = "training cancelled"
	InterruptedMessage = "interrupted by restart"
)

const persistTimeout = 10 * time.Second

// DatasetLoader loads an uploaded dataset by id.
type DatasetLoader interface {
	Load(ctx context.Context, fileID string, sampleSize int) (*dataset.Frame, error)
}

// ModelFactory creates a fresh model for each run.
type ModelFactory func() predictor.TrainableModel

// Options configures a Registry.
type Options struct {
	ModelDir   string
	ResultsDir string
	// EpochDelay is slept between epochs; cancellation interrupts it.
	EpochDelay time.Duration
	NewModel   ModelFactory
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks every training run of the process.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*models.TrainingJob
	tasks map[string]*task

	datasets  DatasetLoader
	objects   storage.ObjectStore
	store     repository.JobStore
	converter *converter.Converter
	events    *broker
	opts      Options
	now       func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
	closed    bool
}

// NewRegistry creates a registry. A nil store keeps runs in memory only.
func NewRegistry(datasets DatasetLoader, objects storage.ObjectStore, store repository.JobStore, opts Options) *Registry {
	if store == nil {
		store = repository.NewMemoryStore()
	}
	if opts.NewModel == nil {
		opts.NewModel = func() predictor.TrainableModel {
			return predictor.NewCTRModel(predictor.DefaultOptions())
		}
	}
	if opts.ModelDir == "" {
		opts.ModelDir = "models"
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = "training_results"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:      make(map[string]*models.TrainingJob),
		tasks:     make(map[string]*task),
		datasets:  datasets,
		objects:   objects,
		store:     store,
		converter: converter.NewConverter(),
		events:    newBroker(),
		opts:      opts,
		now:       time.Now,
		baseCtx:   ctx,
		cancelAll: cancel,
	}
}

// Start records a new run and schedules its training. It returns as soon as
// the run is in the training state.
func (r *Registry) Start(ctx context.Context, fileID string, cfg models.TrainingConfig) (string, error) {
	if err := converter.ValidateTrainingConfig(cfg); err != nil {
		return "", err
	}

	now := r.now()
	job := &models.TrainingJob{
		RunID:       uuid.New().String(),
		FileID:      fileID,
		Status:      models.StatusPending,
		Config:      cfg,
		TotalEpochs: cfg.Epochs,
		Metrics:     map[string]float64{},
		CreatedAt:   now,
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", fmt.Errorf("registry is shut down: %w", errdefs.ErrNotReady)
	}
	if err := r.store.Save(ctx, job); err != nil {
		return "", fmt.Errorf("failed to persist new run: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", fmt.Errorf("registry is shut down: %w", errdefs.ErrNotReady)
	}
	job.Status = models.StatusTraining
	job.StartTime = &now
	r.jobs[job.RunID] = job
	runCtx, cancel := context.WithCancel(r.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[job.RunID] = t
	r.wg.Add(1)
	snapshot := job.Clone()
	r.mu.Unlock()

	r.persist(snapshot)

	logger.WithFields(map[string]interface{}{
		"run_id":  job.RunID,
		"file_id": fileID,
		"epochs":  cfg.Epochs,
	}).Info("Training started")

	go r.execute(runCtx, t, job.RunID, fileID, cfg)
	return job.RunID, nil
}

// Status returns the progress snapshot of a run.
func (r *Registry) Status(runID string) (models.StatusResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[runID]
	if !ok {
		return models.StatusResponse{}, notFound(runID)
	}
	return r.converter.ToStatusResponse(job), nil
}

// Results returns the full record of a run, partial while it trains.
func (r *Registry) Results(runID string) (models.ResultsResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[runID]
	if !ok {
		return models.ResultsResponse{}, notFound(runID)
	}
	return r.converter.ToResultsResponse(job), nil
}

// Job returns a copy of a run record.
func (r *Registry) Job(runID string) (*models.TrainingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[runID]
	if !ok {
		return nil, notFound(runID)
	}
	return job.Clone(), nil
}

// List returns run summaries, newest first.
func (r *Registry) List() []models.RunSummary {
	jobs := r.snapshot()
	out := make([]models.RunSummary, len(jobs))
	for i, job := range jobs {
		out[i] = r.converter.ToRunSummary(job)
	}
	return out
}

// Latest returns the most recently created run.
func (r *Registry) Latest() (*models.TrainingJob, bool) {
	jobs := r.snapshot()
	if len(jobs) == 0 {
		return nil, false
	}
	return jobs[0], true
}

// Counts returns the number of runs per status.
func (r *Registry) Counts() map[models.JobStatus]int {
	counts := map[models.JobStatus]int{
		models.StatusPending:   0,
		models.StatusTraining:  0,
		models.StatusCompleted: 0,
		models.StatusFailed:    0,
	}
	r.mu.RLock()
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	r.mu.RUnlock()
	return counts
}

func (r *Registry) snapshot() []*models.TrainingJob {
	r.mu.RLock()
	jobs := make([]*models.TrainingJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job.Clone())
	}
	r.mu.RUnlock()
	repository.SortNewestFirst(jobs)
	return jobs
}

// Cancel asks a running job to stop. The job records the cancellation when
// its task next checks for it.
func (r *Registry) Cancel(runID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[runID]
	if !ok {
		return notFound(runID)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("run %s is already %s: %w", runID, job.Status, errdefs.ErrConflict)
	}
	if t, ok := r.tasks[runID]; ok {
		t.cancel()
	}
	logger.Infof("Cancellation requested for run %s", runID)
	return nil
}

// Subscribe streams progress events of a run. The channel closes after the
// terminal event, or immediately after replaying it when the run already
// ended. Call the returned function to stop early.
func (r *Registry) Subscribe(runID string) (<-chan Event, func(), error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[runID]
	if !ok {
		return nil, nil, notFound(runID)
	}
	if ev, done := terminalEvent(job); done {
		ch := make(chan Event, 1)
		ch <- ev
		close(ch)
		return ch, func() {}, nil
	}
	ch, unsubscribe := r.events.subscribe(runID)
	return ch, unsubscribe, nil
}

// Wait blocks until the task of a run has exited.
func (r *Registry) Wait(ctx context.Context, runID string) error {
	r.mu.RLock()
	_, known := r.jobs[runID]
	t, running := r.tasks[runID]
	r.mu.RUnlock()
	if !known {
		return notFound(runID)
	}
	if !running {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running job and waits for their tasks.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancelAll()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.events.closeAll()
		logger.Info("Training registry stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for training tasks: %w", ctx.Err())
	}
}

// Restore loads persisted runs. Runs that were still pending or training
// when the previous process stopped are marked failed.
func (r *Registry) Restore(ctx context.Context) error {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active runs: %w", err)
	}
	for _, job := range active {
		end := r.now()
		job.Status = models.StatusFailed
		job.Error = InterruptedMessage
		job.EndTime = &end
		if err := r.store.Save(ctx, job); err != nil {
			return fmt.Errorf("failed to mark run %s interrupted: %w", job.RunID, err)
		}
	}

	jobs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore runs: %w", err)
	}
	for _, job := range jobs {
		if job.Metrics == nil {
			job.Metrics = map[string]float64{}
		}

		r.mu.Lock()
		if _, exists := r.jobs[job.RunID]; !exists {
			r.jobs[job.RunID] = job
		}
		r.mu.Unlock()
	}

	logger.Infof("Restored %d training runs (%d interrupted)", len(jobs), len(active))
	return nil
}

// update applies fn to a run under the lock, publishes the event fn returns
// and persists the result. Terminal runs are left untouched.
func (r *Registry) update(runID string, fn func(job *models.TrainingJob) *Event) {
	r.mu.Lock()
	job, ok := r.jobs[runID]
	if !ok || job.Status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	ev := fn(job)
	snapshot := job.Clone()
	if ev != nil {
		r.events.publish(*ev)
	}
	r.mu.Unlock()

	r.persist(snapshot)
}

func (r *Registry) persist(job *models.TrainingJob) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.Save(ctx, job); err != nil {
		logger.Errorf("Failed to persist run %s: %v", job.RunID, err)
	}
}

func notFound(runID string) error {
	return fmt.Errorf("training run %s: %w", runID, errdefs.ErrNotFound)
}

func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
