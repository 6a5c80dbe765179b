package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/loiht2/ctr-aiops/backend/config"
	"github.com/loiht2/ctr-aiops/backend/converter"
	"github.com/loiht2/ctr-aiops/backend/models"
)

// JobStore persists training runs
type JobStore interface {
	// Save inserts or replaces the record of a run
	Save(ctx context.Context, job *models.TrainingJob) error
	// List returns every run, newest first
	List(ctx context.Context) ([]*models.TrainingJob, error)
	// ListActive returns runs that are not in a terminal state
	ListActive(ctx context.Context) ([]*models.TrainingJob, error)
}

// Repository handles database operations
type Repository struct {
	db        *gorm.DB
	converter *converter.Converter
}

var _ JobStore = (*Repository)(nil)

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, converter: converter.NewConverter()}
}

// Save upserts a training run keyed by run_id
func (r *Repository) Save(ctx context.Context, job *models.TrainingJob) error {
	rec, err := r.converter.ToRecord(job)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save training run %s: %w", job.RunID, err)
	}
	return nil
}

// List lists all training runs
func (r *Repository) List(ctx context.Context) ([]*models.TrainingJob, error) {
	var recs []config.TrainingRun
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("run_id DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list training runs: %w", err)
	}
	return r.fromRecords(recs)
}

// ListActive lists all runs that are not in terminal state (completed or failed)
func (r *Repository) ListActive(ctx context.Context) ([]*models.TrainingJob, error) {
	var recs []config.TrainingRun
	err := r.db.WithContext(ctx).
		Where("status NOT IN (?)", []string{string(models.StatusCompleted), string(models.StatusFailed)}).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active training runs: %w", err)
	}
	return r.fromRecords(recs)
}

func (r *Repository) fromRecords(recs []config.TrainingRun) ([]*models.TrainingJob, error) {
	jobs := make([]*models.TrainingJob, 0, len(recs))
	for i := range recs {
		job, err := r.converter.FromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
