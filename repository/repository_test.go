package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loiht2/ctr-aiops/backend/config"
	"github.com/loiht2/ctr-aiops/backend/models"
)

// JobStoreTestSuite runs the same checks against every JobStore
type JobStoreTestSuite struct {
	suite.Suite
	ctx      context.Context
	newStore func() JobStore
	store    JobStore
	cleanup  func()
}

func (s *JobStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore()
}

func (s *JobStoreTestSuite) TearDownTest() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

func testJob(id string, created time.Time, status models.JobStatus) *models.TrainingJob {
	return &models.TrainingJob{
		RunID:       id,
		FileID:      "file-" + id,
		Status:      status,
		Config:      models.TrainingConfig{Epochs: 3, BatchSize: 64, LearningRate: 1e-3, SampleSize: 100},
		TotalEpochs: 3,
		Metrics:     map[string]float64{},
		CreatedAt:   created,
	}
}

func (s *JobStoreTestSuite) find(runID string) *models.TrainingJob {
	jobs, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	for _, job := range jobs {
		if job.RunID == runID {
			return job
		}
	}
	s.Require().FailNow("run not stored", runID)
	return nil
}

func (s *JobStoreTestSuite) TestSaveReplaces() {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := testJob("a", created, models.StatusTraining)
	s.Require().NoError(s.store.Save(s.ctx, job))

	job.CurrentEpoch = 2
	job.Metrics[models.MetricValAccuracy] = 0.75
	s.Require().NoError(s.store.Save(s.ctx, job))

	jobs, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	got := jobs[0]
	s.Equal(2, got.CurrentEpoch)
	s.Equal(0.75, got.Metrics[models.MetricValAccuracy])
	s.Equal(models.StatusTraining, got.Status)
	s.True(created.Equal(got.CreatedAt))

	// stored copies are independent of the caller's record
	job.CurrentEpoch = 3
	s.Equal(2, s.find("a").CurrentEpoch)
}

func (s *JobStoreTestSuite) TestListEmpty() {
	jobs, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(jobs)
	active, err := s.store.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *JobStoreTestSuite) TestListNewestFirst() {
	base := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.Save(s.ctx, testJob("old", base, models.StatusCompleted)))
	s.Require().NoError(s.store.Save(s.ctx, testJob("new", base.Add(2*time.Minute), models.StatusTraining)))
	s.Require().NoError(s.store.Save(s.ctx, testJob("mid", base.Add(time.Minute), models.StatusFailed)))

	jobs, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(jobs, 3)
	s.Equal([]string{"new", "mid", "old"}, []string{jobs[0].RunID, jobs[1].RunID, jobs[2].RunID})

	active, err := s.store.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("new", active[0].RunID)

	// a run leaves the active set once it reaches a terminal state
	done := s.find("new")
	done.Status = models.StatusCompleted
	s.Require().NoError(s.store.Save(s.ctx, done))
	active, err = s.store.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Empty(active)
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &JobStoreTestSuite{newStore: func() JobStore { return NewMemoryStore() }})
}

func TestGormRepository(t *testing.T) {
	s := &JobStoreTestSuite{}
	s.newStore = func() JobStore {
		db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "Failed to create in-memory database")
		require.NoError(t, config.Migrate(db), "Failed to run database migrations")
		require.NoError(t, db.Exec("DELETE FROM training_runs").Error)

		s.cleanup = func() { config.CloseDatabase(db) }
		return NewRepository(db)
	}
	suite.Run(t, s)
}
