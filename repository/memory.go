package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/loiht2/ctr-aiops/backend/models"
)

// MemoryStore keeps runs in process memory. It is used when no database is
// configured.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.TrainingJob
}

var _ JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.TrainingJob)}
}

func (m *MemoryStore) Save(_ context.Context, job *models.TrainingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.RunID] = job.Clone()
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]*models.TrainingJob, error) {
	return m.filter(func(*models.TrainingJob) bool { return true }), nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]*models.TrainingJob, error) {
	return m.filter(func(j *models.TrainingJob) bool { return !j.Status.IsTerminal() }), nil
}

func (m *MemoryStore) filter(keep func(*models.TrainingJob) bool) []*models.TrainingJob {
	m.mu.RLock()
	out := make([]*models.TrainingJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if keep(job) {
			out = append(out, job.Clone())
		}
	}
	m.mu.RUnlock()

	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders runs by creation time descending, then run id.
func SortNewestFirst(jobs []*models.TrainingJob) {
	sort.SliceStable(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.RunID > b.RunID
	})
}
