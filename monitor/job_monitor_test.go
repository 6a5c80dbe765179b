package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ctr-aiops/backend/models"
)

type fakeRuns struct {
	mu     sync.Mutex
	latest *models.TrainingJob
}

func (f *fakeRuns) set(job *models.TrainingJob) {
	f.mu.Lock()
	f.latest = job
	f.mu.Unlock()
}

func (f *fakeRuns) Latest() (*models.TrainingJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return nil, false
	}
	return f.latest.Clone(), true
}

func (f *fakeRuns) Counts() map[models.JobStatus]int {
	counts := map[models.JobStatus]int{models.StatusCompleted: 0, models.StatusFailed: 0}
	if job, ok := f.Latest(); ok {
		counts[job.Status]++
	}
	return counts
}

func job(id string, status models.JobStatus, acc float64) *models.TrainingJob {
	return &models.TrainingJob{
		RunID:   id,
		Status:  status,
		Metrics: map[string]float64{models.MetricFinalValAccuracy: acc},
	}
}

func TestSnapshot(t *testing.T) {
	runs := &fakeRuns{}
	m := NewMonitor(runs, 0)
	assert.Equal(t, DefaultAccuracyThreshold, m.Threshold())

	_, ok := m.Snapshot()
	assert.False(t, ok)

	runs.set(job("a", models.StatusCompleted, 0.82))
	p, ok := m.Snapshot()
	require.True(t, ok)
	assert.Equal(t, StatusGood, p.Status)
	assert.Empty(t, p.Alerts)
	assert.Equal(t, 0.82, p.Accuracy)

	runs.set(job("b", models.StatusCompleted, 0.6))
	p, _ = m.Snapshot()
	assert.Equal(t, StatusWarning, p.Status)
	assert.Equal(t, []string{"Accuracy below threshold (70%)"}, p.Alerts)
}

func TestScanAlerts(t *testing.T) {
	runs := &fakeRuns{}
	m := NewMonitor(runs, 0.7)
	assert.Empty(t, m.ScanAlerts())

	runs.set(job("ok", models.StatusCompleted, 0.9))
	assert.Empty(t, m.ScanAlerts())

	runs.set(job("low", models.StatusCompleted, 0.65))
	alerts := m.ScanAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLowAccuracy, alerts[0].Type)
	assert.Equal(t, models.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "Model accuracy is low: 65.0%", alerts[0].Message)

	failed := job("bad", models.StatusFailed, 0)
	failed.Metrics = map[string]float64{}
	runs.set(failed)
	alerts = m.ScanAlerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertTrainingFailed, alerts[0].Type)
	assert.Equal(t, models.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "bad", alerts[0].RunID)
}

func TestSIDashboard(t *testing.T) {
	runs := &fakeRuns{}
	m := NewMonitor(runs, 0.7)
	d := m.SIDashboard(nil)
	assert.Equal(t, 0, d.TotalRuns)
	assert.NotNil(t, d.Alerts)

	runs.set(job("bad", models.StatusFailed, 0))
	d = m.SIDashboard(&models.RunSummary{RunID: "bad"})
	assert.Equal(t, 1, d.TotalRuns)
	assert.Equal(t, 1, d.RunsByStatus[models.StatusFailed])
	assert.Len(t, d.Alerts, 2)
	assert.Equal(t, "bad", d.LatestRun.RunID)
}

func TestJobMonitorReportsOnce(t *testing.T) {
	runs := &fakeRuns{}
	runs.set(job("bad", models.StatusFailed, 0.9))

	jm := NewJobMonitor(NewMonitor(runs, 0.7), time.Hour)
	var got []models.Alert
	jm.notify = func(a models.Alert) { got = append(got, a) }

	assert.Equal(t, 1, jm.check())
	assert.Equal(t, 0, jm.check())
	require.Len(t, got, 1)
	assert.Equal(t, AlertTrainingFailed, got[0].Type)

	runs.set(job("next", models.StatusCompleted, 0.5))
	assert.Equal(t, 1, jm.check())
}

func TestJobMonitorLoop(t *testing.T) {
	runs := &fakeRuns{}
	runs.set(job("low", models.StatusCompleted, 0.1))

	jm := NewJobMonitor(NewMonitor(runs, 0.7), 10*time.Millisecond)
	alerts := make(chan models.Alert, 4)
	jm.notify = func(a models.Alert) { alerts <- a }

	jm.Start()
	select {
	case a := <-alerts:
		assert.Equal(t, AlertLowAccuracy, a.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not report the alert")
	}
	jm.Stop()
	jm.Stop()
}
