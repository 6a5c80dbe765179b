package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
)

// Alert types
const (
	AlertTrainingFailed = "training_failed"
	AlertLowAccuracy    = "low_accuracy"
)

// Performance statuses
const (
	StatusGood    = "good"
	StatusWarning = "warning"
)

// DefaultAccuracyThreshold is the accuracy below which runs raise alerts.
const DefaultAccuracyThreshold = 0.7

// RunSource is the view of the training registry the monitor needs
type RunSource interface {
	Latest() (*models.TrainingJob, bool)
	Counts() map[models.JobStatus]int
}

// Performance is the latest-run snapshot pushed on the performance stream
type Performance struct {
	Accuracy  float64
	Status    string
	Alerts    []string
	RunID     string
	Timestamp time.Time
}

// Monitor derives performance snapshots and alerts from the latest run
type Monitor struct {
	runs      RunSource
	threshold float64
	now       func() time.Time
}

// NewMonitor creates a monitor. A non-positive threshold uses the default.
func NewMonitor(runs RunSource, threshold float64) *Monitor {
	if threshold <= 0 {
		threshold = DefaultAccuracyThreshold
	}
	return &Monitor{runs: runs, threshold: threshold, now: time.Now}
}

// Threshold returns the accuracy alert threshold
func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// Snapshot reports the accuracy of the most recent run. It returns false
// when no run exists.
func (m *Monitor) Snapshot() (Performance, bool) {
	job, ok := m.runs.Latest()
	if !ok {
		return Performance{}, false
	}

	accuracy := job.Accuracy()
	p := Performance{
		Accuracy:  accuracy,
		Status:    StatusGood,
		Alerts:    []string{},
		RunID:     job.RunID,
		Timestamp: m.now(),
	}
	if accuracy < m.threshold {
		p.Status = StatusWarning
		p.Alerts = append(p.Alerts, fmt.Sprintf("Accuracy below threshold (%.0f%%)", m.threshold*100))
	}
	return p, true
}

// ScanAlerts checks the most recent run. A failed run raises a high severity
// alert and an accuracy under the threshold a warning.
func (m *Monitor) ScanAlerts() []models.Alert {
	job, ok := m.runs.Latest()
	if !ok {
		return nil
	}

	now := m.now()
	var alerts []models.Alert
	if job.Status == models.StatusFailed {
		alerts = append(alerts, models.Alert{
			Type:      AlertTrainingFailed,
			Severity:  models.SeverityHigh,
			RunID:     job.RunID,
			Message:   "Latest training run failed",
			Timestamp: now,
		})
	}
	if accuracy := job.Accuracy(); accuracy < m.threshold {
		alerts = append(alerts, models.Alert{
			Type:      AlertLowAccuracy,
			Severity:  models.SeverityWarning,
			RunID:     job.RunID,
			Message:   fmt.Sprintf("Model accuracy is low: %.1f%%", accuracy*100),
			Timestamp: now,
		})
	}
	return alerts
}

// SIDashboard summarises the registry for operators
func (m *Monitor) SIDashboard(latest *models.RunSummary) models.SIDashboard {
	counts := m.runs.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	alerts := m.ScanAlerts()
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return models.SIDashboard{
		TotalRuns:    total,
		RunsByStatus: counts,
		LatestRun:    latest,
		Alerts:       alerts,
		Timestamp:    m.now(),
	}
}

// JobMonitor scans for alerts in the background and logs each new one
type JobMonitor struct {
	monitor  *Monitor
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu     sync.Mutex
	seen   map[string]struct{}
	notify func(models.Alert)
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(monitor *Monitor, interval time.Duration) *JobMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &JobMonitor{
		monitor:  monitor,
		interval: interval,
		stopChan: make(chan struct{}),
		seen:     make(map[string]struct{}),
		notify:   logAlert,
	}
}

// Start begins scanning on every interval
func (m *JobMonitor) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	logger.Infof("Job monitor started - scanning every %s", m.interval)
}

// Stop stops the job monitor gracefully
func (m *JobMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
	logger.Info("Job monitor stopped")
}

func (m *JobMonitor) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check reports alerts not seen before. An alert is identified by its run
// and type, so a failing run is reported once.
func (m *JobMonitor) check() int {
	reported := 0
	for _, alert := range m.monitor.ScanAlerts() {
		key := alert.RunID + "/" + alert.Type
		m.mu.Lock()
		_, dup := m.seen[key]
		m.seen[key] = struct{}{}
		m.mu.Unlock()
		if dup {
			continue
		}
		m.notify(alert)
		reported++
	}
	return reported
}

func logAlert(alert models.Alert) {
	entry := logger.WithFields(map[string]interface{}{
		"run_id":   alert.RunID,
		"type":     alert.Type,
		"severity": alert.Severity,
	})
	if alert.Severity == models.SeverityHigh {
		entry.Error(alert.Message)
		return
	}
	entry.Warn(alert.Message)
}
