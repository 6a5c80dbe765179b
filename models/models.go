package models

import (
	"time"

	"github.com/loiht2/ctr-aiops/backend/dataset"
)

// JobStatus is the lifecycle state of a training run
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusTraining  JobStatus = "training"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusTraining, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether s may move to next
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusTraining || next == StatusFailed
	case StatusTraining:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// TrainingConfig holds the hyperparameters of a run
type TrainingConfig struct {
	Epochs       int     `json:"epochs" yaml:"epochs"`
	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	SampleSize   int     `json:"sample_size" yaml:"sample_size"`
}

// History is the per-epoch learning curve
type History struct {
	TrainLoss []float64 `json:"train_loss"`
	ValLoss   []float64 `json:"val_loss"`
	TrainAcc  []float64 `json:"train_acc"`
	ValAcc    []float64 `json:"val_acc"`
}

// FeatureImportance is one row of the importance table
type FeatureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Artifacts are the object keys written when a run completes
type Artifacts struct {
	ModelKey      string `json:"model_path,omitempty"`
	ImportanceKey string `json:"importance_path,omitempty"`
	ResultsKey    string `json:"results_path,omitempty"`
}

// Metric names
const (
	MetricTrainLoss          = "train_loss"
	MetricValLoss            = "val_loss"
	MetricTrainAccuracy      = "train_accuracy"
	MetricValAccuracy        = "val_accuracy"
	MetricFinalTrainAccuracy = "final_train_accuracy"
	MetricFinalValAccuracy   = "final_val_accuracy"
	MetricFinalTrainLoss     = "final_train_loss"
	MetricFinalValLoss       = "final_val_loss"
	MetricBestValAccuracy    = "best_val_accuracy"
	MetricBestValLoss        = "best_val_loss"
)

// TrainingJob is the in-memory record of a run
type TrainingJob struct {
	RunID             string
	FileID            string
	Status            JobStatus
	Config            TrainingConfig
	CurrentEpoch      int
	TotalEpochs       int
	Metrics           map[string]float64
	History           History
	FeatureCols       []string
	FeatureImportance []FeatureImportance
	TrainSize         int
	ValSize           int
	Error             string
	Artifacts         Artifacts
	CreatedAt         time.Time
	StartTime         *time.Time
	EndTime           *time.Time
}

// Clone returns a deep copy
func (j *TrainingJob) Clone() *TrainingJob {
	if j == nil {
		return nil
	}
	c := *j
	if j.Metrics != nil {
		c.Metrics = make(map[string]float64, len(j.Metrics))
		for k, v := range j.Metrics {
			c.Metrics[k] = v
		}
	}
	c.History = History{
		TrainLoss: cloneFloats(j.History.TrainLoss),
		ValLoss:   cloneFloats(j.History.ValLoss),
		TrainAcc:  cloneFloats(j.History.TrainAcc),
		ValAcc:    cloneFloats(j.History.ValAcc),
	}
	if j.FeatureCols != nil {
		c.FeatureCols = append([]string(nil), j.FeatureCols...)
	}
	if j.FeatureImportance != nil {
		c.FeatureImportance = append([]FeatureImportance(nil), j.FeatureImportance...)
	}
	if j.StartTime != nil {
		t := *j.StartTime
		c.StartTime = &t
	}
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	return &c
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	return append([]float64(nil), in...)
}

// Accuracy returns the headline validation accuracy of a run, preferring
// the final summary metric over the latest epoch value.
func (j *TrainingJob) Accuracy() float64 {
	if v, ok := j.Metrics[MetricFinalValAccuracy]; ok {
		return v
	}
	return j.Metrics[MetricValAccuracy]
}

// TrainRequest starts a run. Config values may be numbers or numeric strings.
type TrainRequest struct {
	FileID string                 `json:"file_id" binding:"required"`
	Config map[string]interface{} `json:"config"`
}

// TrainResponse is returned when a run is scheduled
type TrainResponse struct {
	RunID  string    `json:"run_id"`
	Status JobStatus `json:"status"`
}

// StatusResponse is the progress snapshot of a run
type StatusResponse struct {
	Status       JobStatus          `json:"status"`
	CurrentEpoch int                `json:"current_epoch"`
	TotalEpochs  int                `json:"total_epochs"`
	Metrics      map[string]float64 `json:"metrics"`
	Error        *string            `json:"error"`
}

// RunSummary is one entry of the run list
type RunSummary struct {
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Status    JobStatus      `json:"status"`
	FileID    string         `json:"file_id"`
	Config    TrainingConfig `json:"config"`
	Accuracy  float64        `json:"accuracy"`
}

// ResultsResponse is the full record of a run
type ResultsResponse struct {
	RunID             string              `json:"run_id"`
	Status            JobStatus           `json:"status"`
	FileID            string              `json:"file_id"`
	Config            TrainingConfig      `json:"config"`
	CurrentEpoch      int                 `json:"current_epoch"`
	TotalEpochs       int                 `json:"total_epochs"`
	Metrics           map[string]float64  `json:"metrics"`
	History           History             `json:"history"`
	FeatureCols       []string            `json:"feature_cols,omitempty"`
	TrainSize         int                 `json:"train_size"`
	ValSize           int                 `json:"val_size"`
	FeatureImportance []FeatureImportance `json:"feature_importance,omitempty"`
	Artifacts         *Artifacts          `json:"artifacts,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	StartTime         *time.Time          `json:"start_time"`
	EndTime           *time.Time          `json:"end_time"`
	Error             *string             `json:"error"`
}

// ResultsSnapshot is the JSON document stored next to a completed run's
// model checkpoint
type ResultsSnapshot struct {
	RunID             string              `json:"run_id"`
	Config            TrainingConfig      `json:"config"`
	History           History             `json:"history"`
	Metrics           map[string]float64  `json:"metrics"`
	FeatureImportance []FeatureImportance `json:"feature_importance"`
	Timestamp         time.Time           `json:"timestamp"`
}

// ValidationSummary is the upload verdict without table statistics
type ValidationSummary struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// UploadResponse is returned by the upload endpoint
type UploadResponse struct {
	FileID             string                   `json:"file_id"`
	Filename           string                   `json:"filename"`
	Rows               int                      `json:"rows"`
	Columns            int                      `json:"columns"`
	Validation         ValidationSummary        `json:"validation"`
	Info               dataset.Info             `json:"info"`
	Preview            []map[string]interface{} `json:"preview"`
	ColumnNames        []string                 `json:"column_names"`
	ColumnDescriptions map[string]string        `json:"column_descriptions"`
}

// Insight is one finding of an AI report
type Insight struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
}

// ActionItem is one step of a report's action plan
type ActionItem struct {
	Priority       string `json:"priority"`
	Action         string `json:"action"`
	Description    string `json:"description"`
	ExpectedImpact string `json:"expected_impact"`
	Timeline       string `json:"timeline"`
}

// AIReportResponse is the AI insights payload
type AIReportResponse struct {
	Summary           string       `json:"summary"`
	Insights          []Insight    `json:"insights"`
	ActionPlan        []ActionItem `json:"action_plan"`
	Accuracy          float64      `json:"accuracy"`
	ROIIncrease       float64      `json:"roiIncrease"`
	AdditionalRevenue float64      `json:"additionalRevenue"`
	InsightsCount     int          `json:"insights_count"`
	ActionsCount      int          `json:"actions_count"`
	GeneratedAt       time.Time    `json:"generated_at"`
	ModelUsed         string       `json:"model_used"`
}

// DashboardKPIs are the headline numbers of the client dashboard
type DashboardKPIs struct {
	CTRImprovement    float64 `json:"ctr_improvement"`
	ROIIncrease       float64 `json:"roi_increase"`
	AdditionalRevenue float64 `json:"additional_revenue"`
	Accuracy          float64 `json:"accuracy"`
}

// PerformanceMetrics are the projected CTR figures of the client dashboard
type PerformanceMetrics struct {
	CurrentCTR      float64 `json:"current_ctr"`
	PredictedCTR    float64 `json:"predicted_ctr"`
	ConversionRate  float64 `json:"conversion_rate"`
	RevenuePerClick float64 `json:"revenue_per_click"`
}

// LatestTraining identifies the run a dashboard was built from
type LatestTraining struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    JobStatus `json:"status"`
}

// ClientDashboard is returned by the client dashboard endpoint
type ClientDashboard struct {
	KPIs                     DashboardKPIs      `json:"kpis"`
	AIInsights               []Insight          `json:"ai_insights"`
	MarketingRecommendations []ActionItem       `json:"marketing_recommendations"`
	PerformanceMetrics       PerformanceMetrics `json:"performance_metrics"`
	LatestTraining           *LatestTraining    `json:"latest_training,omitempty"`
	Status                   string             `json:"status"`
}

// SIDashboard is the operator view of the registry
type SIDashboard struct {
	TotalRuns    int               `json:"total_runs"`
	RunsByStatus map[JobStatus]int `json:"runs_by_status"`
	LatestRun    *RunSummary       `json:"latest_run,omitempty"`
	Alerts       []Alert           `json:"alerts"`
	Timestamp    time.Time         `json:"timestamp"`
}

// AlertSeverity ranks an alert
type AlertSeverity string

const (
	SeverityHigh    AlertSeverity = "high"
	SeverityWarning AlertSeverity = "warning"
)

// Alert is raised by the monitor when the latest run needs attention
type Alert struct {
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	RunID     string        `json:"run_id"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// FeatureImportanceItem is an importance row with its column description
type FeatureImportanceItem struct {
	Feature     string  `json:"feature"`
	Importance  float64 `json:"importance"`
	Description string  `json:"description"`
}

// CorrelationResponse is a Pearson correlation matrix over top features
type CorrelationResponse struct {
	Features            []string          `json:"features"`
	Matrix              [][]float64       `json:"matrix"`
	FeatureDescriptions map[string]string `json:"feature_descriptions"`
}

// PDFResponse is returned after a PDF is generated
type PDFResponse struct {
	PDFURL  string `json:"pdf_url"`
	Status  string `json:"status"`
	FileKey string `json:"file_key"`
}
