// Package report turns training results into the marketing insight report
// shown on the dashboard and exported to PDF.
package report

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/logger"
	"github.com/loiht2/ctr-aiops/backend/models"
)

// TemplateModel is the model_used value of the fallback report.
const TemplateModel = "template"

// Dashboard constants
const (
	BaselineCTR        = 2.5
	MaxCTRImprovement  = 25.0
	MaxROIIncrease     = 50.0
	RevenuePerCTRPoint = 0.05

	dashboardInsights        = 3
	dashboardRecommendations = 4
)

// Report is a generated insight report.
type Report struct {
	Summary     string              `json:"summary"`
	Insights    []models.Insight    `json:"insights"`
	ActionPlan  []models.ActionItem `json:"action_plan"`
	GeneratedAt time.Time           `json:"generated_at"`
	ModelUsed   string              `json:"model_used"`
}

// Input is what a generator knows about a run.
type Input struct {
	RunID      string
	Metrics    map[string]float64
	Config     models.TrainingConfig
	Importance []models.FeatureImportance
}

// Accuracy is the final validation accuracy of the run, or 0.
func (in Input) Accuracy() float64 {
	return Accuracy(in.Metrics)
}

// Accuracy picks final_val_accuracy, then the latest val_accuracy.
func Accuracy(metrics map[string]float64) float64 {
	if v, ok := metrics[models.MetricFinalValAccuracy]; ok {
		return v
	}
	return metrics[models.MetricValAccuracy]
}

// Generator produces a report from an external service.
type Generator interface {
	Name() string
	Generate(ctx context.Context, in Input) (*Report, error)
}

// Service generates reports, falling back to the template report whenever
// the generator is missing or fails.
type Service struct {
	generator Generator
	now       func() time.Time
}

// NewService creates a report service. A nil generator always uses the
// template report.
func NewService(generator Generator) *Service {
	return &Service{generator: generator, now: time.Now}
}

// UsesGenerator reports whether an external generator is configured.
func (s *Service) UsesGenerator() bool {
	return s.generator != nil
}

// Generate builds the report of a run. It never fails: generator errors are
// logged and replaced by the template report.
func (s *Service) Generate(ctx context.Context, runID string, results models.ResultsResponse, importance []models.FeatureImportance) *Report {
	in := Input{
		RunID:      runID,
		Metrics:    results.Metrics,
		Config:     results.Config,
		Importance: importance,
	}

	if s.generator != nil {
		rep, err := s.generator.Generate(ctx, in)
		if err == nil {
			err = check(rep)
		}
		if err == nil {
			if rep.GeneratedAt.IsZero() {
				rep.GeneratedAt = s.now()
			}
			if rep.ModelUsed == "" {
				rep.ModelUsed = s.generator.Name()
			}
			return rep
		}
		logger.WithFields(map[string]interface{}{
			"run_id":    runID,
			"generator": s.generator.Name(),
		}).Warnf("Report generation failed, using template: %v", err)
	}
	return Template(in, s.now())
}

func check(rep *Report) error {
	if rep == nil {
		return fmt.Errorf("%w: empty report", errdefs.ErrExternalService)
	}
	if rep.Summary == "" || len(rep.Insights) == 0 || len(rep.ActionPlan) == 0 {
		return fmt.Errorf("%w: incomplete report", errdefs.ErrExternalService)
	}
	return nil
}

// Summary holds the headline statistics of a report.
type Summary struct {
	// Accuracy is a percentage.
	Accuracy          float64
	ROIIncrease       float64
	AdditionalRevenue float64
	InsightsCount     int
	ActionsCount      int
}

// Summarize derives the report statistics from the run accuracy.
func Summarize(rep *Report, accuracy float64) Summary {
	improvement := CTRImprovement(accuracy)
	return Summary{
		Accuracy:          round(accuracy*100, 1),
		ROIIncrease:       round(improvement, 1),
		AdditionalRevenue: round(improvement*RevenuePerCTRPoint, 2),
		InsightsCount:     len(rep.Insights),
		ActionsCount:      len(rep.ActionPlan),
	}
}

// ToResponse assembles the AI report payload.
func ToResponse(rep *Report, sum Summary) models.AIReportResponse {
	return models.AIReportResponse{
		Summary:           rep.Summary,
		Insights:          rep.Insights,
		ActionPlan:        rep.ActionPlan,
		Accuracy:          sum.Accuracy,
		ROIIncrease:       sum.ROIIncrease,
		AdditionalRevenue: sum.AdditionalRevenue,
		InsightsCount:     sum.InsightsCount,
		ActionsCount:      sum.ActionsCount,
		GeneratedAt:       rep.GeneratedAt,
		ModelUsed:         rep.ModelUsed,
	}
}

// CTRImprovement is the projected CTR uplift in percent.
func CTRImprovement(accuracy float64) float64 {
	return math.Min(MaxCTRImprovement, accuracy*30)
}

// ROIIncrease is the projected ROI uplift in percent.
func ROIIncrease(accuracy float64) float64 {
	return math.Min(MaxROIIncrease, accuracy*60)
}

// Dashboard builds the client dashboard from the latest run and its report.
// A nil latest run yields the no_data dashboard.
func Dashboard(latest *models.TrainingJob, rep *Report) models.ClientDashboard {
	if latest == nil {
		return models.ClientDashboard{
			AIInsights:               []models.Insight{},
			MarketingRecommendations: []models.ActionItem{},
			Status:                   "no_data",
		}
	}

	accuracy := latest.Accuracy()
	improvement := CTRImprovement(accuracy)
	revenue := improvement * RevenuePerCTRPoint
	predicted := BaselineCTR * (1 + improvement/100)

	d := models.ClientDashboard{
		KPIs: models.DashboardKPIs{
			CTRImprovement:    round(improvement, 1),
			ROIIncrease:       round(ROIIncrease(accuracy), 1),
			AdditionalRevenue: round(revenue, 2),
			Accuracy:          round(accuracy*100, 1),
		},
		AIInsights:               []models.Insight{},
		MarketingRecommendations: []models.ActionItem{},
		PerformanceMetrics: models.PerformanceMetrics{
			CurrentCTR:      BaselineCTR,
			PredictedCTR:    round(predicted, 2),
			ConversionRate:  round(predicted*0.15, 2),
			RevenuePerClick: round(revenue/math.Max(predicted, 0.1), 2),
		},
		LatestTraining: &models.LatestTraining{
			RunID:     latest.RunID,
			CreatedAt: latest.CreatedAt,
			Status:    latest.Status,
		},
		Status: "active",
	}
	if rep != nil {
		d.AIInsights = head(rep.Insights, dashboardInsights)
		d.MarketingRecommendations = head(rep.ActionPlan, dashboardRecommendations)
	}
	return d
}

func head[T any](in []T, n int) []T {
	if len(in) > n {
		in = in[:n]
	}
	return append([]T{}, in...)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

