package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loiht2/ctr-aiops/backend/models"
)

type failingGenerator struct {
	calls int
}

func (g *failingGenerator) Name() string { return "broken-llm" }

func (g *failingGenerator) Generate(ctx context.Context, in Input) (*Report, error) {
	g.calls++
	return nil, errors.New("connection refused")
}

type staticGenerator struct {
	rep *Report
}

func (g staticGenerator) Name() string { return "static" }

func (g staticGenerator) Generate(ctx context.Context, in Input) (*Report, error) {
	return g.rep, nil
}

func results(acc float64) models.ResultsResponse {
	return models.ResultsResponse{
		RunID:  "run-1",
		Status: models.StatusCompleted,
		Config: models.TrainingConfig{Epochs: 3, BatchSize: 64, LearningRate: 1e-3, SampleSize: 100},
		Metrics: map[string]float64{
			models.MetricFinalValAccuracy: acc,
			models.MetricBestValAccuracy:  acc,
		},
	}
}

func TestTemplateBands(t *testing.T) {
	tests := []struct {
		acc  float64
		want string
	}{
		{0.95, "매우 높은 정확도(90% 이상)"},
		{0.88, "높은 정확도(85% 이상)"},
		{0.85, "양호한 정확도"},
		{0.5, "양호한 정확도"},
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		rep := Template(Input{Metrics: map[string]float64{models.MetricFinalValAccuracy: tt.acc}}, now)
		assert.Contains(t, rep.Summary, tt.want, "accuracy %v", tt.acc)
		assert.Len(t, rep.Insights, 4)
		assert.Len(t, rep.ActionPlan, 4)
		assert.Equal(t, TemplateModel, rep.ModelUsed)
		assert.Equal(t, now, rep.GeneratedAt)
	}
}

func TestTemplateIsDeterministic(t *testing.T) {
	now := time.Now()
	in := Input{Metrics: map[string]float64{models.MetricFinalValAccuracy: 0.91}}
	a, b := Template(in, now), Template(in, now)
	assert.Equal(t, a, b)

	// callers may edit their copy without touching the template
	a.Insights[0].Title = "changed"
	assert.Equal(t, "시간대별 클릭 패턴 분석", Template(in, now).Insights[0].Title)
}

func TestGenerateFallsBackWhenGeneratorFails(t *testing.T) {
	gen := &failingGenerator{}
	svc := NewService(gen)

	rep := svc.Generate(context.Background(), "run-1", results(0.92), nil)
	require.NotNil(t, rep)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, TemplateModel, rep.ModelUsed)
	assert.NotEqual(t, gen.Name(), rep.ModelUsed)
	assert.NotEmpty(t, rep.Summary)
	assert.Len(t, rep.Insights, 4)
	assert.Len(t, rep.ActionPlan, 4)
}

func TestGenerateRejectsIncompleteReport(t *testing.T) {
	svc := NewService(staticGenerator{rep: &Report{Summary: "only a summary"}})
	rep := svc.Generate(context.Background(), "run-1", results(0.8), nil)
	assert.Equal(t, TemplateModel, rep.ModelUsed)
}

func TestGenerateUsesGenerator(t *testing.T) {
	svc := NewService(staticGenerator{rep: &Report{
		Summary:    "summary",
		Insights:   []models.Insight{{Title: "a"}},
		ActionPlan: []models.ActionItem{{Action: "b"}},
	}})
	rep := svc.Generate(context.Background(), "run-1", results(0.8), nil)
	assert.Equal(t, "static", rep.ModelUsed)
	assert.Equal(t, "summary", rep.Summary)
	assert.False(t, rep.GeneratedAt.IsZero())
}

func TestNilGeneratorUsesTemplate(t *testing.T) {
	svc := NewService(nil)
	assert.False(t, svc.UsesGenerator())
	rep := svc.Generate(context.Background(), "run-1", results(0.8), nil)
	assert.Equal(t, TemplateModel, rep.ModelUsed)
}

func TestSummarize(t *testing.T) {
	rep := Template(Input{}, time.Now())
	sum := Summarize(rep, 0.875)
	assert.Equal(t, 87.5, sum.Accuracy)
	assert.Equal(t, 25.0, sum.ROIIncrease)
	assert.Equal(t, 1.25, sum.AdditionalRevenue)
	assert.Equal(t, 4, sum.InsightsCount)
	assert.Equal(t, 4, sum.ActionsCount)

	sum = Summarize(rep, 0.5)
	assert.Equal(t, 15.0, sum.ROIIncrease)
	assert.Equal(t, 0.75, sum.AdditionalRevenue)

	resp := ToResponse(rep, sum)
	assert.Equal(t, rep.Summary, resp.Summary)
	assert.Equal(t, 50.0, resp.Accuracy)
	assert.Equal(t, TemplateModel, resp.ModelUsed)
}

func TestDashboard(t *testing.T) {
	empty := Dashboard(nil, nil)
	assert.Equal(t, "no_data", empty.Status)
	assert.Nil(t, empty.LatestTraining)
	assert.Empty(t, empty.AIInsights)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job := &models.TrainingJob{
		RunID:     "run-1",
		Status:    models.StatusCompleted,
		CreatedAt: created,
		Metrics:   map[string]float64{models.MetricFinalValAccuracy: 0.5},
	}
	d := Dashboard(job, Template(Input{}, created))
	assert.Equal(t, "active", d.Status)
	assert.Equal(t, 15.0, d.KPIs.CTRImprovement)
	assert.Equal(t, 30.0, d.KPIs.ROIIncrease)
	assert.Equal(t, 0.75, d.KPIs.AdditionalRevenue)
	assert.Equal(t, 50.0, d.KPIs.Accuracy)
	assert.Equal(t, BaselineCTR, d.PerformanceMetrics.CurrentCTR)
	assert.InDelta(t, 2.88, d.PerformanceMetrics.PredictedCTR, 0.011)
	assert.InDelta(t, 0.43, d.PerformanceMetrics.ConversionRate, 1e-9)
	assert.InDelta(t, 0.26, d.PerformanceMetrics.RevenuePerClick, 1e-9)
	assert.Len(t, d.AIInsights, 3)
	assert.Len(t, d.MarketingRecommendations, 4)
	require.NotNil(t, d.LatestTraining)
	assert.Equal(t, "run-1", d.LatestTraining.RunID)

	// KPIs saturate
	job.Metrics[models.MetricFinalValAccuracy] = 0.99
	d = Dashboard(job, nil)
	assert.Equal(t, MaxCTRImprovement, d.KPIs.CTRImprovement)
	assert.Equal(t, MaxROIIncrease, d.KPIs.ROIIncrease)
	assert.Empty(t, d.AIInsights)
}

func TestDecodeArray(t *testing.T) {
	var out []models.Insight
	require.NoError(t, decodeArray("```json\n[{\"title\":\"a\",\"impact\":\"high\"}]\n```", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Title)

	out = nil
	require.NoError(t, decodeArray("Here you go: [{\"title\":\"b\"}] hope it helps", &out))
	assert.Equal(t, "b", out[0].Title)

	assert.Error(t, decodeArray("no json here", &out))
	assert.Error(t, decodeArray("[{\"title\": }]", &out))
}

func TestContext(t *testing.T) {
	in := Input{
		Metrics: map[string]float64{
			models.MetricFinalValAccuracy: 0.8123,
			models.MetricBestValAccuracy:  0.85,
		},
		Config: models.TrainingConfig{Epochs: 10, BatchSize: 1024, LearningRate: 0.001},
	}
	for i := 0; i < 12; i++ {
		in.Importance = append(in.Importance, models.FeatureImportance{Feature: "f" + string(rune('a'+i)), Importance: 0.5})
	}

	text := Context(in)
	assert.Contains(t, text, "- 정확도: 81.2%")
	assert.Contains(t, text, "- 최고 검증 정확도: 85.0%")
	assert.Contains(t, text, "10. fj: 0.500")
	assert.NotContains(t, text, "11. ")
	assert.Contains(t, text, "- 배치 크기: 1024")
	assert.Contains(t, text, "- 학습률: 0.001")
}

// chatServer answers chat completions by the max_tokens of each request,
// which identifies the summary, insights and action plan prompts.
func chatServer(t *testing.T, replies map[int]string) (*httptest.Server, *[]int) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen = append(seen, req.MaxTokens)
		mu.Unlock()

		content, ok := replies[req.MaxTokens]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestOpenAIGenerator(t *testing.T) {
	srv, seen := chatServer(t, map[int]string{
		summaryMaxTokens:  "  모델이 좋은 성과를 냈습니다.  ",
		insightsMaxTokens: "```json\n[{\"title\":\"야간 클릭\",\"description\":\"d\",\"impact\":\"high\",\"recommendation\":\"r\"}]\n```",
		actionsMaxTokens:  "[{\"priority\":\"high\",\"action\":\"야간 집중\",\"description\":\"d\",\"expected_impact\":\"CTR 5% 향상\",\"timeline\":\"1주\"}]",
	})

	gen := NewOpenAIGenerator("test-key", srv.URL+"/v1/", "")
	assert.Equal(t, DefaultOpenAIModel, gen.Name())

	svc := NewService(gen)
	res := results(0.9)
	rep := svc.Generate(context.Background(), "run-1", res, []models.FeatureImportance{{Feature: "f1", Importance: 0.7}})

	assert.Equal(t, DefaultOpenAIModel, rep.ModelUsed)
	assert.Equal(t, "모델이 좋은 성과를 냈습니다.", rep.Summary)
	require.Len(t, rep.Insights, 1)
	assert.Equal(t, "야간 클릭", rep.Insights[0].Title)
	require.Len(t, rep.ActionPlan, 1)
	assert.Equal(t, "CTR 5% 향상", rep.ActionPlan[0].ExpectedImpact)
	assert.Equal(t, []int{summaryMaxTokens, insightsMaxTokens, actionsMaxTokens}, *seen)
}

func TestOpenAIGeneratorFailureFallsBack(t *testing.T) {
	srv, _ := chatServer(t, map[int]string{
		summaryMaxTokens:  "summary",
		insightsMaxTokens: "not json at all",
	})

	gen := NewOpenAIGenerator("test-key", srv.URL+"/v1", "gpt-4o-mini")
	_, err := gen.Generate(context.Background(), Input{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "insights"))

	rep := NewService(gen).Generate(context.Background(), "run-1", results(0.9), nil)
	assert.Equal(t, TemplateModel, rep.ModelUsed)
}

func TestOpenAIGeneratorServerError(t *testing.T) {
	srv, _ := chatServer(t, map[int]string{})
	gen := NewOpenAIGenerator("test-key", srv.URL+"/v1", "")

	rep := NewService(gen).Generate(context.Background(), "run-1", results(0.6), nil)
	assert.Equal(t, TemplateModel, rep.ModelUsed)
	assert.Contains(t, rep.Summary, "양호한 정확도")
}
