package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loiht2/ctr-aiops/backend/errdefs"
	"github.com/loiht2/ctr-aiops/backend/models"
)

// DefaultOpenAIModel is used when no model name is configured.
const DefaultOpenAIModel = "gpt-4"

const (
	summaryMaxTokens  = 500
	insightsMaxTokens = 800
	actionsMaxTokens  = 600

	promptTopFeatures  = 5
	contextTopFeatures = 10
)

// OpenAIGenerator writes reports with a chat completion model.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator. baseURL overrides the API endpoint
// when set, which also allows OpenAI compatible servers.
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the chat model name.
func (g *OpenAIGenerator) Name() string {
	return g.model
}

// Generate asks for the summary, the insights and then the action plan in
// one conversation.
func (g *OpenAIGenerator) Generate(ctx context.Context, in Input) (*Report, error) {
	summary, err := g.complete(ctx, summaryMaxTokens, userMessage(summaryPrompt(in)))
	if err != nil {
		return nil, err
	}

	conversation := []openai.ChatCompletionMessage{userMessage(insightsPrompt(in))}
	insightsText, err := g.complete(ctx, insightsMaxTokens, conversation...)
	if err != nil {
		return nil, err
	}
	var insights []models.Insight
	if err := decodeArray(insightsText, &insights); err != nil {
		return nil, fmt.Errorf("failed to parse insights: %w", err)
	}

	conversation = append(conversation,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: insightsText},
		userMessage(actionPrompt),
	)
	actionsText, err := g.complete(ctx, actionsMaxTokens, conversation...)
	if err != nil {
		return nil, err
	}
	var actions []models.ActionItem
	if err := decodeArray(actionsText, &actions); err != nil {
		return nil, fmt.Errorf("failed to parse action plan: %w", err)
	}

	return &Report{
		Summary:    summary,
		Insights:   insights,
		ActionPlan: actions,
		ModelUsed:  g.model,
	}, nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, maxTokens int, messages ...openai.ChatCompletionMessage) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", errdefs.ErrExternalService, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", errdefs.ErrExternalService)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: chat completion returned empty content", errdefs.ErrExternalService)
	}
	return content, nil
}

func userMessage(content string) openai.ChatCompletionMessage {
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content}
}

// decodeArray parses a JSON array, tolerating a markdown code fence around it.
func decodeArray(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return fmt.Errorf("%w: response is not a JSON array", errdefs.ErrExternalService)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrExternalService, err)
	}
	return nil
}

func summaryPrompt(in Input) string {
	features := "N/A"
	if len(in.Importance) > 0 {
		names := make([]string, 0, promptTopFeatures)
		for i, f := range in.Importance {
			if i == promptTopFeatures {
				break
			}
			names = append(names, f.Feature)
		}
		features = strings.Join(names, ", ")
	}

	return fmt.Sprintf(`SK Planet의 광고 사이트 사용자 행동 분석 결과를 바탕으로 마케팅 인사이트 보고서의 Executive Summary를 작성해주세요.

분석 결과:
- 모델 정확도: %.1f%%
- 주요 피처: %s

다음 내용을 포함해주세요:
1. 전체적인 성과 요약
2. 주요 발견사항
3. 기대 효과
4. 핵심 권장사항

전문적이면서도 이해하기 쉬운 톤으로 작성해주세요.`, in.Accuracy()*100, features)
}

func insightsPrompt(in Input) string {
	return fmt.Sprintf(`다음 분석 결과를 바탕으로 마케팅 인사이트 4개를 생성해주세요:

%s

각 인사이트는 다음 형식으로 작성해주세요:
- title: 인사이트 제목
- description: 상세 설명
- impact: high/medium/low
- recommendation: 구체적인 권장사항

JSON 배열 형태로 응답해주세요.`, Context(in))
}

const actionPrompt = `위 인사이트를 바탕으로 실행 가능한 액션 플랜 4개를 생성해주세요:

각 액션 플랜은 다음 형식으로 작성해주세요:
- priority: high/medium/low
- action: 액션 제목
- description: 구체적인 실행 방법
- expected_impact: 기대 효과
- timeline: 실행 일정

JSON 배열 형태로 응답해주세요.`

// Context renders the run facts shared with the model.
func Context(in Input) string {
	var b strings.Builder
	b.WriteString("모델 성능:\n")
	fmt.Fprintf(&b, "- 정확도: %.1f%%\n", in.Accuracy()*100)
	fmt.Fprintf(&b, "- 최고 검증 정확도: %.1f%%\n", in.Metrics[models.MetricBestValAccuracy]*100)

	if len(in.Importance) > 0 {
		b.WriteString("\n주요 피처 중요도:\n")
		for i, f := range in.Importance {
			if i == contextTopFeatures {
				break
			}
			fmt.Fprintf(&b, "%d. %s: %.3f\n", i+1, f.Feature, f.Importance)
		}
	}

	b.WriteString("\n학습 설정:\n")
	fmt.Fprintf(&b, "- 에포크: %d\n", in.Config.Epochs)
	fmt.Fprintf(&b, "- 배치 크기: %d\n", in.Config.BatchSize)
	fmt.Fprintf(&b, "- 학습률: %g", in.Config.LearningRate)
	return b.String()
}
