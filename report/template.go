package report

import (
	"fmt"
	"time"

	"github.com/loiht2/ctr-aiops/backend/models"
)

const summaryTemplate = "SK Planet의 광고 사이트 사용자 행동 분석 결과, CTR 예측 모델이 %s를 달성했습니다. " +
	"주요 인사이트로는 시간대별 클릭 패턴, 사용자 연령대별 선호도, 광고 위치 효과 등이 발견되었습니다. " +
	"이를 바탕으로 마케팅 전략 최적화를 통해 %s가 기대됩니다."

var templateInsights = []models.Insight{
	{
		Title:          "시간대별 클릭 패턴 분석",
		Description:    "오후 2-4시와 저녁 8-10시에 클릭률이 가장 높게 나타났습니다. 이는 사용자의 활동 패턴과 일치합니다.",
		Impact:         "high",
		Recommendation: "타겟 시간대에 광고 집중 배치 권장",
	},
	{
		Title:          "연령대별 광고 선호도",
		Description:    "20-30대는 모바일 광고에, 40-50대는 데스크톱 광고에 더 높은 반응을 보였습니다.",
		Impact:         "high",
		Recommendation: "연령대별 맞춤형 광고 전략 수립",
	},
	{
		Title:          "광고 위치별 효과성",
		Description:    "상단 배너와 사이드바 광고가 가장 효과적이며, 하단 광고는 상대적으로 낮은 성과를 보였습니다.",
		Impact:         "medium",
		Recommendation: "효과적인 위치에 광고 비중 증가",
	},
	{
		Title:          "사용자 행동 시퀀스 패턴",
		Description:    "검색 → 상품 확인 → 장바구니 → 구매 순서의 전형적인 패턴이 확인되었습니다.",
		Impact:         "high",
		Recommendation: "각 단계별 맞춤형 리타겟팅 전략",
	},
}

var templateActions = []models.ActionItem{
	{
		Priority:       "high",
		Action:         "시간대 최적화",
		Description:    "오후 2-4시, 저녁 8-10시에 광고 집중 배치",
		ExpectedImpact: "CTR 15% 향상",
		Timeline:       "즉시 적용 가능",
	},
	{
		Priority:       "high",
		Action:         "연령대별 맞춤 광고",
		Description:    "20-30대는 모바일 최적화, 40-50대는 데스크톱 중심 광고",
		ExpectedImpact: "타겟 정확도 20% 향상",
		Timeline:       "2주 내 구현",
	},
	{
		Priority:       "medium",
		Action:         "광고 위치 재배치",
		Description:    "상단 배너와 사이드바 광고 비중 증가",
		ExpectedImpact: "전체 CTR 8% 향상",
		Timeline:       "1주 내 적용",
	},
	{
		Priority:       "medium",
		Action:         "리타겟팅 캠페인 강화",
		Description:    "사용자 행동 단계별 맞춤형 광고 제공",
		ExpectedImpact: "전환율 12% 향상",
		Timeline:       "3주 내 구현",
	},
}

// accuracyBand picks the performance and impact phrases of the summary.
func accuracyBand(accuracy float64) (performance, impact string) {
	switch {
	case accuracy > 0.9:
		return "매우 높은 정확도(90% 이상)", "30%의 CTR 향상과 2배의 ROI 증대"
	case accuracy > 0.85:
		return "높은 정확도(85% 이상)", "25%의 CTR 향상과 1.5배의 ROI 증대"
	default:
		return "양호한 정확도", "15%의 CTR 향상과 1.2배의 ROI 증대"
	}
}

// Template builds the deterministic report. Only the summary depends on the
// run, through its accuracy band.
func Template(in Input, now time.Time) *Report {
	performance, impact := accuracyBand(in.Accuracy())
	return &Report{
		Summary:     fmt.Sprintf(summaryTemplate, performance, impact),
		Insights:    append([]models.Insight(nil), templateInsights...),
		ActionPlan:  append([]models.ActionItem(nil), templateActions...),
		GeneratedAt: now,
		ModelUsed:   TemplateModel,
	}
}
