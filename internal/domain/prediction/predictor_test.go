package prediction

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/internal/domain/score"
)

func entry(date string, total, ad, bc float64, rank int, avg *float64) HistoryEntry {
	return HistoryEntry{
		Score: score.TestScore{
			StudentExternalID: "s1",
			TestName:          "Mock " + date,
			TestDate:          date,
			SectionAD:         ad,
			SectionBC:         bc,
			TotalScore:        total,
		},
		Rank:        rank,
		ExamAverage: avg,
	}
}

func ptr(v float64) *float64 { return &v }

func TestPredict_EmptyHistory(t *testing.T) {
	r := Predict(nil)

	assert.Equal(t, 0.5, r.GraduationProbability)
	assert.Equal(t, 0.5, r.NationalExamProbability)
	assert.Equal(t, 0.1, r.Confidence)
	assert.Empty(t, r.Factors.Positive)
	assert.Equal(t, []string{FactorInsufficientData}, r.Factors.Negative)
	assert.Equal(t, []string{RecommendRecordMore}, r.Recommendations)
	assert.Nil(t, r.Features)
}

func TestPredict_TrendScenario(t *testing.T) {
	history := []HistoryEntry{
		entry("2024-03-01", 190, 140, 48, 0, nil),
		entry("2024-02-01", 160, 125, 40, 0, nil),
		entry("2024-01-01", 145, 110, 35, 0, nil),
	}

	r := Predict(history)

	require.NotNil(t, r.Features)
	assert.InDelta(t, 1.0/3, r.Features.PassRate, 1e-9)
	assert.InDelta(t, 22.5, r.Features.Progression, 1e-9)
	assert.InDelta(t, 165.0, r.Features.AvgTotalScore, 1e-9)
	assert.False(t, r.Features.HasRank)

	assert.InDelta(t, 0.85, r.GraduationProbability, 1e-9)
	assert.InDelta(t, 0.85, r.NationalExamProbability, 1e-9)
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)

	assert.Contains(t, r.Factors.Positive, "scores are rising")
	assert.Contains(t, r.Factors.Positive, "average total score of 150 or more")
	assert.Contains(t, r.Factors.Negative, "low pass rate")
	assert.Equal(t, []string{RecommendFundamentals}, r.Recommendations)
}

func TestPredict_SortsMostRecentFirst(t *testing.T) {
	shuffled := []HistoryEntry{
		entry("2024-01-01", 145, 110, 35, 0, nil),
		entry("2024-03-01", 190, 140, 48, 0, nil),
		entry("2024-02-01", 160, 125, 40, 0, nil),
	}

	r := Predict(shuffled)

	require.NotNil(t, r.Features)
	assert.Equal(t, 190.0, r.Features.LatestTotal)
	assert.InDelta(t, 22.5, r.Features.Progression, 1e-9)
	assert.Equal(t, 145.0, shuffled[0].Score.TotalScore)
}

func TestPredict_StrongStudentClampsToOne(t *testing.T) {
	history := []HistoryEntry{
		entry("2024-03-01", 195, 145, 50, 1, ptr(150)),
		entry("2024-02-01", 185, 140, 45, 2, ptr(150)),
		entry("2024-01-01", 180, 135, 45, 3, ptr(150)),
	}

	r := Predict(history)

	// 0.5 + 0.3 + 0.2 + 0.15 + 0.15 = 1.3 before clamping
	assert.Equal(t, 1.0, r.GraduationProbability)
	assert.InDelta(t, 1.0, r.NationalExamProbability, 1e-9)
	assert.Equal(t, []string{RecommendKeepPace}, r.Recommendations)
	assert.Contains(t, r.Factors.Positive, "average rank within the top 10")
	assert.Contains(t, r.Factors.Positive, "consistently above the exam average")
	assert.Empty(t, r.Factors.Negative)
	assert.InDelta(t, 1.0, r.Features.AboveAverageRate, 1e-9)
}

func TestPredict_WeakStudent(t *testing.T) {
	history := []HistoryEntry{
		entry("2024-03-01", 90, 70, 20, 80, ptr(150)),
		entry("2024-02-01", 110, 80, 30, 70, ptr(150)),
	}

	r := Predict(history)

	// 0.5 - 0.2 - 0.3 - 0.15 - 0.1 < 0
	assert.Equal(t, 0.0, r.GraduationProbability)
	assert.Equal(t, 0.0, r.NationalExamProbability)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	assert.Equal(t, []string{
		RecommendMandatory,
		RecommendGeneral,
		RecommendReviewMethods,
		RecommendMockExams,
		RecommendFundamentals,
	}, r.Recommendations)
	assert.Contains(t, r.Factors.Negative, "mandatory section needs reinforcement")
	assert.Contains(t, r.Factors.Negative, "average rank below 50th place")
}

func TestPredict_NationalBonusNeedsBothSections(t *testing.T) {
	base := []HistoryEntry{entry("2024-01-01", 150, 140, 46, 0, nil)}
	withBonus := []HistoryEntry{entry("2024-01-01", 150, 140, 47, 0, nil)}

	r1 := Predict(base)
	r2 := Predict(withBonus)

	assert.InDelta(t, r1.GraduationProbability-0.1, r1.NationalExamProbability, 1e-9)
	assert.InDelta(t, r2.GraduationProbability, r2.NationalExamProbability, 1e-9)
}

func TestPredict_ConfidenceCapped(t *testing.T) {
	var history []HistoryEntry
	for i := 0; i < 12; i++ {
		history = append(history, entry(fmt.Sprintf("2024-%02d-01", i+1), 150, 132, 44, 10, nil))
	}

	r := Predict(history)

	assert.Equal(t, 0.9, r.Confidence)
	assert.Equal(t, 12, r.Features.HistoryLength)
	assert.Equal(t, 3, r.Features.WindowSize)
}

func TestPredict_BoundedOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		n := rng.Intn(25)
		history := make([]HistoryEntry, n)
		for j := range history {
			var avg *float64
			if rng.Intn(2) == 0 {
				avg = ptr(rng.Float64() * 200)
			}
			history[j] = entry(
				fmt.Sprintf("20%02d-%02d-%02d", rng.Intn(30), rng.Intn(12)+1, rng.Intn(28)+1),
				rng.Float64()*250,
				rng.Float64()*200,
				rng.Float64()*60,
				rng.Intn(150),
				avg,
			)
		}

		r := Predict(history)

		assert.GreaterOrEqual(t, r.GraduationProbability, 0.0)
		assert.LessOrEqual(t, r.GraduationProbability, 1.0)
		assert.GreaterOrEqual(t, r.NationalExamProbability, 0.0)
		assert.LessOrEqual(t, r.NationalExamProbability, 1.0)
		assert.GreaterOrEqual(t, r.Confidence, 0.1)
		assert.LessOrEqual(t, r.Confidence, 0.9)
		assert.NotEmpty(t, r.Recommendations)
	}
}

func TestFeatures_Normalized(t *testing.T) {
	f := Extract([]HistoryEntry{entry("2024-01-01", 100, 75, 25, 150, ptr(80))})

	byName := map[string]float64{}
	for _, nf := range f.Normalized() {
		byName[nf.Name] = nf.Value
	}

	assert.Len(t, byName, 15)
	assert.InDelta(t, 0.5, byName["avgTotalScore"], 1e-9)
	assert.InDelta(t, 0.5, byName["avgSectionAD"], 1e-9)
	assert.InDelta(t, 0.5, byName["avgSectionBC"], 1e-9)
	assert.Equal(t, 0.0, byName["avgRank"])
	assert.InDelta(t, 0.2, byName["latestVsAverage"], 1e-9)
	assert.InDelta(t, 0.05, byName["dataVolume"], 1e-9)
	assert.InDelta(t, 0.1, byName["windowSize"], 1e-9)
}

func TestFromScores(t *testing.T) {
	s1 := score.TestScore{StudentExternalID: "s1", TestName: "A", TestDate: "2024-01-01", TotalScore: 100}
	s2 := score.TestScore{StudentExternalID: "s1", TestName: "B", TestDate: "2024-02-01", TotalScore: 120}

	history := FromScores([]score.TestScore{s1, s2},
		map[score.ScoreKey]int{s1.Key(): 4},
		map[score.TestIdentity]float64{s2.Identity(): 110})

	require.Len(t, history, 2)
	assert.Equal(t, "B", history[0].Score.TestName)
	assert.Equal(t, 0, history[0].Rank)
	require.NotNil(t, history[0].ExamAverage)
	assert.Equal(t, 110.0, *history[0].ExamAverage)
	assert.Equal(t, 4, history[1].Rank)
	assert.Nil(t, history[1].ExamAverage)
}

func TestVisualize(t *testing.T) {
	assert.Equal(t, ColorHigh, ColorFor(0.7))
	assert.Equal(t, ColorMedium, ColorFor(0.5))
	assert.Equal(t, ColorLow, ColorFor(0.49))

	v := Visualize(Predict([]HistoryEntry{entry("2024-01-01", 150, 132, 44, 5, nil)}))

	require.Len(t, v.ChartData, 2)
	assert.Equal(t, ModelVersion, v.Metadata.ModelVersion)
	assert.Equal(t, 15, v.Metadata.FeatureCount)
	assert.Equal(t, 1, v.Metadata.HistoryLength)

	empty := Visualize(Predict(nil))
	assert.Equal(t, ColorMedium, empty.ChartData[0].Color)
	assert.InDelta(t, 10.0, empty.ConfidenceLevel, 1e-9)
	assert.Zero(t, empty.Metadata.FeatureCount)
}
