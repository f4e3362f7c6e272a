// Package prediction implements the rule-based outcome predictor. Every call
// re-derives a feature vector from the supplied history; nothing is learned
// or persisted between calls.
package prediction

import (
	"math"
	"sort"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/trend"
)

// Normalization divisors.
const (
	totalScale      = 200.0
	sectionADScale  = 150.0
	sectionBCScale  = 50.0
	rankScale       = 100.0
	progressScale   = 50.0
	volatilityScale = 50.0
	deltaScale      = 100.0
	volumeScale     = 20.0
	windowScale     = 10.0
)

// HistoryEntry is one exam of a student's history together with the
// exam-level context the predictor needs.
type HistoryEntry struct {
	Score score.TestScore `json:"score"`
	// Rank is the per-exam rank; 0 means unknown.
	Rank int `json:"rank"`
	// ExamAverage is the exam's average total; nil means unknown.
	ExamAverage *float64 `json:"examAverage,omitempty"`
}

// Features is the engineered summary of the recent window.
type Features struct {
	HistoryLength int `json:"historyLength"`
	WindowSize    int `json:"windowSize"`

	AvgTotalScore    float64 `json:"avgTotalScore"`
	AvgSectionAD     float64 `json:"avgSectionAD"`
	AvgSectionBC     float64 `json:"avgSectionBC"`
	AvgRank          float64 `json:"avgRank"`
	HasRank          bool    `json:"hasRank"`
	Progression      float64 `json:"progression"`
	Volatility       float64 `json:"volatility"`
	PassRate         float64 `json:"passRate"`
	AboveAverageRate float64 `json:"aboveAverageRate"`

	LatestTotal       float64 `json:"latestTotal"`
	LatestSectionAD   float64 `json:"latestSectionAD"`
	LatestSectionBC   float64 `json:"latestSectionBC"`
	LatestRank        int     `json:"latestRank"`
	LatestVsAverage   float64 `json:"latestVsAverage"`
	LatestHasBaseline bool    `json:"latestHasBaseline"`
}

// NormalizedFeature is one named entry of the normalized vector.
type NormalizedFeature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// orderMostRecentFirst sorts a copy of history by test date descending.
// Entries sharing a date keep their supplied order.
func orderMostRecentFirst(history []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.TestDate > out[j].Score.TestDate
	})
	return out
}

// Extract builds the feature set. history must be non-empty and ordered
// most recent first.
func Extract(history []HistoryEntry) Features {
	window := history
	if len(window) > trend.WindowSize {
		window = window[:trend.WindowSize]
	}
	n := float64(len(window))
	latest := window[0]

	f := Features{
		HistoryLength:   len(history),
		WindowSize:      len(window),
		LatestTotal:     latest.Score.TotalScore,
		LatestSectionAD: latest.Score.SectionAD,
		LatestSectionBC: latest.Score.SectionBC,
		LatestRank:      latest.Rank,
	}
	if latest.ExamAverage != nil {
		f.LatestHasBaseline = true
		f.LatestVsAverage = latest.Score.TotalScore - *latest.ExamAverage
	}

	var ranked, rankSum, passed, above float64
	chronological := make([]score.TestScore, len(window))
	for i, e := range window {
		f.AvgTotalScore += e.Score.TotalScore
		f.AvgSectionAD += e.Score.SectionAD
		f.AvgSectionBC += e.Score.SectionBC
		if e.Rank > 0 {
			ranked++
			rankSum += float64(e.Rank)
		}
		if e.Score.Passes() {
			passed++
		}
		if e.ExamAverage != nil && e.Score.TotalScore >= *e.ExamAverage {
			above++
		}
		chronological[len(window)-1-i] = e.Score
	}
	f.AvgTotalScore /= n
	f.AvgSectionAD /= n
	f.AvgSectionBC /= n
	f.PassRate = passed / n
	f.AboveAverageRate = above / n
	if ranked > 0 {
		f.HasRank = true
		f.AvgRank = rankSum / ranked
	}

	f.Progression = trend.Progression(chronological)
	f.Volatility = trend.Volatility(chronological)
	return f
}

// Normalized returns the feature vector scaled to roughly [0,1].
func (f Features) Normalized() []NormalizedFeature {
	avgRankNorm := 0.0
	if f.HasRank {
		avgRankNorm = math.Max(0, 1-f.AvgRank/rankScale)
	}
	latestRankNorm := 0.0
	if f.LatestRank > 0 {
		latestRankNorm = math.Max(0, 1-float64(f.LatestRank)/rankScale)
	}

	return []NormalizedFeature{
		{Name: "avgTotalScore", Value: f.AvgTotalScore / totalScale},
		{Name: "avgSectionAD", Value: f.AvgSectionAD / sectionADScale},
		{Name: "avgSectionBC", Value: f.AvgSectionBC / sectionBCScale},
		{Name: "avgRank", Value: avgRankNorm},
		{Name: "progression", Value: f.Progression / progressScale},
		{Name: "volatility", Value: math.Min(1, f.Volatility/volatilityScale)},
		{Name: "passRate", Value: f.PassRate},
		{Name: "aboveAverageRate", Value: f.AboveAverageRate},
		{Name: "latestTotal", Value: f.LatestTotal / totalScale},
		{Name: "latestSectionAD", Value: f.LatestSectionAD / sectionADScale},
		{Name: "latestSectionBC", Value: f.LatestSectionBC / sectionBCScale},
		{Name: "latestRank", Value: latestRankNorm},
		{Name: "latestVsAverage", Value: f.LatestVsAverage / deltaScale},
		{Name: "dataVolume", Value: math.Min(1, float64(f.HistoryLength)/volumeScale)},
		{Name: "windowSize", Value: float64(f.WindowSize) / windowScale},
	}
}
