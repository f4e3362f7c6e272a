// Package statistics computes per-exam baselines: the mean of every section
// and of the total across all students who sat the exam.
package statistics

import (
	"sort"

	"github.com/score-portal/score-portal/internal/domain/score"
)

// Baseline holds the averages of one exam. An exam without rows yields a
// zero baseline, never NaN.
type Baseline struct {
	Identity     score.TestIdentity `json:"identity"`
	Count        int                `json:"count"`
	PassCount    int                `json:"passCount"`
	PassRate     float64            `json:"passRate"`
	AvgSectionA  float64            `json:"avgSectionA"`
	AvgSectionB  float64            `json:"avgSectionB"`
	AvgSectionC  float64            `json:"avgSectionC"`
	AvgSectionD  float64            `json:"avgSectionD"`
	AvgSectionAD float64            `json:"avgSectionAD"`
	AvgSectionBC float64            `json:"avgSectionBC"`
	AvgTotal     float64            `json:"avgTotal"`
	MaxTotal     float64            `json:"maxTotal"`
	MinTotal     float64            `json:"minTotal"`
	MedianTotal  float64            `json:"medianTotal"`
}

// Compute builds the baseline of id from scores. Rows of other exams are
// ignored so callers may pass a wider snapshot.
func Compute(id score.TestIdentity, scores []score.TestScore) Baseline {
	b := Baseline{Identity: id}

	totals := make([]float64, 0, len(scores))
	var sumA, sumB, sumC, sumD, sumAD, sumBC, sumTotal float64
	for _, s := range scores {
		if s.Identity() != id {
			continue
		}
		b.Count++
		if s.Passes() {
			b.PassCount++
		}
		sumA += s.SectionA
		sumB += s.SectionB
		sumC += s.SectionC
		sumD += s.SectionD
		sumAD += s.SectionAD
		sumBC += s.SectionBC
		sumTotal += s.TotalScore
		totals = append(totals, s.TotalScore)
	}

	if b.Count == 0 {
		return b
	}

	n := float64(b.Count)
	b.AvgSectionA = sumA / n
	b.AvgSectionB = sumB / n
	b.AvgSectionC = sumC / n
	b.AvgSectionD = sumD / n
	b.AvgSectionAD = sumAD / n
	b.AvgSectionBC = sumBC / n
	b.AvgTotal = sumTotal / n
	b.PassRate = float64(b.PassCount) / n

	sort.Float64s(totals)
	b.MinTotal = totals[0]
	b.MaxTotal = totals[len(totals)-1]
	mid := len(totals) / 2
	if len(totals)%2 == 0 {
		b.MedianTotal = (totals[mid-1] + totals[mid]) / 2
	} else {
		b.MedianTotal = totals[mid]
	}
	return b
}

// ComputeAll builds a baseline for every exam present in scores.
func ComputeAll(scores []score.TestScore) map[score.TestIdentity]Baseline {
	out := make(map[score.TestIdentity]Baseline)
	for id, rows := range score.GroupByTest(scores) {
		out[id] = Compute(id, rows)
	}
	return out
}

// AboveAverage reports whether s reached its exam's average total.
func (b Baseline) AboveAverage(s score.TestScore) bool {
	return s.TotalScore >= b.AvgTotal
}
