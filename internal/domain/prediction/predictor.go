package prediction

import (
	"math"

	"github.com/score-portal/score-portal/internal/domain/score"
)

// Result is the outcome of Predict. Probabilities are within [0,1] and
// Confidence within [0.1,0.9].
type Result struct {
	GraduationProbability   float64   `json:"graduationProbability"`
	NationalExamProbability float64   `json:"nationalExamProbability"`
	Confidence              float64   `json:"confidence"`
	Factors                 Factors   `json:"factors"`
	Recommendations         []string  `json:"recommendations"`
	Features                *Features `json:"features,omitempty"`
}

// Predict scores a student's history. It is a total function: an empty
// history yields the low-confidence default instead of an error.
// history may come in any order; a sorted copy is used and the input is
// never mutated.
func Predict(history []HistoryEntry) Result {
	if len(history) == 0 {
		return Result{
			GraduationProbability:   baseProbability,
			NationalExamProbability: baseProbability,
			Confidence:              confidenceEmpty,
			Factors: Factors{
				Positive: []string{},
				Negative: []string{FactorInsufficientData},
			},
			Recommendations: []string{RecommendRecordMore},
		}
	}

	f := Extract(orderMostRecentFirst(history))

	factors := Factors{Positive: []string{}, Negative: []string{}}
	graduation := clamp01(adjust(f, &factors))
	explain(f, &factors)

	national := math.Max(0, graduation-nationalMargin)
	if f.LatestSectionAD >= nationalBonusAD && f.LatestSectionBC >= nationalBonusBC {
		national += nationalBonus
	}

	return Result{
		GraduationProbability:   graduation,
		NationalExamProbability: clamp01(national),
		Confidence:              math.Min(confidenceMax, confidenceBase+confidencePerExam*float64(f.HistoryLength)),
		Factors:                 factors,
		Recommendations:         recommend(f),
		Features:                &f,
	}
}

// FromScores builds a history from raw scores and optional per-exam ranks and
// averages. Missing ranks or averages are left unknown.
func FromScores(scores []score.TestScore, ranks map[score.ScoreKey]int, averages map[score.TestIdentity]float64) []HistoryEntry {
	ordered := score.SortMostRecentFirst(scores)
	out := make([]HistoryEntry, 0, len(ordered))
	for _, s := range ordered {
		e := HistoryEntry{Score: s, Rank: ranks[s.Key()]}
		if avg, ok := averages[s.Identity()]; ok {
			avg := avg
			e.ExamAverage = &avg
		}
		out = append(out, e)
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
