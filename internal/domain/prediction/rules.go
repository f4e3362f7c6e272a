package prediction

import "github.com/score-portal/score-portal/internal/domain/score"

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLD TABLE
// ══════════════════════════════════════════════════════════════════════════════

// Base probability before any adjustment.
const baseProbability = 0.5

// Average total score tiers.
const (
	avgTotalExcellent    = 180.0
	avgTotalGood         = 150.0
	avgTotalAdequate     = 120.0
	adjAvgTotalExcellent = 0.3
	adjAvgTotalGood      = 0.2
	adjAvgTotalAdequate  = 0.1
	adjAvgTotalLow       = -0.2
)

// Pass rate tiers.
const (
	passRateHigh    = 0.8
	passRateFair    = 0.6
	passRateLow     = 0.3
	adjPassRateHigh = 0.2
	adjPassRateFair = 0.1
	adjPassRateLow  = -0.3
)

// Progression tiers.
const (
	progressionRising  = 5.0
	progressionFalling = -5.0
	adjRising          = 0.15
	adjFalling         = -0.15
)

// Average rank tiers.
const (
	avgRankTop10 = 10.0
	avgRankTop20 = 20.0
	avgRankLow   = 50.0
	adjRankTop10 = 0.15
	adjRankTop20 = 0.1
	adjRankLow   = -0.1
)

// National exam probability trails graduation by a margin, with a bonus on a
// strong latest result.
const (
	nationalMargin  = 0.1
	nationalBonusAD = 140.0
	nationalBonusBC = 47.0
	nationalBonus   = 0.1
)

// Confidence grows with history length.
const (
	confidenceBase    = 0.3
	confidencePerExam = 0.1
	confidenceMax     = 0.9
	confidenceEmpty   = 0.1
)

// Explanatory factor thresholds that do not change the probability.
const (
	factorAvgStrong      = 160.0
	factorAvgWeak        = 130.0
	factorPassRateStrong = 0.7
	factorPassRateWeak   = 0.5
	factorTrendUp        = 3.0
	factorTrendDown      = -3.0
	factorRankStrong     = 15.0
	factorRankWeak       = 40.0
	factorAboveAverage   = 0.7
	factorLatestBCWeak   = 40.0
	factorLatestADWeak   = 120.0
)

// Recommendation thresholds.
const (
	recommendRankAbove    = 30.0
	recommendPassRateLess = 0.6
)

// Factor and recommendation texts.
const (
	FactorInsufficientData = "insufficient data"

	RecommendRecordMore    = "record more exam results"
	RecommendMandatory     = "strengthen mandatory-section practice"
	RecommendGeneral       = "increase general-section practice"
	RecommendReviewMethods = "review study methods and identify weak areas"
	RecommendMockExams     = "take regular mock exams to check progress"
	RecommendFundamentals  = "consolidate fundamental knowledge"
	RecommendKeepPace      = "keep up the current study pace"
)

// Factors holds the human-readable explanation of a prediction.
type Factors struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

func (fs *Factors) add(positive bool, text string) {
	list := &fs.Negative
	if positive {
		list = &fs.Positive
	}
	for _, existing := range *list {
		if existing == text {
			return
		}
	}
	*list = append(*list, text)
}

// adjust applies the tiered probability rules. Each rule that changes the
// probability contributes one factor.
func adjust(f Features, factors *Factors) float64 {
	p := baseProbability

	switch {
	case f.AvgTotalScore >= avgTotalExcellent:
		p += adjAvgTotalExcellent
		factors.add(true, "average total score of 180 or more")
	case f.AvgTotalScore >= avgTotalGood:
		p += adjAvgTotalGood
		factors.add(true, "average total score of 150 or more")
	case f.AvgTotalScore >= avgTotalAdequate:
		p += adjAvgTotalAdequate
		factors.add(true, "average total score of 120 or more")
	default:
		p += adjAvgTotalLow
		factors.add(false, "average total score below 120")
	}

	switch {
	case f.PassRate >= passRateHigh:
		p += adjPassRateHigh
		factors.add(true, "passes the cutoff in nearly every recent exam")
	case f.PassRate >= passRateFair:
		p += adjPassRateFair
		factors.add(true, "passes the cutoff in most recent exams")
	case f.PassRate < passRateLow:
		p += adjPassRateLow
		factors.add(false, "rarely reaches the pass cutoff")
	}

	switch {
	case f.Progression > progressionRising:
		p += adjRising
		factors.add(true, "scores are rising")
	case f.Progression < progressionFalling:
		p += adjFalling
		factors.add(false, "scores are falling")
	}

	if f.HasRank {
		switch {
		case f.AvgRank <= avgRankTop10:
			p += adjRankTop10
			factors.add(true, "average rank within the top 10")
		case f.AvgRank <= avgRankTop20:
			p += adjRankTop20
			factors.add(true, "average rank within the top 20")
		case f.AvgRank > avgRankLow:
			p += adjRankLow
			factors.add(false, "average rank below 50th place")
		}
	}
	return p
}

// explain adds the factor rules that do not affect the probability.
func explain(f Features, factors *Factors) {
	if f.AvgTotalScore >= factorAvgStrong {
		factors.add(true, "strong overall results")
	}
	if f.PassRate >= factorPassRateStrong {
		factors.add(true, "keeps a high pass rate")
	}
	if f.Progression > factorTrendUp {
		factors.add(true, "upward score trend")
	}
	if f.HasRank && f.AvgRank <= factorRankStrong {
		factors.add(true, "holds a top ranking position")
	}
	if f.AboveAverageRate >= factorAboveAverage {
		factors.add(true, "consistently above the exam average")
	}

	if f.AvgTotalScore < factorAvgWeak {
		factors.add(false, "overall results need improvement")
	}
	if f.PassRate < factorPassRateWeak {
		factors.add(false, "low pass rate")
	}
	if f.Progression < factorTrendDown {
		factors.add(false, "downward score trend")
	}
	if f.HasRank && f.AvgRank > factorRankWeak {
		factors.add(false, "ranking needs improvement")
	}
	if f.LatestSectionBC < factorLatestBCWeak {
		factors.add(false, "mandatory section needs reinforcement")
	}
	if f.LatestSectionAD < factorLatestADWeak {
		factors.add(false, "general section fundamentals need work")
	}
}

// recommend evaluates the ordered recommendation rules.
func recommend(f Features) []string {
	var out []string
	if f.LatestSectionBC < score.PassBC {
		out = append(out, RecommendMandatory)
	}
	if f.LatestSectionAD < score.PassAD {
		out = append(out, RecommendGeneral)
	}
	if f.Progression < 0 {
		out = append(out, RecommendReviewMethods)
	}
	if f.HasRank && f.AvgRank > recommendRankAbove {
		out = append(out, RecommendMockExams)
	}
	if f.PassRate < recommendPassRateLess {
		out = append(out, RecommendFundamentals)
	}
	if len(out) == 0 {
		out = append(out, RecommendKeepPace)
	}
	return out
}
