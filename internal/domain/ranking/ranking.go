// Package ranking computes per-exam competition rankings and the cross-exam
// aggregate ranking of students.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Rank is a 1-based position. Tied students share a rank and the following
// rank skips accordingly (1, 1, 3).
type Rank int

// IsValid checks that the rank is positive.
func (r Rank) IsValid() bool {
	return r > 0
}

// IsTop10 reports whether the rank is within the first ten places.
func (r Rank) IsTop10() bool {
	return r >= 1 && r <= 10
}

// String returns "#N".
func (r Rank) String() string {
	return fmt.Sprintf("#%d", r)
}

// Names maps a student external id to a display name. A nil map is valid.
// Students without a name are shown by their external id.
type Names map[string]string

func (n Names) lookup(id string) string {
	if name := n[id]; name != "" {
		return name
	}
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-EXAM RANKING
// ══════════════════════════════════════════════════════════════════════════════

// ExamEntry is one row of an exam ranking.
type ExamEntry struct {
	Rank        Rank            `json:"rank"`
	DisplayName string          `json:"displayName"`
	Passed      bool            `json:"passed"`
	Score       score.TestScore `json:"score"`
}

// ExamRanking is the ordered ranking of one exam.
type ExamRanking struct {
	Identity score.TestIdentity
	entries  []ExamEntry
	byID     map[string]int
}

// RankExam orders the scores by total descending and assigns competition
// ranks. Equal totals are listed by student external id ascending; the order
// among them never changes the rank value. The input slice is not modified.
func RankExam(id score.TestIdentity, scores []score.TestScore, names Names) *ExamRanking {
	entries := make([]ExamEntry, 0, len(scores))
	for _, s := range scores {
		if s.Identity() != id {
			continue
		}
		entries = append(entries, ExamEntry{
			DisplayName: names.lookup(s.StudentExternalID),
			Passed:      s.Passes(),
			Score:       s,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score.TotalScore != entries[j].Score.TotalScore {
			return entries[i].Score.TotalScore > entries[j].Score.TotalScore
		}
		return entries[i].Score.StudentExternalID < entries[j].Score.StudentExternalID
	})

	r := &ExamRanking{Identity: id, entries: entries, byID: make(map[string]int, len(entries))}
	for i := range r.entries {
		if i > 0 && r.entries[i].Score.TotalScore == r.entries[i-1].Score.TotalScore {
			r.entries[i].Rank = r.entries[i-1].Rank
		} else {
			r.entries[i].Rank = Rank(i + 1)
		}
		r.byID[r.entries[i].Score.StudentExternalID] = i
	}
	return r
}

// All returns a copy of the ordered entries.
func (r *ExamRanking) All() []ExamEntry {
	out := make([]ExamEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Count returns the number of ranked students.
func (r *ExamRanking) Count() int {
	return len(r.entries)
}

// GetByID returns the entry of a student.
func (r *ExamRanking) GetByID(studentExternalID string) (ExamEntry, bool) {
	i, ok := r.byID[studentExternalID]
	if !ok {
		return ExamEntry{}, false
	}
	return r.entries[i], true
}

// Top returns the first n entries.
func (r *ExamRanking) Top(n int) []ExamEntry {
	if n <= 0 {
		return nil
	}
	if n > len(r.entries) {
		n = len(r.entries)
	}
	return r.All()[:n]
}

// PassCount returns how many ranked students passed.
func (r *ExamRanking) PassCount() int {
	count := 0
	for _, e := range r.entries {
		if e.Passed {
			count++
		}
	}
	return count
}

// RanksByKey ranks every exam found in scores and returns the per-exam rank
// of each row together with the number of participants of each exam.
func RanksByKey(scores []score.TestScore) (map[score.ScoreKey]Rank, map[score.TestIdentity]int) {
	ranks := make(map[score.ScoreKey]Rank, len(scores))
	sizes := make(map[score.TestIdentity]int)
	for id, rows := range score.GroupByTest(scores) {
		exam := RankExam(id, rows, nil)
		sizes[id] = exam.Count()
		for _, e := range exam.entries {
			ranks[e.Score.Key()] = e.Rank
		}
	}
	return ranks, sizes
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE RANKING
// ══════════════════════════════════════════════════════════════════════════════

// Policy selects how the cross-exam ranking orders students.
type Policy string

const (
	// PolicyAverageRank orders by mean per-exam rank ascending.
	PolicyAverageRank Policy = "average_rank"
	// PolicyAverageScore orders by mean total score descending.
	PolicyAverageScore Policy = "average_score"
)

// DefaultPolicy is the canonical aggregate semantics.
const DefaultPolicy = PolicyAverageRank

// ParsePolicy accepts the policy names case-insensitively. An empty string
// yields the default policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultPolicy, nil
	case string(PolicyAverageRank), "rank":
		return PolicyAverageRank, nil
	case string(PolicyAverageScore), "score":
		return PolicyAverageScore, nil
	default:
		return "", shared.WrapError("ranking", "ParsePolicy", shared.ErrInvalidInput,
			fmt.Sprintf("unknown aggregate policy %q", s), shared.ErrUnknownPolicy)
	}
}

// AggregateEntry is one row of the cross-exam ranking.
type AggregateEntry struct {
	Rank              Rank    `json:"rank"`
	StudentExternalID string  `json:"studentExternalId"`
	DisplayName       string  `json:"displayName"`
	AverageRank       float64 `json:"averageRank"`
	AverageScore      float64 `json:"averageScore"`
	ExamCount         int     `json:"examCount"`
}

const tieEpsilon = 1e-9

// RankAggregate ranks students across every exam present in scores.
// Students with equal metric values share a rank; ties are listed by
// external id ascending.
func RankAggregate(scores []score.TestScore, policy Policy, names Names) []AggregateEntry {
	if policy == "" {
		policy = DefaultPolicy
	}

	ranks, _ := RanksByKey(scores)

	type acc struct {
		rankSum  float64
		scoreSum float64
		count    int
	}
	byStudent := make(map[string]*acc)
	for _, s := range scores {
		a, ok := byStudent[s.StudentExternalID]
		if !ok {
			a = &acc{}
			byStudent[s.StudentExternalID] = a
		}
		a.rankSum += float64(ranks[s.Key()])
		a.scoreSum += s.TotalScore
		a.count++
	}

	entries := make([]AggregateEntry, 0, len(byStudent))
	for id, a := range byStudent {
		entries = append(entries, AggregateEntry{
			StudentExternalID: id,
			DisplayName:       names.lookup(id),
			AverageRank:       a.rankSum / float64(a.count),
			AverageScore:      a.scoreSum / float64(a.count),
			ExamCount:         a.count,
		})
	}

	metric := func(e AggregateEntry) float64 { return e.AverageRank }
	better := func(a, b float64) bool { return a < b }
	if policy == PolicyAverageScore {
		metric = func(e AggregateEntry) float64 { return e.AverageScore }
		better = func(a, b float64) bool { return a > b }
	}

	sort.Slice(entries, func(i, j int) bool {
		mi, mj := metric(entries[i]), metric(entries[j])
		if math.Abs(mi-mj) > tieEpsilon {
			return better(mi, mj)
		}
		return entries[i].StudentExternalID < entries[j].StudentExternalID
	})

	for i := range entries {
		if i > 0 && math.Abs(metric(entries[i])-metric(entries[i-1])) <= tieEpsilon {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = Rank(i + 1)
		}
	}
	return entries
}

// FindAggregate returns the entry of one student.
func FindAggregate(entries []AggregateEntry, studentExternalID string) (AggregateEntry, bool) {
	for _, e := range entries {
		if e.StudentExternalID == studentExternalID {
			return e, true
		}
	}
	return AggregateEntry{}, false
}
