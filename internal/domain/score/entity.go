// Package score contains the core data model of the score portal: students,
// their per-exam score rows and the exam identity that groups them.
package score

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/score-portal/score-portal/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PASS RULE
// ══════════════════════════════════════════════════════════════════════════════

const (
	// PassAD is the minimum section_ad score required to pass.
	PassAD = 132.0
	// PassBC is the minimum section_bc score required to pass.
	PassBC = 44.0
)

// Passes reports whether the section totals satisfy both thresholds.
func Passes(sectionAD, sectionBC float64) bool {
	return sectionAD >= PassAD && sectionBC >= PassBC
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// DateLayout is the canonical test date format.
const DateLayout = "2006-01-02"

var acceptedDateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"2006.01.02",
	"2006/1/2",
	"2006-1-2",
}

// TestIdentity identifies one administered exam across all students.
type TestIdentity struct {
	Name string `json:"testName"`
	Date string `json:"testDate"`
}

// NewTestIdentity validates the name and normalizes the date to YYYY-MM-DD.
func NewTestIdentity(name, date string) (TestIdentity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TestIdentity{}, shared.ErrEmptyTestName
	}
	normalized, err := NormalizeDate(date)
	if err != nil {
		return TestIdentity{}, err
	}
	return TestIdentity{Name: name, Date: normalized}, nil
}

// NormalizeDate parses any accepted date layout and returns it as YYYY-MM-DD.
func NormalizeDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", shared.WrapError("score", "NormalizeDate", shared.ErrInvalidFormat,
		fmt.Sprintf("invalid test date %q", date), shared.ErrInvalidTestDate)
}

// String returns "name (date)".
func (t TestIdentity) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Date)
}

// IsZero reports whether the identity is unset.
func (t TestIdentity) IsZero() bool {
	return t.Name == "" && t.Date == ""
}

// ScoreKey is the uniqueness key of a score row.
type ScoreKey struct {
	StudentExternalID string `json:"studentExternalId"`
	TestName          string `json:"testName"`
	TestDate          string `json:"testDate"`
}

// Identity returns the exam part of the key.
func (k ScoreKey) Identity() TestIdentity {
	return TestIdentity{Name: k.TestName, Date: k.TestDate}
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student is a roster entry. Only CredentialHash changes after creation.
type Student struct {
	ID             string    `json:"id"`
	ExternalID     string    `json:"externalId"`
	DisplayName    string    `json:"displayName"`
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks the required roster fields.
func (s Student) Validate() error {
	if strings.TrimSpace(s.ExternalID) == "" {
		return shared.ErrEmptyStudentID
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST SCORE
// ══════════════════════════════════════════════════════════════════════════════

// TestScore is one student's result on one exam.
// SectionAD and SectionBC are stored as supplied, not derived from the parts.
type TestScore struct {
	ID                string    `json:"id"`
	StudentExternalID string    `json:"studentExternalId"`
	TestName          string    `json:"testName"`
	TestDate          string    `json:"testDate"`
	SectionA          float64   `json:"sectionA"`
	SectionB          float64   `json:"sectionB"`
	SectionC          float64   `json:"sectionC"`
	SectionD          float64   `json:"sectionD"`
	SectionAD         float64   `json:"sectionAD"`
	SectionBC         float64   `json:"sectionBC"`
	TotalScore        float64   `json:"totalScore"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Identity returns the exam this score belongs to.
func (s TestScore) Identity() TestIdentity {
	return TestIdentity{Name: s.TestName, Date: s.TestDate}
}

// Key returns the uniqueness key of the row.
func (s TestScore) Key() ScoreKey {
	return ScoreKey{StudentExternalID: s.StudentExternalID, TestName: s.TestName, TestDate: s.TestDate}
}

// Passes applies the pass rule to this score.
func (s TestScore) Passes() bool {
	return Passes(s.SectionAD, s.SectionBC)
}

// Validate checks the key fields and that no score is negative.
func (s TestScore) Validate() error {
	if strings.TrimSpace(s.StudentExternalID) == "" {
		return shared.ErrEmptyStudentID
	}
	if strings.TrimSpace(s.TestName) == "" {
		return shared.ErrEmptyTestName
	}
	if _, err := time.Parse(DateLayout, s.TestDate); err != nil {
		return shared.ErrInvalidTestDate
	}
	for _, v := range s.values() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return shared.NewDomainError("score", "Validate", shared.ErrNegativeValue,
				fmt.Sprintf("invalid score value %v for student %s", v, s.StudentExternalID))
		}
	}
	return nil
}

// SectionsConsistent reports whether AD equals A+D and BC equals B+C.
func (s TestScore) SectionsConsistent() bool {
	const eps = 1e-6
	return math.Abs(s.SectionA+s.SectionD-s.SectionAD) < eps &&
		math.Abs(s.SectionB+s.SectionC-s.SectionBC) < eps
}

func (s TestScore) values() []float64 {
	return []float64{s.SectionA, s.SectionB, s.SectionC, s.SectionD, s.SectionAD, s.SectionBC, s.TotalScore}
}

// SortChronological returns a copy ordered by test date ascending, then by
// test name. The input is left untouched.
func SortChronological(scores []TestScore) []TestScore {
	out := make([]TestScore, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TestDate != out[j].TestDate {
			return out[i].TestDate < out[j].TestDate
		}
		return out[i].TestName < out[j].TestName
	})
	return out
}

// SortMostRecentFirst returns a copy ordered by test date descending.
func SortMostRecentFirst(scores []TestScore) []TestScore {
	out := SortChronological(scores)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// GroupByTest splits scores by exam identity.
func GroupByTest(scores []TestScore) map[TestIdentity][]TestScore {
	groups := make(map[TestIdentity][]TestScore)
	for _, s := range scores {
		id := s.Identity()
		groups[id] = append(groups[id], s)
	}
	return groups
}
