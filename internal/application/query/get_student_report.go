package query

import (
	"context"
	"strings"

	"github.com/score-portal/score-portal/internal/domain/prediction"
	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/internal/domain/statistics"
	"github.com/score-portal/score-portal/internal/domain/trend"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STUDENT REPORT QUERY
// Everything known about one student, derived from a single snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// ExamReport is one exam of a student.
type ExamReport struct {
	Score        score.TestScore     `json:"score"`
	Rank         ranking.Rank        `json:"rank"`
	Participants int                 `json:"participants"`
	Passed       bool                `json:"passed"`
	AboveAverage bool                `json:"aboveAverage"`
	Baseline     statistics.Baseline `json:"baseline"`

	// Deltas from the previous exam; nil for the first one.
	DeltaTotal *float64 `json:"deltaTotal,omitempty"`
	DeltaAD    *float64 `json:"deltaAD,omitempty"`
	DeltaBC    *float64 `json:"deltaBC,omitempty"`
}

// StudentReport is the result of GetStudentReportHandler.
type StudentReport struct {
	StudentExternalID string                  `json:"studentExternalId"`
	DisplayName       string                  `json:"displayName"`
	ExamCount         int                     `json:"examCount"`
	PassCount         int                     `json:"passCount"`
	Exams             []ExamReport            `json:"exams"`
	Aggregate         *ranking.AggregateEntry `json:"aggregate,omitempty"`
	Policy            ranking.Policy          `json:"policy"`
	Trend             trend.Analysis          `json:"trend"`
	Prediction        prediction.Result       `json:"prediction"`
}

// GetStudentReportHandler builds student reports.
type GetStudentReportHandler struct {
	scores   score.Repository
	students score.StudentRepository
	policy   ranking.Policy
}

// NewGetStudentReportHandler creates the handler.
func NewGetStudentReportHandler(scores score.Repository, students score.StudentRepository, policy ranking.Policy) *GetStudentReportHandler {
	if policy == "" {
		policy = ranking.DefaultPolicy
	}
	return &GetStudentReportHandler{scores: scores, students: students, policy: policy}
}

// Handle builds the report. A student with neither scores nor a roster
// entry yields shared.ErrStudentNotFound.
func (h *GetStudentReportHandler) Handle(ctx context.Context, studentExternalID string) (*StudentReport, error) {
	studentExternalID = strings.TrimSpace(studentExternalID)
	if studentExternalID == "" {
		return nil, shared.ErrEmptyStudentID
	}

	snap, err := loadSnapshot(ctx, h.scores, h.students)
	if err != nil {
		return nil, err
	}
	if !snap.known(studentExternalID) {
		return nil, shared.ErrStudentNotFound
	}
	return buildReport(snap, studentExternalID, h.policy), nil
}

func buildReport(snap *snapshot, studentExternalID string, policy ranking.Policy) *StudentReport {
	rows := snap.byStudent[studentExternalID]
	chronological := score.SortChronological(rows)

	exams := make([]ExamReport, len(chronological))
	passCount := 0
	for i, s := range chronological {
		baseline := snap.baselines[s.Identity()]
		r := ExamReport{
			Score:        s,
			Rank:         snap.ranks[s.Key()],
			Participants: snap.participants[s.Identity()],
			Passed:       s.Passes(),
			AboveAverage: baseline.AboveAverage(s),
			Baseline:     baseline,
		}
		if i > 0 {
			prev := chronological[i-1]
			r.DeltaTotal = delta(s.TotalScore, prev.TotalScore)
			r.DeltaAD = delta(s.SectionAD, prev.SectionAD)
			r.DeltaBC = delta(s.SectionBC, prev.SectionBC)
		}
		if r.Passed {
			passCount++
		}
		exams[i] = r
	}

	// most recent first
	for i, j := 0, len(exams)-1; i < j; i, j = i+1, j-1 {
		exams[i], exams[j] = exams[j], exams[i]
	}

	report := &StudentReport{
		StudentExternalID: studentExternalID,
		DisplayName:       snap.displayName(studentExternalID),
		ExamCount:         len(exams),
		PassCount:         passCount,
		Exams:             exams,
		Policy:            policy,
		Trend:             trend.Analyze(rows),
		Prediction:        prediction.Predict(snap.history(studentExternalID)),
	}
	if entry, ok := ranking.FindAggregate(ranking.RankAggregate(snap.scores, policy, snap.names), studentExternalID); ok {
		report.Aggregate = &entry
	}
	return report
}

func delta(current, previous float64) *float64 {
	d := current - previous
	return &d
}
