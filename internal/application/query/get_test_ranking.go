package query

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/score-portal/score-portal/internal/domain/ranking"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/statistics"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TEST RANKING QUERY
// Competition ranking of one exam by total score.
// ══════════════════════════════════════════════════════════════════════════════

// GetTestRankingQuery names the exam. Limit 0 returns every entry.
type GetTestRankingQuery struct {
	TestName string
	TestDate string
	Limit    int
}

// TestRankingResult is the ranked exam.
type TestRankingResult struct {
	Test         score.TestIdentity  `json:"test"`
	Participants int                 `json:"participants"`
	PassCount    int                 `json:"passCount"`
	Entries      []ranking.ExamEntry `json:"entries"`
}

// GetTestRankingHandler handles GetTestRankingQuery.
type GetTestRankingHandler struct {
	scores   score.Repository
	students score.StudentRepository
}

// NewGetTestRankingHandler creates the handler. students may be nil, in
// which case display names fall back to external ids.
func NewGetTestRankingHandler(scores score.Repository, students score.StudentRepository) *GetTestRankingHandler {
	return &GetTestRankingHandler{scores: scores, students: students}
}

// Handle ranks the exam. An exam without rows yields an empty ranking.
func (h *GetTestRankingHandler) Handle(ctx context.Context, q GetTestRankingQuery) (*TestRankingResult, error) {
	id, err := score.NewTestIdentity(q.TestName, q.TestDate)
	if err != nil {
		return nil, err
	}

	rows, names, err := h.load(ctx, id)
	if err != nil {
		return nil, err
	}

	exam := ranking.RankExam(id, rows, names)
	entries := exam.All()
	if q.Limit > 0 {
		entries = exam.Top(q.Limit)
	}
	return &TestRankingResult{
		Test:         id,
		Participants: exam.Count(),
		PassCount:    exam.PassCount(),
		Entries:      entries,
	}, nil
}

func (h *GetTestRankingHandler) load(ctx context.Context, id score.TestIdentity) ([]score.TestScore, ranking.Names, error) {
	var (
		rows   []score.TestScore
		roster []score.Student
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = h.scores.ListScoresByTest(gctx, id)
		return err
	})
	if h.students != nil {
		g.Go(func() error {
			var err error
			roster, err = h.students.ListStudents(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	names := make(ranking.Names, len(roster))
	for _, st := range roster {
		names[st.ExternalID] = st.DisplayName
	}
	return rows, names, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET TEST STATS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetTestStatsHandler computes the baseline of one exam.
type GetTestStatsHandler struct {
	scores score.Repository
}

// NewGetTestStatsHandler creates the handler.
func NewGetTestStatsHandler(scores score.Repository) *GetTestStatsHandler {
	return &GetTestStatsHandler{scores: scores}
}

// Handle returns the exam baseline; an exam without rows yields zeros.
func (h *GetTestStatsHandler) Handle(ctx context.Context, testName, testDate string) (*statistics.Baseline, error) {
	id, err := score.NewTestIdentity(testName, testDate)
	if err != nil {
		return nil, err
	}
	rows, err := h.scores.ListScoresByTest(ctx, id)
	if err != nil {
		return nil, err
	}
	b := statistics.Compute(id, rows)
	return &b, nil
}
