package query

import (
	"context"

	"github.com/score-portal/score-portal/internal/domain/score"
)

// ListTestsHandler lists recorded exams, most recent first.
type ListTestsHandler struct {
	scores score.Repository
}

// NewListTestsHandler creates the handler.
func NewListTestsHandler(scores score.Repository) *ListTestsHandler {
	return &ListTestsHandler{scores: scores}
}

// Handle returns every exam with its participant count.
func (h *ListTestsHandler) Handle(ctx context.Context) ([]score.TestSummary, error) {
	return h.scores.ListTests(ctx)
}
