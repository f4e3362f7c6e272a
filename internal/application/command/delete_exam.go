package command

import (
	"context"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELETE TEST COMMAND
// Removes every student's row of one exam.
// ══════════════════════════════════════════════════════════════════════════════

// DeleteTestCommand names the exam to remove.
type DeleteTestCommand struct {
	TestName string
	TestDate string
}

// DeleteTestResult reports the number of removed rows.
type DeleteTestResult struct {
	Test         score.TestIdentity `json:"test"`
	DeletedCount int                `json:"deletedCount"`
}

// DeleteTestHandler handles DeleteTestCommand.
type DeleteTestHandler struct {
	scores      score.Repository
	locker      ImportLocker
	invalidator RankingInvalidator
	log         *logger.Logger
}

// NewDeleteTestHandler creates the handler.
func NewDeleteTestHandler(scores score.Repository, locker ImportLocker, invalidator RankingInvalidator, log *logger.Logger) *DeleteTestHandler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DeleteTestHandler{
		scores:      scores,
		locker:      locker,
		invalidator: invalidator,
		log:         log.With(logger.Component("delete_test")),
	}
}

// Handle deletes the exam. Deleting an unknown exam reports zero rows.
func (h *DeleteTestHandler) Handle(ctx context.Context, cmd DeleteTestCommand) (*DeleteTestResult, error) {
	id, err := score.NewTestIdentity(cmd.TestName, cmd.TestDate)
	if err != nil {
		return nil, err
	}
	log := h.log.With(logger.TestName(id.Name), logger.TestDate(id.Date))

	release, err := h.locker.Acquire(ctx, id)
	if err != nil {
		log.Warn("delete lock not acquired", logger.Err(err))
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release import lock", logger.Err(err))
		}
	}()

	n, err := h.scores.DeleteScoresByTest(ctx, id)
	if err != nil {
		log.Error("delete test failed", logger.Err(err))
		return nil, err
	}
	if n > 0 {
		if err := h.invalidator.InvalidateRankings(ctx); err != nil {
			log.Warn("failed to invalidate ranking cache", logger.Err(err))
		}
	}

	log.Info("test deleted", logger.Count("deleted", n))
	return &DeleteTestResult{Test: id, DeletedCount: n}, nil
}
