package command

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADD SCORE COMMAND
// Records one manually entered score.
// ══════════════════════════════════════════════════════════════════════════════

// AddScoreCommand carries one score. Numbers are taken as given.
type AddScoreCommand struct {
	StudentExternalID string
	TestName          string
	TestDate          string
	SectionA          float64
	SectionB          float64
	SectionC          float64
	SectionD          float64
	SectionAD         float64
	SectionBC         float64
	TotalScore        float64
}

// AddScoreHandler handles AddScoreCommand.
type AddScoreHandler struct {
	scores         score.Repository
	locker         ImportLocker
	invalidator    RankingInvalidator
	strictSections bool
	log            *logger.Logger
}

// NewAddScoreHandler creates the handler.
func NewAddScoreHandler(scores score.Repository, locker ImportLocker, invalidator RankingInvalidator, strictSections bool, log *logger.Logger) *AddScoreHandler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AddScoreHandler{
		scores:         scores,
		locker:         locker,
		invalidator:    invalidator,
		strictSections: strictSections,
		log:            log.With(logger.Component("add_score")),
	}
}

// Handle inserts the score. An already recorded key yields
// shared.ErrScoreAlreadyExist.
func (h *AddScoreHandler) Handle(ctx context.Context, cmd AddScoreCommand) (*score.TestScore, error) {
	id, err := score.NewTestIdentity(cmd.TestName, cmd.TestDate)
	if err != nil {
		return nil, err
	}
	s := score.TestScore{
		StudentExternalID: strings.TrimSpace(cmd.StudentExternalID),
		TestName:          id.Name,
		TestDate:          id.Date,
		SectionA:          cmd.SectionA,
		SectionB:          cmd.SectionB,
		SectionC:          cmd.SectionC,
		SectionD:          cmd.SectionD,
		SectionAD:         cmd.SectionAD,
		SectionBC:         cmd.SectionBC,
		TotalScore:        cmd.TotalScore,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if h.strictSections && !s.SectionsConsistent() {
		return nil, shared.NewDomainError("score", "AddScore", shared.ErrSectionMismatch, "section_ad must equal a+d and section_bc must equal b+c")
	}

	release, err := h.locker.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx)) //nolint:errcheck

	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	res, err := h.scores.UpsertScores(ctx, []score.TestScore{s})
	if err != nil {
		h.log.Error("add score failed", logger.StudentID(s.StudentExternalID), logger.Err(err))
		return nil, err
	}
	if res.Inserted == 0 {
		return nil, shared.ErrScoreAlreadyExist
	}

	if err := h.invalidator.InvalidateRankings(ctx); err != nil {
		h.log.Warn("failed to invalidate ranking cache", logger.Err(err))
	}
	h.log.Info("score added", logger.StudentID(s.StudentExternalID), logger.TestName(id.Name), logger.TestDate(id.Date))
	return &s, nil
}
