package command

import (
	"context"
	"time"

	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT TEST RESULTS COMMAND
// Imports the raw rows of one exam with partial success.
// ══════════════════════════════════════════════════════════════════════════════

// ImportTestResultsCommand carries one exam's rows.
type ImportTestResultsCommand struct {
	TestName string
	TestDate string
	Rows     []importer.ScoreRow
}

// Validate checks the exam identity and returns its normalized form.
func (c ImportTestResultsCommand) Validate() (score.TestIdentity, error) {
	return score.NewTestIdentity(c.TestName, c.TestDate)
}

// ImportTestResultsResult reports what happened to each row.
type ImportTestResultsResult struct {
	Test score.TestIdentity `json:"test"`
	importer.Result
}

// ImportTestResultsHandler handles ImportTestResultsCommand.
type ImportTestResultsHandler struct {
	reconciler  *importer.Reconciler
	locker      ImportLocker
	invalidator RankingInvalidator
	log         *logger.Logger
}

// NewImportTestResultsHandler creates the handler. invalidator and log may
// be nil.
func NewImportTestResultsHandler(
	reconciler *importer.Reconciler,
	locker ImportLocker,
	invalidator RankingInvalidator,
	log *logger.Logger,
) *ImportTestResultsHandler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ImportTestResultsHandler{
		reconciler:  reconciler,
		locker:      locker,
		invalidator: invalidator,
		log:         log.With(logger.Component("import_test_results")),
	}
}

// Handle runs the import under the exam lock.
func (h *ImportTestResultsHandler) Handle(ctx context.Context, cmd ImportTestResultsCommand) (*ImportTestResultsResult, error) {
	id, err := cmd.Validate()
	if err != nil {
		return nil, err
	}
	log := h.log.With(logger.TestName(id.Name), logger.TestDate(id.Date))

	release, err := h.locker.Acquire(ctx, id)
	if err != nil {
		log.Warn("import lock not acquired", logger.Err(err))
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release import lock", logger.Err(err))
		}
	}()

	start := time.Now()
	log.Info("importing test results", logger.Count("rows", len(cmd.Rows)))

	res, err := h.reconciler.ImportTestResults(ctx, id, cmd.Rows)
	if err != nil {
		log.Error("test result import failed", logger.Err(err))
		return nil, err
	}

	if res.InsertedCount > 0 {
		if err := h.invalidator.InvalidateRankings(ctx); err != nil {
			log.Warn("failed to invalidate ranking cache", logger.Err(err))
		}
	}

	log.Info("test results imported",
		logger.Count("inserted", res.InsertedCount),
		logger.Count("skipped", len(res.Skipped)),
		logger.Count("row_errors", len(res.RowErrors)),
		logger.Latency(time.Since(start)),
	)

	return &ImportTestResultsResult{Test: id, Result: *res}, nil
}
