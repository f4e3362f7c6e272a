package command

import (
	"context"

	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT STUDENTS COMMAND
// Upserts the roster; later rows win.
// ══════════════════════════════════════════════════════════════════════════════

// ImportStudentsCommand carries roster rows.
type ImportStudentsCommand struct {
	Rows []importer.StudentRow
}

// ImportStudentsHandler handles ImportStudentsCommand.
type ImportStudentsHandler struct {
	reconciler  *importer.Reconciler
	invalidator RankingInvalidator
	log         *logger.Logger
}

// NewImportStudentsHandler creates the handler.
func NewImportStudentsHandler(reconciler *importer.Reconciler, invalidator RankingInvalidator, log *logger.Logger) *ImportStudentsHandler {
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ImportStudentsHandler{
		reconciler:  reconciler,
		invalidator: invalidator,
		log:         log.With(logger.Component("import_students")),
	}
}

// Handle imports the roster.
func (h *ImportStudentsHandler) Handle(ctx context.Context, cmd ImportStudentsCommand) (*importer.RosterResult, error) {
	h.log.Info("importing roster", logger.Count("rows", len(cmd.Rows)))

	res, err := h.reconciler.ImportRoster(ctx, cmd.Rows)
	if err != nil {
		h.log.Error("roster import failed", logger.Err(err))
		return nil, err
	}

	// display names are part of cached rankings
	if res.InsertedOrUpdatedCount > 0 {
		if err := h.invalidator.InvalidateRankings(ctx); err != nil {
			h.log.Warn("failed to invalidate ranking cache", logger.Err(err))
		}
	}

	h.log.Info("roster imported",
		logger.Count("upserted", res.InsertedOrUpdatedCount),
		logger.Count("row_errors", len(res.RowErrors)),
	)
	return res, nil
}
