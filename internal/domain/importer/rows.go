// Package importer reconciles externally sourced rows with the repository:
// test results are inserted idempotently, roster rows are upserted.
package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
)

// MinColumns is the minimum number of columns a data row must carry.
const MinColumns = 3

// ScoreRow is a test-result row already mapped to named cells by the
// ingestion adapter. Numeric cells are kept as text and parsed here.
// ColumnCount is the width of the source line; 0 means the source had no
// columns (structured input) and skips the width check.
type ScoreRow struct {
	Line              int
	ColumnCount       int
	StudentExternalID string
	SectionA          string
	SectionB          string
	SectionC          string
	SectionD          string
	SectionAD         string
	SectionBC         string
	TotalScore        string
}

// StudentRow is a roster row.
type StudentRow struct {
	Line        int
	ColumnCount int
	DisplayName string
	ExternalID  string
	Credential  string
}

// RowError describes one rejected row.
type RowError struct {
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Is matches shared.ErrValidation.
func (e *RowError) Is(target error) bool {
	return target == shared.ErrValidation
}

// ParseNumber converts a cell to a score. Empty, unparseable or non-finite
// cells yield 0 and negative values are clamped to 0.
func ParseNumber(cell string) float64 {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// toScore validates the shape of a row and converts it.
func (r ScoreRow) toScore(id score.TestIdentity) (score.TestScore, error) {
	if err := checkWidth(r.Line, r.ColumnCount); err != nil {
		return score.TestScore{}, err
	}
	externalID := strings.TrimSpace(r.StudentExternalID)
	if externalID == "" {
		return score.TestScore{}, &RowError{Line: r.Line, Reason: "missing student id"}
	}
	return score.TestScore{
		StudentExternalID: externalID,
		TestName:          id.Name,
		TestDate:          id.Date,
		SectionA:          ParseNumber(r.SectionA),
		SectionB:          ParseNumber(r.SectionB),
		SectionC:          ParseNumber(r.SectionC),
		SectionD:          ParseNumber(r.SectionD),
		SectionAD:         ParseNumber(r.SectionAD),
		SectionBC:         ParseNumber(r.SectionBC),
		TotalScore:        ParseNumber(r.TotalScore),
	}, nil
}

func (r StudentRow) validate() error {
	if err := checkWidth(r.Line, r.ColumnCount); err != nil {
		return err
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return &RowError{Line: r.Line, Reason: "missing student id"}
	}
	return nil
}

func checkWidth(line, columns int) error {
	if columns > 0 && columns < MinColumns {
		return &RowError{Line: line, Reason: fmt.Sprintf("too few columns (%d)", columns)}
	}
	return nil
}
