package sheet

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/score-portal/score-portal/internal/domain/importer"
)

// Format identifies a tabular source encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentTypeXLSX is the media type of an XLSX workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DetectFormat picks a format from a file name or a content type. CSV is the
// fallback.
func DetectFormat(name, contentType string) Format {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") || strings.HasPrefix(contentType, ContentTypeXLSX) {
		return FormatXLSX
	}
	return FormatCSV
}

// Read reads records in the given format.
func Read(r io.Reader, format Format) ([]Record, error) {
	switch format {
	case FormatXLSX:
		return ReadXLSX(r)
	case FormatCSV, "":
		return ReadCSV(r)
	default:
		return nil, fmt.Errorf("sheet: unsupported format %q", format)
	}
}

// ParseScores reads and maps a test result sheet.
func ParseScores(r io.Reader, format Format) ([]importer.ScoreRow, error) {
	records, err := Read(r, format)
	if err != nil {
		return nil, err
	}
	return MapScores(records), nil
}

// ParseStudents reads and maps a roster sheet.
func ParseStudents(r io.Reader, format Format) ([]importer.StudentRow, error) {
	records, err := Read(r, format)
	if err != nil {
		return nil, err
	}
	return MapStudents(records), nil
}
