package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ReadCSV reads comma separated records. Blank lines are skipped and rows
// may have any number of fields.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true

	records := make([]Record, 0)
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sheet: read csv: %w", err)
		}
		if isBlank(cells) {
			continue
		}
		line, _ := cr.FieldPos(0)
		records = append(records, Record{Line: line, Cells: trimBOM(cells)})
	}
	return records, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimBOM(cells []string) []string {
	if len(cells) > 0 {
		cells[0] = strings.TrimPrefix(cells[0], "\ufeff")
	}
	return cells
}
