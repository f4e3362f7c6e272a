// Package sheet turns uploaded spreadsheets (CSV or XLSX) into importer
// rows. It locates columns by header name and falls back to the fixed
// layout of the exam result export when no student id column is found.
package sheet

import (
	"strings"

	"github.com/score-portal/score-portal/internal/domain/importer"
)

// Record is one non-empty source line with its 1-based line number.
type Record struct {
	Line  int
	Cells []string
}

type column int

const (
	colStudentID column = iota
	colName
	colSectionA
	colSectionB
	colSectionC
	colSectionD
	colSectionAD
	colSectionBC
	colTotal
	columnCount
)

var headerAliases = map[string]column{
	"student_id":  colStudentID,
	"studentid":   colStudentID,
	"id":          colStudentID,
	"name":        colName,
	"section_a":   colSectionA,
	"a":           colSectionA,
	"section_b":   colSectionB,
	"b":           colSectionB,
	"section_c":   colSectionC,
	"c":           colSectionC,
	"section_d":   colSectionD,
	"d":           colSectionD,
	"section_ad":  colSectionAD,
	"ad":          colSectionAD,
	"section_bc":  colSectionBC,
	"bc":          colSectionBC,
	"total_score": colTotal,
	"total":       colTotal,
}

// defaultLayout is used when the first line has no student id header.
var defaultLayout = [columnCount]int{
	colStudentID: 2,
	colName:      3,
	colSectionA:  4,
	colSectionB:  5,
	colSectionC:  6,
	colSectionD:  7,
	colSectionAD: 8,
	colSectionBC: 9,
	colTotal:     10,
}

// headerLayout maps header cells to column positions; -1 marks a missing
// column.
func headerLayout(cells []string) [columnCount]int {
	var layout [columnCount]int
	for i := range layout {
		layout[i] = -1
	}
	for i, cell := range cells {
		c, ok := headerAliases[strings.ToLower(strings.TrimSpace(cell))]
		if ok && layout[c] == -1 {
			layout[c] = i
		}
	}
	return layout
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// MapScores converts records into score rows. The first record is consumed
// as a header only when it names a student id column.
func MapScores(records []Record) []importer.ScoreRow {
	if len(records) == 0 {
		return []importer.ScoreRow{}
	}

	layout := headerLayout(records[0].Cells)
	data := records[1:]
	if layout[colStudentID] == -1 {
		layout = defaultLayout
		data = records
	}

	rows := make([]importer.ScoreRow, 0, len(data))
	for _, rec := range data {
		rows = append(rows, importer.ScoreRow{
			Line:              rec.Line,
			ColumnCount:       len(rec.Cells),
			StudentExternalID: cellAt(rec.Cells, layout[colStudentID]),
			SectionA:          cellAt(rec.Cells, layout[colSectionA]),
			SectionB:          cellAt(rec.Cells, layout[colSectionB]),
			SectionC:          cellAt(rec.Cells, layout[colSectionC]),
			SectionD:          cellAt(rec.Cells, layout[colSectionD]),
			SectionAD:         cellAt(rec.Cells, layout[colSectionAD]),
			SectionBC:         cellAt(rec.Cells, layout[colSectionBC]),
			TotalScore:        cellAt(rec.Cells, layout[colTotal]),
		})
	}
	return rows
}

// MapStudents converts roster records laid out as name, student id,
// credential. A first line naming an id or password column is a header.
func MapStudents(records []Record) []importer.StudentRow {
	if len(records) == 0 {
		return []importer.StudentRow{}
	}

	data := records
	if isRosterHeader(records[0].Cells) {
		data = records[1:]
	}

	rows := make([]importer.StudentRow, 0, len(data))
	for _, rec := range data {
		rows = append(rows, importer.StudentRow{
			Line:        rec.Line,
			ColumnCount: len(rec.Cells),
			DisplayName: cellAt(rec.Cells, 0),
			ExternalID:  cellAt(rec.Cells, 1),
			Credential:  cellAt(rec.Cells, 2),
		})
	}
	return rows
}

var rosterHeaders = map[string]bool{
	"ID":         true,
	"STUDENTID":  true,
	"STUDENT_ID": true,
	"STUDENT ID": true,
	"PASS":       true,
	"PASSWORD":   true,
}

func isRosterHeader(cells []string) bool {
	for _, c := range cells {
		if rosterHeaders[strings.ToUpper(strings.TrimSpace(c))] {
			return true
		}
	}
	return false
}
