package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/statistics"
	"github.com/score-portal/score-portal/internal/domain/trend"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/postgres"
)

var (
	title   = color.New(color.FgYellow, color.Bold).SprintFunc()
	good    = color.New(color.FgGreen).SprintFunc()
	bad     = color.New(color.FgRed).SprintFunc()
	neutral = color.New(color.FgCyan).SprintFunc()
)

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func pct(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 0, 64) + "%"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// colorCell highlights pass/fail and trend cells.
func colorCell(c string) string {
	switch c {
	case "yes", string(trend.DirectionUp):
		return good(c)
	case "no", string(trend.DirectionDown):
		return bad(c)
	case string(trend.DirectionNeutral):
		return neutral(c)
	default:
		return c
	}
}

func printTable(w io.Writer, caption string, header []string, rows [][]string) {
	if caption != "" {
		fmt.Fprintln(w, title(caption))
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, row := range rows {
		colored := make([]string, len(row))
		for i, c := range row {
			colored[i] = colorCell(c)
		}
		table.Append(colored)
	}
	table.Render()
}

func printRowErrors(w io.Writer, rowErrors []string) {
	for _, e := range rowErrors {
		fmt.Fprintln(w, bad("  "+e))
	}
}

func printMigrations(w io.Writer, migrations []postgres.Migration) {
	rows := make([][]string, 0, len(migrations))
	for _, m := range migrations {
		applied := ""
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{strconv.Itoa(m.Version), m.Name, yesNo(m.IsApplied), applied})
	}
	printTable(w, "Migrations", []string{"Version", "Name", "Applied", "At"}, rows)
}

func printTests(w io.Writer, tests []score.TestSummary) {
	rows := make([][]string, 0, len(tests))
	for _, t := range tests {
		rows = append(rows, []string{t.Identity.Date, t.Identity.Name, strconv.Itoa(t.StudentCount)})
	}
	printTable(w, "Tests", []string{"Date", "Name", "Students"}, rows)
}

func examTable(res *query.TestRankingResult) ([]string, [][]string) {
	header := []string{"Rank", "Student", "Name", "AD", "BC", "Total", "Passed"}
	rows := make([][]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		rows = append(rows, []string{
			strconv.Itoa(int(e.Rank)),
			e.Score.StudentExternalID,
			e.DisplayName,
			num(e.Score.SectionAD),
			num(e.Score.SectionBC),
			num(e.Score.TotalScore),
			yesNo(e.Passed),
		})
	}
	return header, rows
}

func totalTable(res *query.TotalRankingResult) ([]string, [][]string) {
	header := []string{"Rank", "Student", "Name", "Avg rank", "Avg score", "Exams"}
	rows := make([][]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		rows = append(rows, []string{
			strconv.Itoa(int(e.Rank)),
			e.StudentExternalID,
			e.DisplayName,
			strconv.FormatFloat(e.AverageRank, 'f', 2, 64),
			num(e.AverageScore),
			strconv.Itoa(e.ExamCount),
		})
	}
	return header, rows
}

func printStats(w io.Writer, b *statistics.Baseline) {
	rows := [][]string{
		{"Participants", strconv.Itoa(b.Count)},
		{"Passed", fmt.Sprintf("%d (%s)", b.PassCount, pct(b.PassRate))},
		{"Avg A / B / C / D", fmt.Sprintf("%s / %s / %s / %s", num(b.AvgSectionA), num(b.AvgSectionB), num(b.AvgSectionC), num(b.AvgSectionD))},
		{"Avg AD / BC", fmt.Sprintf("%s / %s", num(b.AvgSectionAD), num(b.AvgSectionBC))},
		{"Avg total", num(b.AvgTotal)},
		{"Min / median / max", fmt.Sprintf("%s / %s / %s", num(b.MinTotal), num(b.MedianTotal), num(b.MaxTotal))},
	}
	printTable(w, b.Identity.String(), []string{"Metric", "Value"}, rows)
}

func printReport(w io.Writer, r *query.StudentReport) {
	fmt.Fprintln(w, title(fmt.Sprintf("%s (%s)", r.DisplayName, r.StudentExternalID)))
	fmt.Fprintf(w, "exams: %d, passed: %d\n", r.ExamCount, r.PassCount)
	if r.Aggregate != nil {
		fmt.Fprintf(w, "overall rank (%s): %d\n", r.Policy, r.Aggregate.Rank)
	}
	fmt.Fprintf(w, "trend: %s %s\n", colorCell(string(r.Trend.Direction)), r.Trend.Message)

	rows := make([][]string, 0, len(r.Exams))
	for _, e := range r.Exams {
		delta := ""
		if e.DeltaTotal != nil {
			delta = strconv.FormatFloat(*e.DeltaTotal, 'f', 1, 64)
		}
		rows = append(rows, []string{
			e.Score.TestDate,
			e.Score.TestName,
			fmt.Sprintf("%d/%d", e.Rank, e.Participants),
			num(e.Score.TotalScore),
			num(e.Baseline.AvgTotal),
			delta,
			yesNo(e.Passed),
		})
	}
	printTable(w, "", []string{"Date", "Test", "Rank", "Total", "Exam avg", "Delta", "Passed"}, rows)
	printPrediction(w, query.StudentPrediction{
		StudentExternalID: r.StudentExternalID,
		DisplayName:       r.DisplayName,
		Prediction:        r.Prediction,
	})
}

func printPrediction(w io.Writer, p query.StudentPrediction) {
	r := p.Prediction
	fmt.Fprintf(w, "graduation: %s  national exam: %s  confidence: %s\n",
		pct(r.GraduationProbability), pct(r.NationalExamProbability), pct(r.Confidence))
	for _, f := range r.Factors.Positive {
		fmt.Fprintln(w, good("  + "+f))
	}
	for _, f := range r.Factors.Negative {
		fmt.Fprintln(w, bad("  - "+f))
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintln(w, "  * "+rec)
	}
}

func printPredictions(w io.Writer, all []query.StudentPrediction) {
	rows := make([][]string, 0, len(all))
	for _, p := range all {
		rows = append(rows, []string{
			p.StudentExternalID,
			p.DisplayName,
			pct(p.Prediction.GraduationProbability),
			pct(p.Prediction.NationalExamProbability),
			pct(p.Prediction.Confidence),
		})
	}
	printTable(w, "Predictions", []string{"Student", "Name", "Graduation", "National", "Confidence"}, rows)
}
