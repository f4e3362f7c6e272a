package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/score-portal/score-portal/internal/app"
	"github.com/score-portal/score-portal/internal/application/command"
	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/infrastructure/sheet"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	ctx context.Context
	app *app.App
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate [-down] [-status]                         - apply, revert or list migrations")
	fmt.Fprintln(cli.out, "  import-students -file FILE                        - upsert the roster from CSV/XLSX")
	fmt.Fprintln(cli.out, "  import-results -name NAME -date DATE -file FILE   - import one exam from CSV/XLSX")
	fmt.Fprintln(cli.out, "  delete-test -name NAME -date DATE                 - remove every row of one exam")
	fmt.Fprintln(cli.out, "  tests                                             - list exams")
	fmt.Fprintln(cli.out, "  rank -name NAME -date DATE [-limit N] [-xlsx OUT] - per-exam ranking")
	fmt.Fprintln(cli.out, "  total [-policy P] [-limit N] [-xlsx OUT]          - aggregate ranking")
	fmt.Fprintln(cli.out, "  stats -name NAME -date DATE                       - exam baseline")
	fmt.Fprintln(cli.out, "  report -student ID                                - student report")
	fmt.Fprintln(cli.out, "  predict [-student ID]                             - outcome prediction (all when empty)")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	fs := flag.NewFlagSet(args[1], flag.ContinueOnError)
	fs.SetOutput(cli.out)
	name := fs.String("name", "", "Test name.")
	date := fs.String("date", "", "Test date (YYYY-MM-DD).")
	file := fs.String("file", "", "Input CSV or XLSX file.")
	limit := fs.Int("limit", 0, "Maximum number of rows (0 = all).")
	xlsxOut := fs.String("xlsx", "", "Also write the table to this XLSX file.")
	policy := fs.String("policy", "", "Aggregate policy: average_rank or average_score.")
	student := fs.String("student", "", "Student external id.")
	down := fs.Bool("down", false, "Revert the latest migration.")
	status := fs.Bool("status", false, "List migrations.")

	if err := fs.Parse(args[2:]); err != nil {
		return errHelp
	}
	need := func(vals ...string) error {
		for _, v := range vals {
			if strings.TrimSpace(v) == "" {
				fs.Usage()
				return errHelp
			}
		}
		return nil
	}

	switch args[1] {
	case "migrate":
		return cli.migrate(*down, *status)
	case "import-students":
		if err := need(*file); err != nil {
			return err
		}
		return cli.importStudents(*file)
	case "import-results":
		if err := need(*name, *date, *file); err != nil {
			return err
		}
		return cli.importResults(*name, *date, *file)
	case "delete-test":
		if err := need(*name, *date); err != nil {
			return err
		}
		return cli.deleteTest(*name, *date)
	case "tests":
		return cli.listTests()
	case "rank":
		if err := need(*name, *date); err != nil {
			return err
		}
		return cli.rank(*name, *date, *limit, *xlsxOut)
	case "total":
		return cli.total(*policy, *limit, *xlsxOut)
	case "stats":
		if err := need(*name, *date); err != nil {
			return err
		}
		return cli.stats(*name, *date)
	case "report":
		if err := need(*student); err != nil {
			return err
		}
		return cli.report(*student)
	case "predict":
		return cli.predict(*student)
	default:
		cli.printUsage()
		return errHelp
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// WRITE COMMANDS
// ──────────────────────────────────────────────────────────────────────────────

func (cli *commandLine) migrate(down, status bool) error {
	b := cli.app.Backend
	switch {
	case status:
		migrations, err := b.MigrationStatus(cli.ctx)
		if err != nil {
			return err
		}
		printMigrations(cli.out, migrations)
		return nil
	case down:
		if err := b.Rollback(cli.ctx); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "rolled back latest migration")
		return nil
	default:
		n, err := b.Migrate(cli.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "applied %d migration(s) on %s\n", n, b.Driver)
		return nil
	}
}

func (cli *commandLine) importStudents(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := sheet.ParseStudents(f, sheet.DetectFormat(path, ""))
	if err != nil {
		return err
	}
	res, err := cli.app.ImportStudents.Handle(cli.ctx, command.ImportStudentsCommand{Rows: rows})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "students upserted: %d\n", res.InsertedOrUpdatedCount)
	printRowErrors(cli.out, res.RowErrors)
	return nil
}

func (cli *commandLine) importResults(name, date, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := sheet.ParseScores(f, sheet.DetectFormat(path, ""))
	if err != nil {
		return err
	}
	res, err := cli.app.ImportResults.Handle(cli.ctx, command.ImportTestResultsCommand{
		TestName: name,
		TestDate: date,
		Rows:     rows,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: inserted %d, skipped %d\n", res.Test, res.InsertedCount, len(res.Skipped))
	printRowErrors(cli.out, res.RowErrors)
	return nil
}

func (cli *commandLine) deleteTest(name, date string) error {
	res, err := cli.app.DeleteTest.Handle(cli.ctx, command.DeleteTestCommand{TestName: name, TestDate: date})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: deleted %d row(s)\n", res.Test, res.DeletedCount)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// READ COMMANDS
// ──────────────────────────────────────────────────────────────────────────────

func (cli *commandLine) listTests() error {
	tests, err := cli.app.ListTests.Handle(cli.ctx)
	if err != nil {
		return err
	}
	printTests(cli.out, tests)
	return nil
}

func (cli *commandLine) rank(name, date string, limit int, xlsxOut string) error {
	res, err := cli.app.TestRanking.Handle(cli.ctx, query.GetTestRankingQuery{TestName: name, TestDate: date, Limit: limit})
	if err != nil {
		return err
	}
	header, rows := examTable(res)
	printTable(cli.out, fmt.Sprintf("%s: %d participant(s), %d passed", res.Test, res.Participants, res.PassCount), header, rows)
	return exportXLSX(xlsxOut, "Ranking", header, rows)
}

func (cli *commandLine) total(policy string, limit int, xlsxOut string) error {
	res, err := cli.app.TotalRanking.Handle(cli.ctx, query.GetTotalRankingQuery{Policy: policy, Limit: limit})
	if err != nil {
		return err
	}
	header, rows := totalTable(res)
	printTable(cli.out, fmt.Sprintf("Total ranking (%s)", res.Policy), header, rows)
	return exportXLSX(xlsxOut, "Total", header, rows)
}

func (cli *commandLine) stats(name, date string) error {
	b, err := cli.app.TestStats.Handle(cli.ctx, name, date)
	if err != nil {
		return err
	}
	printStats(cli.out, b)
	return nil
}

func (cli *commandLine) report(studentID string) error {
	r, err := cli.app.StudentReport.Handle(cli.ctx, studentID)
	if err != nil {
		return err
	}
	printReport(cli.out, r)
	return nil
}

func (cli *commandLine) predict(studentID string) error {
	if studentID != "" {
		p, err := cli.app.Predict.PredictStudent(cli.ctx, studentID)
		if err != nil {
			return err
		}
		printPrediction(cli.out, *p)
		return nil
	}
	all, err := cli.app.Predict.PredictAll(cli.ctx)
	if err != nil {
		return err
	}
	printPredictions(cli.out, all)
	return nil
}

func exportXLSX(path, sheetName string, header []string, rows [][]string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	cells := make([][]any, len(rows))
	for i, row := range rows {
		cells[i] = make([]any, len(row))
		for j, c := range row {
			cells[i][j] = c
		}
	}
	if err := sheet.WriteXLSX(f, sheetName, header, cells); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
