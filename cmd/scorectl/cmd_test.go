package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/config"
	"github.com/score-portal/score-portal/internal/app"
	"github.com/score-portal/score-portal/internal/infrastructure/sheet"
)

func newCLI(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Engine: config.EngineConfig{
			AggregatePolicy:    "average_rank",
			BcryptCost:         4,
			PredictConcurrency: 2,
		},
	}
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	out := &bytes.Buffer{}
	return &commandLine{ctx: context.Background(), app: a, out: out}, out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := newCLI(t)

	assert.ErrorIs(t, cli.run([]string{"scorectl"}), errHelp)
	assert.Contains(t, out.String(), "import-results")

	assert.ErrorIs(t, cli.run([]string{"scorectl", "nope"}), errHelp)
	assert.ErrorIs(t, cli.run([]string{"scorectl", "rank", "-name", "Mock"}), errHelp)
	assert.ErrorIs(t, cli.run([]string{"scorectl", "rank", "-bogus"}), errHelp)
}

func Test_commandLine_importAndQuery(t *testing.T) {
	cli, out := newCLI(t)

	roster := writeFile(t, "roster.csv", "Name,ID,Password\nAnn,S1,pw\nBob,S2,pw\n")
	require.NoError(t, cli.run([]string{"scorectl", "import-students", "-file", roster}))
	assert.Contains(t, out.String(), "students upserted: 2")

	results := writeFile(t, "results.csv", "student_id,section_ad,section_bc,total_score\nS1,140,48,188\nS2,100,30,130\nS2,100,30,130\n")
	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "import-results", "-name", "Mock", "-date", "2024-03-01", "-file", results}))
	assert.Contains(t, out.String(), "inserted 2, skipped 1")

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "tests"}))
	assert.Contains(t, out.String(), "2024-03-01")

	xlsxPath := filepath.Join(t.TempDir(), "rank.xlsx")
	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "rank", "-name", "Mock", "-date", "2024-03-01", "-xlsx", xlsxPath}))
	assert.Contains(t, out.String(), "Ann")
	assert.Contains(t, out.String(), "1 passed")

	f, err := os.Open(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := sheet.ReadXLSX(f)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Rank", records[0].Cells[0])
	assert.Equal(t, "S1", records[1].Cells[1])

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "total", "-policy", "score"}))
	assert.Contains(t, out.String(), "average_score")

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "stats", "-name", "Mock", "-date", "2024-03-01"}))
	assert.Contains(t, out.String(), "159.0")

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "report", "-student", "S1"}))
	assert.Contains(t, out.String(), "Ann (S1)")
	assert.Contains(t, out.String(), "not enough data")

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "predict"}))
	assert.Contains(t, out.String(), "S2")

	out.Reset()
	require.NoError(t, cli.run([]string{"scorectl", "delete-test", "-name", "Mock", "-date", "2024-03-01"}))
	assert.Contains(t, out.String(), "deleted 2 row(s)")
}

func Test_commandLine_errors(t *testing.T) {
	cli, _ := newCLI(t)

	err := cli.run([]string{"scorectl", "report", "-student", "ghost"})
	assert.Error(t, err)

	err = cli.run([]string{"scorectl", "import-results", "-name", "Mock", "-date", "2024-03-01", "-file", "/does/not/exist.csv"})
	assert.Error(t, err)

	out := &bytes.Buffer{}
	cli.out = out
	require.NoError(t, cli.run([]string{"scorectl", "migrate"}))
	assert.Contains(t, out.String(), "applied 0 migration(s) on memory")
	assert.Error(t, cli.run([]string{"scorectl", "migrate", "-down"}))
}
