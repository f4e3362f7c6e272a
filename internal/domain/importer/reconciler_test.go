package importer_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/memory"
)

var mock = score.TestIdentity{Name: "Mock 1", Date: "2024-03-10"}

func rowFor(line int, id string, total float64) importer.ScoreRow {
	return importer.ScoreRow{
		Line:              line,
		ColumnCount:       11,
		StudentExternalID: id,
		SectionA:          "70",
		SectionB:          "20",
		SectionC:          "24",
		SectionD:          "62",
		SectionAD:         "132",
		SectionBC:         "44",
		TotalScore:        strconv.FormatFloat(total, 'f', -1, 64),
	}
}

func batch(n int) []importer.ScoreRow {
	rows := make([]importer.ScoreRow, n)
	for i := range rows {
		rows[i] = rowFor(i+2, fmt.Sprintf("S%03d", i), float64(100+i))
	}
	return rows
}

func TestImportTestResults_Idempotent(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			ctx := context.Background()
			r := importer.NewReconciler(memory.NewStore(), nil, nil, importer.Config{})

			first, err := r.ImportTestResults(ctx, mock, batch(n))
			require.NoError(t, err)
			assert.Equal(t, n, first.InsertedCount)
			assert.Empty(t, first.Skipped)
			assert.Empty(t, first.RowErrors)

			second, err := r.ImportTestResults(ctx, mock, batch(n))
			require.NoError(t, err)
			assert.Equal(t, 0, second.InsertedCount)
			assert.Len(t, second.Skipped, n)
		})
	}
}

func TestImportTestResults_PartialSuccess(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	r := importer.NewReconciler(store, nil, nil, importer.Config{})

	rows := []importer.ScoreRow{
		rowFor(2, "S1", 180),
		{Line: 3, ColumnCount: 2, StudentExternalID: "S2"},
		{Line: 4, ColumnCount: 11, StudentExternalID: "  "},
		rowFor(5, "S3", 150),
		rowFor(6, "S1", 170),
	}
	rows[3].SectionA = "abc"
	rows[3].SectionB = "-4"

	res, err := r.ImportTestResults(ctx, mock, rows)
	require.NoError(t, err)

	assert.Equal(t, 2, res.InsertedCount)
	assert.Equal(t, []score.ScoreKey{{StudentExternalID: "S1", TestName: mock.Name, TestDate: mock.Date}}, res.Skipped)
	require.Len(t, res.RowErrors, 2)
	assert.True(t, strings.HasPrefix(res.RowErrors[0], "row 3:"))
	assert.Contains(t, res.RowErrors[0], "too few columns")
	assert.Contains(t, res.RowErrors[1], "missing student id")

	stored, err := store.ListScoresByTest(ctx, mock)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 180.0, stored[0].TotalScore)
	assert.Equal(t, 0.0, stored[1].SectionA)
	assert.Equal(t, 0.0, stored[1].SectionB)
}

func TestImportTestResults_StrictSections(t *testing.T) {
	ctx := context.Background()
	r := importer.NewReconciler(memory.NewStore(), nil, nil, importer.Config{StrictSections: true})

	bad := rowFor(3, "S2", 150)
	bad.SectionBC = "50"

	res, err := r.ImportTestResults(ctx, mock, []importer.ScoreRow{rowFor(2, "S1", 176), bad})
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedCount)
	require.Len(t, res.RowErrors, 1)
	assert.Contains(t, res.RowErrors[0], "S2")
}

// racingRepo hides existing keys from the pre-check, as a concurrent import would.
type racingRepo struct {
	*memory.Store
}

func (racingRepo) ExistingKeys(context.Context, []score.ScoreKey) (map[score.ScoreKey]struct{}, error) {
	return map[score.ScoreKey]struct{}{}, nil
}

func TestImportTestResults_ConflictsFromRepositoryAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_, err := store.UpsertScores(ctx, []score.TestScore{{StudentExternalID: "S1", TestName: mock.Name, TestDate: mock.Date}})
	require.NoError(t, err)

	r := importer.NewReconciler(racingRepo{store}, nil, nil, importer.Config{})
	res, err := r.ImportTestResults(ctx, mock, []importer.ScoreRow{rowFor(2, "S1", 100), rowFor(3, "S2", 100)})

	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedCount)
	assert.Len(t, res.Skipped, 1)
}

type failingRepo struct {
	*memory.Store
}

func (failingRepo) UpsertScores(context.Context, []score.TestScore) (score.UpsertResult, error) {
	return score.UpsertResult{}, shared.StorageError("UpsertScores", errors.New("disk full"))
}

func TestImportTestResults_StorageErrorPropagates(t *testing.T) {
	r := importer.NewReconciler(failingRepo{memory.NewStore()}, nil, nil, importer.Config{})

	res, err := r.ImportTestResults(context.Background(), mock, batch(2))

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, shared.IsStorage(err))
}

type prefixHasher struct{}

func (prefixHasher) Hash(plain string) (string, error) { return "hashed:" + plain, nil }

func TestImportRoster_OverwritesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	r := importer.NewReconciler(store, store, prefixHasher{}, importer.Config{})

	res, err := r.ImportRoster(ctx, []importer.StudentRow{
		{Line: 1, ColumnCount: 3, DisplayName: "Ann", ExternalID: "S1", Credential: "pw1"},
		{Line: 2, ColumnCount: 3, DisplayName: "Bob", ExternalID: "S2", Credential: "pw2"},
		{Line: 3, ColumnCount: 1, DisplayName: "Broken"},
		{Line: 4, ColumnCount: 3, DisplayName: "Ann B.", ExternalID: "S1", Credential: "pw3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.InsertedOrUpdatedCount)
	require.Len(t, res.RowErrors, 1)
	assert.True(t, strings.HasPrefix(res.RowErrors[0], "row 3:"))

	st, err := store.GetStudentByExternalID(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Ann B.", st.DisplayName)
	assert.Equal(t, "hashed:pw3", st.CredentialHash)

	res, err = r.ImportRoster(ctx, []importer.StudentRow{{Line: 1, ColumnCount: 3, DisplayName: "Ann C.", ExternalID: "S1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.InsertedOrUpdatedCount)
	st, err = store.GetStudentByExternalID(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "Ann C.", st.DisplayName)
}

func TestImportRoster_RequiresStudentRepository(t *testing.T) {
	r := importer.NewReconciler(memory.NewStore(), nil, nil, importer.Config{})

	_, err := r.ImportRoster(context.Background(), nil)
	assert.True(t, shared.IsValidation(err))
}

func TestParseNumber(t *testing.T) {
	assert.Equal(t, 12.5, importer.ParseNumber(" 12.5 "))
	assert.Equal(t, 0.0, importer.ParseNumber(""))
	assert.Equal(t, 0.0, importer.ParseNumber("n/a"))
	assert.Equal(t, 0.0, importer.ParseNumber("-3"))
	assert.Equal(t, 0.0, importer.ParseNumber("NaN"))
}

func TestRowError_IsValidation(t *testing.T) {
	err := error(&importer.RowError{Line: 7, Reason: "missing student id"})
	assert.Equal(t, "row 7: missing student id", err.Error())
	assert.True(t, shared.IsValidation(err))
}
