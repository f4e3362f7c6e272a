package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/score-portal/score-portal/internal/application/command"
	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/internal/infrastructure/persistence/memory"
	"github.com/score-portal/score-portal/internal/infrastructure/security"
	"github.com/score-portal/score-portal/pkg/logger"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, score.TestIdentity) (func(context.Context) error, error) {
	return nil, shared.ErrImportInProgress
}

func newTestServer(t *testing.T, locker command.ImportLocker) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	rec := importer.NewReconciler(store, store, security.NewBcryptHasher(bcrypt.MinCost), importer.Config{})

	deps := Dependencies{
		ListTests:      query.NewListTestsHandler(store),
		TestRanking:    query.NewGetTestRankingHandler(store, store),
		TestStats:      query.NewGetTestStatsHandler(store),
		TotalRanking:   query.NewGetTotalRankingHandler(store, store, nil, "", nil),
		StudentReport:  query.NewGetStudentReportHandler(store, store, ""),
		Predict:        query.NewPredictOutcomeHandler(store, store, 2),
		ImportResults:  command.NewImportTestResultsHandler(rec, locker, nil, nil),
		ImportStudents: command.NewImportStudentsHandler(rec, nil, nil),
		DeleteTest:     command.NewDeleteTestHandler(store, locker, nil, nil),
		AddScore:       command.NewAddScoreHandler(store, locker, nil, false, nil),
		Logger:         logger.Nop(),
	}
	return NewServer(DefaultConfig(), deps), store
}

func do(t *testing.T, s *Server, method, path, contentType string, body io.Reader) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

const resultsCSV = "student_id,section_ad,section_bc,total_score\n" +
	"S1,140,48,188\n" +
	"S2,120,40,160\n" +
	"S3,120,40,160\n"

func TestImportCSVThenRank(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	var imported command.ImportTestResultsResult
	require.NoError(t, json.Unmarshal(env.Data, &imported))
	assert.Equal(t, 3, imported.InsertedCount)
	assert.Empty(t, imported.Skipped)

	rec, env = do(t, s, http.MethodGet, "/api/v1/tests/Mock/2024-03-01/ranking", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ranked query.TestRankingResult
	require.NoError(t, json.Unmarshal(env.Data, &ranked))
	require.Len(t, ranked.Entries, 3)
	assert.EqualValues(t, 1, ranked.Entries[0].Rank)
	assert.EqualValues(t, 2, ranked.Entries[1].Rank)
	assert.EqualValues(t, 2, ranked.Entries[2].Rank)
	assert.Equal(t, 1, ranked.PassCount)

	// Re-import is idempotent.
	_, env = do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))
	require.NoError(t, json.Unmarshal(env.Data, &imported))
	assert.Equal(t, 0, imported.InsertedCount)
	assert.Len(t, imported.Skipped, 3)
}

func TestImportJSONRows_MixedCells(t *testing.T) {
	s, store := newTestServer(t, nil)

	body := `{"rows":[{"studentId":"S1","sectionAD":"133","sectionBC":44,"totalScore":177},{"studentId":"","totalScore":10}]}`
	rec, env := do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024.03.01/results", "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var imported command.ImportTestResultsResult
	require.NoError(t, json.Unmarshal(env.Data, &imported))
	assert.Equal(t, 1, imported.InsertedCount)
	assert.Len(t, imported.RowErrors, 1)
	assert.Equal(t, "2024-03-01", imported.Test.Date)

	rows, err := store.ListScoresByStudent(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 133.0, rows[0].SectionAD)
	assert.Equal(t, 44.0, rows[0].SectionBC)
}

func TestImportMultipartUpload(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "results.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(resultsCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec, env := do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusOK, rec.Code, string(env.Data))

	var imported command.ImportTestResultsResult
	require.NoError(t, json.Unmarshal(env.Data, &imported))
	assert.Equal(t, 3, imported.InsertedCount)
}

func TestImportRejectsUnsupportedMediaAndBadDate(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "application/xml", strings.NewReader("<x/>"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "invalid_request", env.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/tests/Mock/someday/results", "text/csv", strings.NewReader(resultsCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportWhileLocked(t *testing.T) {
	s, _ := newTestServer(t, busyLocker{})

	rec, env := do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "import_in_progress", env.Error.Code)
}

func TestStatsAndDelete(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))

	_, env := do(t, s, http.MethodGet, "/api/v1/tests/Mock/2024-03-01/stats", "", nil)
	var stats struct {
		Count    int     `json:"count"`
		AvgTotal float64 `json:"avgTotal"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 508.0/3, stats.AvgTotal, 1e-9)

	rec, env := do(t, s, http.MethodDelete, "/api/v1/tests/Mock/2024-03-01", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted command.DeleteTestResult
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Equal(t, 3, deleted.DeletedCount)

	_, env = do(t, s, http.MethodGet, "/api/v1/tests", "", nil)
	assert.JSONEq(t, "[]", string(env.Data))
}

func TestTotalRanking(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))

	rec, env := do(t, s, http.MethodGet, "/api/v1/rankings/total?policy=average_score&limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var total query.TotalRankingResult
	require.NoError(t, json.Unmarshal(env.Data, &total))
	assert.Len(t, total.Entries, 2)
	assert.Equal(t, "S1", total.Entries[0].StudentExternalID)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/rankings/total?policy=median", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/rankings/total?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStudentRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))

	roster := "Name,ID,Password\nAnn,S1,secret\n"
	rec, env := do(t, s, http.MethodPost, "/api/v1/students/import", "text/csv", strings.NewReader(roster))
	require.Equal(t, http.StatusOK, rec.Code)
	var rosterRes importer.RosterResult
	require.NoError(t, json.Unmarshal(env.Data, &rosterRes))
	assert.Equal(t, 1, rosterRes.InsertedOrUpdatedCount)

	rec, env = do(t, s, http.MethodGet, "/api/v1/students/S1/report", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report query.StudentReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "Ann", report.DisplayName)
	assert.Equal(t, 1, report.PassCount)

	rec, env = do(t, s, http.MethodGet, "/api/v1/students/ghost/report", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = do(t, s, http.MethodGet, "/api/v1/students/S2/prediction", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p query.StudentPrediction
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "S2", p.StudentExternalID)
	assert.InDelta(t, 0.4, p.Prediction.Confidence, 1e-9)
}

func TestAddScore(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body := `{"studentId":"S1","testName":"Mock","testDate":"2024-03-01","sectionAD":140,"sectionBC":48,"totalScore":188}`
	rec, env := do(t, s, http.MethodPost, "/api/v1/scores", "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created score.TestScore
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.NotEmpty(t, created.ID)

	rec, env = do(t, s, http.MethodPost, "/api/v1/scores", "application/json", strings.NewReader(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", env.Error.Code)

	rec, env = do(t, s, http.MethodPost, "/api/v1/scores", "application/json", strings.NewReader(`{"testName":"Mock","testDate":"2024-03-01","totalScore":-1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	details, ok := env.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", details["StudentID"])
	assert.Equal(t, "gte", details["TotalScore"])
}

func TestPredictions(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodPost, "/api/v1/predictions", "application/json", strings.NewReader(`{"history":[]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	var p query.StudentPrediction
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 0.5, p.Prediction.GraduationProbability)
	assert.Equal(t, 0.1, p.Prediction.Confidence)

	body := `{"history":[{"testDate":"2024/03/01","totalScore":185,"sectionAD":140,"sectionBC":45,"rank":1,"examAverage":150}]}`
	rec, env = do(t, s, http.MethodPost, "/api/v1/predictions", "application/json", strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.InDelta(t, 0.4, p.Prediction.Confidence, 1e-9)
	assert.Len(t, p.Visualization.ChartData, 2)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/predictions", "application/json", strings.NewReader(`{"history":[{"testDate":"bad"}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	do(t, s, http.MethodPost, "/api/v1/tests/Mock/2024-03-01/results", "text/csv", strings.NewReader(resultsCSV))
	_, env = do(t, s, http.MethodGet, "/api/v1/predictions", "", nil)
	var all []query.StudentPrediction
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 3)
	assert.Equal(t, 3, env.Meta.TotalCount)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec, env := do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	s.deps.Health.AddCheck("store", func(context.Context) error { return errors.New("down") })
	rec, env = do(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec, env := do(t, s, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)
}
