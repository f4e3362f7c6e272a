package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/score-portal/score-portal/internal/application/command"
	"github.com/score-portal/score-portal/internal/application/query"
	"github.com/score-portal/score-portal/internal/domain/importer"
	"github.com/score-portal/score-portal/internal/domain/prediction"
	"github.com/score-portal/score-portal/internal/domain/score"
	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/internal/infrastructure/sheet"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST BODIES
// ══════════════════════════════════════════════════════════════════════════════

// cell accepts a JSON number or string and keeps its textual form, so JSON
// rows go through the same number parsing as spreadsheet cells.
type cell string

func (c *cell) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = cell(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = cell(n.String())
	return nil
}

type resultRow struct {
	StudentID  string `json:"studentId"`
	SectionA   cell   `json:"sectionA"`
	SectionB   cell   `json:"sectionB"`
	SectionC   cell   `json:"sectionC"`
	SectionD   cell   `json:"sectionD"`
	SectionAD  cell   `json:"sectionAD"`
	SectionBC  cell   `json:"sectionBC"`
	TotalScore cell   `json:"totalScore"`
}

type importResultsRequest struct {
	Rows []resultRow `json:"rows" validate:"required"`
}

func (req importResultsRequest) toRows() []importer.ScoreRow {
	rows := make([]importer.ScoreRow, len(req.Rows))
	for i, r := range req.Rows {
		rows[i] = importer.ScoreRow{
			Line:              i + 1,
			StudentExternalID: r.StudentID,
			SectionA:          string(r.SectionA),
			SectionB:          string(r.SectionB),
			SectionC:          string(r.SectionC),
			SectionD:          string(r.SectionD),
			SectionAD:         string(r.SectionAD),
			SectionBC:         string(r.SectionBC),
			TotalScore:        string(r.TotalScore),
		}
	}
	return rows
}

type rosterRow struct {
	Name       string `json:"name"`
	StudentID  string `json:"studentId"`
	Credential string `json:"credential"`
}

type importStudentsRequest struct {
	Students []rosterRow `json:"students" validate:"required"`
}

func (req importStudentsRequest) toRows() []importer.StudentRow {
	rows := make([]importer.StudentRow, len(req.Students))
	for i, s := range req.Students {
		rows[i] = importer.StudentRow{
			Line:        i + 1,
			DisplayName: s.Name,
			ExternalID:  s.StudentID,
			Credential:  s.Credential,
		}
	}
	return rows
}

type addScoreRequest struct {
	StudentID  string  `json:"studentId" validate:"required"`
	TestName   string  `json:"testName" validate:"required"`
	TestDate   string  `json:"testDate" validate:"required"`
	SectionA   float64 `json:"sectionA" validate:"gte=0"`
	SectionB   float64 `json:"sectionB" validate:"gte=0"`
	SectionC   float64 `json:"sectionC" validate:"gte=0"`
	SectionD   float64 `json:"sectionD" validate:"gte=0"`
	SectionAD  float64 `json:"sectionAD" validate:"gte=0"`
	SectionBC  float64 `json:"sectionBC" validate:"gte=0"`
	TotalScore float64 `json:"totalScore" validate:"gte=0"`
}

type historyItem struct {
	TestName    string   `json:"testName"`
	TestDate    string   `json:"testDate" validate:"required"`
	TotalScore  float64  `json:"totalScore" validate:"gte=0"`
	SectionAD   float64  `json:"sectionAD" validate:"gte=0"`
	SectionBC   float64  `json:"sectionBC" validate:"gte=0"`
	Rank        int      `json:"rank" validate:"gte=0"`
	ExamAverage *float64 `json:"examAverage,omitempty" validate:"omitempty,gte=0"`
}

type predictRequest struct {
	History []historyItem `json:"history" validate:"omitempty,dive"`
}

func (req predictRequest) toHistory() ([]prediction.HistoryEntry, error) {
	out := make([]prediction.HistoryEntry, 0, len(req.History))
	for _, h := range req.History {
		date, err := score.NormalizeDate(h.TestDate)
		if err != nil {
			return nil, err
		}
		out = append(out, prediction.HistoryEntry{
			Score: score.TestScore{
				TestName:   h.TestName,
				TestDate:   date,
				TotalScore: h.TotalScore,
				SectionAD:  h.SectionAD,
				SectionBC:  h.SectionBC,
			},
			Rank:        h.Rank,
			ExamAverage: h.ExamAverage,
		})
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROOT
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "score-portal",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/health",
			"tests":    "/api/v1/tests",
			"rankings": "/api/v1/rankings/total",
			"predict":  "/api/v1/predictions",
		},
	})
}

func (s *Server) notConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "handler not configured")
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListTests handles GET /api/v1/tests
func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListTests == nil {
		s.notConfigured(w, r)
		return
	}
	tests, err := s.deps.ListTests.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, "ListTests", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, tests, &ResponseMeta{TotalCount: len(tests)})
}

// handleTestRanking handles GET /api/v1/tests/{name}/{date}/ranking
func (s *Server) handleTestRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.TestRanking == nil {
		s.notConfigured(w, r)
		return
	}
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, "TestRanking", err)
		return
	}
	res, err := s.deps.TestRanking.Handle(r.Context(), query.GetTestRankingQuery{
		TestName: pathParam(r, "name"),
		TestDate: pathParam(r, "date"),
		Limit:    limit,
	})
	if err != nil {
		s.writeError(w, r, "TestRanking", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: res.Participants})
}

// handleTestStats handles GET /api/v1/tests/{name}/{date}/stats
func (s *Server) handleTestStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.TestStats == nil {
		s.notConfigured(w, r)
		return
	}
	b, err := s.deps.TestStats.Handle(r.Context(), pathParam(r, "name"), pathParam(r, "date"))
	if err != nil {
		s.writeError(w, r, "TestStats", err)
		return
	}
	writeJSON(w, r, http.StatusOK, b)
}

// handleDeleteTest handles DELETE /api/v1/tests/{name}/{date}
func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeleteTest == nil {
		s.notConfigured(w, r)
		return
	}
	res, err := s.deps.DeleteTest.Handle(r.Context(), command.DeleteTestCommand{
		TestName: pathParam(r, "name"),
		TestDate: pathParam(r, "date"),
	})
	if err != nil {
		s.writeError(w, r, "DeleteTest", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleImportResults handles POST /api/v1/tests/{name}/{date}/results.
// The body is JSON rows, a CSV or XLSX file, or a multipart form with a
// "file" field.
func (s *Server) handleImportResults(w http.ResponseWriter, r *http.Request) {
	if s.deps.ImportResults == nil {
		s.notConfigured(w, r)
		return
	}

	var rows []importer.ScoreRow
	err := s.readUpload(w, r,
		func() error {
			var req importResultsRequest
			if err := s.decodeJSON(r, &req); err != nil {
				return err
			}
			rows = req.toRows()
			return nil
		},
		func(body io.Reader, format sheet.Format) error {
			var err error
			rows, err = sheet.ParseScores(body, format)
			return err
		},
	)
	if err != nil {
		s.writeError(w, r, "ImportResults", err)
		return
	}

	res, err := s.deps.ImportResults.Handle(r.Context(), command.ImportTestResultsCommand{
		TestName: pathParam(r, "name"),
		TestDate: pathParam(r, "date"),
		Rows:     rows,
	})
	if err != nil {
		s.writeError(w, r, "ImportResults", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleTotalRanking handles GET /api/v1/rankings/total?policy=&limit=
func (s *Server) handleTotalRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.TotalRanking == nil {
		s.notConfigured(w, r)
		return
	}
	limit, err := getQueryParamInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, "TotalRanking", err)
		return
	}
	res, err := s.deps.TotalRanking.Handle(r.Context(), query.GetTotalRankingQuery{
		Policy: r.URL.Query().Get("policy"),
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, "TotalRanking", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, res, &ResponseMeta{TotalCount: len(res.Entries), Cached: res.Cached})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleImportStudents handles POST /api/v1/students/import
func (s *Server) handleImportStudents(w http.ResponseWriter, r *http.Request) {
	if s.deps.ImportStudents == nil {
		s.notConfigured(w, r)
		return
	}

	var rows []importer.StudentRow
	err := s.readUpload(w, r,
		func() error {
			var req importStudentsRequest
			if err := s.decodeJSON(r, &req); err != nil {
				return err
			}
			rows = req.toRows()
			return nil
		},
		func(body io.Reader, format sheet.Format) error {
			var err error
			rows, err = sheet.ParseStudents(body, format)
			return err
		},
	)
	if err != nil {
		s.writeError(w, r, "ImportStudents", err)
		return
	}

	res, err := s.deps.ImportStudents.Handle(r.Context(), command.ImportStudentsCommand{Rows: rows})
	if err != nil {
		s.writeError(w, r, "ImportStudents", err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// handleStudentReport handles GET /api/v1/students/{id}/report
func (s *Server) handleStudentReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.StudentReport == nil {
		s.notConfigured(w, r)
		return
	}
	report, err := s.deps.StudentReport.Handle(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "StudentReport", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleStudentPrediction handles GET /api/v1/students/{id}/prediction
func (s *Server) handleStudentPrediction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predict == nil {
		s.notConfigured(w, r)
		return
	}
	p, err := s.deps.Predict.PredictStudent(r.Context(), pathParam(r, "id"))
	if err != nil {
		s.writeError(w, r, "PredictStudent", err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// handleAddScore handles POST /api/v1/scores
func (s *Server) handleAddScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.AddScore == nil {
		s.notConfigured(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req addScoreRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "AddScore", err)
		return
	}
	rec, err := s.deps.AddScore.Handle(r.Context(), command.AddScoreCommand{
		StudentExternalID: req.StudentID,
		TestName:          req.TestName,
		TestDate:          req.TestDate,
		SectionA:          req.SectionA,
		SectionB:          req.SectionB,
		SectionC:          req.SectionC,
		SectionD:          req.SectionD,
		SectionAD:         req.SectionAD,
		SectionBC:         req.SectionBC,
		TotalScore:        req.TotalScore,
	})
	if err != nil {
		s.writeError(w, r, "AddScore", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rec)
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handlePredictHistory handles POST /api/v1/predictions
func (s *Server) handlePredictHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predict == nil {
		s.notConfigured(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req predictRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, "PredictHistory", err)
		return
	}
	history, err := req.toHistory()
	if err != nil {
		s.writeError(w, r, "PredictHistory", err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Predict.PredictHistory(history))
}

// handlePredictAll handles GET /api/v1/predictions
func (s *Server) handlePredictAll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Predict == nil {
		s.notConfigured(w, r)
		return
	}
	all, err := s.deps.Predict.PredictAll(r.Context())
	if err != nil {
		s.writeError(w, r, "PredictAll", err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, all, &ResponseMeta{TotalCount: len(all)})
}

// ══════════════════════════════════════════════════════════════════════════════
// UPLOADS
// ══════════════════════════════════════════════════════════════════════════════

var errUnsupportedMedia = shared.NewDomainError("http", "Upload", shared.ErrInvalidInput,
	"body must be JSON, text/csv, an XLSX workbook or multipart/form-data with a file field")

// readUpload dispatches on the content type: JSON bodies go to onJSON,
// tabular bodies and multipart files go to onSheet.
func (s *Server) readUpload(
	w http.ResponseWriter,
	r *http.Request,
	onJSON func() error,
	onSheet func(body io.Reader, format sheet.Format) error,
) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "application/json":
		return onJSON()

	case mediaType == "multipart/form-data":
		file, header, err := r.FormFile("file")
		if err != nil {
			return shared.WrapError("http", "Upload", shared.ErrInvalidInput, "missing file field", err)
		}
		defer file.Close()
		return wrapSheetError(onSheet(file, sheet.DetectFormat(header.Filename, header.Header.Get("Content-Type"))))

	case mediaType == "text/csv", mediaType == "text/plain", mediaType == sheet.ContentTypeXLSX:
		return wrapSheetError(onSheet(r.Body, sheet.DetectFormat("", mediaType)))

	default:
		return errUnsupportedMedia
	}
}

func wrapSheetError(err error) error {
	if err == nil || shared.IsValidation(err) {
		return err
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return shared.WrapError("http", "Upload", shared.ErrInvalidInput, "upload too large", err)
	}
	return shared.WrapError("http", "Upload", shared.ErrInvalidFormat, "unreadable sheet", err)
}
