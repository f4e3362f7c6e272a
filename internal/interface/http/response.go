package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/score-portal/score-portal/internal/domain/shared"
	"github.com/score-portal/score-portal/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
}

// writeJSON writes a successful envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSONWithMeta(w, r, status, data, nil)
}

// writeJSONWithMeta writes a successful envelope with custom metadata.
func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	writeEnvelope(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeJSONError writes an error envelope.
func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONErrorWithDetails(w, r, status, code, message, nil)
}

// writeJSONErrorWithDetails writes an error envelope with details.
func writeJSONErrorWithDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeEnvelope(w, status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps a domain error to an HTTP status and an error code.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsDuplicate(err):
		return http.StatusConflict, "duplicate"
	case shared.IsConflict(err):
		return http.StatusConflict, "import_in_progress"
	case shared.IsStorage(err), errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError maps err onto the envelope. Server side failures are logged
// and their message is not echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "request validation failed", fields)
		return
	}

	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logger.Operation(op),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Err(err),
		)
		message = http.StatusText(status)
	}
	writeJSONError(w, r, status, code, message)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var errBadJSON = shared.NewDomainError("http", "Decode", shared.ErrInvalidInput, "malformed JSON body")

// decodeJSON reads a JSON body into dst and runs struct validation.
func (s *Server) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return shared.NewDomainError("http", "Decode", shared.ErrInvalidInput, "request body is empty")
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidInput, errBadJSON.Message, err)
	}
	return s.validate.Struct(dst)
}

// pathParam returns a URL parameter, unescaped when the router left it encoded.
func pathParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// getQueryParamInt extracts a non-negative integer query parameter.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, shared.NewDomainError("http", "Query", shared.ErrInvalidInput, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return n, nil
}
