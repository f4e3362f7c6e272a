package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/score-portal/score-portal/pkg/logger"
)

// requestLogger logs one line per request and puts a request scoped logger
// into the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := logger.WithContext(r.Context(), s.logger.WithRequestID(requestID))
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logger.Field{
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Latency(time.Since(start)),
			logger.String("ip", r.RemoteAddr),
			logger.String("request_id", requestID),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Info("http request", fields...)
	})
}
