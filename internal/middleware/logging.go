// Package middleware provides HTTP middleware for the backend API.
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/welldanyogia/secure-login/backend/internal/logger"
)

// LoggingMiddleware writes one structured access log line per request
type LoggingMiddleware struct {
	logger    *slog.Logger
	skipPaths map[string]bool
}

// NewLoggingMiddleware creates a new LoggingMiddleware instance. Requests to
// skipPaths that succeed are not logged.
func NewLoggingMiddleware(log *slog.Logger, skipPaths ...string) *LoggingMiddleware {
	if log == nil {
		log = slog.Default()
	}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return &LoggingMiddleware{
		logger:    log,
		skipPaths: skip,
	}
}

// Handler logs method, path, status, size and duration with the request ID
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := middleware.GetReqID(r.Context())
		r = r.WithContext(logger.SetCorrelationID(r.Context(), requestID))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status < 400 && m.skipPaths[r.URL.Path] {
			return
		}

		attrs := []any{
			slog.String("correlation_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			attrs = append(attrs, slog.String("x_forwarded_for", xff))
		}

		switch {
		case status >= 500:
			m.logger.Error("http request completed with server error", attrs...)
		case status >= 400:
			m.logger.Warn("http request completed with client error", attrs...)
		default:
			m.logger.Info("http request completed", attrs...)
		}
	})
}
