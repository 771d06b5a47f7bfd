package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/auth"
	appctx "github.com/welldanyogia/secure-login/backend/internal/context"
	"github.com/welldanyogia/secure-login/backend/internal/session"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code string `json:"code"`
}

// SessionChecker resolves a session token to an authenticated context
type SessionChecker interface {
	Check(ctx context.Context, token string) (*session.Context, error)
}

// TokenReader reads and clears the session token carried by a request
type TokenReader interface {
	Token(r *http.Request) string
	ClearToken(w http.ResponseWriter, r *http.Request) error
}

// SessionMiddleware guards routes that need an authenticated session
type SessionMiddleware struct {
	sessions SessionChecker
	cookies  TokenReader
	logger   *slog.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware instance
func NewSessionMiddleware(sessions SessionChecker, cookies TokenReader, logger *slog.Logger) *SessionMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionMiddleware{
		sessions: sessions,
		cookies:  cookies,
		logger:   logger,
	}
}

// RequireSession rejects requests without a live authenticated session and
// places the session context on the request context
func (m *SessionMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.cookies.Token(r)
		if token == "" {
			writeJSONError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "Authentication required")
			return
		}

		sc, err := m.sessions.Check(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrSessionExpired):
				if clearErr := m.cookies.ClearToken(w, r); clearErr != nil {
					m.logger.Warn("failed to clear expired session cookie", slog.Any("error", clearErr))
				}
				writeJSONError(w, http.StatusUnauthorized, auth.CodeSessionExpired, "Session expired")
			case errors.Is(err, session.ErrNotFound), errors.Is(err, auth.ErrNotAuthenticated):
				writeJSONError(w, http.StatusUnauthorized, auth.CodeUnauthorized, "Authentication required")
			default:
				m.logger.Error("failed to check session", slog.Any("error", err))
				writeJSONError(w, http.StatusInternalServerError, auth.CodeInternalError, auth.MsgUnexpectedError)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithSession(r.Context(), sc)))
	})
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success:   false,
		Message:   message,
		Error:     ErrorDetail{Code: code},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
