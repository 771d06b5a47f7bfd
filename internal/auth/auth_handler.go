package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	appctx "github.com/welldanyogia/secure-login/backend/internal/context"
	"github.com/welldanyogia/secure-login/backend/internal/logger"
	"github.com/welldanyogia/secure-login/backend/internal/session"
)

// Response messages
const (
	MsgRegistrationSuccess = "Registration successful"
	MsgInvalidInput        = "Invalid input data"
	MsgAlreadyExists       = "Username or email already exists"
	MsgTooManyAttempts     = "Too many login attempts. Please try again later."
	MsgInvalidCredentials  = "Invalid username or password"
	MsgLoginSuccess        = "Login successful"
	MsgLogoutSuccess       = "Logout successful"
	MsgInvalidCSRF         = "Invalid CSRF token"
	MsgRegistrationError   = "An error occurred during registration"
	MsgLoginError          = "An error occurred during login"
	MsgUnexpectedError     = "An unexpected error occurred"
)

// CSRFHeader may carry the CSRF token instead of the request body
const CSRFHeader = "X-CSRF-Token"

const maxBodyBytes = 1 << 20

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication and account endpoints
type AuthHandler struct {
	authService *AuthService
	cookies     *CookieManager
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, cookies *CookieManager, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

// CSRF begins or reuses a session and returns its CSRF token
// GET /api/v1/auth/csrf
func (h *AuthHandler) CSRF(w http.ResponseWriter, r *http.Request) {
	sc, err := h.ensureSession(w, r)
	if err != nil {
		h.log(r).Error("failed to begin session", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgUnexpectedError, nil)
		return
	}
	h.writeSuccess(w, http.StatusOK, "", map[string]string{"csrf_token": sc.CSRFToken})
}

// Register handles account registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, MsgInvalidInput, nil)
		return
	}

	if _, ok := h.verifyCSRF(r, h.currentSession(r), req.CSRFToken); !ok {
		h.writeError(w, http.StatusForbidden, CodeInvalidCSRF, MsgInvalidCSRF, nil)
		return
	}

	response, fieldErrs, err := h.authService.Register(r.Context(), req, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, MsgInvalidInput, groupFieldErrors(fieldErrs))
		case errors.Is(err, ErrAlreadyExists):
			h.writeError(w, http.StatusConflict, CodeAlreadyExists, MsgAlreadyExists, nil)
		default:
			h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgRegistrationError, nil)
		}
		return
	}

	h.writeSuccess(w, http.StatusCreated, MsgRegistrationSuccess, response)
}

// Login handles credential verification and session creation
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, MsgInvalidInput, nil)
		return
	}

	current, ok := h.verifyCSRF(r, h.currentSession(r), req.CSRFToken)
	if !ok {
		h.writeError(w, http.StatusForbidden, CodeInvalidCSRF, MsgInvalidCSRF, nil)
		return
	}

	result, err := h.authService.Login(r.Context(), req, current, clientInfo(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, CodeValidationError, MsgInvalidInput, nil)
		case errors.Is(err, ErrRateLimited):
			window := h.authService.limiter.Policy().Window
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			h.writeError(w, http.StatusTooManyRequests, CodeTooManyAttempts, MsgTooManyAttempts, nil)
		case errors.Is(err, ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, MsgInvalidCredentials, nil)
		default:
			h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgLoginError, nil)
		}
		return
	}

	if err := h.cookies.SetToken(w, r, result.Session.Token); err != nil {
		h.log(r).Error("failed to write session cookie", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgLoginError, nil)
		return
	}
	if result.RememberToken != nil {
		h.cookies.SetRemember(w, r, result.RememberToken)
	}

	h.writeSuccess(w, http.StatusOK, MsgLoginSuccess, map[string]interface{}{
		"user":       result.User,
		"csrf_token": result.Session.CSRFToken,
	})
}

// Logout ends the caller's session and clears both cookies
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, CodeValidationError, MsgInvalidInput, nil)
		return
	}

	sc, _ := appctx.ExtractSession(r.Context())
	if _, ok := h.verifyCSRF(r, sc, req.CSRFToken); !ok {
		h.writeError(w, http.StatusForbidden, CodeInvalidCSRF, MsgInvalidCSRF, nil)
		return
	}

	if err := h.authService.Logout(r.Context(), sc.Token, clientInfo(r)); err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgUnexpectedError, nil)
		return
	}

	if err := h.cookies.ClearToken(w, r); err != nil {
		h.log(r).Warn("failed to clear session cookie", slog.Any("error", err))
	}
	h.cookies.ClearRemember(w, r)

	h.writeSuccess(w, http.StatusOK, MsgLogoutSuccess, nil)
}

// Session reports whether the caller is authenticated
// GET /api/v1/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.authService.IsAuthenticated(r.Context(), h.cookies.Token(r))
	data := map[string]interface{}{"authenticated": ok}
	if ok {
		data["user"] = toUserResponse(sc)
		data["csrf_token"] = sc.CSRFToken
	}
	h.writeSuccess(w, http.StatusOK, "", data)
}

// Dashboard records the visit and returns recent activity and stats
// GET /api/v1/account/dashboard
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	sc, _ := appctx.ExtractSession(r.Context())
	response, err := h.authService.Dashboard(r.Context(), sc, clientInfo(r))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgUnexpectedError, nil)
		return
	}
	h.writeSuccess(w, http.StatusOK, "", response)
}

// Activity returns the newest archived records of the caller
// GET /api/v1/account/activity?limit=
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	sc, _ := appctx.ExtractSession(r.Context())
	limit := parseLimit(r, 10)
	records := h.authService.GetRecentActivity(r.Context(), sc.UserID, limit)
	h.writeSuccess(w, http.StatusOK, "", records)
}

// ActivityStats returns archive statistics of the caller
// GET /api/v1/account/activity/stats
func (h *AuthHandler) ActivityStats(w http.ResponseWriter, r *http.Request) {
	sc, _ := appctx.ExtractSession(r.Context())
	h.writeSuccess(w, http.StatusOK, "", h.authService.GetActivityStats(r.Context(), sc.UserID))
}

// AuditTrail returns relational audit entries of the caller
// GET /api/v1/account/audit?limit=
func (h *AuthHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	sc, _ := appctx.ExtractSession(r.Context())
	entries, err := h.authService.GetAuditTrail(r.Context(), sc.UserID, parseLimit(r, 0))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, CodeInternalError, MsgUnexpectedError, nil)
		return
	}
	h.writeSuccess(w, http.StatusOK, "", entries)
}

// log returns the handler logger tagged with the request's correlation id
func (h *AuthHandler) log(r *http.Request) *slog.Logger {
	return logger.WithCorrelationID(r.Context(), h.logger)
}

// currentSession loads the context referenced by the session cookie, or nil
func (h *AuthHandler) currentSession(r *http.Request) *session.Context {
	sc, err := h.authService.Sessions().Lookup(r.Context(), h.cookies.Token(r))
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			h.log(r).Warn("failed to load session", slog.Any("error", err))
		}
		return nil
	}
	return sc
}

// ensureSession returns the current context, beginning an anonymous one if needed
func (h *AuthHandler) ensureSession(w http.ResponseWriter, r *http.Request) (*session.Context, error) {
	if sc := h.currentSession(r); sc != nil {
		return sc, nil
	}
	client := clientInfo(r)
	sc, err := h.authService.Sessions().Begin(r.Context(), client.IPAddress, client.UserAgent)
	if err != nil {
		return nil, err
	}
	if err := h.cookies.SetToken(w, r, sc.Token); err != nil {
		return nil, err
	}
	return sc, nil
}

// verifyCSRF compares the submitted token with the session's in constant time
func (h *AuthHandler) verifyCSRF(r *http.Request, sc *session.Context, submitted string) (*session.Context, bool) {
	if sc == nil || sc.CSRFToken == "" {
		return nil, false
	}
	if submitted == "" {
		submitted = r.Header.Get(CSRFHeader)
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(sc.CSRFToken)) != 1 {
		return nil, false
	}
	return sc, true
}

// writeSuccess writes a success JSON response
func (h *AuthHandler) writeSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON response
func (h *AuthHandler) writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    code,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func groupFieldErrors(fieldErrs []ValidationError) map[string][]string {
	if len(fieldErrs) == 0 {
		return nil
	}
	details := make(map[string][]string)
	for _, fe := range fieldErrs {
		details[fe.Field] = append(details[fe.Field], fe.Message)
	}
	return details
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func clientInfo(r *http.Request) ClientInfo {
	return ClientInfo{IPAddress: ClientIP(r), UserAgent: r.UserAgent()}
}

// UnknownIP is recorded when the connection address cannot be parsed
const UnknownIP = "unknown"

// ClientIP returns the canonical form of the connection's remote address.
// Forwarding headers are honoured only through chi's RealIP middleware, which
// rewrites RemoteAddr before this runs.
func ClientIP(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return UnknownIP
	}
	return addr.WithZone("").String()
}
