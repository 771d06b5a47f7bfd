package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/archive"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
	"github.com/welldanyogia/secure-login/backend/internal/repository"
	"github.com/welldanyogia/secure-login/backend/internal/sanitizer"
	"github.com/welldanyogia/secure-login/backend/internal/session"
	"golang.org/x/crypto/bcrypt"
)

// Auth service errors
var (
	ErrInvalidInput       = errors.New("invalid input data")
	ErrAlreadyExists      = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCSRF        = errors.New("invalid csrf token")
)

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeTooManyAttempts    = "TOO_MANY_ATTEMPTS"
	CodeInvalidCSRF        = "INVALID_CSRF_TOKEN"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeSessionExpired     = "SESSION_EXPIRED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// DashboardActivityLimit is the number of recent records shown on the dashboard
const DashboardActivityLimit = 5

// ActivityArchive is the file tree audit store. It is optional.
type ActivityArchive interface {
	Append(ctx context.Context, userID int64, username, action, ipAddress string, data map[string]any) (string, error)
	ListForAccount(ctx context.Context, userID int64, limit int) ([]archive.Record, error)
	StatsForAccount(ctx context.Context, userID int64) (*archive.Stats, error)
}

// ClientInfo identifies the caller of an operation
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Username        string `json:"username" validate:"required,username"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirm_password" validate:"omitempty,eqfield=Password"`
	CSRFToken       string `json:"csrf_token"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
	CSRFToken  string `json:"csrf_token"`
}

// RegisterResponse is returned for a new account
type RegisterResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	LoginTime time.Time `json:"login_time"`
}

// LoginResult carries the new session and, when requested, the remember token
type LoginResult struct {
	Session       *session.Context
	RememberToken *RememberToken
	User          UserResponse
}

// DashboardResponse is the dashboard payload
type DashboardResponse struct {
	User           UserResponse     `json:"user"`
	RecentActivity []archive.Record `json:"recent_activity"`
	Stats          archive.Stats    `json:"stats"`
}

// AuthServiceDeps holds the collaborators of AuthService. Archive may be nil.
type AuthServiceDeps struct {
	Users     repository.UserRepository
	Attempts  repository.LoginAttemptRepository
	Audit     repository.AuditRepository
	Sessions  *SessionManager
	Limiter   *RateLimiter
	Passwords *PasswordValidator
	Inputs    *InputValidator
	Sanitizer sanitizer.InputSanitizer
	Archive   ActivityArchive
	Logger    *slog.Logger
}

// AuthService handles authentication business logic. It is the only
// component writing to both the relational store and the archive.
type AuthService struct {
	users     repository.UserRepository
	attempts  repository.LoginAttemptRepository
	audit     repository.AuditRepository
	sessions  *SessionManager
	limiter   *RateLimiter
	passwords *PasswordValidator
	inputs    *InputValidator
	sanitizer sanitizer.InputSanitizer
	archive   ActivityArchive
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService creates a new AuthService instance
func NewAuthService(deps AuthServiceDeps) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	passwords := deps.Passwords
	if passwords == nil {
		passwords = NewPasswordValidator()
	}
	inputs := deps.Inputs
	if inputs == nil {
		inputs = NewInputValidator()
	}
	clean := deps.Sanitizer
	if clean == nil {
		clean = sanitizer.NewInputSanitizer()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(deps.Attempts, DefaultRatePolicy())
	}
	return &AuthService{
		users:     deps.Users,
		attempts:  deps.Attempts,
		audit:     deps.Audit,
		sessions:  deps.Sessions,
		limiter:   limiter,
		passwords: passwords,
		inputs:    inputs,
		sanitizer: clean,
		archive:   deps.Archive,
		logger:    logger,
		now:       time.Now,
	}
}

// Sessions exposes the session manager to the HTTP layer
func (s *AuthService) Sessions() *SessionManager {
	return s.sessions
}

// Register creates a new account. Field errors are returned together with
// ErrInvalidInput.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest, client ClientInfo) (*RegisterResponse, []ValidationError, error) {
	input := RegisterRequest{
		Username:        s.sanitizer.Clean(req.Username),
		Email:           s.sanitizer.Clean(req.Email),
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	}

	if fieldErrs := s.inputs.ValidateStruct(input); len(fieldErrs) > 0 {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, fieldErrs, ErrInvalidInput
	}

	exists, err := s.users.UsernameOrEmailExists(ctx, input.Username, input.Email)
	if err != nil {
		s.logger.Error("failed to check existing accounts", slog.Any("error", err))
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, nil, ErrStorageUnavailable
	}
	if exists {
		metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
		return nil, nil, ErrAlreadyExists
	}

	passwordHash, err := s.passwords.HashPassword(input.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
			return nil, []ValidationError{{Field: "password", Message: "Password must be at most 72 bytes long"}}, ErrInvalidInput
		}
		s.logger.Error("failed to hash password", slog.Any("error", err))
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, nil, ErrStorageUnavailable
	}

	user := &repository.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateCredential) {
			metrics.RegistrationsTotal.WithLabelValues("duplicate").Inc()
			return nil, nil, ErrAlreadyExists
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, nil, ErrStorageUnavailable
	}

	s.appendAudit(ctx, user.ID, repository.ActionRegistration, "User registered successfully", client.IPAddress)
	s.appendArchive(ctx, user.ID, user.Username, repository.ActionRegistration, client.IPAddress, map[string]any{
		"email":               user.Email,
		"registration_method": "web_form",
	})

	metrics.RegistrationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("account registered", slog.Int64("user_id", user.ID))

	return &RegisterResponse{UserID: user.ID, Username: user.Username}, nil, nil
}

// Login verifies credentials and authenticates the caller's session.
// A rate limited call touches neither the credentials nor the attempt history.
func (s *AuthService) Login(ctx context.Context, req LoginRequest, current *session.Context, client ClientInfo) (*LoginResult, error) {
	username := s.sanitizer.Clean(req.Username)
	if fieldErrs := s.inputs.ValidateStruct(LoginRequest{Username: username, Password: req.Password}); len(fieldErrs) > 0 {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidInput
	}

	blocked, err := s.limiter.IsBlocked(ctx, username, client.IPAddress)
	if err != nil {
		s.logger.Error("failed to evaluate login rate limit", slog.Any("error", err))
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, ErrStorageUnavailable
	}
	if blocked {
		metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
		s.logger.Warn("login rate limited",
			slog.String("username", username),
			slog.String("ip_address", client.IPAddress),
		)
		return nil, ErrRateLimited
	}

	user, err := s.users.GetActiveByUsername(ctx, username)
	verified := false
	switch {
	case err == nil:
		verified = s.passwords.VerifyPassword(req.Password, user.PasswordHash) == nil
	case errors.Is(err, repository.ErrUserNotFound):
		s.passwords.BurnComparison(req.Password)
	default:
		s.logger.Error("failed to look up account", slog.Any("error", err))
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, ErrStorageUnavailable
	}

	if err := s.attempts.Record(ctx, username, client.IPAddress, verified); err != nil {
		s.logger.Warn("failed to record login attempt",
			slog.String("username", username),
			slog.Any("error", err),
		)
	}

	if !verified {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	sc, remember, err := s.sessions.Authenticate(ctx, current, user, client.IPAddress, client.UserAgent, req.RememberMe)
	if err != nil {
		s.logger.Error("failed to create session", slog.Int64("user_id", user.ID), slog.Any("error", err))
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return nil, ErrStorageUnavailable
	}

	userAgent := client.UserAgent
	if userAgent == "" {
		userAgent = "unknown"
	}
	s.appendAudit(ctx, user.ID, repository.ActionLogin, "User logged in successfully", client.IPAddress)
	s.appendArchive(ctx, user.ID, user.Username, repository.ActionLogin, client.IPAddress, map[string]any{
		"remember_me": req.RememberMe,
		"ip_address":  client.IPAddress,
		"user_agent":  userAgent,
	})

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.Info("login succeeded", slog.Int64("user_id", user.ID))

	return &LoginResult{
		Session:       sc,
		RememberToken: remember,
		User:          toUserResponse(sc),
	}, nil
}

// Logout audits and ends the session identified by token. A missing or
// anonymous session is a successful no-op apart from dropping the context.
func (s *AuthService) Logout(ctx context.Context, token string, client ClientInfo) error {
	sc, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		s.logger.Error("failed to load session for logout", slog.Any("error", err))
		return ErrStorageUnavailable
	}

	if sc.Authenticated {
		duration := int64(s.now().Sub(sc.CreatedAt).Seconds())
		s.appendAudit(ctx, sc.UserID, repository.ActionLogout, "User logged out", client.IPAddress)
		s.appendArchive(ctx, sc.UserID, sc.Username, repository.ActionLogout, client.IPAddress, map[string]any{
			"session_duration": duration,
		})
	}

	if err := s.sessions.Logout(ctx, token); err != nil {
		s.logger.Error("failed to end session", slog.Any("error", err))
		return ErrStorageUnavailable
	}
	return nil
}

// IsAuthenticated reports whether token belongs to a live authenticated session
func (s *AuthService) IsAuthenticated(ctx context.Context, token string) (*session.Context, bool) {
	return s.sessions.IsAuthenticated(ctx, token)
}

// RecordActivity writes a generic audited action for the session's account
func (s *AuthService) RecordActivity(ctx context.Context, sc *session.Context, action, description string, client ClientInfo) {
	s.appendAudit(ctx, sc.UserID, action, description, client.IPAddress)

	username := sc.Username
	if username == "" {
		name, err := s.users.GetUsernameByID(ctx, sc.UserID)
		if err != nil {
			s.logger.Warn("failed to resolve username for archive",
				slog.Int64("user_id", sc.UserID),
				slog.Any("error", err),
			)
			return
		}
		username = name
	}
	s.appendArchive(ctx, sc.UserID, username, action, client.IPAddress, map[string]any{
		"description": description,
		"ip_address":  archiveIP(client.IPAddress),
	})
}

// Dashboard records the access and returns recent activity with stats
func (s *AuthService) Dashboard(ctx context.Context, sc *session.Context, client ClientInfo) (*DashboardResponse, error) {
	s.RecordActivity(ctx, sc, repository.ActionDashboardAccess, "User accessed dashboard", client)

	return &DashboardResponse{
		User:           toUserResponse(sc),
		RecentActivity: s.GetRecentActivity(ctx, sc.UserID, DashboardActivityLimit),
		Stats:          s.GetActivityStats(ctx, sc.UserID),
	}, nil
}

// GetRecentActivity returns the newest archived records, empty when the
// archive is absent or failing
func (s *AuthService) GetRecentActivity(ctx context.Context, userID int64, limit int) []archive.Record {
	if s.archive == nil {
		return []archive.Record{}
	}
	records, err := s.archive.ListForAccount(ctx, userID, limit)
	if err != nil {
		s.logger.Warn("failed to read activity archive", slog.Int64("user_id", userID), slog.Any("error", err))
		return []archive.Record{}
	}
	if records == nil {
		return []archive.Record{}
	}
	return records
}

// GetActivityStats returns archive statistics, zeroed when unavailable
func (s *AuthService) GetActivityStats(ctx context.Context, userID int64) archive.Stats {
	if s.archive == nil {
		return archive.EmptyStats()
	}
	stats, err := s.archive.StatsForAccount(ctx, userID)
	if err != nil || stats == nil {
		if err != nil {
			s.logger.Warn("failed to compute activity stats", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return archive.EmptyStats()
	}
	return *stats
}

// GetAuditTrail returns the relational audit entries of an account
func (s *AuthService) GetAuditTrail(ctx context.Context, userID int64, limit int) ([]repository.AuditEntry, error) {
	entries, err := s.audit.ListByUser(ctx, userID, limit)
	if err != nil {
		s.logger.Error("failed to list audit entries", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, ErrStorageUnavailable
	}
	if entries == nil {
		entries = []repository.AuditEntry{}
	}
	return entries, nil
}

// appendAudit is best-effort, failures are logged and counted
func (s *AuthService) appendAudit(ctx context.Context, userID int64, action, description, ipAddress string) {
	entry := &repository.AuditEntry{
		UserID:      userID,
		Action:      action,
		Description: description,
		IPAddress:   archiveIP(ipAddress),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		metrics.AuditWriteFailuresTotal.WithLabelValues("database").Inc()
		s.logger.Warn("failed to write audit entry",
			slog.Int64("user_id", userID),
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

// appendArchive is best-effort and skipped when no archive is configured
func (s *AuthService) appendArchive(ctx context.Context, userID int64, username, action, ipAddress string, data map[string]any) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.Append(ctx, userID, username, action, ipAddress, data); err != nil {
		metrics.AuditWriteFailuresTotal.WithLabelValues("archive").Inc()
		s.logger.Warn("failed to write activity record",
			slog.Int64("user_id", userID),
			slog.String("action", action),
			slog.Any("error", err),
		)
	}
}

func archiveIP(ip string) string {
	if ip == "" {
		return "unknown"
	}
	return ip
}

func toUserResponse(sc *session.Context) UserResponse {
	return UserResponse{
		ID:        sc.UserID,
		Username:  sc.Username,
		Email:     sc.Email,
		LoginTime: sc.LoginTime,
	}
}
