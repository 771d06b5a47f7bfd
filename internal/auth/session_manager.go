package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
	"github.com/welldanyogia/secure-login/backend/internal/repository"
	"github.com/welldanyogia/secure-login/backend/internal/session"
)

// DefaultSessionTimeout is the idle limit of an authenticated session
const DefaultSessionTimeout = time.Hour

// CSRFTokenBytes is the entropy of a CSRF token
const CSRFTokenBytes = 32

// ErrNotAuthenticated is returned by Check for anonymous sessions
var ErrNotAuthenticated = errors.New("session is not authenticated")

// SessionManager drives the Anonymous -> Authenticated -> TimedOut/LoggedOut
// lifecycle. The store holds the live context, the repository the durable row.
type SessionManager struct {
	store    session.Store
	sessions repository.SessionRepository
	tokens   *TokenService
	timeout  time.Duration
	now      func() time.Time
	random   io.Reader
	logger   *slog.Logger
}

// NewSessionManager creates a manager, a non-positive timeout takes the default
func NewSessionManager(
	store session.Store,
	sessions repository.SessionRepository,
	tokens *TokenService,
	timeout time.Duration,
	logger *slog.Logger,
) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:    store,
		sessions: sessions,
		tokens:   tokens,
		timeout:  timeout,
		now:      time.Now,
		random:   rand.Reader,
		logger:   logger,
	}
}

// authenticatedTTL leaves the store entry alive past the idle limit so that
// Check can observe the expiry and invalidate the durable row.
func (m *SessionManager) authenticatedTTL() time.Duration {
	return 2 * m.timeout
}

// Begin creates an anonymous context with a fresh CSRF token
func (m *SessionManager) Begin(ctx context.Context, ipAddress, userAgent string) (*session.Context, error) {
	csrf, err := randomHex(m.random, CSRFTokenBytes)
	if err != nil {
		return nil, err
	}

	sc := &session.Context{
		Token:     uuid.NewString(),
		CSRFToken: csrf,
		CreatedAt: m.now(),
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	if err := m.store.Save(ctx, sc, m.timeout); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	metrics.SessionTransitionsTotal.WithLabelValues("anonymous").Inc()
	return sc, nil
}

// Lookup loads a context without any state transition
func (m *SessionManager) Lookup(ctx context.Context, token string) (*session.Context, error) {
	if token == "" {
		return nil, session.ErrNotFound
	}
	sc, err := m.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return sc, nil
}

// Authenticate moves the caller to the Authenticated state under a new token.
// When rememberMe is set the remember token is issued first; if that fails no
// session is created.
func (m *SessionManager) Authenticate(
	ctx context.Context,
	current *session.Context,
	user *repository.User,
	ipAddress, userAgent string,
	rememberMe bool,
) (*session.Context, *RememberToken, error) {
	var remember *RememberToken
	if rememberMe {
		tok, err := m.tokens.Issue(user.ID, user.Username)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to issue remember token: %w", err)
		}
		remember = tok
	}

	csrf, err := randomHex(m.random, CSRFTokenBytes)
	if err != nil {
		return nil, nil, err
	}

	now := m.now()
	sc := &session.Context{
		Token:         uuid.NewString(),
		CSRFToken:     csrf,
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Authenticated: true,
		LoginTime:     now,
		CreatedAt:     now,
		IPAddress:     ipAddress,
		UserAgent:     userAgent,
	}

	if err := m.sessions.Create(ctx, &repository.Session{
		UserID:    user.ID,
		SessionID: sc.Token,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		IsActive:  true,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if err := m.store.Save(ctx, sc, m.authenticatedTTL()); err != nil {
		if invErr := m.sessions.Invalidate(ctx, sc.Token); invErr != nil {
			m.logger.Warn("failed to invalidate orphaned session row", slog.Any("error", invErr))
		}
		return nil, nil, fmt.Errorf("failed to save session: %w", err)
	}

	if current != nil && current.Token != "" && current.Token != sc.Token {
		if err := m.store.Delete(ctx, current.Token); err != nil {
			m.logger.Warn("failed to discard anonymous session", slog.Any("error", err))
		}
	}

	metrics.SessionTransitionsTotal.WithLabelValues("authenticated").Inc()
	return sc, remember, nil
}

// Check returns the authenticated context for token and slides its login
// time. An idle session is invalidated and reported as ErrSessionExpired.
func (m *SessionManager) Check(ctx context.Context, token string) (*session.Context, error) {
	sc, err := m.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sc.Authenticated {
		return nil, ErrNotAuthenticated
	}

	now := m.now()
	if now.Sub(sc.LoginTime) > m.timeout {
		m.expire(ctx, sc)
		return nil, ErrSessionExpired
	}

	sc.LoginTime = now
	if err := m.store.Refresh(ctx, sc, m.authenticatedTTL()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return sc, nil
}

// IsAuthenticated reports whether token belongs to a live authenticated session
func (m *SessionManager) IsAuthenticated(ctx context.Context, token string) (*session.Context, bool) {
	sc, err := m.Check(ctx, token)
	if err != nil {
		return nil, false
	}
	return sc, true
}

func (m *SessionManager) expire(ctx context.Context, sc *session.Context) {
	if err := m.sessions.Invalidate(ctx, sc.Token); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		m.logger.Warn("failed to invalidate timed out session",
			slog.Int64("user_id", sc.UserID),
			slog.Any("error", err),
		)
	}
	if err := m.store.Delete(ctx, sc.Token); err != nil {
		m.logger.Warn("failed to delete timed out session", slog.Any("error", err))
	}
	metrics.SessionTransitionsTotal.WithLabelValues("timed_out").Inc()
}

// Logout marks the durable row inactive and drops the context. An unknown
// token is not an error.
func (m *SessionManager) Logout(ctx context.Context, token string) error {
	sc, err := m.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}

	if sc.Authenticated {
		if err := m.sessions.Invalidate(ctx, sc.Token); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
			m.logger.Warn("failed to invalidate session row",
				slog.Int64("user_id", sc.UserID),
				slog.Any("error", err),
			)
		}
	}

	if err := m.store.Delete(ctx, sc.Token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if sc.Authenticated {
		metrics.SessionTransitionsTotal.WithLabelValues("logged_out").Inc()
	}
	return nil
}
