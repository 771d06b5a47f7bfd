package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
)

// Session repository errors
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository defines the interface for persisted session access
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Invalidate(ctx context.Context, sessionID string) error
}

// LoginAttemptRepository defines the interface for login history access
type LoginAttemptRepository interface {
	Record(ctx context.Context, username, ipAddress string, success bool) error
	CountRecentFailed(ctx context.Context, username, ipAddress string, since time.Time) (int, error)
}

// sessionRepository implements SessionRepository using PostgreSQL
type sessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepository{pool: pool}
}

// Create inserts a new active session
func (r *sessionRepository) Create(ctx context.Context, session *Session) error {
	defer metrics.TimeQuery("insert_session")()

	query := `
		INSERT INTO user_sessions (user_id, session_id, ip_address, user_agent, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		session.UserID,
		session.SessionID,
		session.IPAddress,
		session.UserAgent,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	session.IsActive = true
	return nil
}

// Invalidate marks a session inactive
func (r *sessionRepository) Invalidate(ctx context.Context, sessionID string) error {
	defer metrics.TimeQuery("invalidate_session")()

	query := `UPDATE user_sessions SET is_active = FALSE WHERE session_id = $1`

	result, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

// loginAttemptRepository implements LoginAttemptRepository using PostgreSQL
type loginAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository instance
func NewLoginAttemptRepository(pool *pgxpool.Pool) LoginAttemptRepository {
	return &loginAttemptRepository{pool: pool}
}

// Record appends a login attempt with its outcome
func (r *loginAttemptRepository) Record(ctx context.Context, username, ipAddress string, success bool) error {
	defer metrics.TimeQuery("insert_login_attempt")()

	query := `
		INSERT INTO login_attempts (username, ip_address, success, attempt_time)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.pool.Exec(ctx, query, username, ipAddress, success, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

// CountRecentFailed counts failed attempts after since that match the username or the address
func (r *loginAttemptRepository) CountRecentFailed(ctx context.Context, username, ipAddress string, since time.Time) (int, error) {
	defer metrics.TimeQuery("count_failed_attempts")()

	query := `
		SELECT COUNT(*)
		FROM login_attempts
		WHERE (username = $1 OR ip_address = $2)
		  AND attempt_time > $3
		  AND success = FALSE
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, username, ipAddress, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count failed attempts: %w", err)
	}

	return count, nil
}
