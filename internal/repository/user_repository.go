package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
)

// Common errors
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateCredential = errors.New("username or email already exists")
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

// UserRepository defines the interface for user data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetActiveByUsername(ctx context.Context, username string) (*User, error)
	GetUsernameByID(ctx context.Context, id int64) (string, error)
	UsernameOrEmailExists(ctx context.Context, username, email string) (bool, error)
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

// Create inserts a new account and fills in its generated id.
// A unique constraint violation on username or email returns ErrDuplicateCredential.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	defer metrics.TimeQuery("insert_user")()

	query := `
		INSERT INTO users (username, email, password_hash, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("insert user: %w", err)
	}

	user.IsActive = true
	return nil
}

// GetActiveByUsername returns the single active account with the given username.
// Zero or more than one matching row is reported as ErrUserNotFound.
func (r *userRepository) GetActiveByUsername(ctx context.Context, username string) (*User, error) {
	defer metrics.TimeQuery("select_user_by_username")()

	query := `
		SELECT id, username, email, password_hash, is_active, created_at
		FROM users
		WHERE username = $1 AND is_active = TRUE
		LIMIT 2
	`

	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.IsActive,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	if len(users) != 1 {
		return nil, ErrUserNotFound
	}
	return users[0], nil
}

// GetUsernameByID returns the username for an account id
func (r *userRepository) GetUsernameByID(ctx context.Context, id int64) (string, error) {
	defer metrics.TimeQuery("select_username_by_id")()

	query := `SELECT username FROM users WHERE id = $1 LIMIT 2`

	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return "", fmt.Errorf("select username: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan username: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate usernames: %w", err)
	}

	if len(names) != 1 {
		return "", ErrUserNotFound
	}
	return names[0], nil
}

// UsernameOrEmailExists reports whether any account already uses the username or the email.
// The unique constraints remain the authority; this is only a pre-check.
func (r *userRepository) UsernameOrEmailExists(ctx context.Context, username, email string) (bool, error) {
	defer metrics.TimeQuery("check_user_exists")()

	query := `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 OR email = $2)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, username, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}

	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
