package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
)

// DefaultAuditListLimit caps ListByUser when the caller passes no limit
const DefaultAuditListLimit = 50

// AuditRepository defines the interface for audit log access
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]AuditEntry, error)
}

// AuditRepo implements AuditRepository using PostgreSQL through sqlx
type AuditRepo struct {
	db *sqlx.DB
}

// NewAuditRepo creates a new AuditRepo instance
func NewAuditRepo(db *sqlx.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts one audit log row
func (r *AuditRepo) Append(ctx context.Context, entry *AuditEntry) error {
	defer metrics.TimeQuery("insert_audit_log")()

	query := `
		INSERT INTO audit_logs (user_id, action, description, ip_address)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		entry.UserID,
		entry.Action,
		entry.Description,
		entry.IPAddress,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

// ListByUser returns the newest audit rows for a user
func (r *AuditRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]AuditEntry, error) {
	defer metrics.TimeQuery("select_audit_logs")()

	if limit <= 0 {
		limit = DefaultAuditListLimit
	}

	query := `
		SELECT id, user_id, action, description, ip_address, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	entries := []AuditEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, userID, limit); err != nil {
		return nil, fmt.Errorf("select audit logs: %w", err)
	}

	return entries, nil
}
