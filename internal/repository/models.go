package repository

import (
	"time"
)

// User represents a user account in the database
type User struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsActive     bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

// LoginAttempt is one row of the login history used for brute force protection
type LoginAttempt struct {
	ID          int64     `db:"id"`
	Username    string    `db:"username"`
	IPAddress   string    `db:"ip_address"`
	Success     bool      `db:"success"`
	AttemptTime time.Time `db:"attempt_time"`
}

// Session represents a persisted login session
type Session struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	SessionID string    `db:"session_id"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// AuditEntry is a structured audit log row
type AuditEntry struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Action      string    `db:"action" json:"action"`
	Description string    `db:"description" json:"description"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Audit action tags
const (
	ActionRegistration    = "REGISTRATION"
	ActionLogin           = "LOGIN"
	ActionLogout          = "LOGOUT"
	ActionDashboardAccess = "DASHBOARD_ACCESS"
)
