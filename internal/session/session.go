// Package session holds server side session contexts keyed by an opaque
// token. The token is the only value that travels in the session cookie.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live context exists for a token
var ErrNotFound = errors.New("session not found")

// Context is the per-session state. An anonymous context carries only the
// token and CSRF token; authentication fills in the account fields.
type Context struct {
	Token         string    `json:"token"`
	CSRFToken     string    `json:"csrf_token"`
	UserID        int64     `json:"user_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Email         string    `json:"email,omitempty"`
	Authenticated bool      `json:"authenticated"`
	LoginTime     time.Time `json:"login_time,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

// Store persists session contexts with a time to live
type Store interface {
	Get(ctx context.Context, token string) (*Context, error)
	Save(ctx context.Context, sc *Context, ttl time.Duration) error
	// Refresh overwrites the context only while its token is still stored and
	// returns ErrNotFound otherwise, so a concurrent Delete is never undone.
	Refresh(ctx context.Context, sc *Context, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}
