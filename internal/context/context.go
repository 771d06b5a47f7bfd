package context

import (
	"context"

	"github.com/welldanyogia/secure-login/backend/internal/session"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// SessionKey is the context key for the caller's session context
	SessionKey ContextKey = "session"
)

// WithSession stores the session context on the request context
func WithSession(ctx context.Context, sc *session.Context) context.Context {
	return context.WithValue(ctx, SessionKey, sc)
}

// ExtractSession returns the session context placed by the session middleware
func ExtractSession(ctx context.Context) (*session.Context, bool) {
	sc, ok := ctx.Value(SessionKey).(*session.Context)
	return sc, ok && sc != nil
}
