package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/welldanyogia/secure-login/backend/internal/repository"
)

// Brute force protection defaults
const (
	MaxFailedAttempts   = 5
	FailedAttemptWindow = 15 * time.Minute
)

// RatePolicy bounds failed logins per username or address
type RatePolicy struct {
	Window      time.Duration
	MaxAttempts int
}

// DefaultRatePolicy allows 5 failures per 15 minutes
func DefaultRatePolicy() RatePolicy {
	return RatePolicy{Window: FailedAttemptWindow, MaxAttempts: MaxFailedAttempts}
}

func (p RatePolicy) normalized() RatePolicy {
	def := DefaultRatePolicy()
	if p.Window <= 0 {
		p.Window = def.Window
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	return p
}

// RateLimiter decides whether a login may proceed from the attempt history
type RateLimiter struct {
	attempts repository.LoginAttemptRepository
	policy   RatePolicy
	now      func() time.Time
}

// NewRateLimiter creates a limiter, zero policy fields take the defaults
func NewRateLimiter(attempts repository.LoginAttemptRepository, policy RatePolicy) *RateLimiter {
	return &RateLimiter{
		attempts: attempts,
		policy:   policy.normalized(),
		now:      time.Now,
	}
}

// IsBlocked counts failures for username OR ipAddress inside the trailing
// window. The attempt being evaluated must not be recorded yet.
func (l *RateLimiter) IsBlocked(ctx context.Context, username, ipAddress string) (bool, error) {
	since := l.now().Add(-l.policy.Window)
	count, err := l.attempts.CountRecentFailed(ctx, username, ipAddress, since)
	if err != nil {
		return false, fmt.Errorf("failed to count login attempts: %w", err)
	}
	return count >= l.policy.MaxAttempts, nil
}

// Policy returns the effective policy
func (l *RateLimiter) Policy() RatePolicy {
	return l.policy
}
