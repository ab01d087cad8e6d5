// Package ratelimit bounds how often an identifier (client IP, email address)
// may perform a sensitive operation, using fixed-window counters.
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy names a limit applied to one kind of identifier.
type Policy struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

var (
	// ForgotPasswordByIP limits reset-link requests per client IP.
	ForgotPasswordByIP = Policy{Name: "forgot-password:ip", MaxAttempts: 3, Window: 15 * time.Minute}
	// ForgotPasswordByEmail limits reset-link requests per target email.
	ForgotPasswordByEmail = Policy{Name: "forgot-password:email", MaxAttempts: 5, Window: 15 * time.Minute}
	// ResetPasswordByIP limits password-reset submissions per client IP.
	ResetPasswordByIP = Policy{Name: "reset-password:ip", MaxAttempts: 5, Window: 15 * time.Minute}
)

// Decision is the outcome of one counted attempt.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window when denied.
	RetryAfter time.Duration
}

// Store keeps the per-key counters.
type Store interface {
	Hit(ctx context.Context, key string, maxAttempts int, window time.Duration, now time.Time) (Decision, error)
	Cleanup(ctx context.Context, now time.Time) error
}

// Limiter counts attempts against a Store.
type Limiter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a limiter over store.
func New(store Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, logger: logger, now: time.Now}
}

// CheckAndIncrement records one attempt for identifier and reports whether it is allowed.
// Expired windows are swept on every call. Store failures fail open.
func (l *Limiter) CheckAndIncrement(ctx context.Context, identifier string, maxAttempts int, window time.Duration) Decision {
	now := l.now()

	if err := l.store.Cleanup(ctx, now); err != nil {
		l.logger.Warn("rate limit cleanup failed", zap.Error(err))
	}

	d, err := l.store.Hit(ctx, identifier, maxAttempts, window, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, allowing request",
			zap.String("identifier", identifier), zap.Error(err))
		return Decision{Allowed: true}
	}
	return d
}

// Allow applies policy p to identifier.
func (l *Limiter) Allow(ctx context.Context, p Policy, identifier string) Decision {
	return l.CheckAndIncrement(ctx, p.Name+":"+identifier, p.MaxAttempts, p.Window)
}
