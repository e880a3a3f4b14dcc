package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/kv"
)

// Scope names one throttled action.
type Scope string

const (
	ScopeLogin          Scope = "LOGIN"
	ScopeOTPSend        Scope = "OTP_SEND"
	ScopeRegister       Scope = "REGISTER"
	ScopePasswordReset  Scope = "PASSWORD_RESET"
	ScopeChangePassword Scope = "CHANGE_PASSWORD" // keyed by user id
)

// Rejections is implemented by the metrics registry.
type Rejections interface {
	RateLimited(scope string)
}

// Limiter is a fixed-window counter per (scope, identity) on the ephemeral store.
// The counter key is RATE_LIMIT:{scope}:{identity}; its TTL is the window.
type Limiter struct {
	counters *kv.Namespace[int64]
	metrics  Rejections
}

func NewLimiter(store kv.Store, metrics Rejections) *Limiter {
	return &Limiter{
		counters: kv.NewNamespace[int64](store, "RATE_LIMIT", kv.JSON[int64]{}),
		metrics:  metrics,
	}
}

// CheckAndIncrement records one attempt and fails with ErrRateLimited once more
// than limit attempts fall in the current window. The increment and expiry are
// applied atomically so concurrent callers can never both see the last slot.
func (l *Limiter) CheckAndIncrement(ctx context.Context, scope Scope, identity string, limit int, window time.Duration) error {
	key := l.counters.Key(string(scope), identity)
	count, remaining, err := l.counters.Increment(ctx, key, window)
	if err != nil {
		return err
	}
	if count > int64(limit) {
		if l.metrics != nil {
			l.metrics.RateLimited(string(scope))
		}
		slog.Debug("rate limited", "scope", scope, "count", count, "retry_after", remaining)
		return domain.Retry(fmt.Errorf("%s: %w", scope, domain.ErrRateLimited), remaining)
	}
	return nil
}

// Reset clears the counter, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, scope Scope, identity string) error {
	return l.counters.Delete(ctx, l.counters.Key(string(scope), identity))
}

// Remaining reports how many attempts are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, scope Scope, identity string, limit int) (int, error) {
	n, _, err := l.counters.Get(ctx, l.counters.Key(string(scope), identity))
	if err != nil {
		return 0, err
	}
	if left := limit - int(n); left > 0 {
		return left, nil
	}
	return 0, nil
}
