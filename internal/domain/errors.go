package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")

	// Abuse control. Usually wrapped in a *RetryError.
	ErrRateLimited = errors.New("rate limited")
	ErrCooldown    = errors.New("resend cooldown active")
	ErrBlocked     = errors.New("temporarily blocked")

	// Token failures.
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token")
	ErrRevokedToken     = errors.New("token revoked")
	ErrReplayDetected   = errors.New("refresh token replay detected")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRevoked     = errors.New("already revoked")

	// ErrDependencyUnavailable marks a backing store or provider that timed out
	// or could not be reached. It is never used for a plain miss.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// RetryError carries how long the caller should wait before retrying.
type RetryError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v: retry after %s", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry wraps err with a retry-after hint. Negative durations are clamped to zero.
func Retry(err error, after time.Duration) error {
	if after < 0 {
		after = 0
	}
	return &RetryError{Err: err, RetryAfter: after}
}

// RetryAfter extracts the retry-after hint from anywhere in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}

// IsTokenError reports whether err is one of the token-validation failures.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrExpiredToken) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrRevokedToken) ||
		errors.Is(err, ErrReplayDetected)
}
