// Package kv is the typed view over the ephemeral TTL store. Every piece of
// short-lived state (OTP challenges, resend trackers, block markers, rate
// counters, token blacklist, session cutoffs) lives in a Namespace.
package kv

import (
	"context"
	"time"
)

// Store is a TTL key-value store with the two atomic primitives the services
// need. Implementations wrap timeouts and connection failures in
// domain.ErrDependencyUnavailable; a missing key is never an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set writes value. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime, or 0 when the key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// IncrementWithExpiry increments the counter at key and, on the first
	// increment (or when the key lost its expiry), sets ttl. It returns the new
	// count and the remaining lifetime.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)
	// CompareAndSwap replaces the value at key only if it currently equals old.
	// old == nil means the key must be absent. next == nil deletes the key.
	// ttl <= 0 keeps the key's remaining lifetime.
	CompareAndSwap(ctx context.Context, key string, old, next []byte, ttl time.Duration) (bool, error)
}
