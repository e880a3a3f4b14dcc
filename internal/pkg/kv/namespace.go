package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-auth-nosql/internal/domain"
)

// maxMutateRetries bounds the optimistic loop in Mutate.
const maxMutateRetries = 32

// Codec converts namespace values to and from their stored bytes.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// JSON encodes values with encoding/json.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// String stores raw strings.
type String struct{}

func (String) Encode(v string) ([]byte, error) { return []byte(v), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }

// Entry is the current state handed to a Mutate callback.
type Entry[T any] struct {
	Value  T
	Exists bool
	TTL    time.Duration
}

// Change is what a Mutate callback wants done. The zero Change with Skip
// unset writes the zero value; callers normally set exactly one of Value,
// Delete or Skip.
type Change[T any] struct {
	Value T
	// TTL for the written value. Zero keeps the remaining lifetime of an
	// existing key.
	TTL    time.Duration
	Delete bool
	Skip   bool
}

// Namespace is a typed, prefixed slice of a Store.
type Namespace[T any] struct {
	store  Store
	prefix string
	codec  Codec[T]
}

func NewNamespace[T any](store Store, prefix string, codec Codec[T]) *Namespace[T] {
	return &Namespace[T]{store: store, prefix: prefix, codec: codec}
}

// Key joins parts under the namespace prefix: Key("a@b.com", "LOGIN") -> "OTP:a@b.com:LOGIN".
func (n *Namespace[T]) Key(parts ...string) string {
	return n.prefix + ":" + strings.Join(parts, ":")
}

func (n *Namespace[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	raw, ok, err := n.store.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := n.codec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, true, nil
}

func (n *Namespace[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	raw, err := n.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return n.store.Set(ctx, key, raw, ttl)
}

func (n *Namespace[T]) Delete(ctx context.Context, key string) error {
	return n.store.Delete(ctx, key)
}

func (n *Namespace[T]) Exists(ctx context.Context, key string) (bool, error) {
	return n.store.Exists(ctx, key)
}

func (n *Namespace[T]) TTL(ctx context.Context, key string) (time.Duration, error) {
	return n.store.TTL(ctx, key)
}

// Increment bumps a counter stored in this namespace. See Store.IncrementWithExpiry.
func (n *Namespace[T]) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	return n.store.IncrementWithExpiry(ctx, key, ttl)
}

// Mutate runs a read-modify-write on key as one linearizable step. fn may be
// called several times if another writer races it, so it must not have side
// effects beyond the values it captures. An error from fn aborts without writing.
func (n *Namespace[T]) Mutate(ctx context.Context, key string, fn func(cur Entry[T]) (Change[T], error)) error {
	for i := 0; i < maxMutateRetries; i++ {
		raw, ok, err := n.store.Get(ctx, key)
		if err != nil {
			return err
		}
		cur := Entry[T]{Exists: ok}
		if ok {
			if cur.Value, err = n.codec.Decode(raw); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			if cur.TTL, err = n.store.TTL(ctx, key); err != nil {
				return err
			}
		}

		ch, err := fn(cur)
		if err != nil {
			return err
		}
		if ch.Skip {
			return nil
		}

		var next []byte
		if !ch.Delete {
			if next, err = n.codec.Encode(ch.Value); err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
		} else if !ok {
			return nil
		}
		var old []byte
		if ok {
			old = raw
		}
		swapped, err := n.store.CompareAndSwap(ctx, key, old, next, ch.TTL)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
		}
	}
	return fmt.Errorf("%w: too much contention on %s", domain.ErrDependencyUnavailable, key)
}
