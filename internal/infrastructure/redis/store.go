package redisinfra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/kv"
	"github.com/redis/go-redis/v9"
)

// incrementLua increments KEYS[1] and arms its expiry on the first hit.
// ARGV[1] = ttl in milliseconds.
// Returns {count, remaining pttl}.
var incrementLua = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local pttl = redis.call('PTTL', KEYS[1])
if n == 1 or pttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  pttl = tonumber(ARGV[1])
end
return {n, pttl}
`)

// compareAndSwapLua replaces KEYS[1] only if it still holds the expected value.
// ARGV[1] = "1" if the key must be absent
// ARGV[2] = expected value
// ARGV[3] = "1" to delete instead of writing
// ARGV[4] = new value
// ARGV[5] = ttl in milliseconds; <= 0 keeps the remaining lifetime
//
// Returns 1 when swapped, 0 on mismatch.
var compareAndSwapLua = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if ARGV[1] == '1' then
  if cur then return 0 end
else
  if (not cur) or cur ~= ARGV[2] then return 0 end
end
if ARGV[3] == '1' then
  redis.call('DEL', KEYS[1])
  return 1
end
local ttl = tonumber(ARGV[5])
if ttl <= 0 and cur then
  ttl = redis.call('PTTL', KEYS[1])
end
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[4], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[4])
end
return 1
`)

// Store implements kv.Store on Redis. Every call runs under its own timeout so
// a slow server surfaces as domain.ErrDependencyUnavailable instead of hanging
// the request.
type Store struct {
	client  redis.UniversalClient
	timeout time.Duration
}

var _ kv.Store = (*Store)(nil)

func NewStore(client redis.UniversalClient, timeout time.Duration) *Store {
	return &Store{client: client, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: redis %s %s: %v", domain.ErrDependencyUnavailable, op, key, err)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("GET", key, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("SET", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("DEL", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("EXISTS", key, err)
	}
	return n > 0, nil
}

func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("PTTL", key, err)
	}
	// -1 (no expiry) and -2 (missing) come back as negative durations.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (s *Store) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := incrementLua.Run(ctx, s.client, []string{key}, millis(ttl)).Int64Slice()
	if err != nil {
		return 0, 0, unavailable("INCR", key, err)
	}
	if len(res) != 2 {
		return 0, 0, unavailable("INCR", key, fmt.Errorf("unexpected reply %v", res))
	}
	remaining := time.Duration(res[1]) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	return res[0], remaining, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, next []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	expectAbsent, del := "0", "0"
	if old == nil {
		expectAbsent = "1"
	}
	if next == nil {
		del = "1"
	}
	n, err := compareAndSwapLua.Run(ctx, s.client, []string{key},
		expectAbsent, string(old), del, string(next), millis(ttl),
	).Int64()
	if err != nil {
		return false, unavailable("CAS", key, err)
	}
	return n == 1, nil
}

func millis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	if ms := d.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
