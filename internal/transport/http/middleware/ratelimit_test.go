package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	redisinfra "github.com/go-auth-nosql/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func resolved(t *testing.T, req *http.Request, trusted ...string) string {
	t.Helper()
	prefixes, err := config.ParsePrefixes(trusted)
	require.NoError(t, err)
	var got string
	TrustProxies(prefixes)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientIP_IgnoresHeadersFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-Ip", "9.10.11.12")
	assert.Equal(t, "203.0.113.5", resolved(t, req))
	assert.Equal(t, "203.0.113.5", resolved(t, req, "10.0.0.0/8"))
}

func TestClientIP_RightMostUntrustedHop(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	req.Header.Set("X-Forwarded-For", "6.6.6.6, 1.2.3.4, 10.0.0.9")
	assert.Equal(t, "1.2.3.4", resolved(t, req, "10.0.0.0/8"))
}

func TestClientIP_AllHopsTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	req.Header.Set("X-Forwarded-For", "10.1.1.1, 10.0.0.9")
	assert.Equal(t, "10.1.1.1", resolved(t, req, "10.0.0.0/8"))
}

func TestClientIP_MalformedHopFallsBackToPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, garbage")
	assert.Equal(t, "10.0.0.2", resolved(t, req, "10.0.0.0/8"))
}

func TestClientIP_XRealIPFromTrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:4000"
	req.Header.Set("X-Real-Ip", "9.10.11.12")
	assert.Equal(t, "9.10.11.12", resolved(t, req, "10.0.0.2"))
}

func TestClientIP_WithoutResolverUsesPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	req.Header.Set("X-Forwarded-For", "1.1.1.1")
	assert.Equal(t, "192.168.1.1", ClientIP(req))
}

func TestLocalBurst_PerIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := Pipeline(NewLocalBurst(ctx, rate.Limit(0.001), 2))

	from := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return req
	}
	assert.Equal(t, http.StatusOK, serve(p, okHandler, from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, serve(p, okHandler, from("10.0.0.1")).Code)
	rr := serve(p, okHandler, from("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, serve(p, okHandler, from("10.0.0.2")).Code)
}

func TestLocalBurst_EvictIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lb := NewLocalBurst(ctx, rate.Limit(1), 1)
	lb.get("10.0.0.1")
	lb.evictIdle(time.Now().Add(burstIdleAfter + time.Second))
	lb.mu.Lock()
	defer lb.mu.Unlock()
	assert.Empty(t, lb.limiters)
}

func TestRateLimit_RegisterByIP(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := ratelimit.NewLimiter(redisinfra.NewStore(rdb, time.Second), nil)

	p := Pipeline(RateLimit(l, ratelimit.ScopeRegister, config.Limit{Max: 2, Window: time.Hour}, ClientIP))
	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/register", nil)
		r.RemoteAddr = "7.7.7.7:5000"
		return r
	}

	assert.Equal(t, http.StatusOK, serve(p, okHandler, req()).Code)
	assert.Equal(t, http.StatusOK, serve(p, okHandler, req()).Code)
	rr := serve(p, okHandler, req())
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3600", rr.Header().Get("Retry-After"))
	assert.True(t, mr.Exists("RATE_LIMIT:REGISTER:7.7.7.7"))
}

func TestRateLimit_EmptyKeySkips(t *testing.T) {
	p := Pipeline(RateLimit(nil, ratelimit.ScopeRegister, config.Limit{Max: 1, Window: time.Hour},
		func(*http.Request) string { return "" }))
	assert.Equal(t, http.StatusOK, serve(p, okHandler, httptest.NewRequest(http.MethodPost, "/", nil)).Code)
}
