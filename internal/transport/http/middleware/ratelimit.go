package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"golang.org/x/time/rate"
)

const (
	burstCleanupEvery = 5 * time.Minute
	burstIdleAfter    = 10 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalBurst is a per-IP token-bucket limiter held in process memory. It
// absorbs bursts before they reach the shared store.
type LocalBurst struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	burst    int
}

// NewLocalBurst creates a per-IP limiter: r requests/second, burst up to
// burst requests. Idle entries are dropped until ctx is cancelled.
func NewLocalBurst(ctx context.Context, r rate.Limit, burst int) *LocalBurst {
	lb := &LocalBurst{
		limiters: make(map[string]*ipLimiter),
		r:        r,
		burst:    burst,
	}
	go lb.cleanup(ctx)
	return lb
}

func (lb *LocalBurst) get(ip string) *rate.Limiter {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	if v, ok := lb.limiters[ip]; ok {
		v.lastSeen = time.Now()
		return v.limiter
	}
	l := rate.NewLimiter(lb.r, lb.burst)
	lb.limiters[ip] = &ipLimiter{limiter: l, lastSeen: time.Now()}
	return l
}

func (lb *LocalBurst) cleanup(ctx context.Context) {
	t := time.NewTicker(burstCleanupEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			lb.evictIdle(time.Now())
		}
	}
}

func (lb *LocalBurst) evictIdle(now time.Time) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	for ip, v := range lb.limiters {
		if now.Sub(v.lastSeen) > burstIdleAfter {
			delete(lb.limiters, ip)
		}
	}
}

func (lb *LocalBurst) Name() string { return "local_burst" }

func (lb *LocalBurst) Apply(r *http.Request) (*http.Request, error) {
	if !lb.get(ClientIP(r)).Allow() {
		return nil, domain.Retry(domain.ErrRateLimited, time.Second)
	}
	return r, nil
}

type windowLimiter interface {
	CheckAndIncrement(ctx context.Context, scope ratelimit.Scope, identity string, limit int, window time.Duration) error
}

// KeyFunc picks the identity a distributed limit is counted against.
type KeyFunc func(r *http.Request) string

type rateLimitStage struct {
	limiter windowLimiter
	scope   ratelimit.Scope
	limit   config.Limit
	key     KeyFunc
}

// RateLimit counts every request against the shared fixed-window limiter for
// scope. Requests with an empty key pass through uncounted.
func RateLimit(l windowLimiter, scope ratelimit.Scope, limit config.Limit, key KeyFunc) Stage {
	return &rateLimitStage{limiter: l, scope: scope, limit: limit, key: key}
}

func (s *rateLimitStage) Name() string { return "rate_limit:" + string(s.scope) }

func (s *rateLimitStage) Apply(r *http.Request) (*http.Request, error) {
	k := s.key(r)
	if k == "" {
		return r, nil
	}
	if err := s.limiter.CheckAndIncrement(r.Context(), s.scope, k, s.limit.Max, s.limit.Window); err != nil {
		return nil, err
	}
	return r, nil
}

const clientIPKey contextKey = "client_ip"

// TrustProxies resolves the caller address once per request and stores it for
// ClientIP. Forwarding headers are read only when the socket peer is inside
// trusted; X-Forwarded-For is then walked right to left and the first hop
// outside trusted is the caller.
func TrustProxies(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveIP(r, trusted)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey, ip)))
		})
	}
}

// ClientIP returns the address resolved by TrustProxies, or the socket peer
// when that middleware did not run.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func resolveIP(r *http.Request, trusted []netip.Prefix) string {
	peer := peerIP(r)
	if !isTrusted(peer, trusted) {
		return peer
	}
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// A malformed hop ends the chain we can vouch for.
				return peer
			}
			a = a.Unmap()
			if !inPrefixes(a, trusted) || i == 0 {
				return a.String()
			}
		}
	}
	if xr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
		return xr.Unmap().String()
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return inPrefixes(a.Unmap(), trusted)
}

func inPrefixes(a netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}
