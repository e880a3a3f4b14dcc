package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-auth-nosql/internal/application/auth"
	"github.com/go-auth-nosql/internal/application/otp"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/application/user"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	redisinfra "github.com/go-auth-nosql/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

// stubAuth accepts the access token "good" and issues a fixed pair everywhere else.
type stubAuth struct{}

var stubPair = &domain.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", ExpiresIn: 900}

func (stubAuth) SendOtp(context.Context, string, domain.Purpose) (*otp.Receipt, error) {
	return &otp.Receipt{}, nil
}
func (stubAuth) VerifyOtp(context.Context, string, string, domain.Purpose) (bool, error) {
	return true, nil
}
func (stubAuth) Register(context.Context, auth.RegisterRequest, string) (*domain.TokenPair, error) {
	return stubPair, nil
}
func (stubAuth) Login(context.Context, string, string, string) (*domain.TokenPair, error) {
	return stubPair, nil
}
func (stubAuth) LoginWithGoogle(context.Context, string, string) (*domain.TokenPair, error) {
	return stubPair, nil
}
func (stubAuth) Refresh(context.Context, string, string) (*domain.TokenPair, error) {
	return stubPair, nil
}
func (stubAuth) Logout(context.Context, string) error {
	return nil
}
func (stubAuth) Validate(_ context.Context, tok string) (*domain.Identity, error) {
	switch tok {
	case "good":
		return &domain.Identity{UserID: "u1", Roles: []string{domain.RoleCustomer}}, nil
	case "admin":
		return &domain.Identity{UserID: "op", Roles: []string{domain.RoleAdmin}}, nil
	}
	return nil, domain.ErrInvalidSignature
}
func (stubAuth) RequestPasswordReset(context.Context, string) error {
	return nil
}
func (stubAuth) ResetPassword(context.Context, auth.ResetPasswordRequest) error {
	return nil
}

type stubUsers struct{}

func (stubUsers) Get(_ context.Context, id string) (*domain.User, error) {
	return &domain.User{UserID: id}, nil
}
func (stubUsers) ChangePassword(context.Context, string, user.ChangePasswordRequest) error {
	return nil
}

type stubAbuse struct{}

func (stubAbuse) Status(_ context.Context, ident string, purpose domain.Purpose) (*auth.AbuseStatus, error) {
	return &auth.AbuseStatus{Identifier: ident, Purpose: purpose}, nil
}

func newTestRouter(t *testing.T, opts ...func(*config.Config)) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		RateLimit: config.RateLimit{
			Register: config.Limit{Max: 2, Window: time.Hour},
			BurstRPS: 100,
			Burst:    100,
		},
	}
	for _, o := range opts {
		o(cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, cfg, &Deps{
		Auth:    stubAuth{},
		Users:   stubUsers{},
		Limiter: ratelimit.NewLimiter(redisinfra.NewStore(rdb, time.Second), nil),
		Abuse:   stubAbuse{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
	})
}

func do(h http.Handler, method, path, body, bearer string) *httptest.ResponseRecorder {
	return doForwarded(h, method, path, body, bearer, "")
}

func doForwarded(h http.Handler, method, path, body, bearer, xff string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.RemoteAddr = "10.9.9.9:4000"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if xff != "" {
		req.Header.Set("X-Forwarded-For", xff)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/health-check/ping", "", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "", "").Code)
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	r := newTestRouter(t)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/auth/me", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/v1/auth/me", "", "forged").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/v1/auth/me", "", "good").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/auth/logout", "", "good").Code)
}

func TestRouter_RegisterThrottledPerIP(t *testing.T) {
	r := newTestRouter(t)
	body := `{"identifier":"user@example.com","password":"password1","code":"123456"}`

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/auth/register", body, "").Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/auth/register", body, "").Code)
	rr := do(r, http.MethodPost, "/v1/auth/register", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Login is not counted against the registration budget.
	login := `{"identifier":"user@example.com","password":"password1"}`
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/auth/login", login, "").Code)
}

func TestRouter_RegisterIgnoresSpoofedForwardedFor(t *testing.T) {
	r := newTestRouter(t)
	body := `{"identifier":"user@example.com","password":"password1","code":"123456"}`

	created := 0
	for i := 0; i < 10; i++ {
		xff := fmt.Sprintf("198.51.100.%d", i)
		if doForwarded(r, http.MethodPost, "/v1/auth/register", body, "", xff).Code == http.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 2, created)
}

func TestRouter_RegisterBehindTrustedProxy(t *testing.T) {
	r := newTestRouter(t, func(c *config.Config) { c.TrustedProxies = []string{"10.0.0.0/8"} })
	body := `{"identifier":"user@example.com","password":"password1","code":"123456"}`

	// Distinct callers forwarded by the proxy each get their own budget.
	for i := 0; i < 4; i++ {
		xff := fmt.Sprintf("198.51.100.%d", i)
		assert.Equal(t, http.StatusCreated, doForwarded(r, http.MethodPost, "/v1/auth/register", body, "", xff).Code)
	}

	// A client-supplied left-most entry does not escape its real address.
	for i := 0; i < 2; i++ {
		xff := fmt.Sprintf("192.0.2.%d, 203.0.113.7", i)
		assert.Equal(t, http.StatusCreated, doForwarded(r, http.MethodPost, "/v1/auth/register", body, "", xff).Code)
	}
	rr := doForwarded(r, http.MethodPost, "/v1/auth/register", body, "", "192.0.2.99, 203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRouter_AdminRequiresRole(t *testing.T) {
	r := newTestRouter(t)
	path := "/v1/admin/abuse-status?identifier=a@b.com"
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, path, "", "").Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, path, "", "good").Code)

	rr := do(r, http.MethodGet, path, "", "admin")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"purpose":"LOGIN"`)
}
