package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-auth-nosql/internal/domain"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "access_token"
)

// TokenValidator resolves an access token to the identity it was issued for.
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*domain.Identity, error)
}

type authStage struct {
	validator TokenValidator
}

// Auth validates the Bearer token and injects the identity into context.
func Auth(v TokenValidator) Stage {
	return &authStage{validator: v}
}

func (s *authStage) Name() string { return "auth" }

func (s *authStage) Apply(r *http.Request) (*http.Request, error) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return nil, fmt.Errorf("missing bearer token: %w", domain.ErrUnauthorized)
	}
	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("empty bearer token: %w", domain.ErrUnauthorized)
	}
	ident, err := s.validator.Validate(r.Context(), raw)
	if err != nil {
		return nil, err
	}
	ctx := context.WithValue(r.Context(), identityKey, ident)
	ctx = context.WithValue(ctx, tokenKey, raw)
	return r.WithContext(ctx), nil
}

// IdentityFromContext extracts the authenticated identity from the request context.
func IdentityFromContext(ctx context.Context) (*domain.Identity, bool) {
	i, ok := ctx.Value(identityKey).(*domain.Identity)
	return i, ok
}

// AccessTokenFromContext returns the raw bearer token the identity was resolved from.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok
}

// WithIdentity returns ctx carrying ident and its token, as Auth would.
func WithIdentity(ctx context.Context, ident *domain.Identity, accessToken string) context.Context {
	ctx = context.WithValue(ctx, identityKey, ident)
	return context.WithValue(ctx, tokenKey, accessToken)
}
