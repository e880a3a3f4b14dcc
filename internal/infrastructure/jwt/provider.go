package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Token type markers carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const minSecretLen = 32

// Claims holds the JWT payload fields. Refresh tokens carry only uid, sid and typ.
// IssuedAtMs is the untruncated issue time in Unix milliseconds; iat is
// second-granular and too coarse for session cutoffs.
type Claims struct {
	UserID     string   `json:"uid"`
	Roles      []string `json:"roles,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Verified   bool     `json:"verified,omitempty"`
	SessionID  string   `json:"sid"`
	Type       string   `json:"typ"`
	IssuedAtMs int64    `json:"iat_ms,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtMillis returns iat_ms, falling back to iat for tokens signed without it.
func (c *Claims) IssuedAtMillis() int64 {
	if c.IssuedAtMs > 0 {
		return c.IssuedAtMs
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.UnixMilli()
	}
	return 0
}

// Provider signs and verifies HS256 JWTs.
type Provider struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type Option func(*Provider)

// WithClock overrides time.Now for signing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func NewProvider(cfg *config.Config, opts ...Option) (*Provider, error) {
	if len(cfg.Token.Secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	p := &Provider{secret: []byte(cfg.Token.Secret), issuer: cfg.Token.Issuer, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Sign fills iat, iat_ms, exp and iss on c and signs it. iat is truncated to
// the second so that exp - iat equals lifetime exactly once encoded.
func (p *Provider) Sign(c Claims, lifetime time.Duration) (string, time.Time, error) {
	issued := p.now()
	now := issued.Truncate(time.Second)
	exp := now.Add(lifetime)
	c.IssuedAtMs = issued.UnixMilli()
	c.Issuer = p.issuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", c.Type, err)
	}
	return s, exp, nil
}

// Verify checks signature, issuer and expiry. Expired tokens map to
// domain.ErrExpiredToken; every other failure to domain.ErrInvalidSignature.
func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", domain.ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrInvalidSignature)
	}
	return claims, nil
}

// VerifyType is Verify plus a check of the typ marker.
func (p *Provider) VerifyType(tokenStr, typ string) (*Claims, error) {
	c, err := p.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token, got %q", domain.ErrInvalidSignature, typ, c.Type)
	}
	return c, nil
}
