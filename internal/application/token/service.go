package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	jwtinfra "github.com/go-auth-nosql/internal/infrastructure/jwt"
	"github.com/go-auth-nosql/internal/pkg/id"
	"github.com/go-auth-nosql/internal/pkg/kv"
	pkgtoken "github.com/go-auth-nosql/internal/pkg/token"
	"github.com/golang-jwt/jwt/v5"
)

const tokenType = "Bearer"

// Service issues, validates, rotates and revokes token pairs.
type Service interface {
	IssueTokenPair(ctx context.Context, u *domain.User, ip string) (*domain.TokenPair, error)
	// ValidateAccessToken accepts a token only if it is signed, unexpired, of
	// type access, not blacklisted and not issued before its user's session cutoff.
	ValidateAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error)
	RotateRefreshToken(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error)
	Revoke(ctx context.Context, accessToken string) error
	RevokeAllSessions(ctx context.Context, userID string) error
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}

type userGetter interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type Metrics interface {
	TokenPairIssued()
	RefreshReplay()
}

type ServiceDeps struct {
	Provider *jwtinfra.Provider
	Refresh  domain.RefreshRepository
	Users    userGetter
	Store    kv.Store
	Metrics  Metrics
	Config   config.Token
	// Now defaults to time.Now. Pass the same clock to the jwt provider.
	Now func() time.Time
}

type service struct {
	provider  *jwtinfra.Provider
	refresh   domain.RefreshRepository
	users     userGetter
	blacklist *kv.Namespace[string]
	cutoffs   *kv.Namespace[int64]
	metrics   Metrics
	cfg       config.Token
	now       func() time.Time
}

func NewService(d ServiceDeps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		provider:  d.Provider,
		refresh:   d.Refresh,
		users:     d.Users,
		blacklist: kv.NewNamespace[string](d.Store, "BLACKLIST_TOKEN", kv.String{}),
		cutoffs:   kv.NewNamespace[int64](d.Store, "SESSION_CUTOFF", kv.JSON[int64]{}),
		metrics:   d.Metrics,
		cfg:       d.Config,
		now:       now,
	}
}

func (s *service) IssueTokenPair(ctx context.Context, u *domain.User, ip string) (*domain.TokenPair, error) {
	sid := id.New()
	access, _, err := s.provider.Sign(jwtinfra.Claims{
		UserID:    u.UserID,
		Roles:     u.Roles,
		Provider:  u.Provider,
		Verified:  u.Verified(),
		SessionID: sid,
		Type:      jwtinfra.TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: u.Identifier,
			ID:      id.New(),
		},
	}, s.cfg.AccessLifetime)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.provider.Sign(jwtinfra.Claims{
		UserID:    u.UserID,
		SessionID: sid,
		Type:      jwtinfra.TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: u.Identifier,
			ID:      id.New(),
		},
	}, s.cfg.RefreshLifetime)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &domain.RefreshRecord{
		SessionID:     sid,
		UserID:        u.UserID,
		TokenHash:     pkgtoken.Hash(refresh),
		IP:            ip,
		IssuedAt:      now,
		ExpiresAt:     refreshExp.UTC(),
		ExpiresAtUnix: refreshExp.Unix(),
	}
	if err := s.refresh.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("save refresh record: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TokenPairIssued()
	}
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresIn:    int64(s.cfg.AccessLifetime / time.Second),
	}, nil
}

func (s *service) ValidateAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error) {
	c, err := s.provider.VerifyType(accessToken, jwtinfra.TypeAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.blacklist.Exists(ctx, s.blacklist.Key(c.ID))
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("access token %s: %w", c.ID, domain.ErrRevokedToken)
	}
	cutoff, ok, err := s.cutoffs.Get(ctx, s.cutoffs.Key(c.UserID))
	if err != nil {
		return nil, err
	}
	if ok && c.IssuedAtMillis() <= cutoff {
		return nil, fmt.Errorf("access token issued before session cutoff: %w", domain.ErrRevokedToken)
	}
	return &domain.Identity{
		UserID:     c.UserID,
		Identifier: c.Subject,
		Roles:      c.Roles,
		Provider:   c.Provider,
		Verified:   c.Verified,
		SessionID:  c.SessionID,
		TokenID:    c.ID,
		ExpiresAt:  c.ExpiresAt.Time,
	}, nil
}

// RotateRefreshToken exchanges a refresh token for a new pair. The old record
// is revoked with a conditional update; whoever loses that race, or presents
// an already-rotated token, triggers replay handling for the whole user.
func (s *service) RotateRefreshToken(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error) {
	c, err := s.provider.VerifyType(refreshToken, jwtinfra.TypeRefresh)
	if err != nil {
		return nil, err
	}
	now := s.now()

	rec, err := s.refresh.FindBySession(ctx, c.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, s.replay(ctx, c.UserID, c.SessionID, ip)
	}
	if err != nil {
		return nil, err
	}
	if rec.UserID != c.UserID {
		return nil, fmt.Errorf("refresh record does not match token claims: %w", domain.ErrInvalidSignature)
	}
	if !pkgtoken.Equal(rec.TokenHash, pkgtoken.Hash(refreshToken)) || !rec.Active(now) {
		return nil, s.replay(ctx, rec.UserID, rec.SessionID, ip)
	}

	if err := s.refresh.SetRevoked(ctx, rec.SessionID, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyRevoked) {
			return nil, s.replay(ctx, rec.UserID, rec.SessionID, ip)
		}
		return nil, err
	}

	u, err := s.users.Get(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, fmt.Errorf("account %s is disabled: %w", u.UserID, domain.ErrForbidden)
	}
	return s.IssueTokenPair(ctx, u, ip)
}

func (s *service) replay(ctx context.Context, userID, sessionID, ip string) error {
	if s.metrics != nil {
		s.metrics.RefreshReplay()
	}
	slog.Warn("refresh token replay detected, revoking all sessions",
		"user_id", userID, "session_id", sessionID, "ip", ip)
	if err := s.RevokeAllSessions(ctx, userID); err != nil {
		slog.Error("failed to revoke sessions after replay", "user_id", userID, "err", err)
	}
	return fmt.Errorf("session %s: %w", sessionID, domain.ErrReplayDetected)
}

// Revoke blacklists the access token for the rest of its lifetime and marks
// its session's refresh record revoked. Revoking twice is not an error.
func (s *service) Revoke(ctx context.Context, accessToken string) error {
	c, err := s.provider.VerifyType(accessToken, jwtinfra.TypeAccess)
	if err != nil {
		return err
	}
	now := s.now()
	if remaining := c.ExpiresAt.Sub(now); remaining > 0 {
		if err := s.blacklist.Set(ctx, s.blacklist.Key(c.ID), "revoked", remaining); err != nil {
			return err
		}
	}
	err = s.refresh.SetRevoked(ctx, c.SessionID, now)
	if err != nil && !errors.Is(err, domain.ErrAlreadyRevoked) && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return nil
}

// RevokeAllSessions revokes every refresh record of the user and rejects all
// access tokens issued up to now. The cutoff is kept in Unix milliseconds.
func (s *service) RevokeAllSessions(ctx context.Context, userID string) error {
	now := s.now()
	if err := s.cutoffs.Set(ctx, s.cutoffs.Key(userID), now.UnixMilli(), s.cfg.AccessLifetime); err != nil {
		return err
	}
	n, err := s.refresh.RevokeAllForUser(ctx, userID, now)
	if err != nil {
		return err
	}
	slog.Info("revoked all sessions", "user_id", userID, "count", n)
	return nil
}

func (s *service) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	return s.refresh.DeleteExpired(ctx, cutoff)
}
