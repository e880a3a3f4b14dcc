package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
	// Code is a CHANGE_PASSWORD OTP sent to the account identifier.
	Code string
}

// Service covers operations an authenticated user performs on their own account.
type Service interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

type otpVerifier interface {
	Verify(ctx context.Context, identifier, code string, purpose domain.Purpose) (bool, error)
}

type sessionRevoker interface {
	RevokeAllSessions(ctx context.Context, userID string) error
}

type limiter interface {
	CheckAndIncrement(ctx context.Context, scope ratelimit.Scope, identity string, limit int, window time.Duration) error
	Reset(ctx context.Context, scope ratelimit.Scope, identity string) error
}

type ServiceDeps struct {
	UserRepo userStore
	OTP      otpVerifier
	Sessions sessionRevoker
	Limiter  limiter
	// Budget for wrong current passwords per user.
	Limit      config.Limit
	BcryptCost int
}

type service struct {
	repo     userStore
	otp      otpVerifier
	sessions sessionRevoker
	limiter  limiter
	limit    config.Limit
	cost     int
}

func NewService(deps ServiceDeps) Service {
	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &service{
		repo:     deps.UserRepo,
		otp:      deps.OTP,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		limit:    deps.Limit,
		cost:     cost,
	}
}

func (s *service) Get(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.Get(ctx, userID)
}

// ChangePassword requires the current password and a CHANGE_PASSWORD code.
// Every session of the user, including the caller's, is revoked afterwards.
func (s *service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	if err := domain.CheckPassword(req.NewPassword); err != nil {
		return err
	}
	u, err := s.repo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("account has no password: %w", domain.ErrForbidden)
	}
	if err := s.limiter.CheckAndIncrement(ctx, ratelimit.ScopeChangePassword, userID, s.limit.Max, s.limit.Window); err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		slog.Info("change password rejected", "user_id", userID)
		return fmt.Errorf("current password is incorrect: %w", domain.ErrInvalidCredentials)
	}
	if err := s.limiter.Reset(ctx, ratelimit.ScopeChangePassword, userID); err != nil {
		slog.Warn("failed to reset change password counter", "user_id", userID, "err", err)
	}
	ok, err := s.otp.Verify(ctx, u.Identifier, req.Code, domain.PurposeChangePassword)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("change password code rejected: %w", domain.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return err
	}
	if err := s.sessions.RevokeAllSessions(ctx, userID); err != nil {
		return err
	}
	slog.Info("password changed", "user_id", userID)
	return nil
}
