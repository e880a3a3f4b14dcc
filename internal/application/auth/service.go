package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-auth-nosql/internal/application/otp"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/infrastructure/google"
	"github.com/go-auth-nosql/internal/pkg/id"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"golang.org/x/crypto/bcrypt"
)

type RegisterRequest struct {
	Identifier string
	Password   string
	Code       string
}

type ResetPasswordRequest struct {
	Identifier  string
	Code        string
	NewPassword string
}

// Service is the set of credential operations exposed to the transport layer.
type Service interface {
	SendOtp(ctx context.Context, identifier string, purpose domain.Purpose) (*otp.Receipt, error)
	VerifyOtp(ctx context.Context, identifier, code string, purpose domain.Purpose) (bool, error)
	// Register creates a local account after a REGISTER code check. The
	// per-IP registration limit is enforced by the transport pipeline.
	Register(ctx context.Context, req RegisterRequest, ip string) (*domain.TokenPair, error)
	Login(ctx context.Context, identifier, password, ip string) (*domain.TokenPair, error)
	LoginWithGoogle(ctx context.Context, idToken, ip string) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	Validate(ctx context.Context, accessToken string) (*domain.Identity, error)
	// RequestPasswordReset sends a FORGET_PASSWORD code. Unknown identifiers
	// succeed silently so the endpoint cannot be used to enumerate accounts.
	RequestPasswordReset(ctx context.Context, identifier string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

type otpEngine interface {
	Send(ctx context.Context, identifier string, purpose domain.Purpose) (*otp.Receipt, error)
	Verify(ctx context.Context, identifier, code string, purpose domain.Purpose) (bool, error)
}

type limiter interface {
	CheckAndIncrement(ctx context.Context, scope ratelimit.Scope, identity string, limit int, window time.Duration) error
	Reset(ctx context.Context, scope ratelimit.Scope, identity string) error
}

type tokenService interface {
	IssueTokenPair(ctx context.Context, u *domain.User, ip string) (*domain.TokenPair, error)
	ValidateAccessToken(ctx context.Context, accessToken string) (*domain.Identity, error)
	RotateRefreshToken(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error)
	Revoke(ctx context.Context, accessToken string) error
	RevokeAllSessions(ctx context.Context, userID string) error
}

type googleVerifier interface {
	Verify(ctx context.Context, token string) (*google.Payload, error)
}

type ServiceDeps struct {
	Users      domain.UserRepository
	Tokens     tokenService
	OTP        otpEngine
	Limiter    limiter
	Google     googleVerifier
	Normalizer identifier.Normalizer
	Limits     config.RateLimit
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type service struct {
	users      domain.UserRepository
	tokens     tokenService
	otp        otpEngine
	limiter    limiter
	google     googleVerifier
	normalizer identifier.Normalizer
	limits     config.RateLimit
	cost       int
	dummyHash  []byte
	now        func() time.Time
}

func NewService(d ServiceDeps) Service {
	cost := d.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	// Compared against when the account does not exist, so a miss costs as
	// much as a wrong password.
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
	if err != nil {
		panic("generate dummy bcrypt hash: " + err.Error())
	}
	return &service{
		users:      d.Users,
		tokens:     d.Tokens,
		otp:        d.OTP,
		limiter:    d.Limiter,
		google:     d.Google,
		normalizer: d.Normalizer,
		limits:     d.Limits,
		cost:       cost,
		dummyHash:  dummy,
		now:        now,
	}
}

func (s *service) SendOtp(ctx context.Context, raw string, purpose domain.Purpose) (*otp.Receipt, error) {
	ident, err := s.normalizer.Canonical(raw)
	if err != nil {
		return nil, err
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrValidation)
	}
	if purpose == domain.PurposeRegister {
		if _, err := s.users.FindByIdentifier(ctx, ident); err == nil {
			return nil, fmt.Errorf("identifier already registered: %w", domain.ErrConflict)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if err := s.limiter.CheckAndIncrement(ctx, ratelimit.ScopeOTPSend, ident, s.limits.OTPSend.Max, s.limits.OTPSend.Window); err != nil {
		return nil, err
	}
	return s.otp.Send(ctx, ident, purpose)
}

func (s *service) VerifyOtp(ctx context.Context, raw, code string, purpose domain.Purpose) (bool, error) {
	return s.otp.Verify(ctx, raw, code, purpose)
}

func (s *service) Register(ctx context.Context, req RegisterRequest, ip string) (*domain.TokenPair, error) {
	ident, err := s.normalizer.Canonical(req.Identifier)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckPassword(req.Password); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByIdentifier(ctx, ident); err == nil {
		return nil, fmt.Errorf("identifier already registered: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ok, err := s.otp.Verify(ctx, ident, req.Code, domain.PurposeRegister)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registration code rejected: %w", domain.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Identifier:   ident,
		PasswordHash: string(hash),
		Roles:        domain.DefaultRoles(),
		Provider:     domain.ProviderLocal,
		Status:       domain.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if identifier.IsEmail(ident) {
		u.Email, u.EmailVerified = ident, true
	} else {
		u.Phone, u.PhoneVerified = ident, true
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	slog.Info("user registered", "user_id", u.UserID, "identifier", identifier.Mask(ident))
	return s.tokens.IssueTokenPair(ctx, u, ip)
}

func (s *service) Login(ctx context.Context, raw, password, ip string) (*domain.TokenPair, error) {
	ident, err := s.normalizer.Canonical(raw)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.CheckAndIncrement(ctx, ratelimit.ScopeLogin, ident, s.limits.Login.Max, s.limits.Login.Window); err != nil {
		return nil, err
	}

	u, err := s.users.FindByIdentifier(ctx, ident)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if u == nil || u.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, domain.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.Info("login rejected", "identifier", identifier.Mask(ident), "ip", ip)
		return nil, domain.ErrInvalidCredentials
	}
	if !u.Active() {
		return nil, fmt.Errorf("account %s is disabled: %w", u.UserID, domain.ErrForbidden)
	}

	if err := s.limiter.Reset(ctx, ratelimit.ScopeLogin, ident); err != nil {
		slog.Warn("failed to reset login counter", "identifier", identifier.Mask(ident), "err", err)
	}
	return s.completeLogin(ctx, u, ip)
}

func (s *service) LoginWithGoogle(ctx context.Context, idToken, ip string) (*domain.TokenPair, error) {
	if s.google == nil {
		return nil, fmt.Errorf("google login is not configured: %w", domain.ErrForbidden)
	}
	p, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}

	u, err := s.users.FindByIdentifier(ctx, p.Email)
	if errors.Is(err, domain.ErrNotFound) {
		now := s.now().UTC()
		u = &domain.User{
			UserID:          id.New(),
			Identifier:      p.Email,
			Email:           p.Email,
			Roles:           domain.DefaultRoles(),
			Provider:        domain.ProviderGoogle,
			ProviderSubject: p.Sub,
			EmailVerified:   true,
			Status:          domain.UserStatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		err = s.users.Create(ctx, u)
		if errors.Is(err, domain.ErrConflict) {
			// Lost a race with a concurrent first login.
			u, err = s.users.FindByIdentifier(ctx, p.Email)
		} else if err == nil {
			slog.Info("user registered", "user_id", u.UserID, "provider", domain.ProviderGoogle)
		}
	}
	if err != nil {
		return nil, err
	}
	if !u.Active() {
		return nil, fmt.Errorf("account %s is disabled: %w", u.UserID, domain.ErrForbidden)
	}
	if !u.EmailVerified {
		if err := s.users.MarkVerified(ctx, u.UserID, p.Email); err != nil {
			slog.Warn("failed to mark email verified", "user_id", u.UserID, "err", err)
		}
		u.EmailVerified = true
	}
	return s.completeLogin(ctx, u, ip)
}

func (s *service) completeLogin(ctx context.Context, u *domain.User, ip string) (*domain.TokenPair, error) {
	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, u.UserID, now); err != nil {
		slog.Warn("failed to record last login", "user_id", u.UserID, "err", err)
	}
	u.LastLoginAt = &now
	return s.tokens.IssueTokenPair(ctx, u, ip)
}

func (s *service) Refresh(ctx context.Context, refreshToken, ip string) (*domain.TokenPair, error) {
	return s.tokens.RotateRefreshToken(ctx, refreshToken, ip)
}

func (s *service) Logout(ctx context.Context, accessToken string) error {
	return s.tokens.Revoke(ctx, accessToken)
}

func (s *service) Validate(ctx context.Context, accessToken string) (*domain.Identity, error) {
	return s.tokens.ValidateAccessToken(ctx, accessToken)
}

func (s *service) RequestPasswordReset(ctx context.Context, raw string) error {
	ident, err := s.normalizer.Canonical(raw)
	if err != nil {
		return err
	}
	if err := s.limiter.CheckAndIncrement(ctx, ratelimit.ScopePasswordReset, ident, s.limits.PasswordReset.Max, s.limits.PasswordReset.Window); err != nil {
		return err
	}
	u, err := s.users.FindByIdentifier(ctx, ident)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("password reset for unknown identifier", "identifier", identifier.Mask(ident))
		return nil
	}
	if err != nil {
		return err
	}
	if !u.Active() {
		return nil
	}
	_, err = s.otp.Send(ctx, ident, domain.PurposeForgetPassword)
	if isAbuseControl(err) {
		// Must answer exactly like an unknown identifier.
		slog.Info("password reset code withheld", "identifier", identifier.Mask(ident), "reason", err)
		return nil
	}
	return err
}

func isAbuseControl(err error) bool {
	return errors.Is(err, domain.ErrCooldown) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrBlocked)
}

func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	ident, err := s.normalizer.Canonical(req.Identifier)
	if err != nil {
		return err
	}
	if err := domain.CheckPassword(req.NewPassword); err != nil {
		return err
	}
	ok, err := s.otp.Verify(ctx, ident, req.Code, domain.PurposeForgetPassword)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reset code rejected: %w", domain.ErrInvalidCredentials)
	}
	u, err := s.users.FindByIdentifier(ctx, ident)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, u.UserID, string(hash)); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllSessions(ctx, u.UserID); err != nil {
		return err
	}
	if err := s.limiter.Reset(ctx, ratelimit.ScopeLogin, ident); err != nil {
		slog.Warn("failed to reset login counter", "identifier", identifier.Mask(ident), "err", err)
	}
	slog.Info("password reset", "user_id", u.UserID)
	return nil
}
