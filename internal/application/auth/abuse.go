package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/identifier"
)

// AbuseStatus is the operator view of the throttles held against one identifier.
type AbuseStatus struct {
	Identifier             string         `json:"identifier"`
	Purpose                domain.Purpose `json:"purpose"`
	BlockedForSeconds      int            `json:"blocked_for_seconds"`
	LoginRemaining         int            `json:"login_remaining"`
	OTPSendRemaining       int            `json:"otp_send_remaining"`
	PasswordResetRemaining int            `json:"password_reset_remaining"`
}

type blockChecker interface {
	Blocked(ctx context.Context, identifier string, purpose domain.Purpose) (time.Duration, error)
}

type budgetReader interface {
	Remaining(ctx context.Context, scope ratelimit.Scope, identity string, limit int) (int, error)
}

// AbuseInspector reads OTP blocks and rate-limit budgets without touching them.
type AbuseInspector struct {
	blocks     blockChecker
	budgets    budgetReader
	normalizer identifier.Normalizer
	limits     config.RateLimit
}

func NewAbuseInspector(blocks blockChecker, budgets budgetReader, n identifier.Normalizer, limits config.RateLimit) *AbuseInspector {
	return &AbuseInspector{blocks: blocks, budgets: budgets, normalizer: n, limits: limits}
}

// Status reports the OTP block for (identifier, purpose) and the remaining
// per-identifier budgets. The identifier in the result is masked.
func (a *AbuseInspector) Status(ctx context.Context, raw string, purpose domain.Purpose) (*AbuseStatus, error) {
	ident, err := a.normalizer.Canonical(raw)
	if err != nil {
		return nil, err
	}
	if !purpose.Valid() {
		return nil, fmt.Errorf("unknown otp purpose %q: %w", purpose, domain.ErrValidation)
	}
	blocked, err := a.blocks.Blocked(ctx, ident, purpose)
	if err != nil {
		return nil, err
	}
	st := &AbuseStatus{
		Identifier:        identifier.Mask(ident),
		Purpose:           purpose,
		BlockedForSeconds: int((blocked + time.Second - 1) / time.Second),
	}
	budgets := []struct {
		scope ratelimit.Scope
		limit int
		dst   *int
	}{
		{ratelimit.ScopeLogin, a.limits.Login.Max, &st.LoginRemaining},
		{ratelimit.ScopeOTPSend, a.limits.OTPSend.Max, &st.OTPSendRemaining},
		{ratelimit.ScopePasswordReset, a.limits.PasswordReset.Max, &st.PasswordResetRemaining},
	}
	for _, b := range budgets {
		n, err := a.budgets.Remaining(ctx, b.scope, ident, b.limit)
		if err != nil {
			return nil, err
		}
		*b.dst = n
	}
	return st, nil
}
