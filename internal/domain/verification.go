package domain

import (
	"fmt"
	"strings"
	"time"
)

// Purpose scopes an OTP challenge to one flow.
type Purpose string

const (
	PurposeRegister       Purpose = "REGISTER"
	PurposeLogin          Purpose = "LOGIN"
	PurposeForgetPassword Purpose = "FORGET_PASSWORD"
	PurposeChangePassword Purpose = "CHANGE_PASSWORD"
	PurposeAddEmail       Purpose = "ADD_EMAIL"
	PurposeAddPhone       Purpose = "ADD_PHONE"
	PurposeCheckout       Purpose = "CHECKOUT"
)

var purposes = map[Purpose]struct{}{
	PurposeRegister:       {},
	PurposeLogin:          {},
	PurposeForgetPassword: {},
	PurposeChangePassword: {},
	PurposeAddEmail:       {},
	PurposeAddPhone:       {},
	PurposeCheckout:       {},
}

// ParsePurpose accepts a purpose name in any case.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := purposes[p]; !ok {
		return "", fmt.Errorf("unknown otp purpose %q: %w", s, ErrValidation)
	}
	return p, nil
}

func (p Purpose) Valid() bool {
	_, ok := purposes[p]
	return ok
}

// OtpChallenge is the single active code for an (identifier, purpose) pair.
type OtpChallenge struct {
	Code      string    `json:"code"`
	Purpose   Purpose   `json:"purpose"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempts  int       `json:"attempts"`
	Used      bool      `json:"used"`
}

// ResendTracker counts sends inside the resend window.
type ResendTracker struct {
	Count       int       `json:"count"`
	FirstSentAt time.Time `json:"first_sent_at"`
	LastSentAt  time.Time `json:"last_sent_at"`
}
