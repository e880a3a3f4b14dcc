// Package identifier canonicalises user identifiers (email or phone) so that
// every key derived from them is stable regardless of how the user typed it.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-auth-nosql/internal/domain"
)

var (
	emailRe = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	phoneRe = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

// Normalizer rewrites local phone numbers into E.164 using CountryCode.
type Normalizer struct {
	CountryCode string
}

func NewNormalizer(countryCode string) Normalizer {
	cc := strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	if cc == "" {
		cc = "84"
	}
	return Normalizer{CountryCode: cc}
}

// IsEmail reports whether raw has the shape of an email address.
func IsEmail(raw string) bool {
	return strings.Contains(raw, "@")
}

// Normalize returns the canonical form of raw. Normalize(Normalize(x)) == Normalize(x).
func (n Normalizer) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if IsEmail(s) {
		return strings.ToLower(s)
	}
	return n.phone(s)
}

// Canonical normalises raw and rejects anything that is not a valid email or
// E.164 phone afterwards.
func (n Normalizer) Canonical(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("identifier is required: %w", domain.ErrValidation)
	}
	s := n.Normalize(raw)
	if !Valid(s) {
		return "", fmt.Errorf("identifier %q is neither an email nor a phone number: %w", Mask(s), domain.ErrValidation)
	}
	return s, nil
}

// Valid reports whether an already-normalised identifier is acceptable.
func Valid(s string) bool {
	if IsEmail(s) {
		return emailRe.MatchString(s)
	}
	return phoneRe.MatchString(s)
}

func (n Normalizer) phone(s string) string {
	plus := strings.HasPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case digits == "":
		return s
	case plus:
		return "+" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:]
	case strings.HasPrefix(digits, "0"):
		return "+" + n.CountryCode + digits[1:]
	case strings.HasPrefix(digits, n.CountryCode):
		return "+" + digits
	default:
		return "+" + n.CountryCode + digits
	}
}

// Mask hides most of an identifier for log output.
//
//	alice@example.com -> al***@example.com
//	+84912345678      -> +84******678
func Mask(s string) string {
	if at := strings.LastIndex(s, "@"); at >= 0 {
		local, dom := s[:at], s[at:]
		if len(local) <= 2 {
			return strings.Repeat("*", len(local)) + dom
		}
		return local[:2] + "***" + dom
	}
	if len(s) <= 6 {
		return strings.Repeat("*", len(s))
	}
	return s[:3] + strings.Repeat("*", len(s)-6) + s[len(s)-3:]
}
