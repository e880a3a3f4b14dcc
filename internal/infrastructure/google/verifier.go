package google

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-auth-nosql/internal/domain"
	"google.golang.org/api/idtoken"
)

// Payload holds the verified claims extracted from a Google ID token.
type Payload struct {
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
}

type validateFunc func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// Verifier verifies Google ID tokens against a specific client ID.
type Verifier struct {
	clientID string
	validate validateFunc
}

func NewVerifier(clientID string) *Verifier {
	return &Verifier{clientID: clientID, validate: idtoken.Validate}
}

// Verify validates the Google ID token and returns the extracted payload.
// Tokens without a verified email are rejected: the email becomes the
// account identifier.
func (v *Verifier) Verify(ctx context.Context, token string) (*Payload, error) {
	if v.clientID == "" {
		return nil, fmt.Errorf("google login is not configured: %w", domain.ErrForbidden)
	}
	p, err := v.validate(ctx, token, v.clientID)
	if err != nil {
		slog.Warn("google id token rejected", "err", err)
		return nil, fmt.Errorf("invalid google token: %w", domain.ErrUnauthorized)
	}
	email, _ := p.Claims["email"].(string)
	emailVerified, _ := p.Claims["email_verified"].(bool)
	name, _ := p.Claims["name"].(string)
	if email == "" || !emailVerified {
		return nil, fmt.Errorf("google account email is not verified: %w", domain.ErrUnauthorized)
	}
	return &Payload{
		Sub:           p.Subject,
		Email:         strings.ToLower(email),
		EmailVerified: emailVerified,
		Name:          name,
	}, nil
}
