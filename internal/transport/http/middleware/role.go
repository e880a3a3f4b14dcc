package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-auth-nosql/internal/domain"
)

type roleStage struct {
	allowed []string
}

// RequireRole admits only identities holding one of the given roles
// (e.g. domain.RoleAdmin). It must run after Auth.
func RequireRole(allowedRoles ...string) Stage {
	return &roleStage{allowed: allowedRoles}
}

func (s *roleStage) Name() string { return "require_role" }

func (s *roleStage) Apply(r *http.Request) (*http.Request, error) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	if !ident.HasRole(s.allowed...) {
		return nil, fmt.Errorf("role required %v: %w", s.allowed, domain.ErrForbidden)
	}
	return r, nil
}
