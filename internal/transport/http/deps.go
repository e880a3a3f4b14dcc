package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-auth-nosql/internal/application/auth"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/application/user"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/transport/http/handler"
)

// Limiter is the distributed fixed-window limiter the router gates with.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, scope ratelimit.Scope, identity string, limit int, window time.Duration) error
}

// AbuseInspector reports OTP blocks and remaining budgets for an identifier.
type AbuseInspector interface {
	Status(ctx context.Context, identifier string, purpose domain.Purpose) (*auth.AbuseStatus, error)
}

// Deps holds the application services and infrastructure the router needs.
type Deps struct {
	Auth    auth.Service
	Users   user.Service
	Limiter Limiter
	// Abuse serves the admin abuse-status route. Nil disables it.
	Abuse AbuseInspector
	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler
	// Health is checked by /v1/health-check/ready, keyed by display name.
	Health map[string]handler.Pinger
}
