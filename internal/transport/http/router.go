package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/transport/http/handler"
	appmiddleware "github.com/go-auth-nosql/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds the
// background cleanup of the in-process burst limiter.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	trusted, err := config.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		// Validate rejects this at startup; trust nothing if it slips through.
		slog.Error("ignoring TRUSTED_PROXIES", "err", err)
		trusted = nil
	}

	r := chi.NewRouter()
	r.Use(appmiddleware.TrustProxies(trusted))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	burst := appmiddleware.NewLocalBurst(ctx, rate.Limit(cfg.RateLimit.BurstRPS), cfg.RateLimit.Burst)
	sensitive := appmiddleware.Pipeline(burst)
	register := appmiddleware.Pipeline(burst,
		appmiddleware.RateLimit(deps.Limiter, ratelimit.ScopeRegister, cfg.RateLimit.Register, appmiddleware.ClientIP))
	authed := appmiddleware.Pipeline(appmiddleware.Auth(deps.Auth))
	admin := appmiddleware.Pipeline(appmiddleware.Auth(deps.Auth), appmiddleware.RequireRole(domain.RoleAdmin))

	healthH := handler.NewHealthHandler(deps.Health)
	authH := handler.NewAuthHandler(deps.Auth, deps.Users)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Route("/auth", func(r chi.Router) {
			// Public routes, throttled per IP before the per-identifier limits
			// inside the services.
			r.Group(func(r chi.Router) {
				r.Use(sensitive)
				r.Post("/otp/send", authH.SendOtp)
				r.Post("/otp/verify", authH.VerifyOtp)
				r.Post("/login", authH.Login)
				r.Post("/google", authH.Google)
				r.Post("/refresh", authH.Refresh)
				r.Post("/password-reset/request", authH.RequestPasswordReset)
				r.Post("/password-reset/confirm", authH.ConfirmPasswordReset)
			})
			r.With(register).Post("/register", authH.Register)

			// Authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(authed)
				r.Get("/me", authH.Me)
				r.Post("/logout", authH.Logout)
				r.Post("/change-password", authH.ChangePassword)
			})
		})

		if deps.Abuse != nil {
			adminH := handler.NewAdminHandler(deps.Abuse)
			r.With(admin).Get("/admin/abuse-status", adminH.AbuseStatus)
		}
	})

	return r
}
