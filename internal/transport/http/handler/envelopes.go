package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/pkg/validate"
	"github.com/go-auth-nosql/internal/transport/http/middleware"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// VerifyEnvelope wraps the OTP verification result.
type VerifyEnvelope struct {
	Valid bool `json:"valid"`
}

// MeEnvelope wraps the current-user response.
type MeEnvelope struct {
	Identity *domain.Identity `json:"identity"`
	Profile  *domain.Profile  `json:"profile,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// decode reads a JSON body into dst and runs its validate tags.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.ErrValidation
	}
	return validate.Struct(dst)
}

// httpError maps a service error to a status code. Messages for credential
// and token failures are fixed strings so they leak nothing about the cause.
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrCooldown),
		errors.Is(err, domain.ErrBlocked):
		middleware.SetRetryAfter(w, err)
		writeError(w, http.StatusTooManyRequests, rateLimitMessage(err))
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case domain.IsTokenError(err), errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDependencyUnavailable):
		slog.Error("dependency unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		slog.Error("unhandled error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func rateLimitMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrCooldown):
		return "resend cooldown active"
	case errors.Is(err, domain.ErrBlocked):
		return "temporarily blocked"
	default:
		return "too many requests"
	}
}
