package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-auth-nosql/internal/domain"
)

// writeJSONError writes a JSON-encoded error response with the correct Content-Type.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStageError maps a stage rejection to a response. Token failures all
// collapse into one 401 so callers cannot tell expired from revoked.
func writeStageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrCooldown),
		errors.Is(err, domain.ErrBlocked):
		SetRetryAfter(w, err)
		writeJSONError(w, http.StatusTooManyRequests, "too many requests")
	case domain.IsTokenError(err), errors.Is(err, domain.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrDependencyUnavailable):
		slog.Error("pipeline dependency unavailable", "err", err)
		writeJSONError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		slog.Error("pipeline stage failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// SetRetryAfter sets the Retry-After header, in whole seconds rounded up
// with a floor of one, when err carries a retry hint.
func SetRetryAfter(w http.ResponseWriter, err error) {
	d, ok := domain.RetryAfter(err)
	if !ok {
		return
	}
	w.Header().Set("Retry-After", retryAfterSeconds(d))
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
