package handler

import (
	"context"
	"net/http"

	"github.com/go-auth-nosql/internal/application/auth"
	"github.com/go-auth-nosql/internal/domain"
)

type abuseInspector interface {
	Status(ctx context.Context, identifier string, purpose domain.Purpose) (*auth.AbuseStatus, error)
}

// AdminHandler serves operator endpoints. Routes are mounted behind the
// ADMIN role.
type AdminHandler struct {
	abuse abuseInspector
}

func NewAdminHandler(abuse abuseInspector) *AdminHandler {
	return &AdminHandler{abuse: abuse}
}

// AbuseStatus reports the OTP block and remaining rate-limit budgets for
// ?identifier=&purpose=. purpose defaults to LOGIN.
func (h *AdminHandler) AbuseStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purpose := domain.PurposeLogin
	if raw := q.Get("purpose"); raw != "" {
		p, err := domain.ParsePurpose(raw)
		if err != nil {
			httpError(w, err)
			return
		}
		purpose = p
	}
	st, err := h.abuse.Status(r.Context(), q.Get("identifier"), purpose)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
