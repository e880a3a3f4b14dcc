package handler

import (
	"context"
	"net/http"

	"github.com/go-auth-nosql/internal/application/auth"
	"github.com/go-auth-nosql/internal/application/user"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/transport/http/middleware"
)

type SendOtpRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Purpose    string `json:"purpose" validate:"required,purpose"`
}

type VerifyOtpRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
	Purpose    string `json:"purpose" validate:"required,purpose"`
}

type RegisterRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
}

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Password   string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type GoogleLoginRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

type PasswordResetRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
}

type PasswordResetConfirmRequest struct {
	Identifier  string `json:"identifier" validate:"required,identifier"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
	Code            string `json:"code" validate:"required,len=6,numeric"`
}

type accountService interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	ChangePassword(ctx context.Context, userID string, req user.ChangePasswordRequest) error
}

// AuthHandler serves the credential and session endpoints.
type AuthHandler struct {
	svc   auth.Service
	users accountService
}

func NewAuthHandler(svc auth.Service, users accountService) *AuthHandler {
	return &AuthHandler{svc: svc, users: users}
}

func (h *AuthHandler) SendOtp(w http.ResponseWriter, r *http.Request) {
	var req SendOtpRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	// Already checked by the purpose tag.
	purpose, _ := domain.ParsePurpose(req.Purpose)
	receipt, err := h.svc.SendOtp(r.Context(), req.Identifier, purpose)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *AuthHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req VerifyOtpRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	purpose, _ := domain.ParsePurpose(req.Purpose)
	ok, err := h.svc.VerifyOtp(r.Context(), req.Identifier, req.Code, purpose)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyEnvelope{Valid: ok})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	pair, err := h.svc.Register(r.Context(), auth.RegisterRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Code:       req.Code,
	}, middleware.ClientIP(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	pair, err := h.svc.Login(r.Context(), req.Identifier, req.Password, middleware.ClientIP(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req GoogleLoginRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	pair, err := h.svc.LoginWithGoogle(r.Context(), req.IDToken, middleware.ClientIP(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken, middleware.ClientIP(r))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	if err := h.svc.RequestPasswordReset(r.Context(), req.Identifier); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "if the account exists a code has been sent"})
}

func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	err := h.svc.ResetPassword(r.Context(), auth.ResetPasswordRequest{
		Identifier:  req.Identifier,
		Code:        req.Code,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password updated"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	u, err := h.users.Get(r.Context(), ident.UserID)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MeEnvelope{Identity: ident, Profile: domain.ToProfile(u)})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.AccessTokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.svc.Logout(r.Context(), token); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req ChangePasswordRequest
	if err := decode(r, &req); err != nil {
		httpError(w, err)
		return
	}
	err := h.users.ChangePassword(r.Context(), ident.UserID, user.ChangePasswordRequest{
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
		Code:            req.Code,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password changed"})
}
