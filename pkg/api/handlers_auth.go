package api

import (
	"net/http"

	"github.com/tidestore/tidestore/pkg/auth"
	"github.com/tidestore/tidestore/pkg/quota"
)

// authHandler serves registration, login, and token lifecycle routes.
type authHandler struct {
	svc   *auth.Service
	quota *quota.Accountant
}

func newAuthHandler(svc *auth.Service, accountant *quota.Accountant) *authHandler {
	return &authHandler{svc: svc, quota: accountant}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req refreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	pair, err := h.svc.Refresh(r.Context(), principal.UserID, req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	var req refreshRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	token, _ := extractBearerToken(r)
	if err := h.svc.Logout(r.Context(), principal.UserID, req.RefreshToken, token); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Quota reports the caller's effective limits and usage.
func (h *authHandler) Quota(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())

	summary, err := h.quota.GetSummary(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
