package httpapi

import (
	"errors"
	"net/http"
	"time"

	"portero.org/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type mfaVerifyRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type mfaSettingsRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type passwordResetRequest struct {
	NewPassword string `json:"new_password" validate:"required"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type authzCheckRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
	Roles       []string `json:"roles" validate:"dive,required"`
	Operation   string   `json:"operation" validate:"omitempty,oneof=password_reset mfa"`
}

type meResponse struct {
	Identity    auth.Identity       `json:"identity"`
	Permissions []string            `json:"permissions"`
	Source      auth.Source         `json:"source"`
	Password    auth.PasswordStatus `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrMFARequired) && res.Token != "" {
		writeJSON(w, http.StatusAccepted, res)
		return
	}
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.NewIdentityInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	identity, err := a.svc.Register(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/identities/"+identity.ID)
	writeJSON(w, http.StatusCreated, identity)
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.MFAPending {
		writeError(w, r, http.StatusConflict, "conflict", "no pending multi-factor login for this token", nil)
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := a.svc.CompleteMFALogin(r.Context(), p.Identity.ID, req.Code)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleMFAResend(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if !p.MFAPending {
		writeError(w, r, http.StatusConflict, "conflict", "no pending multi-factor login for this token", nil)
		return
	}
	expires, err := a.svc.ResendMFAChallenge(r.Context(), p.Identity.ID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"expires_at": expires.UTC().Format(time.RFC3339)})
}

func (a *API) handleMFASettings(w http.ResponseWriter, r *http.Request) {
	var req mfaSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	identity, err := a.svc.SetMFAEnabled(r.Context(), principal(r).Identity.ID, *req.Enabled)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.svc.ResetExpiredPassword(r.Context(), principal(r).Identity.ID, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.svc.ChangePassword(r.Context(), principal(r).Identity.ID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePasswordStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.svc.PasswordStatus(r.Context(), principal(r).Identity.ID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	perms, source, err := a.svc.Resolver().Permissions(r.Context(), p.Identity.Role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	status, err := a.svc.PasswordStatus(r.Context(), p.Identity.ID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Identity:    p.Identity,
		Permissions: perms.Sorted(),
		Source:      source,
		Password:    status,
	})
}

// handleAuthzCheck lets the protected resource layer ask for a decision on
// behalf of the caller's token.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	var req authzCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	decision, err := a.svc.Authorize(r.Context(), principal(r), auth.Requirement{
		Permissions: req.Permissions,
		Roles:       req.Roles,
		Operation:   req.Operation,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
