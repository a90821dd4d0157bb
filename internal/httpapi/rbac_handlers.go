package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"portero.org/internal/auth"
)

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Code        *string `json:"code" validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Color       *string `json:"color"`
	Active      *bool   `json:"active"`
}

type updatePermissionRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Code        *string `json:"code" validate:"omitempty,max=64"`
	Category    *string `json:"category" validate:"omitempty,max=64"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

type assignPermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" validate:"required"`
}

type addPermissionRequest struct {
	PermissionID string `json:"permission_id" validate:"required"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

func (a *API) policyAdmin(w http.ResponseWriter, r *http.Request) (*auth.PolicyAdmin, bool) {
	if a.admin == nil {
		writeError(w, r, http.StatusServiceUnavailable, "not_configured", "policy administration unavailable", nil)
		return nil, false
	}
	return a.admin, true
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	roles, err := admin.ListRoles(r.Context())
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req auth.RoleInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := admin.CreateRole(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	role, err := admin.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := admin.UpdateRole(r.Context(), chi.URLParam(r, "id"), auth.RoleUpdate{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		Color:       req.Color,
		Active:      req.Active,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	if err := admin.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	perms, err := admin.RolePermissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

// handleAssignPermissions replaces the full grant set of the role.
func (a *API) handleAssignPermissions(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req assignPermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	perms, err := admin.AssignPermissions(r.Context(), chi.URLParam(r, "id"), req.PermissionIDs)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleAddPermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req addPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	roleID := chi.URLParam(r, "id")
	if err := admin.AddPermission(r.Context(), roleID, strings.TrimSpace(req.PermissionID)); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *API) handleRemovePermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	if err := admin.RemovePermission(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "permissionID")); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	perms, err := admin.ListPermissions(r.Context(), strings.TrimSpace(r.URL.Query().Get("category")))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req auth.PermissionInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	perm, err := admin.CreatePermission(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/permissions/"+perm.ID)
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	perm, err := admin.GetPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	var req updatePermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	perm, err := admin.UpdatePermission(r.Context(), chi.URLParam(r, "id"), auth.PermissionUpdate{
		Name:        req.Name,
		Code:        req.Code,
		Category:    req.Category,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	admin, ok := a.policyAdmin(w, r)
	if !ok {
		return
	}
	if err := admin.DeletePermission(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req auth.NewIdentityInput
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	identity, err := a.svc.CreateIdentity(r.Context(), req)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/identities/"+identity.ID)
	writeJSON(w, http.StatusCreated, identity)
}

func (a *API) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := a.svc.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	identity, err := a.svc.ChangeRole(r.Context(), chi.URLParam(r, "id"), req.Role)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	identity, err := a.svc.Deactivate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request) {
	identity, err := a.svc.Unlock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
