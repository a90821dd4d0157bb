package auth

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"portero.org/internal/ids"
)

// DefaultRoleColor is used when a role is created without a color.
const DefaultRoleColor = "#6B7280"

var (
	codePattern  = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
)

// RoleInput describes a role to create.
type RoleInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Code        string `json:"code" validate:"required,max=64"`
	Description string `json:"description" validate:"max=500"`
	Color       string `json:"color"`
	Active      *bool  `json:"active"`
}

// PermissionInput describes a permission to create.
type PermissionInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Code        string `json:"code" validate:"required,max=64"`
	Category    string `json:"category" validate:"required,max=64"`
	Description string `json:"description" validate:"max=500"`
	Active      *bool  `json:"active"`
}

// PolicyAdmin is the administrative surface of the dynamic policy store.
// Every mutation is appended to the audit log.
type PolicyAdmin struct {
	store      PolicyStore
	identities IdentityStore
	audit      AuditStore
	now        func() time.Time
}

// NewPolicyAdmin wires the admin operations. audit may be nil.
func NewPolicyAdmin(store PolicyStore, identities IdentityStore, audit AuditStore, now func() time.Time) *PolicyAdmin {
	if now == nil {
		now = time.Now
	}
	return &PolicyAdmin{store: store, identities: identities, audit: audit, now: now}
}

func normalizeCode(code string) (string, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return "", fmt.Errorf("%w: code %q must match %s", ErrInvalidInput, code, codePattern.String())
	}
	return code, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return name, nil
}

func normalizeColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return DefaultRoleColor, nil
	}
	if !colorPattern.MatchString(color) {
		return "", fmt.Errorf("%w: color must look like #RRGGBB", ErrInvalidInput)
	}
	return strings.ToUpper(color), nil
}

func (a *PolicyAdmin) record(ctx context.Context, action, resourceType, resourceID string, meta map[string]string) {
	if a.audit == nil {
		return
	}
	entry := &AuditEntry{
		OccurredAt:   a.now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     meta,
	}
	if err := a.audit.AppendAudit(ctx, entry); err != nil {
		logFor(ctx).Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

// CreateRole adds a non-system dynamic role.
func (a *PolicyAdmin) CreateRole(ctx context.Context, in RoleInput) (Role, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return Role{}, err
	}
	code, err := normalizeCode(in.Code)
	if err != nil {
		return Role{}, err
	}
	color, err := normalizeColor(in.Color)
	if err != nil {
		return Role{}, err
	}
	now := a.now().UTC()
	role := Role{
		ID:          ids.NewAt(now),
		Name:        name,
		Code:        code,
		Description: strings.TrimSpace(in.Description),
		Color:       color,
		Active:      in.Active == nil || *in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateRole(ctx, &role); err != nil {
		return Role{}, err
	}
	a.record(ctx, "role.create", "role", role.ID, map[string]string{"code": role.Code})
	return role, nil
}

// GetRole returns a role with its granted permissions.
func (a *PolicyAdmin) GetRole(ctx context.Context, id string) (Role, error) {
	role, err := a.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	perms, err := a.store.RolePermissions(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Permissions = perms
	return role, nil
}

// ListRoles returns every role with its grants.
func (a *PolicyAdmin) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := a.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		perms, err := a.store.RolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// UpdateRole changes name, description, color, active flag or code. Codes of
// system roles are frozen, and other codes only change while unreferenced.
func (a *PolicyAdmin) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	existing, err := a.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name, err := normalizeName(*upd.Name)
		if err != nil {
			return Role{}, err
		}
		upd.Name = &name
	}
	if upd.Color != nil {
		color, err := normalizeColor(*upd.Color)
		if err != nil {
			return Role{}, err
		}
		upd.Color = &color
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.Code != nil {
		code, err := normalizeCode(*upd.Code)
		if err != nil {
			return Role{}, err
		}
		if code == existing.Code {
			upd.Code = nil
		} else {
			if existing.System {
				return Role{}, ErrSystemRoleProtected
			}
			n, err := a.identities.CountIdentitiesWithRole(ctx, existing.Code)
			if err != nil {
				return Role{}, err
			}
			if n > 0 {
				return Role{}, WithMessage(ErrCodeInUse, "role code %q is held by %d identities", existing.Code, n)
			}
			upd.Code = &code
		}
	}
	role, err := a.store.UpdateRole(ctx, existing.ID, upd)
	if err != nil {
		return Role{}, err
	}
	meta := map[string]string{"code": role.Code}
	if upd.Code != nil {
		meta["previous_code"] = existing.Code
	}
	if upd.Active != nil {
		meta["active"] = fmt.Sprint(role.Active)
	}
	a.record(ctx, "role.update", "role", role.ID, meta)
	return role, nil
}

// DeleteRole removes a non-system role that no identity holds.
func (a *PolicyAdmin) DeleteRole(ctx context.Context, id string) error {
	existing, err := a.store.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if existing.System {
		return ErrSystemRoleProtected
	}
	n, err := a.identities.CountIdentitiesWithRole(ctx, existing.Code)
	if err != nil {
		return err
	}
	if n > 0 {
		return WithMessage(ErrCodeInUse, "role code %q is held by %d identities", existing.Code, n)
	}
	if err := a.store.DeleteRole(ctx, existing.ID); err != nil {
		return err
	}
	a.record(ctx, "role.delete", "role", existing.ID, map[string]string{"code": existing.Code})
	return nil
}

// CreatePermission adds a permission.
func (a *PolicyAdmin) CreatePermission(ctx context.Context, in PermissionInput) (Permission, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return Permission{}, err
	}
	code, err := normalizeCode(in.Code)
	if err != nil {
		return Permission{}, err
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		return Permission{}, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}
	now := a.now().UTC()
	perm := Permission{
		ID:          ids.NewAt(now),
		Name:        name,
		Code:        code,
		Category:    category,
		Description: strings.TrimSpace(in.Description),
		Active:      in.Active == nil || *in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreatePermission(ctx, &perm); err != nil {
		return Permission{}, err
	}
	a.record(ctx, "permission.create", "permission", perm.ID, map[string]string{"code": perm.Code})
	return perm, nil
}

func (a *PolicyAdmin) GetPermission(ctx context.Context, id string) (Permission, error) {
	return a.store.GetPermission(ctx, id)
}

// ListPermissions lists permissions, optionally filtered by category.
func (a *PolicyAdmin) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	return a.store.ListPermissions(ctx, strings.ToLower(strings.TrimSpace(category)))
}

// UpdatePermission edits a permission. The code is frozen once granted.
func (a *PolicyAdmin) UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (Permission, error) {
	existing, err := a.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if upd.Name != nil {
		name, err := normalizeName(*upd.Name)
		if err != nil {
			return Permission{}, err
		}
		upd.Name = &name
	}
	if upd.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*upd.Category))
		if category == "" {
			return Permission{}, fmt.Errorf("%w: category is required", ErrInvalidInput)
		}
		upd.Category = &category
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.Code != nil {
		code, err := normalizeCode(*upd.Code)
		if err != nil {
			return Permission{}, err
		}
		if code == existing.Code {
			upd.Code = nil
		} else {
			n, err := a.store.CountGrants(ctx, existing.ID)
			if err != nil {
				return Permission{}, err
			}
			if n > 0 {
				return Permission{}, WithMessage(ErrPermissionInUse, "permission %q is granted to %d roles", existing.Code, n)
			}
			upd.Code = &code
		}
	}
	perm, err := a.store.UpdatePermission(ctx, existing.ID, upd)
	if err != nil {
		return Permission{}, err
	}
	a.record(ctx, "permission.update", "permission", perm.ID, map[string]string{"code": perm.Code})
	return perm, nil
}

// DeletePermission removes a permission no role is granted.
func (a *PolicyAdmin) DeletePermission(ctx context.Context, id string) error {
	existing, err := a.store.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	n, err := a.store.CountGrants(ctx, existing.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return WithMessage(ErrPermissionInUse, "permission %q is granted to %d roles", existing.Code, n)
	}
	if err := a.store.DeletePermission(ctx, existing.ID); err != nil {
		return err
	}
	a.record(ctx, "permission.delete", "permission", existing.ID, map[string]string{"code": existing.Code})
	return nil
}

// AssignPermissions replaces the whole grant set of a role.
func (a *PolicyAdmin) AssignPermissions(ctx context.Context, roleID string, permissionIDs []string) ([]Permission, error) {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(permissionIDs))
	unique := make([]string, 0, len(permissionIDs))
	for _, id := range permissionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("%w: empty permission id", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if err := a.store.ReplaceGrants(ctx, role.ID, unique); err != nil {
		return nil, err
	}
	a.record(ctx, "role.permissions.replace", "role", role.ID, map[string]string{
		"code":        role.Code,
		"permissions": strings.Join(unique, ","),
	})
	return a.store.RolePermissions(ctx, role.ID)
}

// AddPermission grants one permission. An existing grant is rejected.
func (a *PolicyAdmin) AddPermission(ctx context.Context, roleID, permissionID string) error {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	perm, err := a.store.GetPermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if err := a.store.AddGrant(ctx, role.ID, perm.ID); err != nil {
		return err
	}
	a.record(ctx, "role.permissions.add", "role", role.ID, map[string]string{"permission": perm.Code})
	return nil
}

// RemovePermission revokes one permission. Revoking an absent grant succeeds.
func (a *PolicyAdmin) RemovePermission(ctx context.Context, roleID, permissionID string) error {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := a.store.RemoveGrant(ctx, role.ID, permissionID); err != nil {
		return err
	}
	a.record(ctx, "role.permissions.remove", "role", role.ID, map[string]string{"permission_id": permissionID})
	return nil
}

// RolePermissions lists the permissions granted to a role.
func (a *PolicyAdmin) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return a.store.RolePermissions(ctx, role.ID)
}
