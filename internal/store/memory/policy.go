package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"portero.org/internal/auth"
)

func (s *Store) CreateRole(_ context.Context, role *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Code == role.Code {
			return auth.ErrDuplicateCode
		}
		if r.Name == role.Name {
			return fmt.Errorf("%w: role name %q exists", auth.ErrConflict, role.Name)
		}
	}
	cp := *role
	cp.Permissions = nil
	s.roles[role.ID] = cp
	return nil
}

func (s *Store) GetRole(_ context.Context, id string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, notFound("role", id)
	}
	return r, nil
}

func (s *Store) GetRoleByCode(_ context.Context, code string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return auth.Role{}, notFound("role", code)
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, notFound("role", id)
	}
	for otherID, other := range s.roles {
		if otherID == id {
			continue
		}
		if upd.Code != nil && other.Code == *upd.Code {
			return auth.Role{}, auth.ErrDuplicateCode
		}
		if upd.Name != nil && other.Name == *upd.Name {
			return auth.Role{}, fmt.Errorf("%w: role name %q exists", auth.ErrConflict, *upd.Name)
		}
	}
	if upd.Code != nil && *upd.Code != r.Code && r.System {
		return auth.Role{}, auth.ErrSystemRoleProtected
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Code != nil {
		r.Code = *upd.Code
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Color != nil {
		r.Color = *upd.Color
	}
	if upd.Active != nil {
		r.Active = *upd.Active
	}
	r.UpdatedAt = s.now().UTC()
	s.roles[id] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return notFound("role", id)
	}
	if r.System {
		return auth.ErrSystemRoleProtected
	}
	for _, i := range s.identities {
		if i.Role == r.Code {
			return auth.ErrCodeInUse
		}
	}
	delete(s.roles, id)
	delete(s.grants, id)
	return nil
}

func (s *Store) CreatePermission(_ context.Context, perm *auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if p.Code == perm.Code {
			return auth.ErrDuplicateCode
		}
		if p.Name == perm.Name {
			return fmt.Errorf("%w: permission name %q exists", auth.ErrConflict, perm.Name)
		}
	}
	s.permissions[perm.ID] = *perm
	return nil
}

func (s *Store) GetPermission(_ context.Context, id string) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok {
		return auth.Permission{}, notFound("permission", id)
	}
	return p, nil
}

func (s *Store) ListPermissions(_ context.Context, category string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) UpdatePermission(_ context.Context, id string, upd auth.PermissionUpdate) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permissions[id]
	if !ok {
		return auth.Permission{}, notFound("permission", id)
	}
	for otherID, other := range s.permissions {
		if otherID == id {
			continue
		}
		if upd.Code != nil && other.Code == *upd.Code {
			return auth.Permission{}, auth.ErrDuplicateCode
		}
		if upd.Name != nil && other.Name == *upd.Name {
			return auth.Permission{}, fmt.Errorf("%w: permission name %q exists", auth.ErrConflict, *upd.Name)
		}
	}
	if upd.Code != nil && *upd.Code != p.Code && s.grantCount(id) > 0 {
		return auth.Permission{}, auth.ErrPermissionInUse
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Code != nil {
		p.Code = *upd.Code
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	p.UpdatedAt = s.now().UTC()
	s.permissions[id] = p
	return p, nil
}

func (s *Store) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[id]; !ok {
		return notFound("permission", id)
	}
	if s.grantCount(id) > 0 {
		return auth.ErrPermissionInUse
	}
	delete(s.permissions, id)
	return nil
}

func (s *Store) ReplaceGrants(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return notFound("role", roleID)
	}
	for _, pid := range permissionIDs {
		if _, ok := s.permissions[pid]; !ok {
			return notFound("permission", pid)
		}
	}
	now := s.now().UTC()
	set := make(map[string]time.Time, len(permissionIDs))
	for _, pid := range permissionIDs {
		set[pid] = now
	}
	s.grants[roleID] = set
	return nil
}

func (s *Store) AddGrant(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return notFound("role", roleID)
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return notFound("permission", permissionID)
	}
	set := s.grants[roleID]
	if set == nil {
		set = make(map[string]time.Time)
		s.grants[roleID] = set
	}
	if _, ok := set[permissionID]; ok {
		return auth.ErrDuplicateGrant
	}
	set[permissionID] = s.now().UTC()
	return nil
}

func (s *Store) RemoveGrant(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[roleID], permissionID)
	return nil
}

func (s *Store) RolePermissions(_ context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.grants[roleID]
	out := make([]auth.Permission, 0, len(set))
	for pid := range set {
		if p, ok := s.permissions[pid]; ok {
			out = append(out, p)
		}
	}
	sortPermissions(out)
	return out, nil
}

func (s *Store) CountGrants(_ context.Context, permissionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grantCount(permissionID), nil
}

func (s *Store) grantCount(permissionID string) int {
	n := 0
	for _, set := range s.grants {
		if _, ok := set[permissionID]; ok {
			n++
		}
	}
	return n
}

func sortPermissions(ps []auth.Permission) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Category != ps[j].Category {
			return ps[i].Category < ps[j].Category
		}
		return ps[i].Code < ps[j].Code
	})
}
