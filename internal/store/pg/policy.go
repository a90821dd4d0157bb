package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"portero.org/internal/auth"
)

const (
	roleColumns       = `id, name, code, coalesce(description, ''), color, active, is_system_role, created_at, updated_at`
	permissionColumns = `id, name, code, category, coalesce(description, ''), active, created_at, updated_at`
)

func scanRole(row rowScanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Code, &r.Description, &r.Color, &r.Active, &r.System, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanPermission(row rowScanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Category, &p.Description, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// uniqueError maps unique constraint violations on code and name columns.
func uniqueError(err error, kind, name string) error {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case kind + "s_code_key":
		return auth.ErrDuplicateCode
	default:
		return fmt.Errorf("%w: %s name %q exists", auth.ErrConflict, kind, name)
	}
}

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles(id, name, code, description, color, active, is_system_role, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, role.ID, role.Name, role.Code, nullIfEmpty(role.Description), role.Color, role.Active, role.System,
		role.CreatedAt, role.UpdatedAt)
	if err != nil {
		return uniqueError(err, "role", role.Name)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, notFound("role", id)
	}
	return r, err
}

func (s *Store) GetRoleByCode(ctx context.Context, code string) (auth.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where code = $1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, notFound("role", code)
	}
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRole locks the row so the system flag check and the write agree.
func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Role{}, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanRole(tx.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, notFound("role", id)
	}
	if err != nil {
		return auth.Role{}, err
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
	err = tx.QueryRowContext(ctx, `
		update roles set name = $2, code = $3, description = $4, color = $5, active = $6, updated_at = now()
		where id = $1
		returning updated_at
	`, id, r.Name, r.Code, nullIfEmpty(r.Description), r.Color, r.Active).Scan(&r.UpdatedAt)
	if err != nil {
		return auth.Role{}, uniqueError(err, "role", r.Name)
	}
	if err := tx.Commit(); err != nil {
		return auth.Role{}, err
	}
	return r, nil
}

// DeleteRole refuses system roles and roles still referenced by identities.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		code   string
		system bool
	)
	err = tx.QueryRowContext(ctx, `select code, is_system_role from roles where id = $1 for update`, id).Scan(&code, &system)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("role", id)
	}
	if err != nil {
		return err
	}
	if system {
		return auth.ErrSystemRoleProtected
	}
	var referenced bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from identities where role = $1)`, code).Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		return auth.ErrCodeInUse
	}
	if _, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreatePermission(ctx context.Context, perm *auth.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions(id, name, code, category, description, active, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, perm.ID, perm.Name, perm.Code, perm.Category, nullIfEmpty(perm.Description), perm.Active,
		perm.CreatedAt, perm.UpdatedAt)
	if err != nil {
		return uniqueError(err, "permission", perm.Name)
	}
	return nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, notFound("permission", id)
	}
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context, category string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `select `+permissionColumns+` from permissions
		where ($1 = '' or category = $1) order by category, code`, category)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (s *Store) UpdatePermission(ctx context.Context, id string, upd auth.PermissionUpdate) (auth.Permission, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.Permission{}, err
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPermission(tx.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, notFound("permission", id)
	}
	if err != nil {
		return auth.Permission{}, err
	}
	if upd.Code != nil && *upd.Code != p.Code {
		var granted bool
		if err := tx.QueryRowContext(ctx, `select exists(select 1 from role_permissions where permission_id = $1)`, id).Scan(&granted); err != nil {
			return auth.Permission{}, err
		}
		if granted {
			return auth.Permission{}, auth.ErrPermissionInUse
		}
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
	err = tx.QueryRowContext(ctx, `
		update permissions set name = $2, code = $3, category = $4, description = $5, active = $6, updated_at = now()
		where id = $1
		returning updated_at
	`, id, p.Name, p.Code, p.Category, nullIfEmpty(p.Description), p.Active).Scan(&p.UpdatedAt)
	if err != nil {
		return auth.Permission{}, uniqueError(err, "permission", p.Name)
	}
	if err := tx.Commit(); err != nil {
		return auth.Permission{}, err
	}
	return p, nil
}

// DeletePermission only removes permissions no role is granted.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from permissions p
		where p.id = $1 and not exists (select 1 from role_permissions rp where rp.permission_id = p.id)
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetPermission(ctx, id); err != nil {
		return err
	}
	return auth.ErrPermissionInUse
}

// ReplaceGrants swaps the grant set in one transaction; a missing permission
// aborts it through the foreign key.
func (s *Store) ReplaceGrants(ctx context.Context, roleID string, permissionIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return notFound("role", roleID)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions(role_id, permission_id, created_at) values ($1,$2, now())
			on conflict do nothing
		`, roleID, pid); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return notFound("permission", pid)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AddGrant(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions(role_id, permission_id, created_at) values ($1,$2, now())
	`, roleID, permissionID)
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return auth.ErrDuplicateGrant
		case pgErrForeignKeyViolation:
			if pgErr.ConstraintName == "role_permissions_role_id_fkey" {
				return notFound("role", roleID)
			}
			return notFound("permission", permissionID)
		}
	}
	return err
}

func (s *Store) RemoveGrant(ctx context.Context, roleID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`,
		roleID, permissionID)
	return err
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.code, p.category, coalesce(p.description, ''), p.active, p.created_at, p.updated_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.category, p.code
	`, roleID)
	if err != nil {
		return nil, err
	}
	return collectPermissions(rows)
}

func (s *Store) CountGrants(ctx context.Context, permissionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from role_permissions where permission_id = $1`, permissionID).Scan(&n)
	return n, err
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
