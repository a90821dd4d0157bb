package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portero.org/internal/ids"
)

var staticRoleNames = map[string]string{
	RoleAdmin:       "Administrador",
	RoleDirector:    "Director",
	RoleCoordinador: "Coordinador",
	RoleProfesor:    "Profesor",
	RoleSecretaria:  "Secretaria",
	RoleEstudiante:  "Estudiante",
}

// SeedResult counts what SeedStaticPolicy created.
type SeedResult struct {
	Permissions int
	Roles       int
	Grants      int
}

// SeedStaticPolicy mirrors the static table into the dynamic store: missing
// permissions are created, missing static roles become system roles with the
// same grants. Existing rows are left alone so admin edits survive reseeding.
func SeedStaticPolicy(ctx context.Context, store PolicyStore, now time.Time) (SeedResult, error) {
	var res SeedResult
	now = now.UTC()

	existing, err := store.ListPermissions(ctx, "")
	if err != nil {
		return res, fmt.Errorf("list permissions: %w", err)
	}
	byCode := make(map[string]string, len(existing))
	for _, p := range existing {
		byCode[p.Code] = p.ID
	}
	for _, sp := range staticPermissions {
		if _, ok := byCode[sp.code]; ok {
			continue
		}
		perm := Permission{
			ID:        ids.NewAt(now),
			Name:      sp.name,
			Code:      sp.code,
			Category:  sp.category,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.CreatePermission(ctx, &perm); err != nil {
			return res, fmt.Errorf("seed permission %s: %w", sp.code, err)
		}
		byCode[sp.code] = perm.ID
		res.Permissions++
	}

	for _, code := range StaticRoles() {
		if _, err := store.GetRoleByCode(ctx, code); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return res, fmt.Errorf("lookup role %s: %w", code, err)
		}
		role := Role{
			ID:        ids.NewAt(now),
			Name:      staticRoleNames[code],
			Code:      code,
			Color:     DefaultRoleColor,
			Active:    true,
			System:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.CreateRole(ctx, &role); err != nil {
			return res, fmt.Errorf("seed role %s: %w", code, err)
		}
		res.Roles++
		codes := PermissionsOf(code).Sorted()
		permIDs := make([]string, 0, len(codes))
		for _, c := range codes {
			permIDs = append(permIDs, byCode[c])
		}
		if err := store.ReplaceGrants(ctx, role.ID, permIDs); err != nil {
			return res, fmt.Errorf("seed grants of %s: %w", code, err)
		}
		res.Grants += len(permIDs)
	}
	return res, nil
}
