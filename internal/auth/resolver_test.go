package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portero.org/internal/auth"
)

func TestDynamicRoleOutsideStaticTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	readStudent, err := h.admin.CreatePermission(ctx, auth.PermissionInput{Name: "Read students", Code: auth.PermReadStudent, Category: "students"})
	require.NoError(t, err)
	role, err := h.admin.CreateRole(ctx, auth.RoleInput{Name: "Bibliotecario", Code: "bibliotecario"})
	require.NoError(t, err)
	require.NoError(t, h.admin.AddPermission(ctx, role.ID, readStudent.ID))

	librarian := h.identity(t, "biblio@colegio.edu", "bibliotecario")
	d, err := h.svc.Authorize(ctx, h.principal(t, librarian.ID), auth.Requirement{Permissions: []string{auth.PermReadStudent}})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, auth.SourceDynamic, d.Source)

	_, err = h.svc.Authorize(ctx, h.principal(t, librarian.ID), auth.Requirement{Permissions: []string{auth.PermDeleteStudent}})
	require.ErrorIs(t, err, auth.ErrInsufficientPermission)
}

func TestUnknownRoleDeniedBySource(t *testing.T) {
	h := newHarness(t)
	d, err := h.resolver.Decide(context.Background(), "ghost", auth.PermReadCourse)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, auth.SourceNone, d.Source)
}

func TestStaticFallbackWithoutGrants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadStudent)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, auth.SourceStatic, d.Source)

	_, err = h.admin.CreateRole(ctx, auth.RoleInput{Name: "Profesor", Code: auth.RoleProfesor})
	require.NoError(t, err)
	d, err = h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadStudent)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, auth.SourceStatic, d.Source)
}

func TestDynamicGrantsOverrideStaticAndApplyImmediately(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := auth.SeedStaticPolicy(ctx, h.store, h.clock.Now())
	require.NoError(t, err)
	profesor, err := h.store.GetRoleByCode(ctx, auth.RoleProfesor)
	require.NoError(t, err)

	perms, err := h.admin.ListPermissions(ctx, "students")
	require.NoError(t, err)
	var readStudent auth.Permission
	for _, p := range perms {
		if p.Code == auth.PermReadStudent {
			readStudent = p
		}
	}
	require.NotEmpty(t, readStudent.ID)

	d, err := h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadStudent)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, auth.SourceDynamic, d.Source)

	require.NoError(t, h.admin.RemovePermission(ctx, profesor.ID, readStudent.ID))
	d, err = h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadStudent)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "revoked grant must apply on the next decision")
	assert.Equal(t, auth.SourceDynamic, d.Source)

	inactive := false
	_, err = h.admin.UpdatePermission(ctx, readStudent.ID, auth.PermissionUpdate{Active: &inactive})
	require.NoError(t, err)
	require.NoError(t, h.admin.AddPermission(ctx, profesor.ID, readStudent.ID))
	d, err = h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadStudent)
	require.NoError(t, err)
	assert.False(t, d.Allowed, "inactive permissions do not count")
}

func TestInactiveDynamicRoleDenies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := auth.SeedStaticPolicy(ctx, h.store, h.clock.Now())
	require.NoError(t, err)
	director, err := h.store.GetRoleByCode(ctx, auth.RoleDirector)
	require.NoError(t, err)

	inactive := false
	_, err = h.admin.UpdateRole(ctx, director.ID, auth.RoleUpdate{Active: &inactive})
	require.NoError(t, err)

	d, err := h.resolver.Decide(ctx, auth.RoleDirector, auth.PermReadStudent)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, auth.SourceDynamic, d.Source)

	d, err = h.resolver.DecideRole(ctx, auth.RoleDirector, auth.RoleDirector)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	ok, err := h.resolver.Resolvable(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecideAllNamesMissingPermission(t *testing.T) {
	h := newHarness(t)
	d, err := h.resolver.DecideAll(context.Background(), auth.RoleEstudiante, auth.PermReadCourse, auth.PermUpdateCourse)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, auth.PermUpdateCourse, d.Permission)
}

func TestDeactivatedSystemRoleIsNotResolvable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := auth.SeedStaticPolicy(ctx, h.store, h.clock.Now())
	require.NoError(t, err)
	dir := h.identity(t, "dir@colegio.edu", auth.RoleDirector)

	role, err := h.store.GetRoleByCode(ctx, auth.RoleProfesor)
	require.NoError(t, err)
	inactive := false
	_, err = h.admin.UpdateRole(ctx, role.ID, auth.RoleUpdate{Active: &inactive})
	require.NoError(t, err)

	ok, err := h.resolver.Resolvable(ctx, auth.RoleProfesor)
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := h.resolver.Decide(ctx, auth.RoleProfesor, auth.PermReadCourse)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, auth.SourceDynamic, d.Source)

	_, err = h.svc.ChangeRole(ctx, dir.ID, auth.RoleProfesor)
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	ok, err = h.resolver.Resolvable(ctx, auth.RoleDirector)
	require.NoError(t, err)
	assert.True(t, ok)
}
