package auth

import "testing"

func TestUnknownRoleDeniesEverything(t *testing.T) {
	for _, role := range []string{"", "bibliotecario", "root", "ADMINISTRATOR"} {
		if got := PermissionsOf(role); len(got) != 0 {
			t.Fatalf("role %q: expected empty set, got %v", role, got.Sorted())
		}
		for _, sp := range staticPermissions {
			if HasPermission(role, sp.code) {
				t.Fatalf("role %q unexpectedly has %s", role, sp.code)
			}
		}
	}
}

func TestAdminHoldsEveryStaticPermission(t *testing.T) {
	for _, sp := range staticPermissions {
		if !HasPermission(RoleAdmin, sp.code) {
			t.Fatalf("admin lacks %s", sp.code)
		}
	}
}

func TestPermissionsOfReturnsCopy(t *testing.T) {
	set := PermissionsOf(RoleEstudiante)
	set[PermDeleteStudent] = struct{}{}
	if HasPermission(RoleEstudiante, PermDeleteStudent) {
		t.Fatal("mutating the returned set leaked into the table")
	}
}

func TestRoleNamesAreNormalized(t *testing.T) {
	if !HasPermission("  Profesor ", PermReadStudent) {
		t.Fatal("expected case and space insensitive role lookup")
	}
	if !IsStaticRole("DIRECTOR") {
		t.Fatal("expected DIRECTOR to be static")
	}
}

func TestHasPermissionAnyRole(t *testing.T) {
	if !HasPermissionAnyRole([]string{"bibliotecario", RoleSecretaria}, PermCreateEnrollment) {
		t.Fatal("secretaria should grant create_enrollment")
	}
	if HasPermissionAnyRole([]string{RoleEstudiante, RoleProfesor}, PermManageRoles) {
		t.Fatal("neither role manages roles")
	}
	if HasPermissionAnyRole(nil, PermReadCourse) {
		t.Fatal("no roles must deny")
	}
}

func TestStaticRolesSorted(t *testing.T) {
	got := StaticRoles()
	want := []string{RoleAdmin, RoleCoordinador, RoleDirector, RoleEstudiante, RoleProfesor, RoleSecretaria}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
