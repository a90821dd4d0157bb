package auth

import (
	"sort"
	"strings"
)

// Permission codes known to the code-level policy.
const (
	PermReadStudent      = "read_student"
	PermCreateStudent    = "create_student"
	PermUpdateStudent    = "update_student"
	PermDeleteStudent    = "delete_student"
	PermReadCourse       = "read_course"
	PermCreateCourse     = "create_course"
	PermUpdateCourse     = "update_course"
	PermDeleteCourse     = "delete_course"
	PermReadIncident     = "read_incident"
	PermCreateIncident   = "create_incident"
	PermUpdateIncident   = "update_incident"
	PermDeleteIncident   = "delete_incident"
	PermReadSubject      = "read_subject"
	PermCreateSubject    = "create_subject"
	PermUpdateSubject    = "update_subject"
	PermDeleteSubject    = "delete_subject"
	PermReadEnrollment   = "read_enrollment"
	PermCreateEnrollment = "create_enrollment"
	PermUpdateEnrollment = "update_enrollment"
	PermDeleteEnrollment = "delete_enrollment"
	PermViewReports      = "view_reports"
	PermManageUsers      = "manage_users"
	PermManageRoles      = "manage_roles"
	PermManagePerms      = "manage_permissions"
)

// Static role names.
const (
	RoleAdmin       = "admin"
	RoleDirector    = "director"
	RoleCoordinador = "coordinador"
	RoleProfesor    = "profesor"
	RoleSecretaria  = "secretaria"
	RoleEstudiante  = "estudiante"
)

// PermissionSet is an unordered set of permission codes.
type PermissionSet map[string]struct{}

func newPermissionSet(codes ...string) PermissionSet {
	set := make(PermissionSet, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set.
func (s PermissionSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Sorted returns the codes in lexical order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type staticPermission struct {
	code     string
	name     string
	category string
}

var staticPermissions = []staticPermission{
	{PermReadStudent, "Read students", "students"},
	{PermCreateStudent, "Create students", "students"},
	{PermUpdateStudent, "Update students", "students"},
	{PermDeleteStudent, "Delete students", "students"},
	{PermReadCourse, "Read courses", "courses"},
	{PermCreateCourse, "Create courses", "courses"},
	{PermUpdateCourse, "Update courses", "courses"},
	{PermDeleteCourse, "Delete courses", "courses"},
	{PermReadIncident, "Read incidents", "incidents"},
	{PermCreateIncident, "Create incidents", "incidents"},
	{PermUpdateIncident, "Update incidents", "incidents"},
	{PermDeleteIncident, "Delete incidents", "incidents"},
	{PermReadSubject, "Read subjects", "subjects"},
	{PermCreateSubject, "Create subjects", "subjects"},
	{PermUpdateSubject, "Update subjects", "subjects"},
	{PermDeleteSubject, "Delete subjects", "subjects"},
	{PermReadEnrollment, "Read enrollments", "enrollments"},
	{PermCreateEnrollment, "Create enrollments", "enrollments"},
	{PermUpdateEnrollment, "Update enrollments", "enrollments"},
	{PermDeleteEnrollment, "Delete enrollments", "enrollments"},
	{PermViewReports, "View reports", "reports"},
	{PermManageUsers, "Manage users", "administration"},
	{PermManageRoles, "Manage roles", "administration"},
	{PermManagePerms, "Manage permissions", "administration"},
}

var staticTable = func() map[string]PermissionSet {
	all := make([]string, 0, len(staticPermissions))
	for _, p := range staticPermissions {
		all = append(all, p.code)
	}
	return map[string]PermissionSet{
		RoleAdmin: newPermissionSet(all...),
		RoleDirector: newPermissionSet(
			PermReadStudent, PermCreateStudent, PermUpdateStudent,
			PermReadCourse, PermCreateCourse, PermUpdateCourse,
			PermReadIncident, PermCreateIncident, PermUpdateIncident, PermDeleteIncident,
			PermReadSubject, PermCreateSubject, PermUpdateSubject,
			PermReadEnrollment, PermCreateEnrollment, PermUpdateEnrollment,
			PermViewReports, PermManageUsers,
		),
		RoleCoordinador: newPermissionSet(
			PermReadStudent, PermUpdateStudent,
			PermReadCourse, PermUpdateCourse,
			PermReadIncident, PermCreateIncident, PermUpdateIncident,
			PermReadSubject, PermUpdateSubject,
			PermReadEnrollment, PermCreateEnrollment, PermUpdateEnrollment,
			PermViewReports,
		),
		RoleProfesor: newPermissionSet(
			PermReadStudent, PermReadCourse, PermReadSubject, PermReadEnrollment,
			PermReadIncident, PermCreateIncident,
		),
		RoleSecretaria: newPermissionSet(
			PermReadStudent, PermCreateStudent, PermUpdateStudent,
			PermReadCourse, PermReadSubject,
			PermReadEnrollment, PermCreateEnrollment, PermUpdateEnrollment, PermDeleteEnrollment,
		),
		RoleEstudiante: newPermissionSet(PermReadCourse, PermReadSubject),
	}
}()

func normalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

// PermissionsOf returns a copy of the static permission set of role. Unknown
// roles get an empty set.
func PermissionsOf(role string) PermissionSet {
	set, ok := staticTable[normalizeRole(role)]
	if !ok {
		return PermissionSet{}
	}
	out := make(PermissionSet, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}

// HasPermission consults only the static table.
func HasPermission(role, permission string) bool {
	set, ok := staticTable[normalizeRole(role)]
	if !ok {
		return false
	}
	return set.Has(permission)
}

// HasPermissionAnyRole reports whether any of roles statically carries permission.
func HasPermissionAnyRole(roles []string, permission string) bool {
	for _, r := range roles {
		if HasPermission(r, permission) {
			return true
		}
	}
	return false
}

// IsStaticRole reports whether role is part of the static table.
func IsStaticRole(role string) bool {
	_, ok := staticTable[normalizeRole(role)]
	return ok
}

// StaticRoles lists the static role names in lexical order.
func StaticRoles() []string {
	out := make([]string, 0, len(staticTable))
	for k := range staticTable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
