package auth

import (
	"context"
	"time"
)

// Store bundles the persistence the credential and policy layers need.
type Store interface {
	IdentityStore
	PolicyStore
	AuditStore
}

// IdentityStore persists identities and their password history. Stores only
// ever receive password hashes.
type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, id string) (Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (Identity, error)
	UpdateIdentity(ctx context.Context, id string, upd IdentityUpdate) (Identity, error)
	CountIdentitiesWithRole(ctx context.Context, role string) (int, error)

	// IncrementFailedAttempts atomically adds one failed attempt. When the new
	// count reaches threshold and no lockout is active at now, lockedUntil is
	// stored. It returns the counter and lockout expiry after the update.
	IncrementFailedAttempts(ctx context.Context, id string, threshold int, lockedUntil, now time.Time) (int, *time.Time, error)
	// ResetFailedAttempts zeroes the counter and clears the lockout. A non-nil
	// loginAt is stored as the last login time.
	ResetFailedAttempts(ctx context.Context, id string, loginAt *time.Time) error

	// SetPassword stores a new hash, appends it to the history, and clears the
	// expired flag in one unit.
	SetPassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	PasswordHistory(ctx context.Context, id string, limit int) ([]PasswordHistoryEntry, error)

	// ListExpiryCandidates returns active identities whose password is not yet
	// flagged as expired.
	ListExpiryCandidates(ctx context.Context) ([]Identity, error)
	// MarkPasswordExpired flags the identity and reports whether this call
	// changed the flag.
	MarkPasswordExpired(ctx context.Context, id string) (bool, error)
}

// IdentityUpdate carries optional profile changes.
type IdentityUpdate struct {
	DisplayName *string
	Role        *string
	Active      *bool
	MFAEnabled  *bool
}

// PolicyStore persists the dynamic Role/Permission/grant model.
type PolicyStore interface {
	CreateRole(ctx context.Context, role *Role) error
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	// DeleteRole removes a non-system role nobody references, and its grants.
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm *Permission) error
	GetPermission(ctx context.Context, id string) (Permission, error)
	ListPermissions(ctx context.Context, category string) ([]Permission, error)
	UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (Permission, error)
	// DeletePermission removes a permission no role is granted.
	DeletePermission(ctx context.Context, id string) error

	// ReplaceGrants swaps the full grant set of a role. Unknown permission ids
	// fail the whole call without changes.
	ReplaceGrants(ctx context.Context, roleID string, permissionIDs []string) error
	AddGrant(ctx context.Context, roleID, permissionID string) error
	RemoveGrant(ctx context.Context, roleID, permissionID string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	// CountGrants reports how many roles are granted the permission.
	CountGrants(ctx context.Context, permissionID string) (int, error)
}

// RoleUpdate carries optional role changes.
type RoleUpdate struct {
	Name        *string
	Code        *string
	Description *string
	Color       *string
	Active      *bool
}

// PermissionUpdate carries optional permission changes.
type PermissionUpdate struct {
	Name        *string
	Code        *string
	Category    *string
	Description *string
	Active      *bool
}

// MFAStore keeps the single outstanding challenge per identity.
type MFAStore interface {
	// SaveChallenge replaces any prior challenge of the identity.
	SaveChallenge(ctx context.Context, ch MFAChallenge) error
	GetChallenge(ctx context.Context, identityID string) (MFAChallenge, error)
	// ConsumeChallenge marks the challenge issued at issuedAt as used. It
	// reports false when it was already consumed or replaced.
	ConsumeChallenge(ctx context.Context, identityID string, issuedAt time.Time) (bool, error)
}

// AuditStore appends immutable entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}
