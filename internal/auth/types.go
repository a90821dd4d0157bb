package auth

import "time"

// Identity is a persisted credential holder. Role names either a static role
// or the code of a dynamic Role.
type Identity struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"display_name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	Active              bool       `json:"active"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	PasswordChangedAt   time.Time  `json:"password_changed_at"`
	PasswordExpired     bool       `json:"password_expired"`
	MFAEnabled          bool       `json:"mfa_enabled"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Public returns a copy safe to hand out of the credential layer.
func (i Identity) Public() Identity {
	i.PasswordHash = ""
	return i
}

// LockedAt reports whether the lockout window is still open at now.
func (i Identity) LockedAt(now time.Time) bool {
	return i.LockedUntil != nil && now.Before(*i.LockedUntil)
}

// Role groups permissions. Code is what Identity.Role refers to.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Code        string       `json:"code"`
	Description string       `json:"description,omitempty"`
	Color       string       `json:"color"`
	Active      bool         `json:"active"`
	System      bool         `json:"is_system_role"`
	Permissions []Permission `json:"permissions,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Permission is a fine-grained capability.
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Grant links a role to a permission.
type Grant struct {
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// PasswordHistoryEntry records a hash an identity has used.
type PasswordHistoryEntry struct {
	IdentityID   string
	PasswordHash string
	ChangedAt    time.Time
}

// MFAChallenge is the single outstanding one-time code of an identity.
type MFAChallenge struct {
	IdentityID string    `json:"identity_id"`
	CodeHash   string    `json:"code_hash"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Consumed   bool      `json:"consumed"`
}

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID           string
	OccurredAt   time.Time
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]string
}

// LockoutState is the outcome of recording a login attempt.
type LockoutState struct {
	Locked         bool          `json:"locked"`
	FailedAttempts int           `json:"failed_attempts"`
	LockedUntil    *time.Time    `json:"locked_until,omitempty"`
	Remaining      time.Duration `json:"-"`
}

// PasswordStatus describes where an identity's password is in its lifetime.
type PasswordStatus struct {
	Expired           bool `json:"expired"`
	AgeDays           int  `json:"age_days"`
	DaysRemaining     int  `json:"days_remaining"`
	WarnDaysRemaining int  `json:"warn_days_remaining,omitempty"`
}
