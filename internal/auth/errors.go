package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrConflict      = errors.New("auth: conflict")
	ErrNotConfigured = errors.New("auth: not configured")
)

// Kind groups error codes by the gate that produced them.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindLifecycle      Kind = "lifecycle"
	KindPolicyAdmin    Kind = "policy_admin"
)

// Error is a definitive denial with a machine readable code. Two errors match
// under errors.Is when their codes are equal, so callers compare against the
// package sentinels regardless of message or remaining time.
type Error struct {
	Kind             Kind
	Code             string
	Message          string
	RemainingSeconds int64
}

func (e *Error) Error() string {
	if e.RemainingSeconds > 0 {
		return fmt.Sprintf("%s: %s (retry in %ds)", e.Code, e.Message, e.RemainingSeconds)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrMissingToken = newError(KindAuthentication, "missing_token", "missing bearer token")
	ErrInvalidToken = newError(KindAuthentication, "invalid_token", "invalid token")
	ErrExpiredToken = newError(KindAuthentication, "expired_token", "token expired")

	ErrInvalidCredentials = newError(KindAuthentication, "invalid_credentials", "invalid email or password")

	ErrInsufficientPermission = newError(KindAuthorization, "insufficient_permission", "role lacks the required permission")
	ErrInsufficientRole       = newError(KindAuthorization, "insufficient_role", "role is not allowed")
	ErrInactiveAccount        = newError(KindAuthorization, "inactive_account", "account is inactive")

	ErrAccountLocked   = newError(KindLifecycle, "account_locked", "account temporarily locked")
	ErrPasswordExpired = newError(KindLifecycle, "password_expired", "password expired, reset required")
	ErrMFARequired     = newError(KindLifecycle, "mfa_required", "multi-factor verification required")
	ErrMFAExpired      = newError(KindLifecycle, "mfa_expired", "verification code expired")
	ErrMFAMismatch     = newError(KindLifecycle, "mfa_mismatch", "verification code does not match")
	ErrWeakPassword    = newError(KindLifecycle, "weak_password", "password does not meet policy")
	ErrPasswordReused  = newError(KindLifecycle, "password_reused", "password was used recently")

	ErrDuplicateCode       = newError(KindPolicyAdmin, "duplicate_code", "code already exists")
	ErrCodeInUse           = newError(KindPolicyAdmin, "code_in_use", "role code is referenced by identities")
	ErrSystemRoleProtected = newError(KindPolicyAdmin, "system_role_protected", "system roles cannot be deleted or recoded")
	ErrPermissionInUse     = newError(KindPolicyAdmin, "permission_in_use", "permission is granted to roles")
	ErrDuplicateGrant      = newError(KindPolicyAdmin, "duplicate_grant", "permission already granted to role")
)

// Locked builds an account_locked denial carrying the remaining lockout time.
func Locked(remaining time.Duration) *Error {
	secs := int64((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &Error{
		Kind:             KindLifecycle,
		Code:             ErrAccountLocked.Code,
		Message:          ErrAccountLocked.Message,
		RemainingSeconds: secs,
	}
}

// WithMessage returns a copy of a sentinel with a more specific message.
func WithMessage(base *Error, format string, args ...any) *Error {
	cp := *base
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// AsError extracts the typed denial from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
