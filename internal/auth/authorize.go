package auth

import (
	"context"
	"strings"
)

// Operations that are exempt from parts of the lifecycle gate.
const (
	// OperationPasswordReset is the only operation an expired password may perform.
	OperationPasswordReset = "password_reset"
	// OperationMFA covers verifying and resending the second factor.
	OperationMFA = "mfa"
)

// Requirement is what a protected operation demands of its caller. All
// permissions are required; any one of Roles suffices.
type Requirement struct {
	Permissions []string
	Roles       []string
	Operation   string
}

// Authorize gates a request. Lifecycle state is checked before any policy:
// inactive, locked, expired password (unless resetting it), pending MFA
// (unless completing it). Then the resolver decides roles and permissions.
func (s *Service) Authorize(ctx context.Context, p Principal, req Requirement) (Decision, error) {
	identity := p.Identity
	role := normalizeRole(identity.Role)
	deny := Decision{Role: role, Source: SourceNone}

	if !identity.Active {
		return deny, ErrInactiveAccount
	}
	now := s.now()
	if identity.LockedAt(now) {
		return deny, Locked(identity.LockedUntil.Sub(now))
	}
	if req.Operation != OperationPasswordReset && req.Operation != OperationMFA {
		if s.CheckPasswordLifecycle(identity, now).Expired {
			return deny, ErrPasswordExpired
		}
	}
	if p.MFAPending && req.Operation != OperationMFA {
		return deny, ErrMFARequired
	}

	decision := Decision{Allowed: true, Role: role, Source: SourceNone}
	if len(req.Roles) > 0 {
		d, err := s.resolver.DecideRole(ctx, role, req.Roles...)
		if err != nil {
			return d, err
		}
		if !d.Allowed {
			return d, WithMessage(ErrInsufficientRole, "role %q is not one of %s", role, strings.Join(req.Roles, ", "))
		}
		decision = d
	}
	if len(req.Permissions) > 0 {
		d, err := s.resolver.DecideAll(ctx, role, req.Permissions...)
		if err != nil {
			return d, err
		}
		if !d.Allowed {
			return d, WithMessage(ErrInsufficientPermission, "role %q lacks %s", role, d.Permission)
		}
		decision = d
	}
	return decision, nil
}

// Authenticate verifies a bearer token against the service's store.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	if s.tokens == nil {
		return Principal{}, ErrNotConfigured
	}
	return s.Authenticator().Authenticate(ctx, token)
}
