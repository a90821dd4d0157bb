package auth

import (
	"context"
	"errors"
	"fmt"

	"portero.org/internal/obs"
)

// Source names the policy that produced a decision.
type Source string

const (
	SourceStatic  Source = "static"
	SourceDynamic Source = "dynamic"
	SourceNone    Source = "none"
)

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Source     Source `json:"source"`
	Role       string `json:"role"`
	Permission string `json:"permission,omitempty"`
}

// Resolver reconciles the dynamic policy store and the static table. Dynamic
// roles with grants override the static table. Nothing is cached between
// calls, so grant changes apply to the next request.
type Resolver struct {
	policy PolicyStore
}

// NewResolver builds a resolver. A nil store leaves only the static table.
func NewResolver(policy PolicyStore) *Resolver {
	return &Resolver{policy: policy}
}

// view is the effective policy of one role, loaded once per request.
type view struct {
	role     string
	source   Source
	perms    PermissionSet
	disabled bool
}

func (r *Resolver) load(ctx context.Context, role string) (view, error) {
	role = normalizeRole(role)
	v := view{role: role, source: SourceNone, perms: PermissionSet{}}
	if role == "" {
		return v, nil
	}
	if r != nil && r.policy != nil {
		dyn, err := r.policy.GetRoleByCode(ctx, role)
		switch {
		case err == nil:
			if !dyn.Active {
				v.source = SourceDynamic
				v.disabled = true
				return v, nil
			}
			grants, err := r.policy.RolePermissions(ctx, dyn.ID)
			if err != nil {
				return v, fmt.Errorf("load grants of %s: %w", role, err)
			}
			if len(grants) > 0 {
				v.source = SourceDynamic
				for _, p := range grants {
					if p.Active {
						v.perms[p.Code] = struct{}{}
					}
				}
				return v, nil
			}
		case errors.Is(err, ErrNotFound):
		default:
			return v, fmt.Errorf("load role %s: %w", role, err)
		}
	}
	if IsStaticRole(role) {
		v.source = SourceStatic
		v.perms = PermissionsOf(role)
	}
	return v, nil
}

// Decide checks a single permission for role.
func (r *Resolver) Decide(ctx context.Context, role, permission string) (Decision, error) {
	return r.DecideAll(ctx, role, permission)
}

// DecideAll requires every permission. The role's policy is read once for the
// whole set. A store failure denies and returns the error.
func (r *Resolver) DecideAll(ctx context.Context, role string, permissions ...string) (Decision, error) {
	v, err := r.load(ctx, role)
	if err != nil {
		d := Decision{Source: SourceNone, Role: normalizeRole(role)}
		r.record(ctx, d)
		return d, err
	}
	d := Decision{Source: v.source, Role: v.role, Allowed: v.source != SourceNone}
	for _, p := range permissions {
		if !v.perms.Has(p) {
			d.Allowed = false
			d.Permission = p
			break
		}
	}
	if d.Allowed && len(permissions) == 1 {
		d.Permission = permissions[0]
	}
	r.record(ctx, d)
	return d, nil
}

// DecideRole allows role when it is one of allowed and resolves through some
// policy source.
func (r *Resolver) DecideRole(ctx context.Context, role string, allowed ...string) (Decision, error) {
	v, err := r.load(ctx, role)
	d := Decision{Source: v.source, Role: v.role}
	if err != nil {
		d.Source = SourceNone
		r.record(ctx, d)
		return d, err
	}
	if v.source != SourceNone && !v.disabled {
		for _, a := range allowed {
			if normalizeRole(a) == v.role {
				d.Allowed = true
				break
			}
		}
	}
	r.record(ctx, d)
	return d, nil
}

// Permissions returns the effective permission set of role and its source.
func (r *Resolver) Permissions(ctx context.Context, role string) (PermissionSet, Source, error) {
	v, err := r.load(ctx, role)
	if err != nil {
		return PermissionSet{}, SourceNone, err
	}
	return v.perms, v.source, nil
}

// Resolvable reports whether role maps to a permission set in at least one
// source. Identities may only carry resolvable roles. A dynamic record wins
// over the static table, so a deactivated system role is not resolvable.
func (r *Resolver) Resolvable(ctx context.Context, role string) (bool, error) {
	role = normalizeRole(role)
	if role == "" {
		return false, nil
	}
	if r != nil && r.policy != nil {
		dyn, err := r.policy.GetRoleByCode(ctx, role)
		switch {
		case err == nil:
			return dyn.Active, nil
		case !errors.Is(err, ErrNotFound):
			return false, err
		}
	}
	return IsStaticRole(role), nil
}

func (r *Resolver) record(ctx context.Context, d Decision) {
	obs.ObserveDecision(string(d.Source), d.Allowed)
	obs.Ctx(ctx).Debug().
		Str("role", d.Role).
		Str("permission", d.Permission).
		Str("source", string(d.Source)).
		Bool("allowed", d.Allowed).
		Msg("policy decision")
}
