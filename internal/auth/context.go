package auth

import (
	"context"

	"github.com/rs/zerolog"

	"portero.org/internal/obs"
)

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// IdentityIDFromContext returns the id of the authenticated identity.
func IdentityIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Identity.ID == "" {
		return "", false
	}
	return p.Identity.ID, true
}

func logFor(ctx context.Context) *zerolog.Logger {
	l := obs.Ctx(ctx).With().Str("component", "auth").Logger()
	return &l
}
