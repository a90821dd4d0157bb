package auth

import (
	"context"
	"errors"
	"time"

	"portero.org/internal/obs"
)

// Principal is an authenticated identity together with how it authenticated.
type Principal struct {
	Identity  Identity
	TokenID   string
	ExpiresAt time.Time
	// MFAPending is set for tokens issued between the password step and the
	// one-time code step of an MFA login.
	MFAPending bool
}

// Authenticator resolves bearer tokens to identities.
type Authenticator struct {
	tokens     *TokenIssuer
	identities IdentityStore
}

// NewAuthenticator wires the token verifier to the identity store.
func NewAuthenticator(tokens *TokenIssuer, identities IdentityStore) *Authenticator {
	return &Authenticator{tokens: tokens, identities: identities}
}

// Authenticate verifies token and loads the identity it names. The returned
// identity never carries the password hash.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Principal, error) {
	if a == nil || a.tokens == nil {
		return Principal{}, ErrNotConfigured
	}
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	identity, err := a.identities.GetIdentity(ctx, claims.Subject)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.Ctx(ctx).Warn().Err(err).Str("identity_id", claims.Subject).Msg("identity lookup failed during authentication")
		}
		return Principal{}, ErrInvalidToken
	}
	if identity.PasswordHash == "" {
		obs.Ctx(ctx).Error().Str("identity_id", identity.ID).Msg("identity record has no password hash")
		return Principal{}, ErrInvalidToken
	}
	p := Principal{
		Identity:   identity.Public(),
		TokenID:    claims.ID,
		MFAPending: claims.TokenType == TokenTypeMFA,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}
