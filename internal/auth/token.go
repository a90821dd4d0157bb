package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer    = "portero"
	defaultAccessTTL = 15 * time.Minute
	defaultMFATTL    = 5 * time.Minute

	TokenTypeAccess = "access"
	TokenTypeMFA    = "mfa_pending"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	mfaTTL    time.Duration
	now       func() time.Time
}

// NewTokenIssuer builds an issuer. The secret must not be empty.
func NewTokenIssuer(secret, issuer string, accessTTL time.Duration, now func() time.Time) (*TokenIssuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: token secret is empty", ErrNotConfigured)
	}
	if strings.TrimSpace(issuer) == "" {
		issuer = defaultIssuer
	}
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		mfaTTL:    defaultMFATTL,
		now:       now,
	}, nil
}

// Issue signs a token of the given type for identity.
func (t *TokenIssuer) Issue(identity Identity, tokenType string) (string, time.Time, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return "", time.Time{}, errors.New("identity id is required")
	}
	ttl := t.accessTTL
	if tokenType == TokenTypeMFA {
		ttl = t.mfaTTL
	}
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Role:      identity.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, issuer and expiry. It never returns partially
// validated claims.
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	switch claims.TokenType {
	case TokenTypeAccess, TokenTypeMFA:
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}
