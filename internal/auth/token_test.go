package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer("s3cret", "portero-test", time.Hour, fixedClock(now))
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	token, exp, err := issuer.Issue(Identity{ID: "id-1", Role: RoleProfesor}, TokenTypeAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "id-1" || claims.Role != RoleProfesor || claims.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti")
	}
}

func TestTokenErrors(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	current := now
	issuer, _ := NewTokenIssuer("s3cret", "portero-test", time.Minute, func() time.Time { return current })
	token, _, _ := issuer.Issue(Identity{ID: "id-1"}, TokenTypeAccess)

	if _, err := issuer.Parse("  "); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing_token, got %v", err)
	}
	if _, err := issuer.Parse("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid_token, got %v", err)
	}

	other, _ := NewTokenIssuer("other", "portero-test", time.Minute, func() time.Time { return current })
	if _, err := other.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid_token for wrong key, got %v", err)
	}

	current = now.Add(2 * time.Minute)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired_token, got %v", err)
	}
}

func TestTokenRejectsForeignAlgorithmAndType(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	issuer, _ := NewTokenIssuer("s3cret", "portero-test", time.Hour, fixedClock(now))

	claims := Claims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "portero-test",
			Subject:   "id-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	wrongType, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if _, err := issuer.Parse(wrongType); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid_token for unknown type, got %v", err)
	}

	claims.TokenType = TokenTypeAccess
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("s3cret"))
	if _, err := issuer.Parse(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid_token for HS512, got %v", err)
	}
}

func TestNewTokenIssuerNeedsSecret(t *testing.T) {
	if _, err := NewTokenIssuer(" ", "", 0, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
