package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestPasswordPolicyValidate(t *testing.T) {
	policy := DefaultPasswordPolicy()
	cases := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Correct-Horse-9", true},
		{"too short", "Sh0rt!", false},
		{"no upper", "lowercase-only-9", false},
		{"no digit", "No-Digits-Here!", false},
		{"no symbol", "NoSymbolsHere99", false},
		{"unicode symbol", "Contraseña2026€", true},
		{"bcrypt limit", "Aa1!" + strings.Repeat("x", 68), true},
		{"over bcrypt limit", "Aa1!" + strings.Repeat("x", 69), false},
		{"multibyte over limit", "Aa1!" + strings.Repeat("ñ", 35), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.Validate(tc.password)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrWeakPassword) {
				t.Fatalf("expected weak_password, got %v", err)
			}
		})
	}
}

func TestHashAndVerify(t *testing.T) {
	hash, err := hashWithCost("Correct-Horse-9", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := VerifyPassword(hash, "Correct-Horse-9"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "correct-horse-9"); err == nil {
		t.Fatal("expected mismatch")
	}
	if err := VerifyPassword("", "x"); err == nil {
		t.Fatal("expected error for empty hash")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestReusedChecksEveryHash(t *testing.T) {
	old, _ := hashWithCost("Old-Password-1", bcrypt.MinCost)
	older, _ := hashWithCost("Older-Password-2", bcrypt.MinCost)
	hashes := []string{"", old, older}
	if !reused("Older-Password-2", hashes) {
		t.Fatal("expected reuse to be detected")
	}
	if reused("Fresh-Password-3", hashes) {
		t.Fatal("fresh password flagged as reused")
	}
}
