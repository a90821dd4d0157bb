package auth

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	return hashWithCost(password, bcrypt.DefaultCost)
}

func hashWithCost(password string, cost int) (string, error) {
	if len(password) == 0 {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares plaintext password with stored hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// PasswordPolicy is the strength and reuse policy for new passwords.
type PasswordPolicy struct {
	MinLength    int
	HistoryDepth int
}

// DefaultPasswordPolicy requires 12 characters and blocks the last 5 passwords.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 12, HistoryDepth: 5}
}

// Validate checks length and character classes: one uppercase letter, one
// digit and one symbol. Passwords over MaxPasswordBytes are rejected.
func (p PasswordPolicy) Validate(password string) error {
	if len(password) > MaxPasswordBytes {
		return WithMessage(ErrWeakPassword, "password must be at most %d bytes", MaxPasswordBytes)
	}
	var missing []string
	if len([]rune(password)) < p.MinLength {
		missing = append(missing, "at least "+strconv.Itoa(p.MinLength)+" characters")
	}
	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper {
		missing = append(missing, "an uppercase letter")
	}
	if !digit {
		missing = append(missing, "a digit")
	}
	if !symbol {
		missing = append(missing, "a symbol")
	}
	if len(missing) > 0 {
		return WithMessage(ErrWeakPassword, "password needs %s", strings.Join(missing, ", "))
	}
	return nil
}

// reused reports whether password matches any of the given hashes.
func reused(password string, hashes []string) bool {
	for _, h := range hashes {
		if h == "" {
			continue
		}
		if VerifyPassword(h, password) == nil {
			return true
		}
	}
	return false
}
