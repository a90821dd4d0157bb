package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"portero.org/internal/notify"
)

const mfaCodeDigits = 6

// generateMFACode derives a six digit code from a fresh per-challenge secret.
func generateMFACode(account string, now time.Time, ttl time.Duration) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      defaultIssuer,
		AccountName: account,
		Period:      uint(ttl / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate mfa secret: %w", err)
	}
	return totp.GenerateCodeCustom(key.Secret(), now, totp.ValidateOpts{
		Period:    uint(ttl / time.Second),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// IssueMFAChallenge creates the single outstanding code of identity,
// replacing any earlier one, and sends it through the notifier.
func (s *Service) IssueMFAChallenge(ctx context.Context, identity Identity) (time.Time, error) {
	if s.mfa == nil {
		return time.Time{}, fmt.Errorf("%w: no MFA challenge store", ErrNotConfigured)
	}
	now := s.now().UTC()
	code, err := generateMFACode(identity.Email, now, s.mfaTTL)
	if err != nil {
		return time.Time{}, err
	}
	// MinCost keeps verification fast; the code is short-lived and single use.
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
	if err != nil {
		return time.Time{}, fmt.Errorf("hash mfa code: %w", err)
	}
	ch := MFAChallenge{
		IdentityID: identity.ID,
		CodeHash:   string(hash),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.mfaTTL),
	}
	if err := s.mfa.SaveChallenge(ctx, ch); err != nil {
		return time.Time{}, fmt.Errorf("save mfa challenge: %w", err)
	}
	s.notify(ctx, notify.Notification{
		Kind:      notify.KindMFACode,
		Recipient: identity.Email,
		Data: map[string]any{
			"identity_id": identity.ID,
			"code":        code,
			"expires_at":  ch.ExpiresAt.Format(time.RFC3339),
		},
	})
	return ch.ExpiresAt, nil
}

// ResendMFAChallenge reissues the code of an identity by id.
func (s *Service) ResendMFAChallenge(ctx context.Context, identityID string) (time.Time, error) {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return time.Time{}, err
	}
	return s.IssueMFAChallenge(ctx, identity)
}

// VerifyMFAChallenge checks code against the outstanding challenge. Expiry is
// checked before the digits, so a correct but late code yields mfa_expired.
// A wrong code counts as a failed login attempt and a correct one resets the
// counter, like a password match.
func (s *Service) VerifyMFAChallenge(ctx context.Context, identity Identity, code string) error {
	if s.mfa == nil {
		return fmt.Errorf("%w: no MFA challenge store", ErrNotConfigured)
	}
	ch, err := s.mfa.GetChallenge(ctx, identity.ID)
	if err != nil {
		if isNotFound(err) {
			return ErrMFARequired
		}
		return err
	}
	if ch.Consumed {
		return ErrMFARequired
	}
	now := s.now()
	if !now.Before(ch.ExpiresAt) {
		return ErrMFAExpired
	}
	if identity.LockedAt(now) {
		return Locked(identity.LockedUntil.Sub(now))
	}
	if !validCodeFormat(code) || bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)) != nil {
		if _, err := s.RecordLoginAttempt(ctx, identity, false); err != nil {
			return err
		}
		return ErrMFAMismatch
	}
	ok, err := s.mfa.ConsumeChallenge(ctx, identity.ID, ch.IssuedAt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMFARequired
	}
	if _, err := s.RecordLoginAttempt(ctx, identity, true); err != nil {
		return err
	}
	return nil
}

func validCodeFormat(code string) bool {
	if len(code) != mfaCodeDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
