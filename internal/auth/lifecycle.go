package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"portero.org/internal/notify"
	"portero.org/internal/obs"
)

// LoginResult is what a successful password step yields. When MFA is enabled
// the token is an MFA pending token and Login also returns ErrMFARequired.
type LoginResult struct {
	Identity        Identity  `json:"identity"`
	Token           string    `json:"token"`
	TokenType       string    `json:"token_type"`
	ExpiresAt       time.Time `json:"expires_at"`
	PasswordExpired bool      `json:"password_expired"`
	MFARequired     bool      `json:"mfa_required"`
}

// Login checks email and password, applying the lockout state machine.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if s.tokens == nil {
		return LoginResult{}, ErrNotConfigured
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		obs.ObserveLogin("invalid")
		return LoginResult{}, ErrInvalidCredentials
	}
	identity, err := s.store.GetIdentityByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			obs.ObserveLogin("unknown")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !identity.Active {
		obs.ObserveLogin("inactive")
		return LoginResult{}, ErrInactiveAccount
	}
	now := s.now()
	if identity.LockedAt(now) {
		obs.ObserveLogin("locked")
		return LoginResult{}, Locked(identity.LockedUntil.Sub(now))
	}

	success := VerifyPassword(identity.PasswordHash, password) == nil
	if _, err := s.RecordLoginAttempt(ctx, identity, success); err != nil {
		return LoginResult{}, err
	}
	if !success {
		return LoginResult{}, ErrInvalidCredentials
	}

	identity.FailedLoginAttempts = 0
	identity.LockedUntil = nil
	identity.LastLoginAt = &now
	status := s.CheckPasswordLifecycle(identity, now)

	if identity.MFAEnabled {
		if _, err := s.IssueMFAChallenge(ctx, identity); err != nil {
			return LoginResult{}, err
		}
		token, exp, err := s.tokens.Issue(identity, TokenTypeMFA)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{
			Identity:        identity.Public(),
			Token:           token,
			TokenType:       TokenTypeMFA,
			ExpiresAt:       exp,
			PasswordExpired: status.Expired,
			MFARequired:     true,
		}, ErrMFARequired
	}
	return s.issueAccess(identity, status)
}

// CompleteMFALogin verifies the code of an MFA pending login and issues the
// access token.
func (s *Service) CompleteMFALogin(ctx context.Context, identityID, code string) (LoginResult, error) {
	if s.tokens == nil {
		return LoginResult{}, ErrNotConfigured
	}
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.VerifyMFAChallenge(ctx, identity, code); err != nil {
		return LoginResult{}, err
	}
	return s.issueAccess(identity, s.CheckPasswordLifecycle(identity, s.now()))
}

func (s *Service) issueAccess(identity Identity, status PasswordStatus) (LoginResult, error) {
	token, exp, err := s.tokens.Issue(identity, TokenTypeAccess)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		Identity:        identity.Public(),
		Token:           token,
		TokenType:       TokenTypeAccess,
		ExpiresAt:       exp,
		PasswordExpired: status.Expired,
	}, nil
}

// RecordLoginAttempt applies one credential check to the lockout state
// machine. A lockout whose expiry has passed is cleared before the attempt is
// counted. The failed-attempt counter is incremented atomically in the store.
// It returns an account_locked error while the identity is locked.
func (s *Service) RecordLoginAttempt(ctx context.Context, identity Identity, success bool) (LockoutState, error) {
	now := s.now()
	if identity.LockedAt(now) {
		remaining := identity.LockedUntil.Sub(now)
		obs.ObserveLogin("locked")
		return LockoutState{
			Locked:         true,
			FailedAttempts: identity.FailedLoginAttempts,
			LockedUntil:    identity.LockedUntil,
			Remaining:      remaining,
		}, Locked(remaining)
	}
	if identity.LockedUntil != nil {
		if err := s.store.ResetFailedAttempts(ctx, identity.ID, nil); err != nil {
			return LockoutState{}, fmt.Errorf("clear expired lockout: %w", err)
		}
		logFor(ctx).Info().Str("identity_id", identity.ID).Msg("lockout expired, unlocked")
	}

	if success {
		if err := s.store.ResetFailedAttempts(ctx, identity.ID, &now); err != nil {
			return LockoutState{}, fmt.Errorf("reset failed attempts: %w", err)
		}
		obs.ObserveLogin("success")
		return LockoutState{}, nil
	}

	lockUntil := now.Add(s.lockout.Duration)
	count, until, err := s.store.IncrementFailedAttempts(ctx, identity.ID, s.lockout.MaxAttempts, lockUntil, now)
	if err != nil {
		return LockoutState{}, fmt.Errorf("record failed attempt: %w", err)
	}
	state := LockoutState{FailedAttempts: count, LockedUntil: until}
	if until == nil || !now.Before(*until) {
		obs.ObserveLogin("failure")
		return state, nil
	}
	state.Locked = true
	state.Remaining = until.Sub(now)
	obs.ObserveLogin("locked")
	if until.Equal(lockUntil) {
		obs.ObserveLockout()
		logFor(ctx).Warn().Str("identity_id", identity.ID).Int("failed_attempts", count).Time("locked_until", *until).Msg("identity locked out")
		s.notify(ctx, notify.Notification{
			Kind:      notify.KindAccountLocked,
			Recipient: identity.Email,
			Data: map[string]any{
				"identity_id":  identity.ID,
				"locked_until": until.UTC().Format(time.RFC3339),
			},
		})
	}
	return state, Locked(state.Remaining)
}

// CheckPasswordLifecycle reports the password age of identity at now. A
// password older than the maximum age counts as expired even before the
// sweep has flagged it.
func (s *Service) CheckPasswordLifecycle(identity Identity, now time.Time) PasswordStatus {
	return passwordStatus(identity, now, s.expiry)
}

func passwordStatus(identity Identity, now time.Time, policy ExpiryPolicy) PasswordStatus {
	changed := identity.PasswordChangedAt
	if changed.IsZero() {
		changed = identity.CreatedAt
	}
	age := 0
	if !changed.IsZero() && now.After(changed) {
		age = int(now.Sub(changed) / (24 * time.Hour))
	}
	remaining := policy.MaxAgeDays - age
	st := PasswordStatus{
		AgeDays: age,
		Expired: identity.PasswordExpired || remaining <= 0,
	}
	if st.Expired {
		return st
	}
	st.DaysRemaining = remaining
	for _, d := range policy.WarnDays {
		if d == remaining {
			st.WarnDaysRemaining = remaining
			break
		}
	}
	return st
}

// PasswordStatus reports the password lifecycle of an identity now.
func (s *Service) PasswordStatus(ctx context.Context, identityID string) (PasswordStatus, error) {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return PasswordStatus{}, err
	}
	return s.CheckPasswordLifecycle(identity, s.now()), nil
}

// ResetExpiredPassword is the forced reset: it only applies to an expired
// password and takes no current password.
func (s *Service) ResetExpiredPassword(ctx context.Context, identityID, newPassword string) error {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if !s.CheckPasswordLifecycle(identity, s.now()).Expired {
		return fmt.Errorf("%w: password is not expired", ErrConflict)
	}
	if err := s.setPassword(ctx, identity, newPassword); err != nil {
		return err
	}
	s.audit(ctx, "identity.password.reset", identity.ID, nil)
	return nil
}

// ChangePassword is the regular change that requires the current password.
func (s *Service) ChangePassword(ctx context.Context, identityID, current, newPassword string) error {
	identity, err := s.store.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if VerifyPassword(identity.PasswordHash, current) != nil {
		return ErrInvalidCredentials
	}
	if err := s.setPassword(ctx, identity, newPassword); err != nil {
		return err
	}
	s.audit(ctx, "identity.password.change", identity.ID, nil)
	return nil
}

func (s *Service) setPassword(ctx context.Context, identity Identity, password string) error {
	if err := s.passwords.Validate(password); err != nil {
		return err
	}
	hashes := []string{identity.PasswordHash}
	if s.passwords.HistoryDepth > 0 {
		history, err := s.store.PasswordHistory(ctx, identity.ID, s.passwords.HistoryDepth)
		if err != nil {
			return fmt.Errorf("load password history: %w", err)
		}
		for _, h := range history {
			hashes = append(hashes, h.PasswordHash)
		}
	}
	if reused(password, hashes) {
		return WithMessage(ErrPasswordReused, "password matches one of the last %d passwords", s.passwords.HistoryDepth)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.SetPassword(ctx, identity.ID, hash, s.now().UTC())
}

// SetMFAEnabled turns the second factor on or off for an identity.
func (s *Service) SetMFAEnabled(ctx context.Context, identityID string, enabled bool) (Identity, error) {
	if enabled && s.mfa == nil {
		return Identity{}, fmt.Errorf("%w: no MFA challenge store", ErrNotConfigured)
	}
	identity, err := s.store.UpdateIdentity(ctx, identityID, IdentityUpdate{MFAEnabled: &enabled})
	if err != nil {
		return Identity{}, err
	}
	s.audit(ctx, "identity.mfa", identity.ID, map[string]string{"enabled": fmt.Sprint(enabled)})
	return identity.Public(), nil
}
