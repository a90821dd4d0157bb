package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"portero.org/internal/ids"
	"portero.org/internal/notify"
)

// LockoutPolicy controls failed-attempt lockouts.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks for 15 minutes after 5 failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}
}

// ExpiryPolicy controls password aging.
type ExpiryPolicy struct {
	MaxAgeDays int
	WarnDays   []int
}

// DefaultExpiryPolicy expires passwords after 90 days and warns 7, 3 and 1
// days ahead.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{MaxAgeDays: 90, WarnDays: []int{7, 3, 1}}
}

// Service is the credential lifecycle manager and authorization gate.
type Service struct {
	store       Store
	auditLog    AuditStore
	mfa         MFAStore
	tokens      *TokenIssuer
	resolver    *Resolver
	notifier    notify.Notifier
	lockout     LockoutPolicy
	passwords   PasswordPolicy
	expiry      ExpiryPolicy
	mfaTTL      time.Duration
	defaultRole string
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithTokenIssuer enables login token issuance and bearer authentication.
func WithTokenIssuer(t *TokenIssuer) ServiceOption {
	return func(s *Service) error {
		s.tokens = t
		return nil
	}
}

// WithMFAStore sets where MFA challenges live.
func WithMFAStore(m MFAStore) ServiceOption {
	return func(s *Service) error {
		s.mfa = m
		return nil
	}
}

// WithNotifier sets the notification sink. Production wiring passes a
// notify.Dispatcher so sends never block.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) error {
		if p.MaxAttempts < 1 || p.Duration <= 0 {
			return fmt.Errorf("%w: lockout needs positive attempts and duration", ErrInvalidInput)
		}
		s.lockout = p
		return nil
	}
}

func WithPasswordPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) error {
		if p.MinLength < 1 || p.HistoryDepth < 0 {
			return fmt.Errorf("%w: invalid password policy", ErrInvalidInput)
		}
		s.passwords = p
		return nil
	}
}

func WithExpiryPolicy(p ExpiryPolicy) ServiceOption {
	return func(s *Service) error {
		if p.MaxAgeDays < 1 {
			return fmt.Errorf("%w: password max age must be positive", ErrInvalidInput)
		}
		s.expiry = p
		return nil
	}
}

// WithAuditSink routes identity audit entries through sink instead of the
// store directly.
func WithAuditSink(sink AuditStore) ServiceOption {
	return func(s *Service) error {
		if sink != nil {
			s.auditLog = sink
		}
		return nil
	}
}

// WithMFATTL overrides the lifetime of MFA codes.
func WithMFATTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.mfaTTL = ttl
		}
		return nil
	}
}

// WithDefaultRole sets the role given to self-registered identities.
func WithDefaultRole(role string) ServiceOption {
	return func(s *Service) error {
		if r := normalizeRole(role); r != "" {
			s.defaultRole = r
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrNotConfigured)
	}
	svc := &Service{
		store:       store,
		auditLog:    store,
		resolver:    NewResolver(store),
		notifier:    notify.NotifierFunc(func(context.Context, notify.Notification) error { return nil }),
		lockout:     DefaultLockoutPolicy(),
		passwords:   DefaultPasswordPolicy(),
		expiry:      DefaultExpiryPolicy(),
		mfaTTL:      defaultMFATTL,
		defaultRole: RoleEstudiante,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Resolver exposes the policy resolver used by the gate.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Authenticator returns the bearer token gate bound to this service's store.
func (s *Service) Authenticator() *Authenticator {
	return NewAuthenticator(s.tokens, s.store)
}

// SupportsTokens reports whether bearer token issuance is configured.
func (s *Service) SupportsTokens() bool { return s.tokens != nil }

// NewIdentityInput is the write-path input for a new identity.
type NewIdentityInput struct {
	DisplayName string `json:"display_name" validate:"required,max=200"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role"`
}

// NewIdentity validates input and returns an identity whose password is
// already hashed. It is the only constructor of persisted identities.
func NewIdentity(in NewIdentityInput, policy PasswordPolicy, now time.Time) (Identity, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return Identity{}, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return Identity{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if err := policy.Validate(in.Password); err != nil {
		return Identity{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}
	now = now.UTC()
	return Identity{
		ID:                ids.NewAt(now),
		DisplayName:       name,
		Email:             email,
		PasswordHash:      hash,
		Role:              normalizeRole(in.Role),
		Active:            true,
		PasswordChangedAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// CreateIdentity is the admin write path. The role must resolve through at
// least one policy source.
func (s *Service) CreateIdentity(ctx context.Context, in NewIdentityInput) (Identity, error) {
	if err := s.requireResolvable(ctx, in.Role); err != nil {
		return Identity{}, err
	}
	identity, err := NewIdentity(in, s.passwords, s.now())
	if err != nil {
		return Identity{}, err
	}
	if err := s.store.CreateIdentity(ctx, &identity); err != nil {
		return Identity{}, err
	}
	s.audit(ctx, "identity.create", identity.ID, map[string]string{"role": identity.Role})
	return identity.Public(), nil
}

// Register is self-registration. The requested role is ignored in favour of
// the configured default.
func (s *Service) Register(ctx context.Context, in NewIdentityInput) (Identity, error) {
	in.Role = s.defaultRole
	identity, err := s.CreateIdentity(ctx, in)
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// GetIdentity returns the public view of an identity.
func (s *Service) GetIdentity(ctx context.Context, id string) (Identity, error) {
	identity, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return Identity{}, err
	}
	return identity.Public(), nil
}

// ChangeRole moves an identity to another resolvable role.
func (s *Service) ChangeRole(ctx context.Context, id, role string) (Identity, error) {
	if err := s.requireResolvable(ctx, role); err != nil {
		return Identity{}, err
	}
	role = normalizeRole(role)
	identity, err := s.store.UpdateIdentity(ctx, id, IdentityUpdate{Role: &role})
	if err != nil {
		return Identity{}, err
	}
	s.audit(ctx, "identity.role", identity.ID, map[string]string{"role": role})
	return identity.Public(), nil
}

// Deactivate disables an identity. Identities are never deleted.
func (s *Service) Deactivate(ctx context.Context, id string) (Identity, error) {
	inactive := false
	identity, err := s.store.UpdateIdentity(ctx, id, IdentityUpdate{Active: &inactive})
	if err != nil {
		return Identity{}, err
	}
	s.audit(ctx, "identity.deactivate", identity.ID, nil)
	return identity.Public(), nil
}

// Unlock clears a lockout ahead of its expiry.
func (s *Service) Unlock(ctx context.Context, id string) (Identity, error) {
	if _, err := s.store.GetIdentity(ctx, id); err != nil {
		return Identity{}, err
	}
	if err := s.store.ResetFailedAttempts(ctx, id, nil); err != nil {
		return Identity{}, err
	}
	s.audit(ctx, "identity.unlock", id, nil)
	return s.GetIdentity(ctx, id)
}

func (s *Service) requireResolvable(ctx context.Context, role string) error {
	ok, err := s.resolver.Resolvable(ctx, role)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %q is not defined by any policy", ErrInvalidInput, normalizeRole(role))
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action, identityID string, meta map[string]string) {
	entry := &AuditEntry{
		OccurredAt:   s.now().UTC(),
		Action:       action,
		ResourceType: "identity",
		ResourceID:   identityID,
		Metadata:     meta,
	}
	if err := s.auditLog.AppendAudit(ctx, entry); err != nil {
		logFor(ctx).Error().Err(err).Str("action", action).Msg("audit append failed")
	}
}

// notify hands n to the notifier. Failures are logged and never returned.
func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Send(context.WithoutCancel(ctx), n); err != nil {
		logFor(ctx).Warn().Err(err).Str("kind", string(n.Kind)).Str("recipient", n.Recipient).Msg("notification not delivered")
	}
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
