// Package memory is an in-process implementation of the auth stores, used by
// tests and by single-node deployments without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"portero.org/internal/auth"
)

// Store keeps identities, policy and audit entries in maps behind one mutex,
// which makes IncrementFailedAttempts atomic.
type Store struct {
	mu          sync.Mutex
	identities  map[string]auth.Identity
	byEmail     map[string]string
	history     map[string][]auth.PasswordHistoryEntry
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	grants      map[string]map[string]time.Time
	audit       []auth.AuditEntry
	challenges  map[string]auth.MFAChallenge
	now         func() time.Time
}

var (
	_ auth.Store    = (*Store)(nil)
	_ auth.MFAStore = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{
		identities:  make(map[string]auth.Identity),
		byEmail:     make(map[string]string),
		history:     make(map[string][]auth.PasswordHistoryEntry),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		grants:      make(map[string]map[string]time.Time),
		challenges:  make(map[string]auth.MFAChallenge),
		now:         time.Now,
	}
}

// WithClock sets the clock used for updated_at stamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, auth.ErrNotFound)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneIdentity(i auth.Identity) auth.Identity {
	i.LastLoginAt = cloneTime(i.LastLoginAt)
	i.LockedUntil = cloneTime(i.LockedUntil)
	return i
}

// Identities.

func (s *Store) CreateIdentity(_ context.Context, identity *auth.Identity) error {
	if identity == nil || identity.ID == "" || identity.PasswordHash == "" {
		return fmt.Errorf("%w: identity needs id and password hash", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(identity.Email)
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("%w: email already registered", auth.ErrConflict)
	}
	if _, ok := s.identities[identity.ID]; ok {
		return fmt.Errorf("%w: identity %s exists", auth.ErrConflict, identity.ID)
	}
	identity.Email = email
	s.identities[identity.ID] = cloneIdentity(*identity)
	s.byEmail[email] = identity.ID
	s.history[identity.ID] = append(s.history[identity.ID], auth.PasswordHistoryEntry{
		IdentityID:   identity.ID,
		PasswordHash: identity.PasswordHash,
		ChangedAt:    identity.PasswordChangedAt,
	})
	return nil
}

func (s *Store) GetIdentity(_ context.Context, id string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return auth.Identity{}, notFound("identity", id)
	}
	return cloneIdentity(identity), nil
}

func (s *Store) GetIdentityByEmail(_ context.Context, email string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return auth.Identity{}, notFound("identity", email)
	}
	return cloneIdentity(s.identities[id]), nil
}

func (s *Store) UpdateIdentity(_ context.Context, id string, upd auth.IdentityUpdate) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return auth.Identity{}, notFound("identity", id)
	}
	if upd.DisplayName != nil {
		identity.DisplayName = *upd.DisplayName
	}
	if upd.Role != nil {
		identity.Role = *upd.Role
	}
	if upd.Active != nil {
		identity.Active = *upd.Active
	}
	if upd.MFAEnabled != nil {
		identity.MFAEnabled = *upd.MFAEnabled
	}
	identity.UpdatedAt = s.now().UTC()
	s.identities[id] = identity
	return cloneIdentity(identity), nil
}

func (s *Store) CountIdentitiesWithRole(_ context.Context, role string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, i := range s.identities {
		if i.Role == role {
			n++
		}
	}
	return n, nil
}

func (s *Store) IncrementFailedAttempts(_ context.Context, id string, threshold int, lockedUntil, now time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return 0, nil, notFound("identity", id)
	}
	identity.FailedLoginAttempts++
	lockActive := identity.LockedUntil != nil && identity.LockedUntil.After(now)
	if identity.FailedLoginAttempts >= threshold && !lockActive {
		until := lockedUntil
		identity.LockedUntil = &until
	}
	identity.UpdatedAt = now.UTC()
	s.identities[id] = identity
	return identity.FailedLoginAttempts, cloneTime(identity.LockedUntil), nil
}

func (s *Store) ResetFailedAttempts(_ context.Context, id string, loginAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return notFound("identity", id)
	}
	identity.FailedLoginAttempts = 0
	identity.LockedUntil = nil
	if loginAt != nil {
		identity.LastLoginAt = cloneTime(loginAt)
	}
	identity.UpdatedAt = s.now().UTC()
	s.identities[id] = identity
	return nil
}

func (s *Store) SetPassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	if passwordHash == "" {
		return fmt.Errorf("%w: empty password hash", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return notFound("identity", id)
	}
	identity.PasswordHash = passwordHash
	identity.PasswordChangedAt = changedAt
	identity.PasswordExpired = false
	identity.UpdatedAt = changedAt
	s.identities[id] = identity
	s.history[id] = append(s.history[id], auth.PasswordHistoryEntry{
		IdentityID:   id,
		PasswordHash: passwordHash,
		ChangedAt:    changedAt,
	})
	return nil
}

// PasswordHistory returns the newest entries first.
func (s *Store) PasswordHistory(_ context.Context, id string, limit int) ([]auth.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.history[id]
	out := make([]auth.PasswordHistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) ListExpiryCandidates(_ context.Context) ([]auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Identity, 0, len(s.identities))
	for _, i := range s.identities {
		if i.Active && !i.PasswordExpired {
			out = append(out, cloneIdentity(i))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) MarkPasswordExpired(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return false, notFound("identity", id)
	}
	if identity.PasswordExpired {
		return false, nil
	}
	identity.PasswordExpired = true
	identity.UpdatedAt = s.now().UTC()
	s.identities[id] = identity
	return true, nil
}

// Audit.

func (s *Store) AppendAudit(_ context.Context, entry *auth.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil audit entry", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if entry.Metadata != nil {
		cp.Metadata = make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			cp.Metadata[k] = v
		}
	}
	s.audit = append(s.audit, cp)
	return nil
}

// AuditEntries returns a copy of the audit log in append order.
func (s *Store) AuditEntries() []auth.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// MFA challenges.

func (s *Store) SaveChallenge(_ context.Context, ch auth.MFAChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.IdentityID] = ch
	return nil
}

func (s *Store) GetChallenge(_ context.Context, identityID string) (auth.MFAChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[identityID]
	if !ok {
		return auth.MFAChallenge{}, notFound("mfa challenge", identityID)
	}
	return ch, nil
}

func (s *Store) ConsumeChallenge(_ context.Context, identityID string, issuedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.challenges[identityID]
	if !ok || ch.Consumed || !ch.IssuedAt.Equal(issuedAt) {
		return false, nil
	}
	ch.Consumed = true
	s.challenges[identityID] = ch
	return true, nil
}
