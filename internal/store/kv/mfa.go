// Package kv keeps MFA challenges in BadgerDB. Challenges are ephemeral, so
// each entry carries a TTL well past its expiry and badger drops it on its own.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"portero.org/internal/auth"
)

const (
	challengeKeyPrefix = "mfa_challenge:"

	// Entries outlive their expiry so late verifications still see
	// mfa_expired instead of a missing challenge.
	defaultRetention = time.Hour

	maxConflictRetries = 5
)

// Open opens a badger database at path. An empty path opens an in-memory
// database.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for mfa challenges: %w", err)
	}
	return db, nil
}

// MFAStore implements auth.MFAStore on badger.
type MFAStore struct {
	db        *badger.DB
	retention time.Duration
}

var _ auth.MFAStore = (*MFAStore)(nil)

// NewMFAStore wraps db. retention <= 0 uses one hour.
func NewMFAStore(db *badger.DB, retention time.Duration) *MFAStore {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MFAStore{db: db, retention: retention}
}

func challengeKey(identityID string) []byte {
	return []byte(challengeKeyPrefix + identityID)
}

// SaveChallenge replaces any prior challenge of the identity.
func (s *MFAStore) SaveChallenge(_ context.Context, ch auth.MFAChallenge) error {
	if ch.IdentityID == "" {
		return fmt.Errorf("%w: challenge without identity", auth.ErrInvalidInput)
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(challengeKey(ch.IdentityID), data).WithTTL(s.retention)
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set challenge: %w", err)
		}
		return nil
	})
}

// GetChallenge loads the outstanding challenge.
func (s *MFAStore) GetChallenge(_ context.Context, identityID string) (auth.MFAChallenge, error) {
	var ch auth.MFAChallenge
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ch, err = readChallenge(txn, identityID)
		return err
	})
	return ch, err
}

// ConsumeChallenge marks the challenge issued at issuedAt as used. Badger
// transactions are optimistic; conflicting writers are retried.
func (s *MFAStore) ConsumeChallenge(ctx context.Context, identityID string, issuedAt time.Time) (bool, error) {
	for attempt := 0; ; attempt++ {
		consumed := false
		err := s.db.Update(func(txn *badger.Txn) error {
			ch, err := readChallenge(txn, identityID)
			if errors.Is(err, auth.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if ch.Consumed || !ch.IssuedAt.Equal(issuedAt) {
				return nil
			}
			ch.Consumed = true
			data, err := json.Marshal(ch)
			if err != nil {
				return fmt.Errorf("marshal challenge: %w", err)
			}
			if err := txn.SetEntry(badger.NewEntry(challengeKey(identityID), data).WithTTL(s.retention)); err != nil {
				return err
			}
			consumed = true
			return nil
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			continue
		}
		if err != nil {
			return false, fmt.Errorf("consume challenge: %w", err)
		}
		return consumed, nil
	}
}

func readChallenge(txn *badger.Txn, identityID string) (auth.MFAChallenge, error) {
	var ch auth.MFAChallenge
	item, err := txn.Get(challengeKey(identityID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ch, fmt.Errorf("mfa challenge %q: %w", identityID, auth.ErrNotFound)
	}
	if err != nil {
		return ch, fmt.Errorf("get challenge: %w", err)
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &ch)
	})
	if err != nil {
		return ch, fmt.Errorf("decode challenge: %w", err)
	}
	return ch, nil
}
