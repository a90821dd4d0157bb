package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"portero.org/internal/auth"
)

func seedIdentity(t *testing.T, s *Store) auth.Identity {
	t.Helper()
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	id := auth.Identity{ID: "id-1", Email: "Prof@Colegio.edu", PasswordHash: "h1", Role: "profesor", Active: true, PasswordChangedAt: now}
	if err := s.CreateIdentity(context.Background(), &id); err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestIncrementLocksOnceAtThreshold(t *testing.T) {
	s := New()
	seedIdentity(t, s)
	now := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)

	var (
		count  int
		locked *time.Time
	)
	for i := 0; i < 3; i++ {
		var err error
		count, locked, err = s.IncrementFailedAttempts(context.Background(), "id-1", 3, until, now)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if count != 3 || locked == nil || !locked.Equal(until) {
		t.Fatalf("expected lock at 3 attempts, got count=%d locked=%v", count, locked)
	}

	later := until.Add(-time.Minute)
	_, locked, _ = s.IncrementFailedAttempts(context.Background(), "id-1", 3, later.Add(15*time.Minute), later)
	if !locked.Equal(until) {
		t.Fatalf("active lock must not be extended, got %v", locked)
	}
}

func TestPasswordHistoryNewestFirst(t *testing.T) {
	s := New()
	seedIdentity(t, s)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := s.SetPassword(context.Background(), "id-1", "h2", at); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if err := s.SetPassword(context.Background(), "id-1", "h3", at.Add(time.Hour)); err != nil {
		t.Fatalf("set password: %v", err)
	}
	hist, err := s.PasswordHistory(context.Background(), "id-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].PasswordHash != "h3" || hist[1].PasswordHash != "h2" {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestEmailIsCaseInsensitiveAndUnique(t *testing.T) {
	s := New()
	seedIdentity(t, s)
	if _, err := s.GetIdentityByEmail(context.Background(), "prof@colegio.EDU"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	dup := auth.Identity{ID: "id-2", Email: "PROF@colegio.edu", PasswordHash: "x"}
	if err := s.CreateIdentity(context.Background(), &dup); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConsumeChallengeOnlyOnce(t *testing.T) {
	s := New()
	issued := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	ch := auth.MFAChallenge{IdentityID: "id-1", CodeHash: "x", IssuedAt: issued, ExpiresAt: issued.Add(5 * time.Minute)}
	if err := s.SaveChallenge(context.Background(), ch); err != nil {
		t.Fatalf("save: %v", err)
	}
	ok, _ := s.ConsumeChallenge(context.Background(), "id-1", issued.Add(time.Second))
	if ok {
		t.Fatal("a different issue time must not consume")
	}
	ok, _ = s.ConsumeChallenge(context.Background(), "id-1", issued)
	if !ok {
		t.Fatal("expected consume")
	}
	ok, _ = s.ConsumeChallenge(context.Background(), "id-1", issued)
	if ok {
		t.Fatal("second consume must fail")
	}
}
