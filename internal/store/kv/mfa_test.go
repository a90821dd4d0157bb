package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portero.org/internal/auth"
)

func newTestStore(t *testing.T) *MFAStore {
	t.Helper()
	db, err := Open("")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewMFAStore(db, 0)
}

func TestSaveReplacesPriorChallenge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := auth.MFAChallenge{IdentityID: "id-1", CodeHash: "a", IssuedAt: issued, ExpiresAt: issued.Add(5 * time.Minute)}
	second := auth.MFAChallenge{IdentityID: "id-1", CodeHash: "b", IssuedAt: issued.Add(time.Minute), ExpiresAt: issued.Add(6 * time.Minute)}
	if err := s.SaveChallenge(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveChallenge(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetChallenge(ctx, "id-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CodeHash != "b" || !got.IssuedAt.Equal(second.IssuedAt) {
		t.Fatalf("unexpected challenge %+v", got)
	}
	if ok, _ := s.ConsumeChallenge(ctx, "id-1", first.IssuedAt); ok {
		t.Fatal("replaced challenge must not be consumable")
	}
}

func TestGetMissingChallenge(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetChallenge(context.Background(), "nobody"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := s.ConsumeChallenge(context.Background(), "nobody", time.Now())
	if err != nil || ok {
		t.Fatalf("expected no-op consume, got ok=%v err=%v", ok, err)
	}
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveChallenge(ctx, auth.MFAChallenge{IdentityID: "id-1", CodeHash: "a", IssuedAt: issued, ExpiresAt: issued.Add(5 * time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.ConsumeChallenge(ctx, "id-1", issued); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consume, got %d", wins.Load())
	}
	got, _ := s.GetChallenge(ctx, "id-1")
	if !got.Consumed {
		t.Fatal("challenge should be consumed")
	}
}
