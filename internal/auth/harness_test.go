package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"portero.org/internal/auth"
	"portero.org/internal/notify"
	"portero.org/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	clock    *clock
	store    *memory.Store
	notes    *notify.Recorder
	svc      *auth.Service
	admin    *auth.PolicyAdmin
	resolver *auth.Resolver
}

func newHarness(t *testing.T, opts ...auth.ServiceOption) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)}
	store := memory.New().WithClock(clk.Now)
	notes := &notify.Recorder{}
	tokens, err := auth.NewTokenIssuer("test-secret", "portero-test", time.Hour, clk.Now)
	require.NoError(t, err)
	base := []auth.ServiceOption{
		auth.WithClock(clk.Now),
		auth.WithTokenIssuer(tokens),
		auth.WithMFAStore(store),
		auth.WithNotifier(notes),
	}
	svc, err := auth.NewService(store, append(base, opts...)...)
	require.NoError(t, err)
	return &harness{
		clock:    clk,
		store:    store,
		notes:    notes,
		svc:      svc,
		admin:    auth.NewPolicyAdmin(store, store, store, clk.Now),
		resolver: svc.Resolver(),
	}
}

const strongPassword = "Profesor-Clave-2026"

func (h *harness) identity(t *testing.T, email, role string) auth.Identity {
	t.Helper()
	id, err := h.svc.CreateIdentity(context.Background(), auth.NewIdentityInput{
		DisplayName: email,
		Email:       email,
		Password:    strongPassword,
		Role:        role,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) load(t *testing.T, id string) auth.Identity {
	t.Helper()
	identity, err := h.store.GetIdentity(context.Background(), id)
	require.NoError(t, err)
	return identity
}

func (h *harness) principal(t *testing.T, id string) auth.Principal {
	t.Helper()
	return auth.Principal{Identity: h.load(t, id).Public()}
}
