package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portero.org/internal/auth"
	"portero.org/internal/config"
	"portero.org/internal/store/kv"
	"portero.org/internal/store/memory"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Sweep.Location = "UTC"
	return cfg
}

func TestBuildInMemory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, ok := a.Store.(*memory.Store)
	assert.True(t, ok)
	assert.Same(t, a.Store, a.MFA)
	assert.Nil(t, a.DB)
	assert.NotNil(t, a.Limiter)

	roles, err := a.Admin.ListRoles(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, roles)
	for _, r := range roles {
		assert.True(t, r.System, r.Code)
	}

	_, err = a.Migrator()
	assert.ErrorIs(t, err, auth.ErrNotConfigured)
}

func TestBuildBadgerMFA(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.Store = "badger"
	cfg.RateLimit.Enabled = false
	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, ok := a.MFA.(*kv.MFAStore)
	assert.True(t, ok)
	assert.Nil(t, a.Limiter)
}

func TestBuildPostgresMFAWithoutDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.MFA.Store = "postgres"
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestServeHealthAndLogin(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a, err := Build(ctx, testConfig(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Service.CreateIdentity(ctx, auth.NewIdentityInput{
		DisplayName: "Directora",
		Email:       "directora@colegio.edu",
		Password:    "Directora-Clave-2026",
		Role:        auth.RoleDirector,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(a.API("test").Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res, err := a.Service.Login(ctx, "directora@colegio.edu", "Directora-Clave-2026")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestHTTPServerUsesServerSection(t *testing.T) {
	a := &App{Config: testConfig()}
	srv := a.HTTPServer(http.NotFoundHandler())
	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}
