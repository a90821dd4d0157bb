package cmd

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portero.org/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PORTERO_AUTH__SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("PORTERO_SWEEP__LOCATION", "UTC")
	t.Setenv("CONFIG_PATH", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSweepPrintsResult(t *testing.T) {
	out, err := run(t, "sweep")
	require.NoError(t, err)
	var res auth.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Zero(t, res.Expired)
}

func TestMigrateNeedsDatabase(t *testing.T) {
	_, err := run(t, "migrate", "status")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrNotConfigured)
}

func TestIdentityCreateNeedsPassword(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	_, err := run(t, "identity", "create", "--name", "Admin", "--email", "admin@colegio.edu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), PasswordEnv)
}

func TestIdentityCreateInMemory(t *testing.T) {
	out, err := run(t, "identity", "create", "--name", "Admin", "--email", "admin@colegio.edu", "--password", "Admin-Clave-2026-x")
	require.NoError(t, err)
	var id auth.Identity
	require.NoError(t, json.Unmarshal([]byte(out), &id))
	assert.Equal(t, auth.RoleAdmin, id.Role)
	assert.Equal(t, "admin@colegio.edu", id.Email)
}
