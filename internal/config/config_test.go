package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("LEDGER_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LEDGER_BACKEND", "PRICE_TIER_1", "PRICE_TIER_2", "REOPEN_ON_UNDERPAYMENT", "STAFF_VISIBILITY_DAYS", "PHONE_REGION", "LEDGER_CONFIG"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "250", cfg.PriceTier1.String())
	assert.Equal(t, "270", cfg.PriceTier2.String())
	assert.False(t, cfg.ReopenOnUnderpayment)
	assert.Equal(t, 2, cfg.StaffVisibilityDays)
	assert.Equal(t, "NG", cfg.PhoneRegion)
}

func TestInvalidPricesFallBack(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("PRICE_TIER_1", "abc")
	t.Setenv("PRICE_TIER_2", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "250", cfg.PriceTier1.String())
	assert.Equal(t, "270", cfg.PriceTier2.String())
}

func TestYAMLOverlayLosesToEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_BACKEND: memory\nPRICE_TIER_1: 300.50\nreopen_on_underpayment: true\n"), 0o600))
	t.Setenv("LEDGER_CONFIG", path)
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("REOPEN_ON_UNDERPAYMENT", "")
	t.Setenv("PRICE_TIER_1", "275")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.True(t, cfg.ReopenOnUnderpayment)
	assert.Equal(t, "275", cfg.PriceTier1.String())
}

func TestPostgresNeedsURL(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestUnknownBackendRejected(t *testing.T) {
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("LEDGER_BACKEND", "mysql")

	_, err := Load()
	require.Error(t, err)
}
