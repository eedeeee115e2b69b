package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_ADDRESS", "0xAdmin")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "9090", cfg.GRPCPort)
	assert.Equal(t, "0xAdmin", cfg.AdminAddress)
	assert.Equal(t, LedgerMemory, cfg.LedgerBackend)
	assert.Equal(t, []string{"at"}, cfg.LedgerRefs)
	assert.Equal(t, 96*time.Hour, cfg.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.True(t, cfg.WatchIssuance)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoadRequiresAdmin(t *testing.T) {
	t.Setenv("ADMIN_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ADMIN_ADDRESS", "0xAdmin")
	t.Setenv("LEDGER_BACKEND", "redis")
	t.Setenv("LEDGER_REDIS_ADDR", "ledger:6379")
	t.Setenv("LEDGER_REFS", "at,bt")
	t.Setenv("STALE_AFTER", "1h30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"at", "bt"}, cfg.LedgerRefs)
	assert.Equal(t, 90*time.Minute, cfg.StaleAfter)
}

func TestValidate(t *testing.T) {
	t.Setenv("ADMIN_ADDRESS", "0xAdmin")

	t.Setenv("LEDGER_BACKEND", "redis")
	_, err := Load()
	assert.ErrorContains(t, err, "LEDGER_REDIS_ADDR")

	t.Setenv("LEDGER_BACKEND", "postgres")
	_, err = Load()
	assert.ErrorContains(t, err, "unknown LEDGER_BACKEND")

	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("REGISTRY_ADDRESS", "dvp")
	_, err = Load()
	assert.ErrorContains(t, err, "share address")
}
