package config_test

import (
	"testing"
	"time"

	"github.com/praj33/Nyaya-Ai-sub001/pkg/config"
	"github.com/stretchr/testify/assert"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{
		"PORT", "HEALTH_PORT", "LOG_LEVEL", "DATABASE_URL", "LEDGER_BACKEND", "LEDGER_PATH",
		"HMAC_SECRET_KEY", "SIGNING_KEY_ID", "NONCE_TTL_SECONDS", "REDIS_ADDR", "REDIS_DB",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "OTEL_ENABLED", "NYAYA_PRODUCTION",
	} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "8081", cfg.HealthPort)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, config.BackendSQLite, cfg.LedgerBackend)
	assert.Equal(t, "data/nyaya.db", cfg.LedgerPath)
	assert.Equal(t, "primary-key-2025", cfg.SigningKeyID)
	assert.Nil(t, cfg.SigningSecret)
	assert.Equal(t, 600*time.Second, cfg.NonceTTL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 100, cfg.RateLimitBurst)
	assert.False(t, cfg.OTelEnabled)
	assert.False(t, cfg.Production)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("HMAC_SECRET_KEY", "s3cret")
	t.Setenv("SIGNING_KEY_ID", "rotated-2026")
	t.Setenv("NONCE_TTL_SECONDS", "30")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("NYAYA_PRODUCTION", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, config.BackendPostgres, cfg.LedgerBackend)
	assert.Equal(t, []byte("s3cret"), cfg.SigningSecret)
	assert.Equal(t, "rotated-2026", cfg.SigningKeyID)
	assert.Equal(t, 30*time.Second, cfg.NonceTTL)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.True(t, cfg.Production)
}

func TestLoad_FileBackendPath(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "file")
	t.Setenv("LEDGER_PATH", "")

	cfg := config.Load()
	assert.Equal(t, "data/ledger.jsonl", cfg.LedgerPath)
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("NONCE_TTL_SECONDS", "soon")
	t.Setenv("RATE_LIMIT_RPS", "-3")

	cfg := config.Load()
	assert.Equal(t, 600*time.Second, cfg.NonceTTL)
	assert.Equal(t, 50.0, cfg.RateLimitRPS)
}
