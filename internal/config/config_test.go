package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-a, key-b ,key-c,")
	for _, key := range []string{"PORT", "KEY_STRATEGY", "MAX_RETRIES", "SESSION_BACKEND", "SESSION_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "*", cfg.Server.AllowedOrigin)
	assert.Equal(t, int64(10*1024*1024), cfg.Server.MaxUploadSize)

	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, cfg.Upstream.APIKeys)
	assert.Equal(t, StrategyRandom, cfg.Upstream.KeyStrategy)
	assert.Equal(t, 5, cfg.Upstream.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Upstream.ConnectTimeout)
	assert.Equal(t, 180*time.Second, cfg.Upstream.RequestTimeout)
	assert.Equal(t, "gemini-3-pro-image-preview", cfg.Upstream.DefaultModel)

	assert.Equal(t, BackendFile, cfg.Session.Backend)
	assert.Zero(t, cfg.Session.TTL)
}

func TestLoadRequiresAPIKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "  ,  ")

	_, err := Load()
	assert.ErrorContains(t, err, "GEMINI_API_KEYS")
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-a")
	t.Setenv("KEY_STRATEGY", "round-robin-ish")

	_, err := Load()
	assert.ErrorContains(t, err, "KEY_STRATEGY")
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-a")
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("MAX_RETRIES", "3")
	t.Setenv("RETRY_DELAY_MS", "50")
	t.Setenv("KEY_STRATEGY", "sequential")
	t.Setenv("SESSION_BACKEND", "sqlite")
	t.Setenv("SESSION_TTL", "72h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Upstream.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Upstream.RetryDelay)
	assert.Equal(t, StrategySequential, cfg.Upstream.KeyStrategy)
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Session.TTL)
}

func TestLoadRejectsInvalidTTL(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "key-a")
	t.Setenv("SESSION_TTL", "three days")

	_, err := Load()
	assert.ErrorContains(t, err, "SESSION_TTL")
}
