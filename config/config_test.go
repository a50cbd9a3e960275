package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HOST", "PORT", "STORE_BACKEND", "DATA_DIR", "COUCH_URL", "ALLOWED_ORIGINS",
	"DEBUG", "RETRY_ATTEMPTS", "RETRY_BASE_MS", "STORE_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", c.Addr())
	assert.Equal(t, "json", c.Backend)
	assert.Equal(t, "./data", c.DataDir)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.False(t, c.Debug)
	assert.Equal(t, 3, c.RetryAttempts)
	assert.Equal(t, 50*time.Millisecond, c.RetryBase)
	assert.Equal(t, 30*time.Second, c.StoreTimeout)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "couch")
	t.Setenv("COUCH_URL", "http://admin:pw@localhost:5984")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("DEBUG", "true")
	t.Setenv("RETRY_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_MS", "10")
	t.Setenv("STORE_TIMEOUT", "2s")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Addr())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, c.AllowedOrigins)
	assert.True(t, c.Debug)
	assert.Equal(t, 5, c.RetryAttempts)
	assert.Equal(t, 10*time.Millisecond, c.RetryBase)

	opts := c.StoreOptions()
	assert.Equal(t, "couch", opts.Backend)
	assert.Equal(t, "http://admin:pw@localhost:5984", opts.CouchURL)
	assert.Equal(t, 2*time.Second, opts.Timeout)
}

func TestLoadRejectsMalformed(t *testing.T) {
	tests := map[string]string{
		"DEBUG":          "maybe",
		"RETRY_ATTEMPTS": "0",
		"RETRY_BASE_MS":  "fast",
		"STORE_TIMEOUT":  "soon",
		"STORE_BACKEND":  "couch",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	clearEnv(t)
	t.Setenv("RETRY_ATTEMPTS", "1000")
	_, err := Load()
	assert.ErrorContains(t, err, "RETRY_ATTEMPTS must be between 1 and 20")

	clearEnv(t)
	t.Setenv("RETRY_BASE_MS", "60001")
	_, err = Load()
	assert.ErrorContains(t, err, "RETRY_BASE_MS must be between 1 and 60000")
}
