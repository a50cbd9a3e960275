// Package config reads the server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stevemurr/collection-server/store"
)

// Config is the full server configuration.
type Config struct {
	Host           string
	Port           string
	Backend        string
	DataDir        string
	CouchURL       string
	AllowedOrigins []string
	Debug          bool
	RetryAttempts  int
	RetryBase      time.Duration
	StoreTimeout   time.Duration
}

const (
	maxRetryAttempts = 20
	maxRetryBaseMS   = 60000
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads the environment. An unset variable takes its default; a set
// but malformed one is an error.
func Load() (*Config, error) {
	c := &Config{
		Host:     env("HOST", "0.0.0.0"),
		Port:     env("PORT", "8080"),
		Backend:  env("STORE_BACKEND", "json"),
		DataDir:  env("DATA_DIR", "./data"),
		CouchURL: env("COUCH_URL", ""),
	}
	for _, o := range strings.Split(env("ALLOWED_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			c.AllowedOrigins = append(c.AllowedOrigins, o)
		}
	}

	var err error
	if c.Debug, err = strconv.ParseBool(env("DEBUG", "false")); err != nil {
		return nil, fmt.Errorf("DEBUG: %w", err)
	}
	if c.RetryAttempts, err = strconv.Atoi(env("RETRY_ATTEMPTS", "3")); err != nil {
		return nil, fmt.Errorf("RETRY_ATTEMPTS: %w", err)
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > maxRetryAttempts {
		return nil, fmt.Errorf("RETRY_ATTEMPTS must be between 1 and %d, got %d", maxRetryAttempts, c.RetryAttempts)
	}
	ms, err := strconv.Atoi(env("RETRY_BASE_MS", "50"))
	if err != nil {
		return nil, fmt.Errorf("RETRY_BASE_MS: %w", err)
	}
	if ms < 1 || ms > maxRetryBaseMS {
		return nil, fmt.Errorf("RETRY_BASE_MS must be between 1 and %d, got %d", maxRetryBaseMS, ms)
	}
	c.RetryBase = time.Duration(ms) * time.Millisecond
	if c.StoreTimeout, err = time.ParseDuration(env("STORE_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("STORE_TIMEOUT: %w", err)
	}

	if c.Backend == "couch" && c.CouchURL == "" {
		return nil, fmt.Errorf("STORE_BACKEND=couch requires COUCH_URL")
	}
	return c, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// StoreOptions selects the store backend.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:  c.Backend,
		DataDir:  c.DataDir,
		CouchURL: c.CouchURL,
		Timeout:  c.StoreTimeout,
	}
}
