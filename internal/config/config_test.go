// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithRequiredEnv(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE__BASE_URL", "https://api.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "https://api.example.com/healthz", cfg.Remote.HealthURL)
	assert.Equal(t, 4, cfg.Sync.MaxWorkers)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, "remote-wins", cfg.Conflict.Default)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:8787", cfg.ListenAddr())
}

func TestLoadFailsWithoutRemoteURL(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BaseURL")
}

func TestEnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("FIELDSYNC_REMOTE__BASE_URL", "https://api.example.com")
	t.Setenv("FIELDSYNC_SYNC__MAX_WORKERS", "8")
	t.Setenv("FIELDSYNC_RETRY__MAX_ATTEMPTS", "6")
	t.Setenv("FIELDSYNC_LOGGING__LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Sync.MaxWorkers)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigFileLayeredUnderEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  base_url: https://file.example.com
  health_url: https://file.example.com/ping
sync:
  max_workers: 2
logging:
  level: warn
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("FIELDSYNC_LOGGING__LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "https://file.example.com/ping", cfg.Remote.HealthURL)
	assert.Equal(t, 2, cfg.Sync.MaxWorkers)
	assert.Equal(t, "error", cfg.Logging.Level, "env outranks the file")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "workers out of range",
			mutate: func(c *Config) { c.Sync.MaxWorkers = 0 },
			want:   "MaxWorkers",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "Level",
		},
		{
			name:   "jitter above one",
			mutate: func(c *Config) { c.Retry.JitterFactor = 1.5 },
			want:   "JitterFactor",
		},
		{
			name:   "unknown default strategy",
			mutate: func(c *Config) { c.Conflict.Default = "coin-flip" },
			want:   "coin-flip",
		},
		{
			name:   "unknown per-type strategy",
			mutate: func(c *Config) { c.Conflict.Strategies = map[string]string{"customer": "oldest-wins"} },
			want:   "oldest-wins",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Remote.BaseURL = "https://api.example.com"
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "remote.base_url", envTransform("FIELDSYNC_REMOTE__BASE_URL"))
	assert.Equal(t, "sync.max_workers", envTransform("FIELDSYNC_SYNC__MAX_WORKERS"))
	assert.Equal(t, "store.path", envTransform("FIELDSYNC_STORE__PATH"))
}
