// Fieldsync - Offline-First Sync Core for Field Service Operations
// Copyright 2026 Fieldworks
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fieldworks/fieldsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/fieldworks/fieldsync/internal/conflict"
	"github.com/fieldworks/fieldsync/internal/validation"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/fieldsync/config.yaml",
	"/etc/fieldsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "FIELDSYNC_CONFIG"

// envPrefix namespaces Fieldsync's environment variables. Nesting uses a
// double underscore so key names may contain single ones:
// FIELDSYNC_REMOTE__BASE_URL -> remote.base_url.
const envPrefix = "FIELDSYNC_"

// Config is the whole process configuration.
type Config struct {
	Store    StoreConfig    `koanf:"store"`
	Remote   RemoteConfig   `koanf:"remote"`
	Sync     SyncConfig     `koanf:"sync"`
	Retry    RetryConfig    `koanf:"retry"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Network  NetworkConfig  `koanf:"network"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Conflict ConflictConfig `koanf:"conflict"`
}

// StoreConfig locates the durable local store.
type StoreConfig struct {
	// Path is the BadgerDB directory. Empty selects the in-memory store,
	// which is only suitable for tests and ephemeral tooling.
	Path string `koanf:"path"`
}

// RemoteConfig describes the authoritative backend.
type RemoteConfig struct {
	BaseURL string `koanf:"base_url" validate:"required,url"`
	// Token is the static bearer credential. Real deployments point the
	// transport at a refreshing CredentialSource instead.
	Token string `koanf:"token"`
	// HealthURL is probed by the network monitor. Defaults to
	// BaseURL + /healthz when empty.
	HealthURL string        `koanf:"health_url" validate:"omitempty,url"`
	Timeout   time.Duration `koanf:"timeout"`
}

// SyncConfig tunes the drain loop.
type SyncConfig struct {
	Interval   time.Duration `koanf:"interval"`
	MaxWorkers int           `koanf:"max_workers" validate:"min=1,max=64"`
	RateLimit  float64       `koanf:"rate_limit" validate:"min=0"`
	RateBurst  int           `koanf:"rate_burst" validate:"min=0"`
}

// RetryConfig tunes per-item retries.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1,max=10"`
	BaseDelay      time.Duration `koanf:"base_delay"`
	Multiplier     float64       `koanf:"multiplier" validate:"min=1"`
	MaxDelay       time.Duration `koanf:"max_delay"`
	JitterFactor   float64       `koanf:"jitter_factor" validate:"min=0,max=1"`
	PerCallTimeout time.Duration `koanf:"per_call_timeout"`
}

// BreakerConfig tunes the shared circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
	Cooldown         time.Duration `koanf:"cooldown"`
}

// NetworkConfig tunes the connectivity monitor.
type NetworkConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	StabilityWindow time.Duration `koanf:"stability_window"`
	ProbeTimeout    time.Duration `koanf:"probe_timeout"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// ConflictConfig selects resolution strategies.
type ConflictConfig struct {
	// Default applies to entity types without an explicit entry.
	Default string `koanf:"default"`
	// Strategies maps entity type to strategy name.
	Strategies map[string]string `koanf:"strategies"`
}

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "/data/fieldsync",
		},
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:   time.Minute,
			MaxWorkers: 4,
			RateLimit:  0, // unlimited
			RateBurst:  1,
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			BaseDelay:      500 * time.Millisecond,
			Multiplier:     2.0,
			MaxDelay:       15 * time.Second,
			JitterFactor:   0.5,
			PerCallTimeout: 10 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Network: NetworkConfig{
			PollInterval:    5 * time.Second,
			StabilityWindow: 10 * time.Second,
			ProbeTimeout:    3 * time.Second,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Conflict: ConflictConfig{
			Default:    string(conflict.StrategyRemoteWins),
			Strategies: map[string]string{},
		},
	}
}

// Load builds the configuration: defaults, then the config file if one
// exists, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps FIELDSYNC_SECTION__KEY_NAME to section.key_name.
func envTransform(name string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

// applyDerived fills values computed from others.
func (c *Config) applyDerived() {
	if c.Remote.HealthURL == "" && c.Remote.BaseURL != "" {
		c.Remote.HealthURL = strings.TrimSuffix(c.Remote.BaseURL, "/") + "/healthz"
	}
}

// Validate checks field constraints and the conflict strategy names.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if !conflict.Strategy(c.Conflict.Default).Valid() {
		return fmt.Errorf("configuration invalid: unknown default conflict strategy %q", c.Conflict.Default)
	}
	for entityType, name := range c.Conflict.Strategies {
		if !conflict.Strategy(name).Valid() {
			return fmt.Errorf("configuration invalid: unknown conflict strategy %q for %s", name, entityType)
		}
	}
	return nil
}

// ListenAddr returns the API bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
