// Warden - Supervised Service Runtime
// Copyright 2026 BranchManager69
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/BranchManager69/warden

// Package config loads runtime configuration with layered sources:
// built-in defaults, then an optional YAML file, then environment
// variables. Precedence is ENV > file > defaults.
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

	"github.com/BranchManager69/warden/internal/validation"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/warden/config.yaml",
	"/etc/warden/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "WARDEN_CONFIG_PATH"

// envPrefix namespaces all environment overrides, e.g.
// WARDEN_SERVER_PORT -> server.port.
const envPrefix = "WARDEN_"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Database DatabaseConfig `koanf:"database"`
	Registry RegistryConfig `koanf:"registry"`
	Audit    AuditConfig    `koanf:"audit"`
}

// ServerConfig tunes the admin HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// LoggingConfig tunes the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig locates the persistent stores.
type DatabaseConfig struct {
	// StateDir is the BadgerDB directory for service config, breaker
	// state, and stats snapshots.
	StateDir string `koanf:"state_dir" validate:"required"`

	// AuditPath is the DuckDB file for the audit trail.
	AuditPath string `koanf:"audit_path" validate:"required"`

	// GCInterval is how often the Badger value log GC worker runs.
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=1m"`

	// GCDiscardRatio is passed to Badger's value log GC.
	GCDiscardRatio float64 `koanf:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

// RegistryConfig tunes the service registry and its schedulers.
type RegistryConfig struct {
	// CacheTTL is the interval config cache entry lifetime.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"min=1s"`

	// StopTimeout bounds each service's stop during shutdown.
	StopTimeout time.Duration `koanf:"stop_timeout" validate:"min=1s"`

	// MinCheckInterval is the validation floor for tick intervals.
	MinCheckInterval time.Duration `koanf:"min_check_interval" validate:"min=1ms"`

	// StatsFlushInterval is how often aggregate stats are persisted.
	StatsFlushInterval time.Duration `koanf:"stats_flush_interval" validate:"min=1s"`
}

// AuditConfig tunes the audit trail retention worker.
type AuditConfig struct {
	// Retention is how long audit events are kept.
	Retention time.Duration `koanf:"retention" validate:"min=1h"`

	// SweepInterval is how often expired events are deleted.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1m"`
}

// defaultConfig returns production-ready defaults. They are applied first,
// then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8360,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Database: DatabaseConfig{
			StateDir:       "/data/warden/state",
			AuditPath:      "/data/warden/audit.duckdb",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Registry: RegistryConfig{
			CacheTTL:           15 * time.Second,
			StopTimeout:        10 * time.Second,
			MinCheckInterval:   1000 * time.Millisecond,
			StatsFlushInterval: time.Minute,
		},
		Audit: AuditConfig{
			Retention:     90 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// WARDEN_-prefixed environment variables, then validates it.
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

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if errs := validation.ValidateStruct(c); errs != nil {
		return errs
	}
	return nil
}

// findConfigFile returns the first config file that exists, honoring the
// path override env var.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps WARDEN_SECTION_KEY_NAME to section.key_name. The first
// underscore separates the section; the rest stay joined so multi-word keys
// like rate_limit_reqs survive.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}
