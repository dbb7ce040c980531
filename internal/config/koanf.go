// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"engage.yaml",
	"engage.yml",
	"/etc/engage/config.yaml",
	"/etc/engage/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ENGAGE_CONFIG"

// envMappings translates flat environment variable names to koanf paths.
// Only variables listed here are honored; everything else in the process
// environment is ignored.
var envMappings = map[string]string{
	"engage_addr":              "server.addr",
	"engage_shutdown_timeout":  "server.shutdown_timeout",
	"engage_rate_limit":        "server.rate_limit",
	"log_level":                "logging.level",
	"log_format":               "logging.format",
	"log_caller":               "logging.caller",
	"dev_tenant_id":            "tenant.dev_tenant_id",
	"tenant_local_marker":      "tenant.local_marker",
	"storage_path":             "storage.path",
	"storage_in_memory":        "storage.in_memory",
	"session_ttl":              "storage.session_ttl",
	"engine_default_max_views": "engine.default_max_views",
	"engine_default_cooldown":  "engine.default_cooldown",
	"ingest_clock_skew_window": "ingest.clock_skew_window",
	"ingest_queue_capacity":    "ingest.queue_capacity",
	"campaigns_path":           "campaigns.path",
	"campaigns_refresh":        "campaigns.refresh_interval",
	"analytics_enabled":        "analytics.enabled",
	"duckdb_path":              "analytics.duckdb_path",
	"analytics_batch_size":     "analytics.batch_size",
	"analytics_flush_interval": "analytics.flush_interval",
	"nats_enabled":             "nats.enabled",
	"nats_url":                 "nats.url",
	"nats_embedded_server":     "nats.embedded_server",
	"nats_store_dir":           "nats.store_dir",
	"nats_port":                "nats.port",
	"dashboard_secret":         "auth.dashboard_secret",
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: struct defaults.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file.
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables (highest priority).
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config path, honoring the
// ENGAGE_CONFIG override.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unknown variables map to the empty string and are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
