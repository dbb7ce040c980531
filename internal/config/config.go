// Engage - Visitor Session & Campaign Targeting Engine for Rhinon
// Copyright 2026 Rhinon Tech
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rhinontech/engage

// Package config loads and validates the Engage server configuration.
//
// Configuration is layered: struct defaults, then an optional YAML file,
// then environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Engage server.
type Config struct {
	Server    ServerConfig    `koanf:"server" validate:"required"`
	Logging   LoggingConfig   `koanf:"logging"`
	Tenant    TenantConfig    `koanf:"tenant" validate:"required"`
	Storage   StorageConfig   `koanf:"storage" validate:"required"`
	Engine    EngineConfig    `koanf:"engine" validate:"required"`
	Ingest    IngestConfig    `koanf:"ingest" validate:"required"`
	Campaigns CampaignsConfig `koanf:"campaigns" validate:"required"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	NATS      NATSConfig      `koanf:"nats"`
	Auth      AuthConfig      `koanf:"auth"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	RateLimit       int           `koanf:"rate_limit"` // requests/min per IP on ingest routes; 0 disables
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// TenantConfig controls host-to-tenant resolution.
type TenantConfig struct {
	DevTenantID string `koanf:"dev_tenant_id" validate:"required"`
	LocalMarker string `koanf:"local_marker"`
}

// StorageConfig holds BadgerDB settings for identity, presence, and view
// record state.
type StorageConfig struct {
	Path       string        `koanf:"path" validate:"required"`
	InMemory   bool          `koanf:"in_memory"` // tests and ephemeral deployments
	SessionTTL time.Duration `koanf:"session_ttl" validate:"required"`
}

// EngineConfig holds the targeting engine defaults. Per-campaign settings
// override these.
type EngineConfig struct {
	DefaultMaxViews int           `koanf:"default_max_views" validate:"min=1"`
	DefaultCooldown time.Duration `koanf:"default_cooldown" validate:"required"`
}

// IngestConfig bounds the event pipeline.
type IngestConfig struct {
	ClockSkewWindow time.Duration `koanf:"clock_skew_window" validate:"required"`
	QueueCapacity   int           `koanf:"queue_capacity" validate:"min=1"`
}

// CampaignsConfig points at the campaign configuration source.
type CampaignsConfig struct {
	// Path is a YAML/JSON file holding per-tenant campaign definitions.
	// The file is re-read on RefreshInterval; staleness up to one interval
	// is acceptable.
	Path            string        `koanf:"path"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"required"`
}

// AnalyticsConfig controls the write-only analytics store.
type AnalyticsConfig struct {
	Enabled       bool          `koanf:"enabled"`
	DuckDBPath    string        `koanf:"duckdb_path"`
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// NATSConfig enables the NATS JetStream transport for the analytics bus.
// When disabled, an in-process Watermill Pub/Sub is used instead.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	Port           int    `koanf:"port"`
}

// AuthConfig secures dashboard channel admission. When DashboardSecret is
// empty, dashboard connections are admitted without a token.
type AuthConfig struct {
	DashboardSecret string `koanf:"dashboard_secret"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tenant: TenantConfig{
			DevTenantID: "dev",
			LocalMarker: "localhost",
		},
		Storage: StorageConfig{
			Path:       "/data/engage/badger",
			SessionTTL: 30 * time.Minute,
		},
		Engine: EngineConfig{
			DefaultMaxViews: 3,
			DefaultCooldown: 24 * time.Hour,
		},
		Ingest: IngestConfig{
			ClockSkewWindow: 5 * time.Minute,
			QueueCapacity:   1024,
		},
		Campaigns: CampaignsConfig{
			Path:            "/data/engage/campaigns.yaml",
			RefreshInterval: time.Minute,
		},
		Analytics: AnalyticsConfig{
			Enabled:       true,
			DuckDBPath:    "/data/engage/analytics.duckdb",
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/engage/nats",
			Port:           4222,
		},
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.NATS.Enabled && c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("invalid configuration: nats enabled without url or embedded server")
	}
	if c.Analytics.Enabled && c.Analytics.DuckDBPath == "" {
		return fmt.Errorf("invalid configuration: analytics enabled without duckdb_path")
	}
	return nil
}
