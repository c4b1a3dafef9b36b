// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// AtlasConfig is the on-disk CLI configuration (atlas.yaml).
//
// Every field can be overridden by an ATLAS_-prefixed environment variable,
// e.g. ATLAS_WORLDS_ROOT or ATLAS_SERVER_ADDRESS.
type AtlasConfig struct {
	// Meta: file format version
	Meta MetaConfig `yaml:"meta" envPrefix:"META_"`

	// WorldsRoot is the folder whose subdirectories are instances.
	WorldsRoot string `yaml:"worlds_root" env:"WORLDS_ROOT" validate:"required"`

	// SettingsFile is the per-instance settings file name.
	SettingsFile string `yaml:"settings_file" env:"SETTINGS_FILE" validate:"required,excludesall=/\\"`

	Rules     RulesConfig     `yaml:"rules" envPrefix:"RULES_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Catalog   CatalogConfig   `yaml:"catalog" envPrefix:"CATALOG_"`
	Watch     WatchConfig     `yaml:"watch" envPrefix:"WATCH_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOGGING_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type MetaConfig struct {
	Version string `yaml:"version" env:"VERSION"`
}

type RulesConfig struct {
	// DefaultNamespace is applied to bare gamerules keys.
	DefaultNamespace string `yaml:"default_namespace" env:"DEFAULT_NAMESPACE" validate:"required"`

	// CataloguePath replaces the embedded rule catalogue when set.
	CataloguePath string `yaml:"catalogue_path,omitempty" env:"CATALOGUE_PATH"`
}

type SchedulerConfig struct {
	// Interval between scheduler ticks (default 50ms, 20 ticks/s).
	Interval time.Duration `yaml:"interval" env:"INTERVAL" validate:"gt=0"`
}

type CatalogConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH" validate:"required_if=Enabled true"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE" validate:"gte=0"`
}

type ServerConfig struct {
	Address string `yaml:"address" env:"ADDRESS" validate:"required,hostname_port"`

	// LoadWait bounds how long the load endpoint waits before answering 202.
	LoadWait time.Duration `yaml:"load_wait" env:"LOAD_WAIT" validate:"gt=0"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type AuditConfig struct {
	// Enabled records admin API state changes to the log.
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	// Capacity is how many recent events the audit endpoint can return.
	Capacity int `yaml:"capacity" env:"CAPACITY" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`

	// Format is auto, text, or json. Auto picks text on a terminal.
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=auto text json"`

	// Dir enables a daily JSON log file when set.
	Dir string `yaml:"dir,omitempty" env:"DIR"`
}

type TelemetryConfig struct {
	// TraceExporter is none, stdout, or otlp.
	TraceExporter string `yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=none stdout otlp"`

	// MetricExporter is none, stdout, or prometheus.
	MetricExporter string `yaml:"metric_exporter" env:"METRIC_EXPORTER" validate:"oneof=none stdout prometheus"`

	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=TraceExporter otlp"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() AtlasConfig {
	return AtlasConfig{
		Meta:         MetaConfig{Version: CurrentConfigVersion},
		WorldsRoot:   "worlds",
		SettingsFile: "worldsettings.yml",
		Rules: RulesConfig{
			DefaultNamespace: "minecraft",
		},
		Scheduler: SchedulerConfig{Interval: 50 * time.Millisecond},
		Catalog: CatalogConfig{
			Enabled: true,
			Path:    "~/.atlas/catalog",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 250 * time.Millisecond,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1:8087",
			LoadWait:        30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:  true,
			Capacity: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
