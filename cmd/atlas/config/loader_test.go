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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".atlas", "atlas.yaml")

	cfg, created, err := Load(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultConfig(), cfg)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk AtlasConfig
	require.NoError(t, yaml.Unmarshal(data, &onDisk))
	assert.Equal(t, CurrentConfigVersion, onDisk.Meta.Version)
	assert.Equal(t, 50*time.Millisecond, onDisk.Scheduler.Interval)

	_, created, err = Load(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestParse_FileOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
worlds_root: /srv/worlds
scheduler:
  interval: 10ms
server:
  address: 0.0.0.0:9000
logging:
  level: DEBUG
`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/worlds", cfg.WorldsRoot)
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.Interval)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "worldsettings.yml", cfg.SettingsFile, "unset fields keep defaults")
}

func TestParse_EnvOverridesFile(t *testing.T) {
	t.Setenv("ATLAS_WORLDS_ROOT", "/env/worlds")
	t.Setenv("ATLAS_WATCH_ENABLED", "false")
	t.Setenv("ATLAS_SERVER_LOAD_WAIT", "2s")

	cfg, err := Parse([]byte("worlds_root: /file/worlds\n"))
	require.NoError(t, err)
	assert.Equal(t, "/env/worlds", cfg.WorldsRoot)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Server.LoadWait)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"zero interval", "scheduler:\n  interval: 0s\n"},
		{"empty root", "worlds_root: \"\"\n"},
		{"settings file with slash", "settings_file: a/b.yml\n"},
		{"bad address", "server:\n  address: nowhere\n"},
		{"unknown exporter", "telemetry:\n  trace_exporter: zipkin\n"},
		{"catalog without path", "catalog:\n  enabled: true\n  path: \"\"\n"},
		{"not yaml", "worlds_root: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv(PathEnv, "/tmp/custom.yaml")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.yaml", p)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".atlas"), ExpandHome("~/.atlas"))
	assert.Equal(t, "/abs", ExpandHome("/abs"))
	assert.Equal(t, "rel/~", ExpandHome("rel/~"))
}
