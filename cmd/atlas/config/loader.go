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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ATLAS_"

	// PathEnv overrides the config file location.
	PathEnv = "ATLAS_CONFIG"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns ~/.atlas/atlas.yaml, or ATLAS_CONFIG when set.
func DefaultPath() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".atlas", "atlas.yaml"), nil
}

// Load reads the config at path, writing the defaults first if the file
// does not exist. Environment overrides are applied after the file, then
// the result is validated.
//
// # Outputs
//
//   - AtlasConfig: The merged configuration.
//   - bool: True when the file was created by this call.
//   - error: Read, parse, override, or validation failure.
func Load(path string) (AtlasConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return AtlasConfig{}, false, err
		}
		created = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AtlasConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return AtlasConfig{}, created, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, created, nil
}

// Parse decodes data over the defaults, applies ATLAS_ environment
// overrides, and validates the result.
func Parse(data []byte) (AtlasConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AtlasConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return AtlasConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if err := Validate(cfg); err != nil {
		return AtlasConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg AtlasConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
