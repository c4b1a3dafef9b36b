// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxCatalogueFileSize is the maximum allowed catalogue size (1MB).
	MaxCatalogueFileSize = 1024 * 1024

	// MaxRulesInCatalogue bounds the number of rule entries.
	MaxRulesInCatalogue = 512

	// CataloguePathEnv overrides the embedded catalogue.
	CataloguePathEnv = "ATLAS_GAMERULES_PATH"
)

//go:embed gamerules.yaml
var defaultCatalogueYAML []byte

// =============================================================================
// Metrics and tracing
// =============================================================================

var (
	catalogueLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atlas_rule_catalogue_load_errors_total",
		Help: "Total rule catalogue load errors",
	})

	catalogueLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_rule_catalogue_load_duration_seconds",
		Help:    "Duration of rule catalogue loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})
)

var tracer = otel.Tracer("atlas.rules")

// =============================================================================
// YAML types
// =============================================================================

// CatalogueYAML is the on-disk catalogue layout.
type CatalogueYAML struct {
	Namespace string          `yaml:"namespace"`
	Rules     []RuleEntryYAML `yaml:"rules"`
}

// RuleEntryYAML is one catalogue entry. Key may be bare or namespaced.
type RuleEntryYAML struct {
	Key  string `yaml:"key"`
	Type string `yaml:"type"`
}

// =============================================================================
// Singleton catalogue
// =============================================================================

var (
	catalogueMu      sync.RWMutex
	catalogueOnce    sync.Once
	cachedCatalogue  *Registry
	catalogueLoadErr error
)

// DefaultRegistry returns the process-wide rule catalogue.
//
// # Description
//
// Loads the catalogue on first call and caches it. The file named by
// ATLAS_GAMERULES_PATH (or ./config/gamerules.yaml) wins over the embedded
// copy; an unreadable external file falls back to the embedded one.
//
// # Inputs
//
//   - ctx: Context for tracing. Must not be nil.
//
// # Outputs
//
//   - *Registry: The catalogue. Never nil on success.
//   - error: Non-nil if the selected catalogue fails to parse.
//
// # Thread Safety
//
// Safe for concurrent use.
func DefaultRegistry(ctx context.Context) (*Registry, error) {
	if ctx == nil {
		return nil, fmt.Errorf("DefaultRegistry: ctx must not be nil")
	}

	catalogueMu.RLock()
	if cachedCatalogue != nil || catalogueLoadErr != nil {
		reg, err := cachedCatalogue, catalogueLoadErr
		catalogueMu.RUnlock()
		return reg, err
	}
	catalogueMu.RUnlock()

	catalogueMu.Lock()
	defer catalogueMu.Unlock()
	if cachedCatalogue != nil || catalogueLoadErr != nil {
		return cachedCatalogue, catalogueLoadErr
	}
	catalogueOnce.Do(func() {
		cachedCatalogue, catalogueLoadErr = loadCatalogue(ctx)
	})
	return cachedCatalogue, catalogueLoadErr
}

// ResetDefaultRegistry clears the cached catalogue. Intended for tests.
func ResetDefaultRegistry() {
	catalogueMu.Lock()
	defer catalogueMu.Unlock()
	catalogueOnce = sync.Once{}
	cachedCatalogue = nil
	catalogueLoadErr = nil
}

// =============================================================================
// Loading
// =============================================================================

func loadCatalogue(ctx context.Context) (*Registry, error) {
	ctx, span := tracer.Start(ctx, "rules.LoadCatalogue")
	defer span.End()

	start := time.Now()
	defer func() {
		catalogueLoadDuration.Observe(time.Since(start).Seconds())
	}()

	data, source := defaultCatalogueYAML, "embedded"
	if path := externalCataloguePath(); path != "" {
		external, err := readCatalogueFile(ctx, path)
		if err == nil {
			data, source = external, "external"
			slog.Info("Loaded rule catalogue from external file", slog.String("path", path))
		} else {
			slog.Warn("External rule catalogue not available, using embedded default",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	span.SetAttributes(attribute.String("source", source), attribute.Int("yaml_size", len(data)))

	reg, err := ParseCatalogue(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		catalogueLoadErrors.Inc()
		return nil, fmt.Errorf("parsing %s rule catalogue: %w", source, err)
	}
	span.SetAttributes(attribute.Int("rule_count", reg.Len()))
	return reg, nil
}

// LoadCatalogueFile reads and parses a catalogue file.
func LoadCatalogueFile(ctx context.Context, path string) (*Registry, error) {
	data, err := readCatalogueFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return ParseCatalogue(data)
}

// ParseCatalogue parses catalogue YAML into a Registry.
func ParseCatalogue(data []byte) (*Registry, error) {
	var doc CatalogueYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling catalogue: %w", err)
	}
	if len(doc.Rules) > MaxRulesInCatalogue {
		return nil, fmt.Errorf("too many rules: %d (max %d)", len(doc.Rules), MaxRulesInCatalogue)
	}
	ns := doc.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}

	defs := make([]Definition, 0, len(doc.Rules))
	for i, entry := range doc.Rules {
		key, err := ParseKey(entry.Key, ns)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		typ, err := ParseValueType(entry.Type)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", key, err)
		}
		defs = append(defs, Definition{Key: key, Type: typ})
	}
	return NewRegistry(ns, defs...)
}

func externalCataloguePath() string {
	if path := os.Getenv(CataloguePathEnv); path != "" {
		return path
	}
	const local = "./config/gamerules.yaml"
	if _, err := os.Stat(local); err == nil {
		abs, _ := filepath.Abs(local)
		return abs
	}
	return ""
}

func readCatalogueFile(ctx context.Context, path string) ([]byte, error) {
	_, span := tracer.Start(ctx, "rules.ReadCatalogueFile",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if strings.Contains(abs, "..") {
		return nil, fmt.Errorf("path traversal not allowed: %s", abs)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat catalogue: %w", err)
	}
	if info.Size() > MaxCatalogueFileSize {
		return nil, fmt.Errorf("catalogue too large: %d bytes (max %d)", info.Size(), MaxCatalogueFileSize)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue: %w", err)
	}
	return data, nil
}
