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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas/settings"
)

var rulesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "atlas_rules_applied_total",
	Help: "Rule entries processed, by result (applied, unknown, invalid, rejected)",
}, []string{"result"})

// Target receives typed rule mutations. SetRule returns false when the
// live instance refuses the value.
type Target interface {
	SetRule(def Definition, value Value) bool
}

// Report counts the outcome of one Apply call.
type Report struct {
	Applied  int
	Unknown  int
	Invalid  int
	Rejected int
}

// Apply sets every rule in section on target, in document order.
//
// # Description
//
// Best effort: null values are ignored, unknown keys and malformed values
// are logged as warnings and skipped, and the rest of the batch continues.
// A nil section is a no-op.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - target: The live instance.
//   - section: The gamerules section of a settings document. May be nil.
//   - registry: Rule catalogue used to resolve keys.
//   - logger: Receives warnings. Nil discards them.
//
// # Outputs
//
//   - Report: Per-outcome counts.
func Apply(ctx context.Context, target Target, section *settings.Document, registry *Registry, logger *logging.Logger) Report {
	var report Report
	if section == nil {
		return report
	}
	if logger == nil {
		logger = logging.Discard()
	}
	_, span := tracer.Start(ctx, "rules.Apply")
	defer span.End()

	for _, key := range section.Keys() {
		raw := section.Child(key)
		if raw == nil {
			continue
		}

		def, ok := registry.Lookup(key)
		if !ok {
			logger.Warn("Unknown game rule", "key", key)
			report.Unknown++
			rulesApplied.WithLabelValues("unknown").Inc()
			continue
		}

		value, err := Coerce(def, raw)
		if err != nil {
			logger.Warn("Invalid game rule value", "key", key, "value", raw, "error", err)
			report.Invalid++
			rulesApplied.WithLabelValues("invalid").Inc()
			continue
		}

		if !target.SetRule(def, value) {
			logger.Warn("Game rule rejected", "key", def.Key.String(), "value", value.String())
			report.Rejected++
			rulesApplied.WithLabelValues("rejected").Inc()
			continue
		}
		logger.Debug("Applied game rule", "key", def.Key.String(), "value", value.String())
		report.Applied++
		rulesApplied.WithLabelValues("applied").Inc()
	}

	span.SetAttributes(
		attribute.Int("applied", report.Applied),
		attribute.Int("unknown", report.Unknown),
		attribute.Int("invalid", report.Invalid),
		attribute.Int("rejected", report.Rejected),
	)
	return report
}
