// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package atlas

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("atlas")

var (
	loadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_load_total",
		Help: "Instance loads by result (success, failure, already_loaded, invalid_directory)",
	}, []string{"result"})

	loadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atlas_load_duration_seconds",
		Help:    "Time from Load to future resolution",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	unloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_unload_total",
		Help: "Instance unloads by result (success, not_loaded, missing, refused, error)",
	}, []string{"result"})

	deleteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_delete_total",
		Help: "Instance deletions by result",
	}, []string{"result"})

	duplicateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_duplicate_total",
		Help: "Instance duplications by result",
	}, []string{"result"})

	registeredInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_registered_instances",
		Help: "Instances currently in the registry",
	})
)

const (
	resultSuccess    = "success"
	resultFailure    = "failure"
	resultAlready    = "already_loaded"
	resultInvalid    = "invalid_directory"
	resultNotLoaded  = "not_loaded"
	resultMissing    = "missing"
	resultRefused    = "refused"
	resultError      = "error"
	resultUnloadFail = "unload_failed"
	resultLoading    = "loading"
)
