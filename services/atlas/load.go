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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/atlas/services/atlas/catalog"
	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
	"github.com/AleutianAI/atlas/services/atlas/settings"
)

// Load makes inst live in the engine.
//
// # Description
//
// Returns immediately with a Future. The directory is resolved on the
// caller's goroutine; world creation and settings application run on the
// scheduler. An instance that is already loaded resolves true without
// touching the engine. Concurrent loads of the same instance share one
// pipeline and resolve to the same result.
//
// # Inputs
//
//   - ctx: Used for tracing and the catalog write; cancelling it does not
//     cancel the load.
//   - inst: The instance to load.
//
// # Outputs
//
//   - *Future: Resolves true on success, false on any engine or
//     settings failure (which is logged).
//   - error: Wraps ErrInvalidDirectory when the directory cannot be
//     resolved. Nothing is scheduled in that case.
//
// # Limitations
//
// The Future has no timeout. A creation call that never returns leaves it
// pending. A scheduler stopped with the task still queued, or a creation
// that panics, resolves it to false.
func (a *Atlas) Load(ctx context.Context, inst *Instance) (*Future, error) {
	ctx, span := tracer.Start(ctx, "atlas.Load",
		trace.WithAttributes(attribute.String("instance", inst.Name())),
	)
	defer span.End()

	a.logger.Debug("Loading world", "name", inst.Name())
	if inst.Loaded() {
		a.logger.Warn(inst.Name()+" is already loaded", "name", inst.Name())
		loadTotal.WithLabelValues(resultAlready).Inc()
		return resolvedFuture(true), nil
	}

	canonical, err := canonicalize(inst.Directory())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid directory")
		loadTotal.WithLabelValues(resultInvalid).Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDirectory, inst.Directory(), err)
	}
	a.logger.Debug("About to load world from path",
		"raw", inst.Directory(), "canonical", canonical)

	start := time.Now()
	f := newFuture()
	key := fmt.Sprintf("%p|%s", inst, canonical)
	detached := context.WithoutCancel(ctx)
	ch := a.loads.DoChan(key, func() (any, error) {
		return a.runLoad(detached, inst), nil
	})
	go func() {
		res := <-ch
		ok, _ := res.Val.(bool)
		loadDuration.Observe(time.Since(start).Seconds())
		f.resolve(ok)
	}()
	return f, nil
}

// runLoad drives one load to completion. It is the singleflight body.
func (a *Atlas) runLoad(ctx context.Context, inst *Instance) bool {
	if inst.Loaded() {
		return true
	}
	inst.beginLoading()

	spec := host.WorldSpec{
		Path:               filepath.ToSlash(inst.Directory()),
		Environment:        host.EnvironmentNormal,
		Type:               host.WorldTypeFlat,
		Generator:          host.VoidGenerator,
		GenerateStructures: false,
	}

	var created bool
	err := a.sched.Call(ctx, func() {
		created = a.createOnScheduler(ctx, inst, spec)
	})
	if err != nil {
		a.logger.Error("World creation did not complete", "name", inst.Name(), "error", err)
		inst.setState(StateUnloaded)
		loadTotal.WithLabelValues(resultFailure).Inc()
		return false
	}

	if !created {
		inst.setState(StateUnloaded)
		loadTotal.WithLabelValues(resultFailure).Inc()
		return false
	}
	loadTotal.WithLabelValues(resultSuccess).Inc()
	a.recordLoaded(ctx, inst)
	return true
}

// createOnScheduler runs on the scheduler goroutine.
func (a *Atlas) createOnScheduler(ctx context.Context, inst *Instance, spec host.WorldSpec) bool {
	world, err := a.engine.CreateWorld(spec)
	if err != nil || world == nil {
		a.logger.Error("Could not create world", "name", inst.Name(), "path", spec.Path, "error", err)
		return false
	}

	doc := a.loadSettings(inst)
	ws := settings.ReadWorldSettings(doc)

	world.SetAutoSave(ws.AutoSave)

	spawn := world.SpawnLocation()
	if ws.Spawn != nil {
		spawn = spawnLocation(world.Name(), *ws.Spawn)
	}
	if ws.RequestedRadius > ws.ForceLoadedRadius && ws.RequestedRadius > 0 {
		a.logger.Warn("Force-loaded radius clamped", "name", inst.Name(),
			"requested", ws.RequestedRadius, "radius", ws.ForceLoadedRadius)
	}
	if r := ws.ForceLoadedRadius; r > 0 {
		cx, cz := spawn.ChunkX(), spawn.ChunkZ()
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				world.SetChunkForceLoaded(cx+dx, cz+dz, true)
			}
		}
		a.logger.Debug("Force-loaded spawn chunks", "name", inst.Name(),
			"center_x", cx, "center_z", cz, "radius", r)
	}

	report := rules.Apply(ctx, world, ws.GameRules, a.rules, a.logger.With("name", inst.Name()))
	if report.Unknown+report.Invalid+report.Rejected > 0 {
		a.logger.Debug("Some game rules were skipped", "name", inst.Name(),
			"applied", report.Applied, "unknown", report.Unknown,
			"invalid", report.Invalid, "rejected", report.Rejected)
	}

	if ws.Spawn != nil {
		a.logger.Debug("Setting spawn location", "name", inst.Name())
		if !world.SetSpawnLocation(spawn) {
			a.logger.Warn("Engine refused spawn location", "name", inst.Name())
		}
	}

	inst.markLoaded(world.UID())
	return true
}

// loadSettings returns the instance's settings, materializing the template
// when the file is missing. Failures degrade to an empty document.
func (a *Atlas) loadSettings(inst *Instance) *settings.Document {
	path := filepath.Join(inst.Directory(), a.cfg.SettingsFile)
	if _, err := settings.EnsureFile(settings.FileName, path); err != nil {
		a.logger.Fatal("Could not create settings file", "file", path, "error", err)
		return settings.New()
	}
	a.logger.Debug("Loading " + a.cfg.SettingsFile)
	doc, err := settings.Load(path)
	if err != nil {
		a.logger.Error("Could not read settings, using defaults", "file", path, "error", err)
		return settings.New()
	}
	return doc
}

func (a *Atlas) recordLoaded(ctx context.Context, inst *Instance) {
	if a.catalog == nil {
		return
	}
	id, _ := inst.Identity()
	rec := catalog.Record{
		Name:         inst.Name(),
		Directory:    inst.Directory(),
		Identity:     id,
		LastLoadedAt: a.now().UTC().UnixMilli(),
	}
	if err := a.catalog.Put(ctx, rec); err != nil {
		a.logger.Warn("Could not write catalog record", "name", inst.Name(), "error", err)
	}
}

// spawnLocation converts a configured spawn. Without both yaw and pitch the
// default orientation is used.
func spawnLocation(world string, sp settings.SpawnPoint) host.Location {
	loc := host.Location{World: world, X: sp.X, Y: sp.Y, Z: sp.Z}
	if sp.HasRotation {
		loc.Yaw, loc.Pitch = sp.Yaw, sp.Pitch
	}
	return loc
}

// canonicalize returns the absolute, symlink-free form of dir. A directory
// that does not exist yet is only made absolute.
func canonicalize(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(abs); errors.Is(err, fs.ErrNotExist) {
		return abs, nil
	}
	return filepath.EvalSymlinks(abs)
}
