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
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/atlas/services/atlas/host"
)

// Unload removes inst from the engine, moving its occupants to the
// engine's fallback location first.
//
// # Description
//
// Returns true without side effects when inst is not loaded. The engine
// work runs on the scheduler and this call blocks until it finishes.
//
// If the engine has no live world for the instance's identity, a warning
// is logged and false is returned with the instance still marked loaded.
// The same holds when the engine refuses the unload.
//
// # Limitations
//
// Must not be called from a scheduler task; it waits for a task that
// could only run after the caller returns.
func (a *Atlas) Unload(ctx context.Context, inst *Instance, save bool) bool {
	ctx, span := tracer.Start(ctx, "atlas.Unload", trace.WithAttributes(
		attribute.String("instance", inst.Name()),
		attribute.Bool("save", save),
	))
	defer span.End()

	if !inst.Loaded() {
		unloadTotal.WithLabelValues(resultNotLoaded).Inc()
		return true
	}
	a.logger.Debug("Unloading world", "name", inst.Name())

	var ok bool
	err := a.sched.Call(ctx, func() {
		ok = a.unloadOnScheduler(inst, save)
	})
	if err != nil {
		a.logger.Error("Could not run unload on scheduler", "name", inst.Name(), "error", err)
		span.RecordError(err)
		unloadTotal.WithLabelValues(resultError).Inc()
		return false
	}
	span.SetAttributes(attribute.Bool("unloaded", ok))
	if ok {
		a.runUnloadHooks(inst)
	}
	return ok
}

func (a *Atlas) unloadOnScheduler(inst *Instance, save bool) bool {
	if !inst.Loaded() {
		unloadTotal.WithLabelValues(resultNotLoaded).Inc()
		return true
	}
	id, _ := inst.Identity()
	world, live := a.engine.World(id)
	if !live || world == nil {
		a.logger.Warn("Could not unload world (world is not live): "+inst.Name(), "name", inst.Name(), "identity", id)
		unloadTotal.WithLabelValues(resultMissing).Inc()
		return false
	}

	fallback := a.engine.FallbackLocation()
	for _, occ := range world.Occupants() {
		if !occ.Teleport(fallback) {
			a.logger.Warn("Could not relocate occupant", "name", inst.Name(), "occupant", occ.ID())
		}
	}

	if !a.engine.UnloadWorld(world, save) {
		a.logger.Warn("Could not unload world: "+inst.Name(), "name", inst.Name())
		unloadTotal.WithLabelValues(resultRefused).Inc()
		return false
	}
	inst.setState(StateUnloaded)
	unloadTotal.WithLabelValues(resultSuccess).Inc()
	return true
}

// Delete unloads inst without saving when it is loaded, then removes its
// directory tree. The instance stays registered.
//
// Returns false, leaving the directory untouched, when the instance is
// still loading or the unload fails. Returns false when the directory
// cannot be removed.
func (a *Atlas) Delete(ctx context.Context, inst *Instance) bool {
	ctx, span := tracer.Start(ctx, "atlas.Delete",
		trace.WithAttributes(attribute.String("instance", inst.Name())),
	)
	defer span.End()

	if inst.State() == StateLoading {
		a.logger.Warn("Cannot delete a world while it is loading", "name", inst.Name())
		deleteTotal.WithLabelValues(resultLoading).Inc()
		return false
	}

	if inst.Loaded() && !a.Unload(ctx, inst, false) {
		deleteTotal.WithLabelValues(resultUnloadFail).Inc()
		return false
	}

	if err := os.RemoveAll(inst.Directory()); err != nil {
		a.logger.Warn("Could not delete world: "+inst.Name(), "name", inst.Name(), "error", err)
		span.RecordError(err)
		deleteTotal.WithLabelValues(resultFailure).Inc()
		return false
	}
	if a.catalog != nil {
		if err := a.catalog.Delete(ctx, inst.Directory()); err != nil {
			a.logger.Warn("Could not remove catalog record", "name", inst.Name(), "error", err)
		}
	}
	deleteTotal.WithLabelValues(resultSuccess).Inc()
	return true
}

// Duplicate copies source's directory to parent/<new id>, removes the
// marker file from the copy and registers the copy as a new instance whose
// name and identity are both the new id.
//
// # Outputs
//
//   - *Instance: The registered copy, or nil on failure.
//   - bool: False when the copy failed; any partial copy is removed.
func (a *Atlas) Duplicate(ctx context.Context, source *Instance, parent string) (*Instance, bool) {
	_, span := tracer.Start(ctx, "atlas.Duplicate",
		trace.WithAttributes(attribute.String("instance", source.Name())),
	)
	defer span.End()

	id := a.newID()
	dest := filepath.Join(parent, id)

	err := copyTree(source.Directory(), dest)
	if err == nil {
		err = os.Remove(filepath.Join(dest, host.MarkerFile))
		if errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
	}
	if err != nil {
		a.logger.Warn("Could not duplicate world: "+source.Name(), "name", source.Name(), "error", err)
		span.RecordError(err)
		if !errors.Is(err, errDestinationExists) {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				a.logger.Warn("Could not remove partial copy", "dir", dest, "error", rmErr)
			}
		}
		duplicateTotal.WithLabelValues(resultFailure).Inc()
		return nil, false
	}

	inst := NewInstance(id, dest)
	inst.setIdentity(id)
	a.Register(inst)
	span.SetAttributes(attribute.String("copy", id))
	duplicateTotal.WithLabelValues(resultSuccess).Inc()
	return inst, true
}

// UnloadAll unloads every registered instance, saving each. Failures are
// logged by Unload and not reported.
func (a *Atlas) UnloadAll(ctx context.Context) {
	for _, inst := range a.Instances() {
		a.Unload(ctx, inst, true)
	}
}

var errDestinationExists = errors.New("destination already exists")

// copyTree copies src to dst recursively, preserving file modes and
// symlinks. dst must not exist.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, errDestinationExists)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		}
		return nil
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, perm)
}
