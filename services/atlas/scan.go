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
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/atlas/services/atlas/host"
)

// ScanFolder registers every immediate subdirectory of root that holds the
// identity marker file.
//
// # Description
//
// Each accepted directory becomes an instance named after it, is
// registered, and is returned. Subdirectories without the marker are
// logged at error level and skipped; plain files are ignored. Scanning the
// same root twice registers the same directories twice. When a catalog is
// configured, each instance's last-known identity is restored from it.
//
// # Outputs
//
//   - []*Instance: Instances registered by this call.
//   - error: Non-nil only if root cannot be listed.
func (a *Atlas) ScanFolder(ctx context.Context, root string) ([]*Instance, error) {
	ctx, span := tracer.Start(ctx, "atlas.ScanFolder")
	defer span.End()
	span.SetAttributes(attribute.String("root", root))

	entries, err := os.ReadDir(root)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	var found []*Instance
	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		if !hasMarker(dir) {
			a.logger.Error("Could not load folder because it does not have a "+host.MarkerFile+" file",
				"dir", absOrRaw(dir))
			continue
		}
		inst := NewInstance(entry.Name(), dir)
		a.restoreIdentity(ctx, inst)
		a.Register(inst)
		found = append(found, inst)
		a.logger.Debug("Adding world to Atlas", "name", inst.Name(), "dir", absOrRaw(dir))
	}
	span.SetAttributes(attribute.Int("found", len(found)))
	return found, nil
}

// LoadFromPath registers an instance for dir without checking for the
// marker file. The instance is named after the directory's base name.
func (a *Atlas) LoadFromPath(ctx context.Context, dir string) *Instance {
	inst := NewInstance(filepath.Base(dir), dir)
	a.restoreIdentity(ctx, inst)
	a.Register(inst)
	a.logger.Debug("Adding world to Atlas", "name", inst.Name(), "dir", absOrRaw(dir))
	return inst
}

// Discover registers dir if it holds the marker file and no registered
// instance already uses that directory. It returns the registered instance
// and whether this call added it.
func (a *Atlas) Discover(ctx context.Context, dir string) (*Instance, bool) {
	if !hasMarker(dir) {
		return nil, false
	}
	want := absOrRaw(dir)
	for _, inst := range a.Instances() {
		if absOrRaw(inst.Directory()) == want {
			return inst, false
		}
	}
	inst := NewInstance(filepath.Base(dir), dir)
	a.restoreIdentity(ctx, inst)
	a.Register(inst)
	a.logger.Info("Discovered world", "name", inst.Name(), "dir", want)
	return inst, true
}

func (a *Atlas) restoreIdentity(ctx context.Context, inst *Instance) {
	if a.catalog == nil {
		return
	}
	rec, found, err := a.catalog.Get(ctx, inst.Directory())
	if err != nil {
		a.logger.Warn("Could not read catalog record", "name", inst.Name(), "error", err)
		return
	}
	if found && rec.Identity != "" {
		inst.setIdentity(rec.Identity)
	}
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, host.MarkerFile))
	return err == nil && !info.IsDir()
}

func absOrRaw(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
