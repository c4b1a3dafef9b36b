// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memhost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
)

var keepInventory = rules.Definition{Key: rules.Key{Namespace: "minecraft", Name: "keep_inventory"}, Type: rules.TypeBoolean}

func newEngine() *Engine {
	return New(Config{
		Rules:        []rules.Definition{keepInventory},
		Fallback:     host.Location{World: "lobby", X: 1, Y: 2, Z: 3},
		DefaultSpawn: host.Location{X: 8, Y: 64, Z: 8},
	})
}

func TestCreateWorld_WritesMarkerAndReusesIt(t *testing.T) {
	e := newEngine()
	dir := filepath.Join(t.TempDir(), "arena")
	spec := host.WorldSpec{Path: filepath.ToSlash(dir), Type: host.WorldTypeFlat, Generator: host.VoidGenerator}

	w, err := e.CreateWorld(spec)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, host.MarkerFile))
	assert.Equal(t, 1, e.Creations())

	again, err := e.CreateWorld(spec)
	require.NoError(t, err)
	assert.Same(t, w, again, "reopening a live world returns it")

	require.True(t, e.UnloadWorld(w, true))
	assert.Empty(t, e.Live())

	reopened, err := e.CreateWorld(spec)
	require.NoError(t, err)
	assert.Equal(t, w.UID(), reopened.UID(), "UID comes from uid.dat")
	assert.Equal(t, []UnloadCall{{UID: w.UID(), Save: true}}, e.Unloads())
}

func TestCreateWorld_CorruptMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, host.MarkerFile), []byte("short"), 0644))

	_, err := newEngine().CreateWorld(host.WorldSpec{Path: filepath.ToSlash(dir)})
	assert.Error(t, err)
}

func TestFaultInjection(t *testing.T) {
	e := newEngine()
	e.FailCreate(ErrCreateFailed)
	_, err := e.CreateWorld(host.WorldSpec{Path: filepath.ToSlash(t.TempDir())})
	require.ErrorIs(t, err, ErrCreateFailed)
	e.FailCreate(nil)

	w, err := e.CreateWorld(host.WorldSpec{Path: filepath.ToSlash(t.TempDir())})
	require.NoError(t, err)

	e.RefuseUnload(true)
	assert.False(t, e.UnloadWorld(w, false))
	e.RefuseUnload(false)

	e.Evict(w.UID())
	_, ok := e.World(w.UID())
	assert.False(t, ok)
	assert.False(t, e.UnloadWorld(w, false), "evicted world cannot be unloaded")
}

func TestWorld_State(t *testing.T) {
	e := newEngine()
	hw, err := e.CreateWorld(host.WorldSpec{Path: filepath.ToSlash(t.TempDir())})
	require.NoError(t, err)
	w, ok := e.LiveWorld(hw.UID())
	require.True(t, ok)

	assert.Equal(t, 8.0, w.SpawnLocation().X)

	w.SetAutoSave(true)
	assert.True(t, w.AutoSave())

	w.SetChunkForceLoaded(1, 0, true)
	w.SetChunkForceLoaded(0, 2, true)
	w.SetChunkForceLoaded(0, 1, true)
	w.SetChunkForceLoaded(0, 2, false)
	assert.Equal(t, [][2]int{{0, 1}, {1, 0}}, w.ForcedChunks())

	assert.True(t, w.SetRule(keepInventory, rules.Bool(true)))
	assert.False(t, w.SetRule(keepInventory, rules.Int(1)), "type mismatch")
	unknown := rules.Definition{Key: rules.Key{Namespace: "minecraft", Name: "nope"}, Type: rules.TypeBoolean}
	assert.False(t, w.SetRule(unknown, rules.Bool(true)))
	v, ok := w.Rule(keepInventory.Key)
	require.True(t, ok)
	assert.Equal(t, rules.Bool(true), v)
	assert.Equal(t, 1, w.RuleCount())
}

func TestOccupant_TeleportLeavesWorld(t *testing.T) {
	e := newEngine()
	hw, err := e.CreateWorld(host.WorldSpec{Path: filepath.ToSlash(t.TempDir())})
	require.NoError(t, err)
	w := hw.(*World)

	a := w.AddOccupant("a")
	w.AddOccupant("b")
	require.Len(t, w.Occupants(), 2)

	// Moving inside the world keeps the occupant.
	inside := w.SpawnLocation()
	inside.X += 5
	a.Teleport(inside)
	require.Len(t, w.Occupants(), 2)

	a.Teleport(e.FallbackLocation())
	assert.Equal(t, "lobby", a.Location().World)
	occ := w.Occupants()
	require.Len(t, occ, 1)
	assert.Equal(t, "b", occ[0].ID())
}
