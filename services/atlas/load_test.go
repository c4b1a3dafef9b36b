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
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas/catalog"
	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
	"github.com/AleutianAI/atlas/services/atlas/settings"
)

func ruleKey(name string) rules.Key {
	return rules.Key{Namespace: rules.DefaultNamespace, Name: name}
}

func TestLoad_CreatesWorldWithFixedSpec(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	dir := f.makeWorld(t, "lobby", "autosave: true\n", true)
	inst := f.atlas.LoadFromPath(context.Background(), dir)

	require.True(t, f.load(t, inst))
	assert.True(t, inst.Loaded())
	assert.Equal(t, StateLoaded, inst.State())

	w := f.liveWorld(t, inst)
	spec := w.Spec()
	assert.Equal(t, filepath.ToSlash(dir), spec.Path)
	assert.Equal(t, host.EnvironmentNormal, spec.Environment)
	assert.Equal(t, host.WorldTypeFlat, spec.Type)
	assert.Equal(t, host.VoidGenerator, spec.Generator)
	assert.False(t, spec.GenerateStructures)
	assert.True(t, w.AutoSave())
}

func TestLoad_AlreadyLoadedDoesNotRecreate(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))
	require.True(t, f.load(t, inst))
	require.Equal(t, 1, f.engine.Creations())

	before := testutil.ToFloat64(loadTotal.WithLabelValues(resultAlready))
	fut, err := f.atlas.Load(context.Background(), inst)
	require.NoError(t, err)
	ok, done := fut.Poll()
	assert.True(t, done, "already-loaded instances resolve immediately")
	assert.True(t, ok)
	assert.Equal(t, 1, f.engine.Creations())
	assert.Equal(t, before+1, testutil.ToFloat64(loadTotal.WithLabelValues(resultAlready)))
	assert.True(t, f.logs.Contains(logging.LevelWarn, "lobby is already loaded"))
}

func TestLoad_RunsOnScheduler(t *testing.T) {
	f := newFixture(t, fixtureOpts{manualTicks: true})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	fut, err := f.atlas.Load(context.Background(), inst)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.sched.Pending() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 0, f.engine.Creations(), "nothing runs before the scheduler ticks")
	assert.Equal(t, StateLoading, inst.State())
	_, done := fut.Poll()
	assert.False(t, done)

	f.sched.RunTick()

	ok, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.engine.Creations())
}

func TestLoad_ConcurrentCallsShareOneCreation(t *testing.T) {
	f := newFixture(t, fixtureOpts{manualTicks: true})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	const callers = 8
	futures := make([]*Future, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fut, err := f.atlas.Load(context.Background(), inst)
			if err == nil {
				futures[i] = fut
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return f.sched.Pending() == 1 }, time.Second, time.Millisecond)
	f.sched.RunTick()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, fut := range futures {
		require.NotNil(t, fut, "caller %d", i)
		ok, err := fut.Wait(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, f.engine.Creations())
	assert.Equal(t, 0, f.sched.Pending())
}

func TestLoad_InvalidDirectory(t *testing.T) {
	f := newFixture(t, fixtureOpts{manualTicks: true})
	a := filepath.Join(f.root, "a")
	b := filepath.Join(f.root, "b")
	require.NoError(t, os.Symlink(b, a))
	require.NoError(t, os.Symlink(a, b))

	inst := NewInstance("loop", a)
	fut, err := f.atlas.Load(context.Background(), inst)
	require.ErrorIs(t, err, ErrInvalidDirectory)
	assert.Nil(t, fut)
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, 0, f.engine.Creations())
	assert.Equal(t, StateUnloaded, inst.State())
}

func TestLoad_CreationFailure(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.engine.FailCreate(fmt.Errorf("disk full"))
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	assert.False(t, f.load(t, inst))
	assert.False(t, inst.Loaded())
	assert.Equal(t, StateUnloaded, inst.State())
	_, known := inst.Identity()
	assert.False(t, known)
	assert.True(t, f.logs.Contains(logging.LevelError, "Could not create world"))
}

func TestLoad_SchedulerStopped(t *testing.T) {
	f := newFixture(t, fixtureOpts{manualTicks: true})
	f.sched.Stop()
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	assert.False(t, f.load(t, inst))
	assert.Equal(t, StateUnloaded, inst.State())
	assert.Equal(t, 0, f.engine.Creations())
}

// panickingEngine panics on world creation.
type panickingEngine struct {
	host.Engine
}

func (panickingEngine) CreateWorld(host.WorldSpec) (host.World, error) {
	panic("engine exploded")
}

func TestLoad_CreationPanicResolvesFalse(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.atlas.engine = panickingEngine{Engine: f.engine}
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	assert.False(t, f.load(t, inst))
	assert.Equal(t, StateUnloaded, inst.State())
	assert.True(t, f.logs.Contains(logging.LevelError, "Scheduled task panicked"))

	// The instance is not wedged in the loading state.
	f.atlas.engine = f.engine
	require.True(t, f.load(t, inst))
	assert.True(t, inst.Loaded())
}

func TestLoad_SchedulerStoppedWhileQueued(t *testing.T) {
	f := newFixture(t, fixtureOpts{manualTicks: true})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "lobby", "{}\n", true))

	fut, err := f.atlas.Load(context.Background(), inst)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.sched.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, f.sched.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ok, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateUnloaded, inst.State())
	assert.Equal(t, 0, f.engine.Creations())

	// A restarted scheduler loads the same instance.
	require.NoError(t, f.sched.Start(context.Background()))
	t.Cleanup(func() { f.sched.Stop() })
	require.True(t, f.load(t, inst))
}

func TestLoad_MaterializesSettingsTemplate(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	dir := f.makeWorld(t, "fresh", "", true)
	inst := f.atlas.LoadFromPath(context.Background(), dir)

	require.True(t, f.load(t, inst))

	written, err := os.ReadFile(filepath.Join(dir, settings.FileName))
	require.NoError(t, err)
	template, err := settings.Template(settings.FileName)
	require.NoError(t, err)
	assert.Equal(t, template, written)

	w := f.liveWorld(t, inst)
	assert.False(t, w.AutoSave())
	v, ok := w.Rule(ruleKey("keep_inventory"))
	require.True(t, ok)
	b, isBool := v.AsBool()
	require.True(t, isBool)
	assert.True(t, b)
}

func TestLoad_MalformedSettingsFallsBackToDefaults(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "broken", "- just\n- a list\n", true))

	require.True(t, f.load(t, inst))
	w := f.liveWorld(t, inst)
	assert.Equal(t, 0, w.RuleCount())
	assert.Empty(t, w.ForcedChunks())
	assert.True(t, f.logs.Contains(logging.LevelError, "Could not read settings"))
}

func TestLoad_ForceLoadedChunks(t *testing.T) {
	tests := []struct {
		name   string
		radius int
		spawn  string
		wantCX int
		wantCZ int
	}{
		{name: "zero radius", radius: 0},
		{name: "radius 1 at world spawn", radius: 1, wantCX: 6, wantCZ: -2},
		{name: "radius 2 at world spawn", radius: 2, wantCX: 6, wantCZ: -2},
		{name: "radius 3 at configured spawn", radius: 3,
			spawn: "spawn: {x: -1, y: 64, z: 33}\n", wantCX: -1, wantCZ: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			doc := fmt.Sprintf("spawn_chunks:\n  force_loaded_radius_chunks: %d\n%s", tt.radius, tt.spawn)
			inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))
			require.True(t, f.load(t, inst))

			chunks := f.liveWorld(t, inst).ForcedChunks()
			if tt.radius == 0 {
				assert.Empty(t, chunks)
				return
			}
			side := 2*tt.radius + 1
			require.Len(t, chunks, side*side)
			for _, c := range chunks {
				assert.LessOrEqual(t, abs(c[0]-tt.wantCX), tt.radius, "chunk %v", c)
				assert.LessOrEqual(t, abs(c[1]-tt.wantCZ), tt.radius, "chunk %v", c)
			}
		})
	}
}

func TestLoad_NegativeRadiusForcesNothing(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := "spawn_chunks:\n  force_loaded_radius_chunks: -4\n"
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))
	require.True(t, f.load(t, inst))
	assert.Empty(t, f.liveWorld(t, inst).ForcedChunks())
}

func TestLoad_HugeRadiusIsClamped(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := "spawn_chunks:\n  force_loaded_radius_chunks: 1000000000\n"
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))
	require.True(t, f.load(t, inst))

	side := 2*settings.MaxForceLoadedRadius + 1
	assert.Len(t, f.liveWorld(t, inst).ForcedChunks(), side*side)
	assert.True(t, f.logs.Contains(logging.LevelWarn, "Force-loaded radius clamped"))
}

func TestLoad_AppliesSpawn(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want host.Location
	}{
		{
			name: "with rotation",
			doc:  "spawn:\n  x: 10.5\n  y: 70\n  z: -3.5\n  yaw: 90\n  pitch: 15\n",
			want: host.Location{X: 10.5, Y: 70, Z: -3.5, Yaw: 90, Pitch: 15},
		},
		{
			name: "yaw without pitch keeps default orientation",
			doc:  "spawn:\n  x: 1\n  y: 2\n  z: 3\n  yaw: 45\n",
			want: host.Location{X: 1, Y: 2, Z: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", tt.doc, true))
			require.True(t, f.load(t, inst))

			w := f.liveWorld(t, inst)
			want := tt.want
			want.World = w.Name()
			assert.Equal(t, want, w.SpawnLocation())
		})
	}
}

func TestLoad_WithoutSpawnKeepsWorldSpawn(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", "autosave: false\n", true))
	require.True(t, f.load(t, inst))

	got := f.liveWorld(t, inst).SpawnLocation()
	assert.Equal(t, 100.5, got.X)
	assert.Equal(t, -17.0, got.Z)
}

func TestLoad_UnknownRuleIsWarnedAndSkipped(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := "gamerules:\n  not_a_real_rule: true\n  keep_inventory: true\n"
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))

	require.True(t, f.load(t, inst), "unknown rules do not fail the load")

	w := f.liveWorld(t, inst)
	assert.Equal(t, 1, w.RuleCount())

	var warned bool
	for _, e := range f.logs.AtLevel(logging.LevelWarn) {
		if e.Message == "Unknown game rule" && e.Attrs["key"] == "not_a_real_rule" {
			warned = true
		}
	}
	assert.True(t, warned, "expected an unknown-rule warning naming the key")
}

func TestLoad_BooleanAndIntegerCoercion(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := "gamerules:\n" +
		"  keep_inventory: \"true\"\n" +
		"  spawn_mobs: nonsense\n" +
		"  random_tick_speed: \"7\"\n"
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))
	require.True(t, f.load(t, inst))

	w := f.liveWorld(t, inst)
	v, ok := w.Rule(ruleKey("keep_inventory"))
	require.True(t, ok)
	assert.Equal(t, rules.Bool(true), v)

	v, ok = w.Rule(ruleKey("spawn_mobs"))
	require.True(t, ok)
	assert.Equal(t, rules.Bool(false), v)

	v, ok = w.Rule(ruleKey("random_tick_speed"))
	require.True(t, ok)
	assert.Equal(t, rules.Int(7), v)
}

func TestLoad_MalformedIntegerIsSkipped(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	doc := "gamerules:\n  random_tick_speed: fast\n"
	inst := f.atlas.LoadFromPath(context.Background(), f.makeWorld(t, "w", doc, true))
	require.True(t, f.load(t, inst))

	_, ok := f.liveWorld(t, inst).Rule(ruleKey("random_tick_speed"))
	assert.False(t, ok)
	assert.True(t, f.logs.Contains(logging.LevelWarn, "Invalid game rule value"))
}

func TestLoad_RecordsCatalogEntry(t *testing.T) {
	cat, err := catalog.Open(catalog.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	f := newFixture(t, fixtureOpts{catalog: cat})
	dir := f.makeWorld(t, "lobby", "{}\n", true)
	inst := f.atlas.LoadFromPath(context.Background(), dir)
	require.True(t, f.load(t, inst))

	id, _ := inst.Identity()
	rec, found, err := cat.Get(context.Background(), dir)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "lobby", rec.Name)
	assert.Equal(t, id, rec.Identity)
	assert.NotZero(t, rec.LastLoadedAt)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
