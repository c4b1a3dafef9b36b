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
	"sort"
	"sync"

	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
)

// World is an in-memory host.World.
type World struct {
	mu        sync.Mutex
	uid       string
	name      string
	dir       string
	spec      host.WorldSpec
	autoSave  bool
	spawn     host.Location
	forced    map[[2]int]bool
	rules     map[rules.Key]rules.Value
	occupants map[string]*Occupant
	engine    *Engine
}

func (w *World) UID() string  { return w.uid }
func (w *World) Name() string { return w.name }

// Dir returns the directory the world was created from.
func (w *World) Dir() string { return w.dir }

// Spec returns the spec the world was created with.
func (w *World) Spec() host.WorldSpec { return w.spec }

func (w *World) SetAutoSave(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.autoSave = enabled
}

// AutoSave reports the autosave flag.
func (w *World) AutoSave() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.autoSave
}

func (w *World) SpawnLocation() host.Location {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawn
}

func (w *World) SetSpawnLocation(loc host.Location) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	loc.World = w.name
	w.spawn = loc
	return true
}

func (w *World) SetChunkForceLoaded(x, z int, forced bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if forced {
		w.forced[[2]int{x, z}] = true
	} else {
		delete(w.forced, [2]int{x, z})
	}
}

// ForcedChunks returns force-loaded chunk coordinates sorted by x then z.
func (w *World) ForcedChunks() [][2]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][2]int, 0, len(w.forced))
	for c := range w.forced {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// SetRule stores value when the engine supports def with the same type.
func (w *World) SetRule(def rules.Definition, value rules.Value) bool {
	known, ok := w.engine.supports(def.Key)
	if !ok || known.Type != value.Type() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules[def.Key] = value
	return true
}

// Rule returns the value set for key.
func (w *World) Rule(key rules.Key) (rules.Value, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.rules[key]
	return v, ok
}

// RuleCount returns how many rules have been set.
func (w *World) RuleCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rules)
}

// AddOccupant places a new occupant at the world spawn.
func (w *World) AddOccupant(id string) *Occupant {
	w.mu.Lock()
	defer w.mu.Unlock()
	o := &Occupant{id: id, loc: w.spawn, world: w}
	w.occupants[id] = o
	return o
}

func (w *World) Occupants() []host.Occupant {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.occupants))
	for id := range w.occupants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]host.Occupant, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.occupants[id])
	}
	return out
}

func (w *World) removeOccupant(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.occupants, id)
}

// Occupant is an in-memory host.Occupant.
type Occupant struct {
	mu    sync.Mutex
	id    string
	loc   host.Location
	world *World
}

func (o *Occupant) ID() string { return o.id }

// Teleport moves the occupant. Leaving its world removes it from that
// world's occupant list.
func (o *Occupant) Teleport(to host.Location) bool {
	o.mu.Lock()
	prev := o.world
	o.loc = to
	if prev != nil && to.World != prev.name {
		o.world = nil
	}
	o.mu.Unlock()

	if prev != nil && to.World != prev.name {
		prev.removeOccupant(o.id)
	}
	return true
}

// Location returns the current position.
func (o *Occupant) Location() host.Location {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loc
}
