// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memhost is an in-memory host engine. It keeps world state in maps
// but touches the filesystem the way a real engine does: creating a world
// makes its directory and writes uid.dat, and reopening a directory reuses
// the UID stored there.
//
// Thread Safety:
//
//	All methods are safe for concurrent use so tests can inspect state
//	from outside the scheduler goroutine.
package memhost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
)

// Config configures an Engine.
type Config struct {
	// Rules are the supported rules. SetRule refuses anything else.
	Rules []rules.Definition

	// Fallback is returned by FallbackLocation.
	Fallback host.Location

	// DefaultSpawn is the spawn of newly created worlds.
	DefaultSpawn host.Location
}

// Engine is an in-memory host.Engine.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	known    map[rules.Key]rules.Definition
	worlds   map[string]*World
	creates  int
	unloads  []UnloadCall
	failWith error
	refuse   bool
}

// UnloadCall records one accepted UnloadWorld call.
type UnloadCall struct {
	UID  string
	Save bool
}

// ErrCreateFailed is the default error injected by FailCreate.
var ErrCreateFailed = errors.New("world creation failed")

// New returns an Engine with no live worlds.
func New(cfg Config) *Engine {
	known := make(map[rules.Key]rules.Definition, len(cfg.Rules))
	for _, def := range cfg.Rules {
		known[def.Key] = def
	}
	return &Engine{
		cfg:    cfg,
		known:  known,
		worlds: make(map[string]*World),
	}
}

// CreateWorld opens the world stored at spec.Path, creating the directory
// and marker file when missing. Reopening a live world returns it.
func (e *Engine) CreateWorld(spec host.WorldSpec) (host.World, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.creates++
	if e.failWith != nil {
		return nil, e.failWith
	}

	dir := filepath.FromSlash(spec.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating world directory: %w", err)
	}
	uid, err := readOrWriteMarker(filepath.Join(dir, host.MarkerFile))
	if err != nil {
		return nil, err
	}
	if w, ok := e.worlds[uid]; ok {
		return w, nil
	}

	spawn := e.cfg.DefaultSpawn
	spawn.World = spec.Path
	w := &World{
		uid:       uid,
		name:      spec.Path,
		dir:       dir,
		spec:      spec,
		spawn:     spawn,
		forced:    make(map[[2]int]bool),
		rules:     make(map[rules.Key]rules.Value),
		occupants: make(map[string]*Occupant),
		engine:    e,
	}
	e.worlds[uid] = w
	return w, nil
}

// World returns the live world with uid.
func (e *Engine) World(uid string) (host.World, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.worlds[uid]
	if !ok {
		return nil, false
	}
	return w, true
}

// UnloadWorld removes w from the live set unless refusal is injected.
func (e *Engine) UnloadWorld(w host.World, save bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refuse {
		return false
	}
	if _, ok := e.worlds[w.UID()]; !ok {
		return false
	}
	delete(e.worlds, w.UID())
	e.unloads = append(e.unloads, UnloadCall{UID: w.UID(), Save: save})
	return true
}

// FallbackLocation returns the configured fallback.
func (e *Engine) FallbackLocation() host.Location {
	return e.cfg.Fallback
}

// Rules returns the configured rule definitions.
func (e *Engine) Rules() []rules.Definition {
	out := make([]rules.Definition, len(e.cfg.Rules))
	copy(out, e.cfg.Rules)
	return out
}

// =============================================================================
// Inspection and fault injection
// =============================================================================

// Creations returns how many times CreateWorld was called.
func (e *Engine) Creations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.creates
}

// Unloads returns the accepted unload calls in order.
func (e *Engine) Unloads() []UnloadCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]UnloadCall, len(e.unloads))
	copy(out, e.unloads)
	return out
}

// Live returns the UIDs of live worlds, sorted.
func (e *Engine) Live() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.worlds))
	for uid := range e.worlds {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// LiveWorld returns the concrete live world with uid.
func (e *Engine) LiveWorld(uid string) (*World, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.worlds[uid]
	return w, ok
}

// FailCreate makes CreateWorld return err. Nil clears the fault.
func (e *Engine) FailCreate(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failWith = err
}

// RefuseUnload makes UnloadWorld return false while refuse is true.
func (e *Engine) RefuseUnload(refuse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refuse = refuse
}

// Evict drops a world without going through UnloadWorld, as when another
// plugin unloads it behind Atlas's back.
func (e *Engine) Evict(uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.worlds, uid)
}

func (e *Engine) supports(key rules.Key) (rules.Definition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.known[key]
	return def, ok
}

// readOrWriteMarker returns the UID stored in path, writing a fresh one
// when the file does not exist.
func readOrWriteMarker(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id, err := uuid.FromBytes(data)
		if err != nil {
			return "", fmt.Errorf("corrupt %s: %w", path, err)
		}
		return id.String(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	id := uuid.New()
	if err := os.WriteFile(path, id[:], 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return id.String(), nil
}
