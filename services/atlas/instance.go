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

import "sync"

// State is where an instance is in its load lifecycle.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	}
	return "unknown"
}

// Instance is one disk-backed world known to Atlas.
//
// Name and Directory never change. Identity is assigned by the engine on
// the first successful load and kept across unloads.
//
// # Thread Safety
//
// Safe for concurrent use. Fields are written on the scheduler goroutine
// and read from callers.
type Instance struct {
	name string
	dir  string

	mu          sync.RWMutex
	identity    string
	hasIdentity bool
	state       State
}

// NewInstance returns an unloaded instance with no identity.
func NewInstance(name, dir string) *Instance {
	return &Instance{name: name, dir: dir}
}

// Name returns the display name.
func (i *Instance) Name() string { return i.name }

// Directory returns the storage directory.
func (i *Instance) Directory() string { return i.dir }

// Identity returns the last-known engine identity.
func (i *Instance) Identity() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.identity, i.hasIdentity
}

// Loaded reports whether the instance is live in the engine.
func (i *Instance) Loaded() bool {
	return i.State() == StateLoaded
}

// State returns the lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Info is a point-in-time copy of an instance, suitable for JSON.
type Info struct {
	Name      string `json:"name"`
	Directory string `json:"directory"`
	Identity  string `json:"identity,omitempty"`
	State     string `json:"state"`
	Loaded    bool   `json:"loaded"`
}

// Info returns a snapshot of the instance.
func (i *Instance) Info() Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Info{
		Name:      i.name,
		Directory: i.dir,
		Identity:  i.identity,
		State:     i.state.String(),
		Loaded:    i.state == StateLoaded,
	}
}

func (i *Instance) setIdentity(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.identity = id
	i.hasIdentity = true
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = s
}

// beginLoading moves Unloaded to Loading and reports whether it did.
func (i *Instance) beginLoading() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateUnloaded {
		return false
	}
	i.state = StateLoading
	return true
}

// markLoaded records the engine identity and sets Loaded in one step so
// readers never see Loaded without an identity.
func (i *Instance) markLoaded(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.identity = id
	i.hasIdentity = true
	i.state = StateLoaded
}
