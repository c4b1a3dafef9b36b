// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package atlas manages the lifecycle of disk-backed world instances inside
// a host engine: discovering them on disk, loading them with their
// per-instance settings, and unloading, deleting and duplicating them.
//
// # Threading model
//
// The host engine may only be touched from the authoritative scheduler
// goroutine. Atlas does filesystem work on the caller's goroutine and
// marshals every engine call onto the scheduler, resolving results back
// through a Future (Load) or a blocking call (Unload).
//
// # Thread Safety
//
// An Atlas is safe for concurrent use. The registry is guarded by a single
// RWMutex; each Instance guards its own fields.
package atlas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas/catalog"
	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/rules"
	"github.com/AleutianAI/atlas/services/atlas/scheduler"
	"github.com/AleutianAI/atlas/services/atlas/settings"
)

// Catalog persists last-known identities. *catalog.Catalog implements it.
type Catalog interface {
	Put(ctx context.Context, rec catalog.Record) error
	Get(ctx context.Context, dir string) (catalog.Record, bool, error)
	Delete(ctx context.Context, dir string) error
}

// Config holds Atlas settings.
//
// # Fields
//
//   - SettingsFile: Per-instance settings file name. Default: worldsettings.yml.
//   - DefaultNamespace: Namespace for bare rule keys when the rule
//     registry is built from the engine. Default: minecraft.
type Config struct {
	SettingsFile     string
	DefaultNamespace string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		SettingsFile:     settings.FileName,
		DefaultNamespace: rules.DefaultNamespace,
	}
}

// Dependencies are the collaborators Atlas drives.
type Dependencies struct {
	// Engine is required.
	Engine host.Engine

	// Scheduler is required. Atlas never starts or stops it.
	Scheduler *scheduler.Scheduler

	// Rules resolves gamerules keys. When nil it is built from
	// Engine.Rules(), or from the embedded catalogue if the engine lists none.
	Rules *rules.Registry

	// Catalog is optional.
	Catalog Catalog

	// Logger is optional; nil discards output.
	Logger *logging.Logger

	// Now is optional; used for catalog timestamps.
	Now func() time.Time
}

// Atlas is the registry of instances.
type Atlas struct {
	cfg     Config
	engine  host.Engine
	sched   *scheduler.Scheduler
	rules   *rules.Registry
	catalog Catalog
	logger  *logging.Logger
	now     func() time.Time
	newID   func() string

	mu        sync.RWMutex
	instances []*Instance

	loads singleflight.Group

	hookMu   sync.RWMutex
	onUnload []func(*Instance)
}

// New builds an Atlas.
//
// # Inputs
//
//   - cfg: Settings. Zero fields take defaults.
//   - deps: Collaborators. Engine and Scheduler are required.
//
// # Outputs
//
//   - *Atlas: Ready to use.
//   - error: Non-nil if a required dependency is missing or the rule
//     registry cannot be built.
func New(cfg Config, deps Dependencies) (*Atlas, error) {
	if deps.Engine == nil {
		return nil, errors.New("atlas: engine is required")
	}
	if deps.Scheduler == nil {
		return nil, errors.New("atlas: scheduler is required")
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = settings.FileName
	}
	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = rules.DefaultNamespace
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	reg := deps.Rules
	if reg == nil {
		var err error
		if defs := deps.Engine.Rules(); len(defs) > 0 {
			reg, err = rules.NewRegistry(cfg.DefaultNamespace, defs...)
		} else {
			reg, err = rules.DefaultRegistry(context.Background())
		}
		if err != nil {
			return nil, fmt.Errorf("atlas: building rule registry: %w", err)
		}
	}

	a := &Atlas{
		cfg:     cfg,
		engine:  deps.Engine,
		sched:   deps.Scheduler,
		rules:   reg,
		catalog: deps.Catalog,
		logger:  logger.Component("atlas"),
		now:     now,
		newID:   uuid.NewString,
	}
	a.logger.Info("Started Atlas (world manager)", "rules", reg.Len())
	return a, nil
}

// =============================================================================
// Process-wide instance
// =============================================================================

var (
	defaultMu    sync.Mutex
	defaultAtlas *Atlas
)

// Init creates the process-wide Atlas. A second call returns
// ErrAlreadyInitialized and leaves the first instance in place.
func Init(cfg Config, deps Dependencies) (*Atlas, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAtlas != nil {
		return nil, ErrAlreadyInitialized
	}
	a, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	defaultAtlas = a
	return a, nil
}

// Default returns the process-wide Atlas.
func Default() (*Atlas, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultAtlas == nil {
		return nil, ErrNotInitialized
	}
	return defaultAtlas, nil
}

// ResetDefault forgets the process-wide Atlas so Init can run again.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultAtlas = nil
}

// =============================================================================
// Registry
// =============================================================================

// Lookup returns the first instance named name (case-sensitive).
func (a *Atlas) Lookup(name string) (*Instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, inst := range a.instances {
		if inst.Name() == name {
			return inst, true
		}
	}
	return nil, false
}

// LookupIdentity returns the first instance whose last-known identity
// equals id, ignoring case.
func (a *Atlas) LookupIdentity(id string) (*Instance, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, inst := range a.instances {
		if known, ok := inst.Identity(); ok && strings.EqualFold(known, id) {
			return inst, true
		}
	}
	return nil, false
}

// Register appends inst. Names are not checked for uniqueness.
func (a *Atlas) Register(inst *Instance) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.instances = append(a.instances, inst)
	registeredInstances.Set(float64(len(a.instances)))
	return true
}

// Unregister removes inst by pointer. Returns false if it was not registered.
func (a *Atlas) Unregister(inst *Instance) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, candidate := range a.instances {
		if candidate == inst {
			a.instances = append(a.instances[:i], a.instances[i+1:]...)
			registeredInstances.Set(float64(len(a.instances)))
			return true
		}
	}
	return false
}

// Instances returns a snapshot of the registry in registration order.
func (a *Atlas) Instances() []*Instance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Instance, len(a.instances))
	copy(out, a.instances)
	return out
}

// Rules returns the rule registry used for gamerules sections.
func (a *Atlas) Rules() *rules.Registry { return a.rules }

// OnUnload registers fn to run after every successful unload, on the
// caller's goroutine. Hosts use it to drop per-world listeners.
func (a *Atlas) OnUnload(fn func(*Instance)) {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	a.onUnload = append(a.onUnload, fn)
}

func (a *Atlas) runUnloadHooks(inst *Instance) {
	a.hookMu.RLock()
	hooks := make([]func(*Instance), len(a.onUnload))
	copy(hooks, a.onUnload)
	a.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(inst)
	}
}
