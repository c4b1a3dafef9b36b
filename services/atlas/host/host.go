// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host defines the surface of the simulation engine that owns live
// worlds. Atlas drives it; memhost implements it in memory.
//
// Thread Safety:
//
//	Engine and World methods are only called from the authoritative
//	scheduler goroutine. Implementations need not be safe for concurrent
//	use unless they are also read elsewhere.
package host

import (
	"math"

	"github.com/AleutianAI/atlas/services/atlas/rules"
)

// MarkerFile is written by the engine into a world directory on first
// creation. Its presence means the directory already held a world.
const MarkerFile = "uid.dat"

// ChunkShift converts a block coordinate to a chunk coordinate.
const ChunkShift = 4

// Environment selects the dimension type of a new world.
type Environment int

const (
	EnvironmentNormal Environment = iota
	EnvironmentNether
	EnvironmentEnd
)

func (e Environment) String() string {
	switch e {
	case EnvironmentNormal:
		return "normal"
	case EnvironmentNether:
		return "nether"
	case EnvironmentEnd:
		return "end"
	}
	return "unknown"
}

// WorldType selects the terrain preset.
type WorldType int

const (
	WorldTypeNormal WorldType = iota
	WorldTypeFlat
)

func (t WorldType) String() string {
	switch t {
	case WorldTypeNormal:
		return "normal"
	case WorldTypeFlat:
		return "flat"
	}
	return "unknown"
}

// VoidGenerator names the generator that produces empty terrain.
const VoidGenerator = "void"

// WorldSpec describes a world to create or reopen.
type WorldSpec struct {
	// Path is the world directory with forward slashes. The engine uses it
	// both as the world name and as its storage location.
	Path               string
	Environment        Environment
	Type               WorldType
	Generator          string
	GenerateStructures bool
}

// Location is a position in a world.
type Location struct {
	World      string
	X, Y, Z    float64
	Yaw, Pitch float32
}

// BlockX returns the block column containing X.
func (l Location) BlockX() int { return int(math.Floor(l.X)) }

// BlockZ returns the block row containing Z.
func (l Location) BlockZ() int { return int(math.Floor(l.Z)) }

// ChunkX returns the chunk column containing X.
func (l Location) ChunkX() int { return l.BlockX() >> ChunkShift }

// ChunkZ returns the chunk row containing Z.
func (l Location) ChunkZ() int { return l.BlockZ() >> ChunkShift }

// Occupant is an entity inside a world that must be moved out before the
// world can be unloaded.
type Occupant interface {
	ID() string
	Teleport(to Location) bool
}

// World is a live world.
type World interface {
	rules.Target

	UID() string
	Name() string
	SetAutoSave(enabled bool)
	SpawnLocation() Location
	SetSpawnLocation(loc Location) bool
	SetChunkForceLoaded(x, z int, forced bool)
	Occupants() []Occupant
}

// Engine creates, finds and unloads worlds.
type Engine interface {
	// CreateWorld creates or reopens the world described by spec. A nil
	// world with a nil error is also a failure.
	CreateWorld(spec WorldSpec) (World, error)

	// World returns the live world with the given UID.
	World(uid string) (World, bool)

	// UnloadWorld deactivates w, saving it first when save is true.
	// Returns false when the engine refuses.
	UnloadWorld(w World, save bool) bool

	// FallbackLocation is where occupants go when their world unloads.
	FallbackLocation() Location

	// Rules lists the rules the engine supports.
	Rules() []rules.Definition
}
