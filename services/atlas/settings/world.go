// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

// Keys read from worldsettings.yml.
const (
	KeyAutoSave          = "autosave"
	KeyForceLoadedRadius = "spawn_chunks.force_loaded_radius_chunks"
	KeyGameRules         = "gamerules"
	KeySpawn             = "spawn"
)

// MaxForceLoadedRadius bounds the force-loaded square around spawn to
// (2*32+1)^2 chunks.
const MaxForceLoadedRadius = 32

// SpawnPoint is a configured spawn position. Yaw and Pitch are meaningful
// only when HasRotation is true.
type SpawnPoint struct {
	X, Y, Z     float64
	Yaw, Pitch  float32
	HasRotation bool
}

// WorldSettings is the typed view of an instance settings document.
type WorldSettings struct {
	AutoSave bool

	// ForceLoadedRadius is the chunk radius kept resident around spawn,
	// clamped to [0, MaxForceLoadedRadius].
	ForceLoadedRadius int

	// RequestedRadius is the radius as written in the document.
	RequestedRadius int

	// GameRules is the gamerules section, nil when absent.
	GameRules *Document

	// Spawn is nil when the document has no spawn section.
	Spawn *SpawnPoint
}

// ReadWorldSettings extracts the sections consumed at load time. Missing
// keys fall back to defaults: autosave off, radius 0, no rules, no spawn.
func ReadWorldSettings(doc *Document) WorldSettings {
	requested := doc.Int(KeyForceLoadedRadius, 0)
	ws := WorldSettings{
		AutoSave:          doc.Bool(KeyAutoSave, false),
		ForceLoadedRadius: min(max(requested, 0), MaxForceLoadedRadius),
		RequestedRadius:   requested,
	}
	if rules, ok := doc.Section(KeyGameRules); ok {
		ws.GameRules = rules
	}
	if spawn, ok := doc.Section(KeySpawn); ok {
		sp := ParseSpawn(spawn)
		ws.Spawn = &sp
	}
	return ws
}

// ParseSpawn reads x, y, z and, when both are present, yaw and pitch.
// Missing coordinates read as 0.
func ParseSpawn(section *Document) SpawnPoint {
	sp := SpawnPoint{
		X: section.Float("x", 0),
		Y: section.Float("y", 0),
		Z: section.Float("z", 0),
	}
	if section.Has("yaw") && section.Has("pitch") {
		sp.Yaw = float32(section.Float("yaw", 0))
		sp.Pitch = float32(section.Float("pitch", 0))
		sp.HasRotation = true
	}
	return sp
}
