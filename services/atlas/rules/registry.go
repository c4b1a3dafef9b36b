// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules holds the catalogue of per-instance behavior rules and
// applies a settings section of rule values to a live instance.
//
// A rule is identified by a namespaced key ("minecraft:keep_inventory") and
// declares one of two value types. Raw values from settings documents are
// converted with Coerce, a pure function over the declared type.
//
// Thread Safety:
//
//	A Registry is immutable after construction and safe for concurrent use.
package rules

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/atlas/pkg/validation"
)

// DefaultNamespace is applied to bare rule keys.
const DefaultNamespace = "minecraft"

// Key is a namespaced rule identifier.
type Key struct {
	Namespace string
	Name      string
}

// String returns "namespace:name".
func (k Key) String() string {
	return k.Namespace + ":" + k.Name
}

// ParseKey parses "ns:name" or a bare "name" (which gets defaultNamespace).
// Both halves must be lowercase namespaced-key characters.
func ParseKey(s, defaultNamespace string) (Key, error) {
	ns, name, err := validation.SplitNamespacedKey(s, defaultNamespace)
	if err != nil {
		return Key{}, fmt.Errorf("parsing rule key %q: %w", s, err)
	}
	return Key{Namespace: ns, Name: name}, nil
}

// Definition declares a rule and its value type.
type Definition struct {
	Key  Key
	Type ValueType
}

// Registry maps rule keys to definitions.
type Registry struct {
	defs             map[Key]Definition
	defaultNamespace string
}

// NewRegistry builds a registry from defs. An empty defaultNamespace
// means DefaultNamespace. Duplicate keys and undeclared types are errors.
func NewRegistry(defaultNamespace string, defs ...Definition) (*Registry, error) {
	if defaultNamespace == "" {
		defaultNamespace = DefaultNamespace
	}
	if err := validation.ValidateNamespace(defaultNamespace); err != nil {
		return nil, fmt.Errorf("default namespace: %w", err)
	}
	r := &Registry{
		defs:             make(map[Key]Definition, len(defs)),
		defaultNamespace: defaultNamespace,
	}
	for _, def := range defs {
		if def.Type != TypeBoolean && def.Type != TypeInteger {
			return nil, fmt.Errorf("rule %s: invalid type %d", def.Key, def.Type)
		}
		if _, _, err := validation.SplitNamespacedKey(def.Key.String(), defaultNamespace); err != nil {
			return nil, fmt.Errorf("rule %s: %w", def.Key, err)
		}
		if _, dup := r.defs[def.Key]; dup {
			return nil, fmt.Errorf("duplicate rule %s", def.Key)
		}
		r.defs[def.Key] = def
	}
	return r, nil
}

// Lookup resolves a raw settings key. Keys that fail namespaced-key
// validation resolve to nothing, the same as unknown keys.
func (r *Registry) Lookup(raw string) (Definition, bool) {
	key, err := ParseKey(raw, r.defaultNamespace)
	if err != nil {
		return Definition{}, false
	}
	return r.Get(key)
}

// Get returns the definition for key.
func (r *Registry) Get(key Key) (Definition, bool) {
	def, ok := r.defs[key]
	return def, ok
}

// Definitions returns all definitions sorted by key.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Len returns the number of rules.
func (r *Registry) Len() int { return len(r.defs) }

// DefaultNamespace returns the namespace applied to bare keys.
func (r *Registry) DefaultNamespace() string { return r.defaultNamespace }
