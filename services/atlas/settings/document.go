// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings reads and writes the per-instance settings document
// (worldsettings.yml) and materializes it from an embedded template.
//
// A Document is a thin view over a YAML mapping node. Keeping the node
// instead of decoding into a map preserves key order, which matters for
// sections such as gamerules that are applied in the order they are written.
// Paths use '.' as a separator: "spawn_chunks.force_loaded_radius_chunks".
package settings

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxDocumentSize bounds settings files read from disk.
const MaxDocumentSize = 1024 * 1024

// ErrNotMapping is returned when a document's root is not a YAML mapping.
var ErrNotMapping = errors.New("settings document root is not a mapping")

// Document is a structured key/value settings document.
type Document struct {
	root *yaml.Node
}

// New returns an empty document.
func New() *Document {
	return &Document{root: &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// Parse parses YAML bytes into a Document. Empty input yields an empty document.
func Parse(data []byte) (*Document, error) {
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("settings document too large: %d bytes (max %d)", len(data), MaxDocumentSize)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing settings document: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return New(), nil
	}
	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return New(), nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	return &Document{root: root}, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Save writes the document to path, creating parent directories.
func (d *Document) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := yaml.Marshal(d.root)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Keys returns the top-level keys in document order.
func (d *Document) Keys() []string {
	if d == nil || d.root == nil {
		return nil
	}
	keys := make([]string, 0, len(d.root.Content)/2)
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		keys = append(keys, d.root.Content[i].Value)
	}
	return keys
}

// Has reports whether path exists (a present null value counts).
func (d *Document) Has(path string) bool {
	return d.node(path) != nil
}

// Get returns the decoded value at path: bool, int, float64, string,
// map[string]any, []any, or nil when missing or null.
func (d *Document) Get(path string) any {
	n := d.node(path)
	if n == nil {
		return nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Child returns the decoded value stored under the top-level key, taken
// literally: dots in key are not path separators. Missing or null values
// yield nil.
func (d *Document) Child(key string) any {
	if d == nil || d.root == nil {
		return nil
	}
	n := lookup(d.root, key)
	if n == nil {
		return nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Section returns the mapping at path as a Document.
func (d *Document) Section(path string) (*Document, bool) {
	n := d.node(path)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, false
	}
	return &Document{root: n}, true
}

// Bool returns the boolean at path, or def when the value is missing or not a boolean.
func (d *Document) Bool(path string, def bool) bool {
	if b, ok := d.Get(path).(bool); ok {
		return b
	}
	return def
}

// Int returns the number at path truncated to int, or def when the value
// is missing or not a number.
func (d *Document) Int(path string, def int) int {
	switch v := d.Get(path).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		if v > math.MaxInt {
			return def
		}
		return int(v)
	case float64:
		if math.IsNaN(v) || v < math.MinInt || v >= math.MaxInt {
			return def
		}
		return int(v)
	}
	return def
}

// Float returns the number at path as float64, or def when missing or not a number.
func (d *Document) Float(path string, def float64) float64 {
	switch v := d.Get(path).(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// String returns the scalar at path as a string, or def when missing or not a scalar.
func (d *Document) String(path, def string) string {
	n := d.node(path)
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return def
	}
	return n.Value
}

// Set stores value at path, creating intermediate mappings as needed.
func (d *Document) Set(path string, value any) error {
	parts := strings.Split(path, ".")
	cur := d.root
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid settings path %q", path)
		}
		child := lookup(cur, part)
		if i == len(parts)-1 {
			var valueNode yaml.Node
			if err := valueNode.Encode(value); err != nil {
				return fmt.Errorf("encoding %s: %w", path, err)
			}
			if child != nil {
				*child = valueNode
			} else {
				cur.Content = append(cur.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part},
					&valueNode)
			}
			return nil
		}
		if child == nil {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			cur.Content = append(cur.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part},
				child)
		}
		if child.Kind != yaml.MappingNode {
			return fmt.Errorf("settings path %q: %q is not a section", path, part)
		}
		cur = child
	}
	return nil
}

func (d *Document) node(path string) *yaml.Node {
	if d == nil || d.root == nil || path == "" {
		return nil
	}
	cur := d.root
	for _, part := range strings.Split(path, ".") {
		if cur.Kind != yaml.MappingNode {
			return nil
		}
		cur = lookup(cur, part)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// lookup finds key in a mapping node, following aliases.
func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return resolve(mapping.Content[i+1])
		}
	}
	return nil
}

func resolve(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}
