// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that end up
// in registry lookups or on-disk paths.
//
// Namespaced keys follow the host platform's rules: a lowercase namespace and
// a lowercase path joined by a colon. Instance names become directory names,
// so anything that could escape the parent directory is rejected.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namespacePattern matches the namespace half of a key (e.g. "minecraft").
var namespacePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// keyPathPattern matches the path half of a key (e.g. "do_daylight_cycle").
var keyPathPattern = regexp.MustCompile(`^[a-z0-9/._-]+$`)

// MaxInstanceNameLength bounds instance names to a portable directory name length.
const MaxInstanceNameLength = 255

// ValidateNamespace validates the namespace portion of a namespaced key.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace cannot be empty")
	}
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("invalid namespace: %q (allowed: a-z 0-9 . _ -)", ns)
	}
	return nil
}

// ValidateKeyPath validates the path portion of a namespaced key.
func ValidateKeyPath(path string) error {
	if path == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if !keyPathPattern.MatchString(path) {
		return fmt.Errorf("invalid key: %q (allowed: a-z 0-9 / . _ -)", path)
	}
	return nil
}

// SplitNamespacedKey splits "ns:path" into its parts, applying defaultNamespace
// when s has no colon. Both parts are validated.
//
// Example:
//
//	ns, path, err := SplitNamespacedKey("advance_time", "minecraft")
//	// ns == "minecraft", path == "advance_time"
func SplitNamespacedKey(s, defaultNamespace string) (string, string, error) {
	ns, path, found := strings.Cut(s, ":")
	if !found {
		ns, path = defaultNamespace, s
	}
	if err := ValidateNamespace(ns); err != nil {
		return "", "", err
	}
	if err := ValidateKeyPath(path); err != nil {
		return "", "", err
	}
	return ns, path, nil
}

// ValidateInstanceName rejects names that are empty, too long, or could
// address anything other than a single child directory.
func ValidateInstanceName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxInstanceNameLength {
		return fmt.Errorf("instance name too long: %d > %d", len(name), MaxInstanceNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("invalid instance name: %q", name)
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("instance name must not contain path separators: %q", name)
	}
	return nil
}
