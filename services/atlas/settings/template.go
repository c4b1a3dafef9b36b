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

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed templates/*.yml
var templateFS embed.FS

// FileName is the settings document stored inside every instance directory.
const FileName = "worldsettings.yml"

// ErrTemplateNotFound is returned when no embedded template has the given name.
var ErrTemplateNotFound = errors.New("settings template not found")

// Template returns the raw bytes of the embedded template name.
func Template(name string) ([]byte, error) {
	data, err := templateFS.ReadFile(path.Join("templates", name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, err
	}
	return data, nil
}

// CopyTemplate writes the embedded template name to dest, creating parent
// directories and overwriting any existing file.
func CopyTemplate(name, dest string) error {
	data, err := Template(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", dest, err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return nil
}

// EnsureFile materializes template name at dest when dest does not exist.
// created reports whether a file was written.
func EnsureFile(name, dest string) (created bool, err error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", dest, err)
	}
	if err := CopyTemplate(name, dest); err != nil {
		return false, err
	}
	return true, nil
}
