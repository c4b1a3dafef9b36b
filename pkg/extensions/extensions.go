// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines optional hooks that hosts can plug into the
// admin API without changing it.
//
// Every hook has a no-op default, so a local single-user deployment works
// with DefaultOptions. Implementations must be safe for concurrent use.
package extensions

// Options groups the extension points.
//
// Example:
//
//	opts := extensions.DefaultOptions().WithAudit(extensions.NewLogAuditLogger(logger, 512))
type Options struct {
	// AuditLogger records state-changing operations.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns Options with no-op defaults.
func DefaultOptions() Options {
	return Options{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts with the given AuditLogger. A nil
// logger keeps the current one.
func (opts Options) WithAudit(logger AuditLogger) Options {
	if logger != nil {
		opts.AuditLogger = logger
	}
	return opts
}
