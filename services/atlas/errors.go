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

import (
	"errors"

	"github.com/AleutianAI/atlas/services/atlas/scheduler"
)

var (
	// ErrAlreadyInitialized is returned by Init when the process-wide Atlas exists.
	ErrAlreadyInitialized = errors.New("atlas is already initialized")

	// ErrNotInitialized is returned by Default before Init.
	ErrNotInitialized = errors.New("atlas is not initialized")

	// ErrInvalidDirectory is returned when an instance directory cannot be
	// resolved. Nothing is scheduled when Load returns it.
	ErrInvalidDirectory = errors.New("invalid instance directory")

	// ErrSchedulerStopped aliases scheduler.ErrStopped so callers need not
	// import the scheduler package to test for it.
	ErrSchedulerStopped = scheduler.ErrStopped
)
