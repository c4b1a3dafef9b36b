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
	"context"
	"sync"
)

// Future is the pending result of a Load. It has no timeout of its own.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result bool
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(v bool) *Future {
	f := newFuture()
	f.resolve(v)
	return f
}

func (f *Future) resolve(v bool) {
	f.once.Do(func() {
		f.result = v
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Poll returns the result and true if resolved, or false, false if not.
func (f *Future) Poll() (result, done bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return false, false
	}
}

// Wait blocks until the result is available or ctx ends. A ctx error only
// abandons the wait; the load continues.
func (f *Future) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
