// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch notices instance directories appearing under a worlds root.
//
// A directory is reported once it contains the identity marker file, so
// copying a world in from outside (or a duplicate being loaded for the
// first time) surfaces it without a rescan.
package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/services/atlas/host"
)

// Handler receives directories that gained the marker file since the last
// call, sorted. It runs on the watcher's debounce goroutine.
type Handler func(dirs []string)

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long to wait for more events before reporting.
	// Default: 250ms.
	DebounceWindow time.Duration

	// ReportExisting reports directories that already have the marker when
	// Start is called.
	ReportExisting bool

	// BufferSize is the size of the candidate channel. Default: 256.
	BufferSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 250 * time.Millisecond,
		BufferSize:     256,
	}
}

// Watcher watches a worlds root and its immediate subdirectories.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single goroutine.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	handler  Handler
	opts     Options
	logger   *logging.Logger
	pending  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
	reported map[string]bool
}

// New creates a watcher for root. Call Start to begin watching.
func New(root string, handler Handler, opts *Options, logger *logging.Logger) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}
	o := DefaultOptions()
	if opts != nil {
		if opts.DebounceWindow > 0 {
			o.DebounceWindow = opts.DebounceWindow
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
		o.ReportExisting = opts.ReportExisting
	}
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:     abs,
		watcher:  fw,
		handler:  handler,
		opts:     o,
		logger:   logger.Component("watch"),
		pending:  make(chan string, o.BufferSize),
		done:     make(chan struct{}),
		reported: make(map[string]bool),
	}, nil
}

// Start watches root and every immediate subdirectory.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.root); err != nil {
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	var existing []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.root, e.Name())
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("Could not watch directory", "dir", dir, "error", err)
		}
		if hasMarker(dir) {
			existing = append(existing, dir)
		}
	}

	w.mu.Lock()
	for _, dir := range existing {
		w.reported[dir] = true
	}
	w.mu.Unlock()
	if w.opts.ReportExisting && len(existing) > 0 {
		w.handler(existing)
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops watching. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether Start has run and Stop has not.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if dir := w.candidate(event); dir != "" {
				select {
				case w.pending <- dir:
				default:
					w.logger.Warn("Watch buffer full, dropping event", "dir", dir)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watch error", "error", err)
		}
	}
}

// candidate maps an event to the instance directory it may affect.
func (w *Watcher) candidate(event fsnotify.Event) string {
	parent := filepath.Dir(event.Name)
	switch {
	case parent == w.root:
		if event.Has(fsnotify.Create) && isDir(event.Name) {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn("Could not watch directory", "dir", event.Name, "error", err)
			}
		}
		return event.Name
	case filepath.Dir(parent) == w.root && filepath.Base(event.Name) == host.MarkerFile:
		return parent
	}
	return ""
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	batch := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			if dirs := w.settle(batch); len(dirs) > 0 {
				w.handler(dirs)
			}
			batch = make(map[string]bool)
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case dir := <-w.pending:
			batch[dir] = true
			if timer == nil {
				timer = time.NewTimer(w.opts.DebounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.DebounceWindow)
			}
		case <-timerC:
			flush()
		}
	}
}

// settle returns the candidates that newly have the marker and forgets
// candidates that lost it, so a directory recreated later is reported again.
func (w *Watcher) settle(batch map[string]bool) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for dir := range batch {
		if hasMarker(dir) {
			if !w.reported[dir] {
				w.reported[dir] = true
				out = append(out, dir)
			}
		} else {
			delete(w.reported, dir)
		}
	}
	sort.Strings(out)
	return out
}

func hasMarker(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, host.MarkerFile))
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Root returns the watched directory.
func (w *Watcher) Root() string { return w.root }

// Reported returns every directory currently known to have the marker.
func (w *Watcher) Reported() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.reported))
	for dir := range w.reported {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}
