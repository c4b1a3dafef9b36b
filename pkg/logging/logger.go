// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured, leveled logging for Atlas components.
//
// The logger is built on log/slog and writes to up to three destinations:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Logger                              │
//	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
//	│  │   stderr    │  │  log file   │  │   LogExporter       │ │
//	│  │  (default)  │  │  (optional) │  │   (optional)        │ │
//	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
//	└─────────────────────────────────────────────────────────────┘
//
// # Components
//
// Every subsystem logs through a child logger tagged with its component
// name, so operators can filter the output of a single subsystem:
//
//	log := logging.Default().Component("atlas")
//	log.Warn("unknown game rule", "key", key)
//
// # Log Levels
//
// Five levels are supported:
//
//   - Debug: verbose tracing of lifecycle steps
//   - Info: normal operations (instance registered, scheduler started)
//   - Warn: recoverable issues (unknown rule, unload refused)
//   - Error: operation failures (creation failed, directory skipped)
//   - Fatal: a required resource is missing; logged, never exits the process
//
// # Exporters
//
// A LogExporter receives every entry at or above the configured level,
// synchronously and in order. BufferedExporter keeps entries in memory and
// is what tests use to assert on emitted warnings.
//
// # Thread Safety
//
// Logger is safe for concurrent use.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error < Fatal.
type Level int

const (
	// LevelDebug is for step-by-step lifecycle tracing.
	LevelDebug Level = iota

	// LevelInfo is for significant, expected events.
	LevelInfo

	// LevelWarn is for recoverable problems.
	LevelWarn

	// LevelError is for failed operations.
	LevelError

	// LevelFatal is for missing required resources. It does not exit.
	LevelFatal
)

// slogLevelFatal sits above slog.LevelError so handlers render it distinctly.
const slogLevelFatal = slog.LevelError + 4

// String returns "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string into a Level. Unknown strings map to Info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelFatal:
		return slogLevelFatal
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Logger.
type Config struct {
	// Level is the minimum level written to any destination.
	Level Level

	// LogDir enables a daily JSON log file ({service}_{date}.log). Supports ~.
	LogDir string

	// Service is attached to every record as "service".
	Service string

	// JSON selects the JSON handler for stderr instead of text.
	JSON bool

	// Quiet disables stderr output.
	Quiet bool

	// Output overrides stderr. Nil means os.Stderr.
	Output io.Writer

	// Exporter receives every entry at or above Level.
	Exporter LogExporter
}

// LogExporter forwards log entries to an external sink.
type LogExporter interface {
	// Export delivers one entry. Errors are dropped by the logger.
	Export(ctx context.Context, entry LogEntry) error

	// Flush pushes any buffered entries.
	Flush(ctx context.Context) error

	// Close releases exporter resources.
	Close() error
}

// LogEntry is the exporter's view of a log record.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Component string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog with component tagging and exporter fan-out.
type Logger struct {
	slog      *slog.Logger
	config    Config
	component string
	attrs     []any
	file      *os.File
	exporter  LogExporter
	mu        *sync.Mutex
}

// New creates a Logger from config.
//
// # Description
//
// Builds a stderr handler (text or JSON) unless Quiet is set, adds a JSON
// file handler when LogDir is set and writable, and combines them. A LogDir
// that cannot be created is silently skipped so logging never blocks startup.
//
// # Inputs
//
//   - config: Logger configuration. The zero value logs Debug+ text to stderr.
//
// # Outputs
//
//   - *Logger: Ready to use. Call Close to flush the file and exporter.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level:       config.Level.toSlogLevel(),
		ReplaceAttr: renameFatal,
	}

	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	logger := &Logger{
		config:   config,
		exporter: config.Exporter,
		mu:       &sync.Mutex{},
	}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "atlas"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			file, err := os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = discardHandler{}
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for the "atlas" service.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "atlas",
	})
}

// Discard returns a logger that writes nowhere. Useful as a nil-safe default.
func Discard() *Logger {
	return New(Config{Quiet: true})
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Fatal logs at the fatal level. The process keeps running.
func (l *Logger) Fatal(msg string, args ...any) { l.log(LevelFatal, msg, args...) }

// With returns a child logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	child := l.clone()
	child.slog = l.slog.With(args...)
	child.attrs = append(append([]any{}, l.attrs...), args...)
	return child
}

// Component returns a child logger tagged with component=name.
func (l *Logger) Component(name string) *Logger {
	child := l.clone()
	child.slog = l.slog.With(slog.String("component", name))
	child.component = name
	return child
}

// Slog exposes the underlying slog.Logger for libraries that want one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the exporter and the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
		if err := l.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
	}

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
		if err := l.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.file = nil
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (l *Logger) clone() *Logger {
	return &Logger{
		slog:      l.slog,
		config:    l.config,
		component: l.component,
		attrs:     l.attrs,
		file:      l.file,
		exporter:  l.exporter,
		mu:        l.mu,
	}
}

func (l *Logger) log(level Level, msg string, args ...any) {
	l.slog.Log(context.Background(), level.toSlogLevel(), msg, args...)

	if l.exporter == nil || level < l.config.Level {
		return
	}

	attrs := argsToMap(l.attrs)
	for k, v := range argsToMap(args) {
		attrs[k] = v
	}
	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Service:   l.config.Service,
		Component: l.component,
		Attrs:     attrs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.exporter.Export(ctx, entry)
}

// =============================================================================
// Handlers
// =============================================================================

// multiHandler fans a record out to several handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// renameFatal prints the custom fatal level as "FATAL" instead of "ERROR+4".
func renameFatal(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && len(groups) == 0 {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == slogLevelFatal {
			return slog.String(slog.LevelKey, "FATAL")
		}
	}
	return a
}

// =============================================================================
// Helpers
// =============================================================================

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case slog.Attr:
			result[a.Key] = a.Value.Any()
		case string:
			if i+1 < len(args) {
				result[a] = args[i+1]
				i++
			}
		}
	}
	return result
}

// =============================================================================
// Exporters
// =============================================================================

// NopExporter discards all entries.
type NopExporter struct{}

func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *NopExporter) Flush(ctx context.Context) error                  { return nil }
func (e *NopExporter) Close() error                                     { return nil }

var _ LogExporter = (*NopExporter)(nil)

// BufferedExporter keeps entries in memory.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 100),
	}
}

func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }
func (e *BufferedExporter) Close() error                    { return nil }

// Entries returns a copy of all captured entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

// AtLevel returns the captured entries with exactly the given level.
func (e *BufferedExporter) AtLevel(level Level) []LogEntry {
	var out []LogEntry
	for _, entry := range e.Entries() {
		if entry.Level == level {
			out = append(out, entry)
		}
	}
	return out
}

// Contains reports whether any entry at level has a message containing substr.
func (e *BufferedExporter) Contains(level Level, substr string) bool {
	for _, entry := range e.AtLevel(level) {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

var _ LogExporter = (*BufferedExporter)(nil)

// WriterExporter writes one line per entry to w.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a WriterExporter.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	prefix := ""
	if entry.Component != "" {
		prefix = "[" + entry.Component + "] "
	}
	_, err := fmt.Fprintf(e.w, "[%s] %s: %s%s %v\n",
		entry.Timestamp.Format(time.RFC3339),
		entry.Level,
		prefix,
		entry.Message,
		entry.Attrs,
	)
	return err
}

func (e *WriterExporter) Flush(ctx context.Context) error { return nil }
func (e *WriterExporter) Close() error                    { return nil }

var _ LogExporter = (*WriterExporter)(nil)
