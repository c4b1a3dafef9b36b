// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/atlas/pkg/logging"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditEvent is one state-changing operation.
//
// # Event Types
//
// Format is "category.action":
//   - "instance.load", "instance.unload", "instance.duplicate", "instance.delete"
//   - "folder.scan"
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "instance.delete",
//	    UserID:       "anonymous",
//	    Action:       "delete",
//	    ResourceType: "instance",
//	    ResourceID:   "lobby",
//	    Outcome:      OutcomeSuccess,
//	}
type AuditEvent struct {
	// EventType categorizes the event.
	EventType string `json:"event_type"`

	// Timestamp is when the event occurred. Log sets it to now (UTC) when zero.
	Timestamp time.Time `json:"timestamp"`

	// UserID identifies the caller. "anonymous" when unknown.
	UserID string `json:"user_id"`

	// Action is the operation: "load", "unload", "duplicate", "delete", "scan".
	Action string `json:"action"`

	// ResourceType is "instance" or "folder".
	ResourceType string `json:"resource_type"`

	// ResourceID is the instance name or folder path.
	ResourceID string `json:"resource_id"`

	// Outcome is OutcomeSuccess or OutcomeFailure.
	Outcome string `json:"outcome"`

	// Metadata holds event-specific details such as "request_id" or "error".
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects events. Zero fields do not filter; set fields are
// combined with AND.
type AuditFilter struct {
	// EventTypes limits results to these types.
	EventTypes []string

	// ResourceID limits results to one instance or folder.
	ResourceID string

	// Outcome limits results to one outcome.
	Outcome string

	// StartTime is inclusive.
	StartTime time.Time

	// EndTime is exclusive.
	EndTime time.Time

	// Limit caps the result count. Zero means no cap.
	Limit int
}

// Matches reports whether event passes the filter.
func (f AuditFilter) Matches(event AuditEvent) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ResourceID != "" && f.ResourceID != event.ResourceID {
		return false
	}
	if f.Outcome != "" && f.Outcome != event.Outcome {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !event.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLogger records audit events.
//
// Log should not block the caller for long; the admin API calls it inline.
type AuditLogger interface {
	// Log records one event.
	//
	// # Inputs
	//
	//   - ctx: Context for cancellation.
	//   - event: The event. A zero Timestamp is set to now.
	//
	// # Outputs
	//
	//   - error: Non-nil when the event could not be recorded.
	Log(ctx context.Context, event AuditEvent) error

	// Query returns matching events, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)

	// Flush persists anything buffered. Call before shutdown.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log discards the event.
func (l *NopAuditLogger) Log(ctx context.Context, event AuditEvent) error { return nil }

// Query returns an empty slice.
func (l *NopAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	return []AuditEvent{}, nil
}

// Flush is a no-op.
func (l *NopAuditLogger) Flush(ctx context.Context) error { return nil }

var _ AuditLogger = (*NopAuditLogger)(nil)

// DefaultAuditCapacity is the number of events a LogAuditLogger keeps for Query.
const DefaultAuditCapacity = 1024

// LogAuditLogger writes every event to a structured logger and keeps the
// most recent ones in memory for Query.
//
// Thread Safety: Safe for concurrent use.
type LogAuditLogger struct {
	logger   *logging.Logger
	now      func() time.Time
	mu       sync.Mutex
	events   []AuditEvent
	next     int
	full     bool
	capacity int
}

// NewLogAuditLogger creates an audit logger over logger. A nil logger
// only keeps events in memory; capacity <= 0 uses DefaultAuditCapacity.
func NewLogAuditLogger(logger *logging.Logger, capacity int) *LogAuditLogger {
	if logger == nil {
		logger = logging.Discard()
	}
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &LogAuditLogger{
		logger:   logger.Component("audit"),
		now:      time.Now,
		events:   make([]AuditEvent, capacity),
		capacity: capacity,
	}
}

// Log records event. Cancelled contexts are rejected.
func (l *LogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	args := []any{
		"event_type", event.EventType,
		"user_id", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
	}
	for k, v := range event.Metadata {
		args = append(args, k, v)
	}
	if event.Outcome == OutcomeFailure {
		l.logger.Warn("Audit event", args...)
	} else {
		l.logger.Info("Audit event", args...)
	}

	l.mu.Lock()
	l.events[l.next] = event
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	return nil
}

// Query returns the retained events matching filter, newest first.
func (l *LogAuditLogger) Query(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = l.capacity
	}
	out := []AuditEvent{}
	for i := 0; i < count; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		event := l.events[idx]
		if !filter.Matches(event) {
			continue
		}
		out = append(out, event)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Flush is a no-op; events are written as they are logged.
func (l *LogAuditLogger) Flush(ctx context.Context) error { return nil }

var _ AuditLogger = (*LogAuditLogger)(nil)
