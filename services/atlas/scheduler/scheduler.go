// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler is the authoritative tick loop. Every mutation of a live
// world runs on its single goroutine: callers enqueue tasks, and each tick
// drains the queue in FIFO order.
//
// Hosts either call Start to run the loop on a ticker or call RunTick from
// their own loop. Tests use RunTick to control exactly when tasks run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/atlas/pkg/logging"
)

// DefaultInterval is one tick at 20 ticks per second.
const DefaultInterval = 50 * time.Millisecond

var (
	// ErrStopped is returned by Submit and Call after Stop.
	ErrStopped = errors.New("scheduler stopped")

	// ErrTaskPanicked is returned by Call when its function panicked.
	ErrTaskPanicked = errors.New("scheduled task panicked")
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atlas_scheduler_tasks_total",
		Help: "Tasks run on the authoritative scheduler, by result",
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atlas_scheduler_queue_depth",
		Help: "Tasks waiting for the next tick",
	})
)

// Task is a unit of work for the authoritative goroutine.
type Task func()

// Config holds scheduler settings.
//
// # Fields
//
//   - Interval: Tick period. Default: 50ms.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns a 20 ticks per second configuration.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval}
}

// Scheduler queues tasks and runs them on one goroutine per tick.
//
// # Thread Safety
//
// Submit and Call are safe from any goroutine. RunTick must not be called
// concurrently with a started loop.
type Scheduler struct {
	cfg    Config
	logger *logging.Logger

	qmu     sync.Mutex
	queue   []Task
	closed  bool
	stopped chan struct{} // closed once queued tasks can no longer run
	halted  bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	exited  chan struct{}
	tick    uint64
}

// New creates a scheduler. A nil logger discards output.
func New(cfg Config, logger *logging.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		cfg:    cfg,
		logger:  logger.Component("scheduler"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Submit enqueues task for the next tick.
func (s *Scheduler) Submit(task Task) error {
	_, err := s.submit(task)
	return err
}

// submit enqueues task and returns the channel that is closed if the task
// is dropped by Stop before it runs.
func (s *Scheduler) submit(task Task) (<-chan struct{}, error) {
	if task == nil {
		return nil, fmt.Errorf("Submit: task must not be nil")
	}
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		return nil, ErrStopped
	}
	s.queue = append(s.queue, task)
	queueDepth.Set(float64(len(s.queue)))
	return s.stopped, nil
}

// Call runs fn on the scheduler goroutine and waits for it to finish.
//
// # Description
//
// Blocks until fn returns or ctx is done. When ctx ends first the task
// still runs on a later tick; only the wait is abandoned.
//
// # Outputs
//
//   - error: ErrStopped (also when Stop drops the queued task), ctx.Err(),
//     or ErrTaskPanicked.
//
// # Limitations
//
// Must not be called from inside a task: the tick that would run fn is
// the one blocked waiting for it.
func (s *Scheduler) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	var panicErr error
	task := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				panicErr = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
				panic(r)
			}
		}()
		fn()
	}
	stopped, err := s.submit(task)
	if err != nil {
		return err
	}
	select {
	case <-done:
		return panicErr
	case <-stopped:
		select {
		case <-done:
			return panicErr
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTick drains the tasks queued before the call and returns how many ran.
// Tasks submitted by those tasks run on the following tick.
func (s *Scheduler) RunTick() int {
	s.qmu.Lock()
	batch := s.queue
	s.queue = nil
	s.qmu.Unlock()
	queueDepth.Set(0)

	s.mu.Lock()
	s.tick++
	s.mu.Unlock()

	for _, task := range batch {
		s.runTask(task)
	}
	return len(batch)
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Start runs the tick loop on its own goroutine until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.exited = make(chan struct{})
	s.mu.Unlock()

	s.qmu.Lock()
	s.closed = false
	if s.halted {
		s.stopped = make(chan struct{})
		s.halted = false
	}
	s.qmu.Unlock()

	s.logger.Info("Scheduler starting", "interval", s.cfg.Interval.String())
	go s.runLoop(ctx, s.done, s.exited)
	return nil
}

// Stop ends the loop, waits for the current tick to finish and rejects
// further submissions. Tasks still queued are dropped and their Call
// waiters get ErrStopped. Safe to call multiple times; must not be called
// from inside a task or concurrently with RunTick.
func (s *Scheduler) Stop() error {
	dropped := s.closeQueue()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.halt()
		if dropped > 0 {
			s.logger.Warn("Scheduler stopped with queued tasks", "dropped", dropped)
		}
		return nil
	}
	close(s.done)
	s.running = false
	exited := s.exited
	s.mu.Unlock()

	<-exited
	s.halt()
	if dropped > 0 {
		s.logger.Warn("Scheduler stopped with queued tasks", "dropped", dropped)
	} else {
		s.logger.Info("Scheduler stopped")
	}
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dropped := s.closeQueue()
			s.logger.Info("Scheduler loop exiting (context cancelled)", "dropped", dropped)
			s.halt()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		case <-done:
			return
		case <-ticker.C:
			s.RunTick()
		}
	}
}

// closeQueue rejects further submissions and drops queued tasks.
func (s *Scheduler) closeQueue() int {
	s.qmu.Lock()
	s.closed = true
	dropped := len(s.queue)
	s.queue = nil
	s.qmu.Unlock()
	queueDepth.Set(0)
	return dropped
}

// halt releases Call waiters whose tasks were dropped.
func (s *Scheduler) halt() {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if !s.halted {
		close(s.stopped)
		s.halted = true
	}
}

func (s *Scheduler) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked", "panic", fmt.Sprint(r))
			tasksTotal.WithLabelValues("panic").Inc()
		}
	}()
	task()
	tasksTotal.WithLabelValues("ok").Inc()
}
