// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/atlas/pkg/logging"
)

func TestRunTick_FIFO(t *testing.T) {
	s := New(Config{}, nil)
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, s.Submit(func() { order = append(order, i) }))
	}
	assert.Equal(t, 5, s.Pending())
	assert.Equal(t, 5, s.RunTick())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, uint64(1), s.Ticks())
}

func TestRunTick_NestedSubmitRunsNextTick(t *testing.T) {
	s := New(Config{}, nil)
	var ran []string
	require.NoError(t, s.Submit(func() {
		ran = append(ran, "outer")
		_ = s.Submit(func() { ran = append(ran, "inner") })
	}))

	assert.Equal(t, 1, s.RunTick())
	assert.Equal(t, []string{"outer"}, ran)
	assert.Equal(t, 1, s.RunTick())
	assert.Equal(t, []string{"outer", "inner"}, ran)
}

func TestRunTick_PanicRecovered(t *testing.T) {
	exporter := logging.NewBufferedExporter()
	s := New(Config{}, logging.New(logging.Config{Quiet: true, Exporter: exporter}))

	var after bool
	require.NoError(t, s.Submit(func() { panic("boom") }))
	require.NoError(t, s.Submit(func() { after = true }))

	assert.Equal(t, 2, s.RunTick())
	assert.True(t, after, "a panicking task must not stop the tick")
	assert.True(t, exporter.Contains(logging.LevelError, "panicked"))
}

func TestSubmit_Nil(t *testing.T) {
	assert.Error(t, New(Config{}, nil).Submit(nil))
}

func TestCall_WithStartedLoop(t *testing.T) {
	s := New(Config{Interval: time.Millisecond}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var ran atomic.Bool
	err := s.Call(context.Background(), func() { ran.Store(true) })
	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestCall_Panic(t *testing.T) {
	s := New(Config{Interval: time.Millisecond}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err := s.Call(context.Background(), func() { panic("bad") })
	require.ErrorIs(t, err, ErrTaskPanicked)

	// The loop survives.
	require.NoError(t, s.Call(context.Background(), func() {}))
}

func TestCall_ContextCancelled(t *testing.T) {
	s := New(Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err := s.Call(ctx, func() { ran.Store(true) })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The task is still queued and runs on the next tick.
	assert.Equal(t, 1, s.RunTick())
	assert.True(t, ran.Load())
}

func TestStartStop(t *testing.T) {
	s := New(Config{Interval: time.Millisecond}, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")

	assert.ErrorIs(t, s.Submit(func() {}), ErrStopped)
	assert.ErrorIs(t, s.Call(context.Background(), func() {}), ErrStopped)

	// Restart reopens submissions.
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	require.NoError(t, s.Call(context.Background(), func() {}))
}

func TestStart_ContextCancelStopsLoop(t *testing.T) {
	s := New(Config{Interval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return s.Start(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestTicksAdvanceWhenStarted(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.cfg.Interval = time.Millisecond
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Ticks() >= 3 }, time.Second, time.Millisecond)
}

func TestCall_StopDropsQueuedTask(t *testing.T) {
	s := New(Config{}, nil)
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() { errCh <- s.Call(context.Background(), func() { ran.Store(true) }) }()

	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Call did not return after Stop dropped its task")
	}
	assert.False(t, ran.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestCall_ContextCancelOnLoopReleasesWaiters(t *testing.T) {
	s := New(Config{Interval: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Call(context.Background(), func() {}) }()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("Call did not return after the loop context was cancelled")
	}

	// A later generation accepts and runs work again.
	require.Eventually(t, func() bool {
		return s.Start(context.Background()) == nil
	}, time.Second, 5*time.Millisecond)
	defer s.Stop()
	require.NoError(t, s.Call(context.Background(), func() {}))
}
