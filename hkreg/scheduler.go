// Package hkreg provides a small debounce/coalescing timer primitive.
// It generalizes the teacher's housekeeping-registration idiom
// (cluster/lom_cache_hk.go's hk.Reg(name, fn, interval) periodic job) into
// a standalone one-shot debounce scheduler: callers arm a named timer
// repeatedly, and only the last arming in a burst actually fires.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package hkreg

import (
	"sync"
	"time"
)

// Scheduler serializes two named one-shot timers: a "rerun" timer and a
// "log" timer. Arming the rerun timer always cancels any pending log
// timer too, matching spec.md 4.4: a fresh discovery supersedes a stale
// post-commit summary log that hasn't fired yet.
type Scheduler struct {
	mu         sync.Mutex
	rerunTimer *time.Timer
	logTimer   *time.Timer
	closed     bool
}

// New returns a ready-to-use Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Debounce (re)arms the rerun timer to fire fn after timeout, canceling
// any timer -- rerun or log -- already pending. A timeout of 0 fires on
// the next scheduler tick (spec.md 4.4's "override 0 for immediate
// triggers").
func (s *Scheduler) Debounce(timeout time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLogLocked()
	s.cancelRerunLocked()
	s.rerunTimer = time.AfterFunc(timeout, fn)
}

// DebounceLog (re)arms the log timer to fire fn after timeout, canceling
// any log timer already pending. Used for the post-commit "new deps"
// summary log (spec.md 4.6 step 8, 200ms per spec.md 5).
func (s *Scheduler) DebounceLog(timeout time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLogLocked()
	s.logTimer = time.AfterFunc(timeout, fn)
}

// CancelRerun cancels a pending rerun timer without arming a new one. A
// rerun executor calls this the instant it actually starts running
// (spec.md 4.6 step 1: "cancel the debounce timer").
func (s *Scheduler) CancelRerun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRerunLocked()
}

func (s *Scheduler) cancelRerunLocked() {
	if s.rerunTimer != nil {
		s.rerunTimer.Stop()
		s.rerunTimer = nil
	}
}

func (s *Scheduler) cancelLogLocked() {
	if s.logTimer != nil {
		s.logTimer.Stop()
		s.logTimer = nil
	}
}

// Stop cancels any pending timers and makes the Scheduler inert; further
// Debounce/DebounceLog calls are no-ops. Used on optimizer shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRerunLocked()
	s.cancelLogLocked()
	s.closed = true
}
