// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

// Package lockout tracks consecutive authentication failures per target and
// locks a target out after a threshold is reached.
package lockout

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/mailguard/pkg/metrics"
)

// Config holds lockout tracker configuration
type Config struct {
	// Threshold is the number of consecutive failures that triggers a lockout
	Threshold int
	// Duration is how long a target stays locked
	Duration time.Duration
	// FailureWindow is the rolling period in which failures are counted as
	// consecutive. A failure older than this restarts the count.
	FailureWindow time.Duration
}

// DefaultConfig returns 5 failures within 15 minutes, locked for 5 minutes.
func DefaultConfig() Config {
	return Config{
		Threshold:     5,
		Duration:      5 * time.Minute,
		FailureWindow: 15 * time.Minute,
	}
}

// state is the LockoutState of one target.
type state struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastFailure         time.Time
	lockedUntil         time.Time
	removed             bool
}

// Tracker is safe for concurrent use. Each target has its own mutex; the map
// lock is only held for lookup, insert and delete.
type Tracker struct {
	mu      sync.RWMutex
	targets map[string]*state
	config  Config
	clock   clock.PassiveClock
	log     *zap.SugaredLogger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the wall clock.
func WithClock(c clock.PassiveClock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithLogger sets the logger used for lockout transitions.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Tracker) {
		t.log = log
	}
}

// New creates a Tracker. Zero fields of cfg fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Duration <= 0 {
		cfg.Duration = def.Duration
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = def.FailureWindow
	}

	t := &Tracker{
		targets: make(map[string]*state),
		config:  cfg,
		clock:   clock.RealClock{},
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.Named("lockout")
	return t
}

// IsLocked reports whether target is locked and until when. An expired
// lockout is cleared and the failure counter restarts.
func (t *Tracker) IsLocked(target string) (bool, time.Time) {
	s := t.lookup(target)
	if s == nil {
		return false, time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := t.clock.Now()
	if s.lockedUntil.IsZero() {
		return false, time.Time{}
	}
	if now.Before(s.lockedUntil) {
		return true, s.lockedUntil
	}
	s.lockedUntil = time.Time{}
	s.consecutiveFailures = 0
	return false, time.Time{}
}

// RecordFailure counts a failed authentication against target and returns
// true if target is locked afterwards.
func (t *Tracker) RecordFailure(target string) bool {
	for {
		s := t.getOrCreate(target)
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}

		now := t.clock.Now()
		if !s.lockedUntil.IsZero() && now.Before(s.lockedUntil) {
			s.lastFailure = now
			s.mu.Unlock()
			return true
		}
		if !s.lockedUntil.IsZero() || (!s.lastFailure.IsZero() && now.Sub(s.lastFailure) > t.config.FailureWindow) {
			s.lockedUntil = time.Time{}
			s.consecutiveFailures = 0
		}

		s.consecutiveFailures++
		s.lastFailure = now
		locked := false
		if s.consecutiveFailures >= t.config.Threshold {
			s.lockedUntil = now.Add(t.config.Duration)
			locked = true
		}
		failures := s.consecutiveFailures
		until := s.lockedUntil
		s.mu.Unlock()

		if locked {
			metrics.LockoutsTriggered.Inc()
			t.log.Warnw("Target locked out after consecutive failures", "failures", failures, "lockedUntil", until.UTC().Format(time.RFC3339))
		} else {
			t.log.Debugw("Recorded authentication failure", "failures", failures, "threshold", t.config.Threshold)
		}
		return locked
	}
}

// RecordSuccess resets the failure counter of target and clears any lockout.
func (t *Tracker) RecordSuccess(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.targets[target]
	if !ok {
		return
	}
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
	delete(t.targets, target)
}

// Failures returns the current consecutive failure count (for testing/metrics)
func (t *Tracker) Failures(target string) int {
	s := t.lookup(target)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// Sweep removes targets whose failures are older than the failure window and
// that are not locked.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for k, s := range t.targets {
		s.mu.Lock()
		idle := now.Sub(s.lastFailure) > t.config.FailureWindow
		if idle && !now.Before(s.lockedUntil) {
			s.removed = true
			delete(t.targets, k)
		}
		s.mu.Unlock()
	}
}

// Len returns the number of tracked targets.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.targets)
}

func (t *Tracker) lookup(target string) *state {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.targets[target]
}

func (t *Tracker) getOrCreate(target string) *state {
	if s := t.lookup(target); s != nil {
		return s
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.targets[target]; ok {
		return s
	}
	s := &state{}
	t.targets[target] = s
	return s
}
