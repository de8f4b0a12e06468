// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package breaker provides circuit breaker protection for external calls.
//
// # Description
//
// Each external target (classification model, back-office webhook, ...)
// gets a named Breaker. The breaker has three states:
//
//   - Closed: normal operation, failures are counted in a rolling window.
//   - Open: the failure threshold was exceeded; calls short-circuit with
//     ErrCircuitOpen until the cooldown elapses. No real call reaches the
//     target while open.
//   - HalfOpen: after the cooldown, exactly one probe call is allowed;
//     concurrent callers short-circuit until the probe resolves.
//
// # Thread Safety
//
// Breaker and Registry are safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected without reaching the
// external target.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State represents the breaker state.
type State int

const (
	// StateClosed is normal operation.
	StateClosed State = iota
	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a single probe call.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of failures inside FailureWindow
	// before the circuit opens (default: 5).
	FailureThreshold int

	// FailureWindow is the rolling window failures are counted in
	// (default: 60s).
	FailureWindow time.Duration

	// Cooldown is how long the circuit stays open before allowing a
	// probe (default: 30s).
	Cooldown time.Duration

	// SuccessThreshold is the number of probe successes needed to close
	// from half-open (default: 2).
	SuccessThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Snapshot is a point-in-time view of a breaker, read by the degradation
// controller and the health endpoint.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int64     `json:"success_count"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	TotalCalls      int64     `json:"total_calls"`
	TotalRejections int64     `json:"total_rejections"`
}

// Breaker protects a single named external target.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     []time.Time // rolling window of failure times
	successes    int         // consecutive probe successes in half-open
	openedAt     time.Time
	probeInFlight bool

	totalCalls      int64
	totalSuccesses  int64
	totalRejections int64
}

// New creates a breaker for the named target. Zero config fields fall
// back to DefaultConfig values.
func New(name string, config Config) *Breaker {
	def := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = def.FailureWindow
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Name returns the target name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the open->half-open
// transition lazily if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		b.state = StateHalfOpen
		b.probeInFlight = false
		b.successes = 0
	}
	return b.state
}

// Allow checks whether a call may proceed.
//
// # Outputs
//
//   - bool: true if the call should be made.
//   - func(): release hook for the half-open probe slot; nil when closed.
//     Call it when the probe completes (after RecordSuccess/RecordFailure).
func (b *Breaker) Allow() (bool, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalCalls++

	switch b.stateLocked() {
	case StateClosed:
		return true, nil

	case StateOpen:
		b.totalRejections++
		return false, nil

	case StateHalfOpen:
		if b.probeInFlight {
			b.totalRejections++
			return false, nil
		}
		b.probeInFlight = true
		return true, func() {
			b.mu.Lock()
			b.probeInFlight = false
			b.mu.Unlock()
		}
	}

	return false, nil
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.failures = b.failures[:0]

	if b.stateLocked() == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.successes = 0
		}
	}
}

// RecordFailure records a failed call, opening the circuit if the rolling
// window threshold is exceeded. A probe failure re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.successes = 0

	if b.stateLocked() == StateHalfOpen {
		b.trip(now)
		return
	}

	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.config.FailureThreshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = b.failures[:0]
	b.probeInFlight = false
}

func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.config.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// Execute wraps fn with breaker protection.
//
// Returns ErrCircuitOpen without calling fn when the circuit rejects the
// call; otherwise returns fn's error and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	allowed, release := b.Allow()
	if !allowed {
		return ErrCircuitOpen
	}
	if release != nil {
		defer release()
	}

	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// Snapshot returns the current breaker state for observers.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()
	b.pruneLocked(b.now())

	snap := Snapshot{
		Name:            b.name,
		State:           state.String(),
		FailureCount:    len(b.failures),
		SuccessCount:    b.totalSuccesses,
		TotalCalls:      b.totalCalls,
		TotalRejections: b.totalRejections,
	}
	if state != StateClosed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = b.failures[:0]
	b.successes = 0
	b.probeInFlight = false
}
