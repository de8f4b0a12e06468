// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package degrade decides the per-request capability mode.
//
// # Description
//
// The controller reads the circuit breaker registry plus local load
// signals and picks one of three modes for each request:
//
//   - Full: classification calls proceed normally.
//   - Reduced: classification is attempted with a short timeout and a
//     keyword fallback substitutes on timeout or open circuit; strikes
//     still record from locally available signals.
//   - Minimal: no external calls at all; static safe replies only, and
//     strikes that need classifier confirmation are deferred (queued)
//     for reconciliation once the system returns to Full.
//
// Mode is recomputed on every request, never cached, so recovery is
// automatic as soon as a breaker closes.
//
// # Thread Safety
//
// Controller is safe for concurrent use.
package degrade

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
)

// Mode is the system-wide capability level for a single request.
type Mode int

const (
	// ModeFull runs the complete pipeline.
	ModeFull Mode = iota
	// ModeReduced uses short timeouts and local fallbacks.
	ModeReduced
	// ModeMinimal skips all external calls.
	ModeMinimal
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeReduced:
		return "reduced"
	case ModeMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// Config configures the controller.
type Config struct {
	// ReducedTimeout caps classification calls in Reduced mode
	// (default: 2s).
	ReducedTimeout time.Duration

	// MaxInFlight is the in-flight request count above which the system
	// degrades one level (default: 256).
	MaxInFlight int64

	// AdmitRate and AdmitBurst form a token bucket; requests beyond it
	// count as overload (default: 200/s, burst 400).
	AdmitRate  rate.Limit
	AdmitBurst int

	// DeferredCapacity caps the deferred strike queue. Items beyond the
	// cap are still accepted but force a loud warning via the Overflowed
	// flag on Stats (default: 10000).
	DeferredCapacity int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReducedTimeout:   2 * time.Second,
		MaxInFlight:      256,
		AdmitRate:        200,
		AdmitBurst:       400,
		DeferredCapacity: 10000,
	}
}

// DeferredStrike is a strike recording postponed by Minimal mode.
type DeferredStrike struct {
	UserID    string
	Reason    string
	Severity  int
	Timestamp time.Time
}

// Stats describes the controller for the health endpoint.
type Stats struct {
	Mode          string `json:"mode"`
	InFlight      int64  `json:"in_flight"`
	DeferredDepth int    `json:"deferred_depth"`
	Overflowed    bool   `json:"deferred_overflowed"`
}

// Controller selects the capability mode per request.
type Controller struct {
	config   Config
	breakers *breaker.Registry
	limiter  *rate.Limiter

	mu         sync.Mutex
	inFlight   int64
	deferred   []DeferredStrike
	overflowed bool
}

// NewController creates a controller over the given breaker registry.
func NewController(config Config, breakers *breaker.Registry) *Controller {
	def := DefaultConfig()
	if config.ReducedTimeout <= 0 {
		config.ReducedTimeout = def.ReducedTimeout
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = def.MaxInFlight
	}
	if config.AdmitRate <= 0 {
		config.AdmitRate = def.AdmitRate
	}
	if config.AdmitBurst <= 0 {
		config.AdmitBurst = def.AdmitBurst
	}
	if config.DeferredCapacity <= 0 {
		config.DeferredCapacity = def.DeferredCapacity
	}
	return &Controller{
		config:   config,
		breakers: breakers,
		limiter:  rate.NewLimiter(config.AdmitRate, config.AdmitBurst),
	}
}

// Begin marks a request in flight; the returned func must be called when
// the request completes.
func (c *Controller) Begin() func() {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.inFlight--
			c.mu.Unlock()
		})
	}
}

// SelectMode picks the capability mode for the current request.
//
// Rules, most degraded first:
//   - classifier circuit open AND local overload -> Minimal
//   - classifier circuit open or half-open       -> Reduced
//   - local overload only                        -> Reduced
//   - otherwise                                  -> Full
func (c *Controller) SelectMode() Mode {
	classifierDown := false
	switch c.breakers.Get(breaker.TargetClassifier).State() {
	case breaker.StateOpen, breaker.StateHalfOpen:
		classifierDown = true
	}

	overloaded := c.overloaded()

	switch {
	case classifierDown && overloaded:
		return ModeMinimal
	case classifierDown || overloaded:
		return ModeReduced
	default:
		return ModeFull
	}
}

func (c *Controller) overloaded() bool {
	c.mu.Lock()
	inFlight := c.inFlight
	c.mu.Unlock()

	if inFlight > c.config.MaxInFlight {
		return true
	}
	return !c.limiter.Allow()
}

// ReducedTimeout returns the classification timeout for Reduced mode.
func (c *Controller) ReducedTimeout() time.Duration {
	return c.config.ReducedTimeout
}

// Defer queues a strike for later reconciliation. The queue never drops
// items; beyond DeferredCapacity it keeps accepting and flips the
// overflow flag so operators notice.
func (c *Controller) Defer(item DeferredStrike) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deferred = append(c.deferred, item)
	if len(c.deferred) > c.config.DeferredCapacity {
		c.overflowed = true
	}
}

// Drain returns and clears all deferred strikes. Callers drain only once
// mode is back to Full.
func (c *Controller) Drain() []DeferredStrike {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.deferred
	c.deferred = nil
	c.overflowed = false
	return out
}

// DeferredDepth returns the queue depth without draining.
func (c *Controller) DeferredDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deferred)
}

// Stats returns the current controller status.
func (c *Controller) Stats() Stats {
	mode := c.SelectMode()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Mode:          mode.String(),
		InFlight:      c.inFlight,
		DeferredDepth: len(c.deferred),
		Overflowed:    c.overflowed,
	}
}
