// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import "sync"

// Target names for the pre-configured breakers.
const (
	// TargetClassifier is the external moderation/intent model.
	TargetClassifier = "classifier"

	// TargetBackoffice is the escalation notification webhook.
	TargetBackoffice = "backoffice"
)

// Registry holds one breaker per named external target.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates a registry; defaults apply to breakers created on
// first use via Get.
func NewRegistry(defaults Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
	}
}

// Register adds a breaker with target-specific configuration,
// replacing any existing breaker for that name.
func (r *Registry) Register(name string, config Config) *Breaker {
	b := New(name, config)
	r.mu.Lock()
	r.breakers[name] = b
	r.mu.Unlock()
	return b
}

// Get returns the breaker for the named target, creating one with the
// registry defaults if it does not exist.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = New(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Snapshots returns the state of every registered breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
