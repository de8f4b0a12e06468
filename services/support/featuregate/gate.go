// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package featuregate provides process-wide feature toggles.
//
// # Description
//
// A Gate holds a named set of flags. Each flag can be switched on
// globally, rolled out to a percentage of users (stable per-user
// bucketing), or limited to an explicit allowlist. Readers never observe
// a partially updated set: Replace swaps the entire flag set atomically.
//
// Components receive the Gate through their constructors rather than
// reading a global, so tests can inject overridden sets.
//
// # Thread Safety
//
// Gate is safe for concurrent use. Reads are lock-free
// (atomic.Pointer load); writes swap the whole set.
package featuregate

import (
	"fmt"
	"hash/fnv"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Well-known flag names consulted by other components.
const (
	// FlagLanguageEnforcement hardens the session language lock: even
	// explicit switch commands must pass the hysteresis streak.
	FlagLanguageEnforcement = "language_enforcement"

	// FlagSingleLanguage pins every session to the configured default
	// language and skips detection entirely.
	FlagSingleLanguage = "single_language_mode"

	// FlagMLModeration routes classification through the external model.
	// Off (or outside the rollout) means the keyword heuristic serves
	// the request.
	FlagMLModeration = "ml_moderation"

	// FlagStrikeAdvisory makes trust tiers advisory: they are computed
	// and reported but stop gating sensitive actions.
	FlagStrikeAdvisory = "strike_advisory"
)

// Flag describes a single toggle.
type Flag struct {
	// Enabled is the master switch. When false the flag is off for
	// everyone regardless of rollout or allowlist.
	Enabled bool `yaml:"enabled"`

	// RolloutPercent limits the flag to a stable percentage of users
	// (0-100). Zero means "no percentage gating" when Enabled is true.
	RolloutPercent int `yaml:"rollout_percent"`

	// AllowedUserIDs restricts the flag to the listed users. When
	// non-empty, users outside the list do not get the flag even if the
	// rollout percentage would include them.
	AllowedUserIDs []string `yaml:"allowed_user_ids"`
}

// flagSet is the immutable value swapped atomically on reload.
type flagSet struct {
	flags     map[string]Flag
	allowSets map[string]map[string]struct{}
}

func buildSet(flags map[string]Flag) *flagSet {
	fs := &flagSet{
		flags:     make(map[string]Flag, len(flags)),
		allowSets: make(map[string]map[string]struct{}),
	}
	for name, f := range flags {
		fs.flags[name] = f
		if len(f.AllowedUserIDs) > 0 {
			allow := make(map[string]struct{}, len(f.AllowedUserIDs))
			for _, id := range f.AllowedUserIDs {
				allow[id] = struct{}{}
			}
			fs.allowSets[name] = allow
		}
	}
	return fs
}

// Gate evaluates feature flags.
type Gate struct {
	set atomic.Pointer[flagSet]
}

// New creates a Gate from an initial flag map. A nil map yields a Gate
// with every flag off.
func New(flags map[string]Flag) *Gate {
	g := &Gate{}
	g.set.Store(buildSet(flags))
	return g
}

// Replace atomically swaps the entire flag set.
func (g *Gate) Replace(flags map[string]Flag) {
	g.set.Store(buildSet(flags))
}

// Enabled reports whether a flag is on for the given user.
//
// Evaluation order mirrors the rollout rules:
//  1. unknown or disabled flag -> false
//  2. allowlist present -> user must be on it
//  3. rollout percent set -> stable hash bucket of userID decides
//
// An empty userID is only gated by the master switch and allowlist.
func (g *Gate) Enabled(name, userID string) bool {
	fs := g.set.Load()

	f, ok := fs.flags[name]
	if !ok || !f.Enabled {
		return false
	}

	if allow, hasAllow := fs.allowSets[name]; hasAllow {
		if userID == "" {
			return false
		}
		_, onList := allow[userID]
		return onList
	}

	if f.RolloutPercent > 0 && f.RolloutPercent < 100 && userID != "" {
		return bucketOf(userID) < f.RolloutPercent
	}

	return true
}

// Snapshot returns a copy of the current flag set for admin inspection.
func (g *Gate) Snapshot() map[string]Flag {
	fs := g.set.Load()
	out := make(map[string]Flag, len(fs.flags))
	for name, f := range fs.flags {
		out[name] = f
	}
	return out
}

// bucketOf maps a user to a stable 0-99 bucket.
func bucketOf(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}

// LoadFile parses a YAML flag file of the form:
//
//	flags:
//	  language_enforcement:
//	    enabled: true
//	    rollout_percent: 50
func LoadFile(path string) (map[string]Flag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("featuregate: read %s: %w", path, err)
	}

	var doc struct {
		Flags map[string]Flag `yaml:"flags"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("featuregate: parse %s: %w", path, err)
	}
	if doc.Flags == nil {
		doc.Flags = map[string]Flag{}
	}
	return doc.Flags, nil
}
