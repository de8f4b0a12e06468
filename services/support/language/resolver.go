// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
)

// LockState is the per-session language state. It is owned by the
// session record and mutated only through Resolver.Resolve under the
// session's per-user lock.
type LockState struct {
	// Locked is the language all replies are produced in. Empty until
	// the first successful detection.
	Locked string `json:"locked,omitempty"`

	// Candidate is a differing language observed on recent turns.
	Candidate string `json:"candidate,omitempty"`

	// CandidateStreak counts consecutive high-confidence detections of
	// Candidate. Reaching the hysteresis threshold flips the lock.
	CandidateStreak int `json:"candidate_streak,omitempty"`
}

// Config configures the resolver.
type Config struct {
	// DefaultLanguage is used before any successful detection
	// (default: "ar").
	DefaultLanguage string

	// Hysteresis is the number of consecutive high-confidence differing
	// detections required to flip an established lock (default: 2).
	Hysteresis int

	// SwitchConfidence is the minimum detection confidence that counts
	// toward the hysteresis streak (default: 0.9).
	SwitchConfidence float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLanguage:  Arabic,
		Hysteresis:       2,
		SwitchConfidence: 0.9,
	}
}

// explicit switch commands bypass hysteresis entirely; the user asked.
var switchCommands = map[string][]*regexp.Regexp{
	English: {
		regexp.MustCompile(`(?i)^(switch|change|speak|talk|use)\s*(to|in)?\s*(english|en)\b`),
		regexp.MustCompile(`(?i)^english\s*(please|pls)?$`),
	},
	Arabic: {
		regexp.MustCompile(`(?i)^(switch|change|speak|talk|use)\s*(to|in)?\s*(arabic|ar)\b`),
		regexp.MustCompile(`^(غير|حول|اتكلم|كلمني)\s*(اللغة\s*)?(ل|الى|ب)?\s*(عربي|العربي|العربية|بالعربي)`),
		regexp.MustCompile(`^عربي$`),
	},
}

// Resolver applies the session language lock policy.
type Resolver struct {
	config Config
	gate   *featuregate.Gate
}

// NewResolver creates a resolver. Zero config fields fall back to
// DefaultConfig values.
func NewResolver(config Config, gate *featuregate.Gate) *Resolver {
	def := DefaultConfig()
	if config.DefaultLanguage == "" {
		config.DefaultLanguage = def.DefaultLanguage
	}
	if config.Hysteresis <= 0 {
		config.Hysteresis = def.Hysteresis
	}
	if config.SwitchConfidence <= 0 {
		config.SwitchConfidence = def.SwitchConfidence
	}
	return &Resolver{config: config, gate: gate}
}

// Resolve determines the reply language for this turn and updates the
// lock state in place.
//
// # Description
//
// Order of precedence:
//  1. Single-language mode (feature gate) pins the configured default.
//  2. An explicit switch command flips the lock immediately, unless
//     strict enforcement is gated on for this user.
//  3. No lock yet: the first confident detection becomes the lock;
//     an unconfident first turn answers in the default without locking.
//  4. Locked: a differing detection counts toward the hysteresis streak
//     only at or above SwitchConfidence; anything else resets the streak.
//
// # Outputs
//
//   - string: the language code to reply in this turn.
func (r *Resolver) Resolve(ls *LockState, userID, rawText string) string {
	if r.gate != nil && r.gate.Enabled(featuregate.FlagSingleLanguage, userID) {
		ls.Locked = r.config.DefaultLanguage
		ls.Candidate = ""
		ls.CandidateStreak = 0
		return ls.Locked
	}

	// Explicit switch commands bypass hysteresis unless strict
	// enforcement is on for this user.
	strict := r.gate != nil && r.gate.Enabled(featuregate.FlagLanguageEnforcement, userID)
	if lang, ok := explicitSwitch(rawText); ok && !strict {
		ls.Locked = lang
		ls.Candidate = ""
		ls.CandidateStreak = 0
		return lang
	}

	det := Detect(rawText)

	if ls.Locked == "" {
		if det.Language != "" && det.Confidence >= 0.6 {
			ls.Locked = det.Language
			return ls.Locked
		}
		return r.config.DefaultLanguage
	}

	if det.Language == "" || det.Language == ls.Locked || det.Confidence < r.config.SwitchConfidence {
		ls.Candidate = ""
		ls.CandidateStreak = 0
		return ls.Locked
	}

	if det.Language == ls.Candidate {
		ls.CandidateStreak++
	} else {
		ls.Candidate = det.Language
		ls.CandidateStreak = 1
	}

	if ls.CandidateStreak >= r.config.Hysteresis {
		ls.Locked = ls.Candidate
		ls.Candidate = ""
		ls.CandidateStreak = 0
	}

	return ls.Locked
}

// DefaultLanguage returns the configured fallback language.
func (r *Resolver) DefaultLanguage() string {
	return r.config.DefaultLanguage
}

func explicitSwitch(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	for lang, patterns := range switchCommands {
		for _, p := range patterns {
			if p.MatchString(trimmed) {
				return lang, true
			}
		}
	}
	return "", false
}
