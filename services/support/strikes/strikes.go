// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strikes keeps the append-only moderation ledger and derives
// trust tiers from it.
//
// # Description
//
// A strike is never updated or deleted. Idempotence comes from a
// deterministic dedupe key (user, reason, timestamp), so retried
// messages and replayed queues cannot double-count. The trust tier is a
// pure function of the severity accumulated inside a rolling window;
// old strikes age out of the tier without being removed from the
// ledger.
package strikes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Strike reasons. The severity table below is keyed by these.
const (
	ReasonAbusiveLanguage = "abusive_language"
	ReasonSpam            = "spam"
	ReasonFraudSignal     = "fraud_signal"
	ReasonOffPlatformDeal = "off_platform_deal"
	ReasonPolicyViolation = "policy_violation"
)

// severityByReason weights reasons for tier computation. Unknown
// reasons count as 1.
var severityByReason = map[string]int{
	ReasonAbusiveLanguage: 2,
	ReasonSpam:            1,
	ReasonFraudSignal:     4,
	ReasonOffPlatformDeal: 3,
	ReasonPolicyViolation: 2,
}

// SeverityFor returns the severity weight for a reason.
func SeverityFor(reason string) int {
	if s, ok := severityByReason[reason]; ok {
		return s
	}
	return 1
}

// Strike is one immutable ledger entry.
type Strike struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Severity  int       `json:"severity"`
	CreatedAt time.Time `json:"created_at"`

	// DedupeKey makes recording idempotent across retries and queue
	// replays.
	DedupeKey string `json:"dedupe_key"`
}

// NewStrike builds a ledger entry for a violation observed at ts.
func NewStrike(userID, reason string, ts time.Time) Strike {
	return Strike{
		ID:        uuid.NewString(),
		UserID:    userID,
		Reason:    reason,
		Severity:  SeverityFor(reason),
		CreatedAt: ts.UTC(),
		DedupeKey: DedupeKey(userID, reason, ts),
	}
}

// DedupeKey derives the idempotence key for a violation.
func DedupeKey(userID, reason string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, reason, ts.UTC().Unix())))
	return hex.EncodeToString(sum[:])
}

// TrustTier is the derived standing of a captain.
type TrustTier int

const (
	// TierNormal has full access.
	TierNormal TrustTier = iota
	// TierWatched is flagged for passive review.
	TierWatched
	// TierRestricted loses access to sensitive self-service actions.
	TierRestricted
	// TierSuspended is handed to back-office enforcement.
	TierSuspended
)

// String returns the wire name of the tier.
func (t TrustTier) String() string {
	switch t {
	case TierWatched:
		return "WATCHED"
	case TierRestricted:
		return "RESTRICTED"
	case TierSuspended:
		return "SUSPENDED"
	default:
		return "NORMAL"
	}
}

// Config sets the tier thresholds and the rolling window.
type Config struct {
	// Window is how far back strikes count toward the tier
	// (default: 90 days).
	Window time.Duration

	// Severity thresholds: accumulated window severity at or above each
	// value moves the captain into that tier.
	WatchedAt    int
	RestrictedAt int
	SuspendedAt  int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Window:       90 * 24 * time.Hour,
		WatchedAt:    3,
		RestrictedAt: 6,
		SuspendedAt:  10,
	}
}

// TierFor maps accumulated window severity to a tier.
func (c Config) TierFor(windowSeverity int) TrustTier {
	switch {
	case windowSeverity >= c.SuspendedAt:
		return TierSuspended
	case windowSeverity >= c.RestrictedAt:
		return TierRestricted
	case windowSeverity >= c.WatchedAt:
		return TierWatched
	default:
		return TierNormal
	}
}

// Summary is the derived view of a captain's ledger.
type Summary struct {
	UserID         string    `json:"user_id"`
	Tier           TrustTier `json:"-"`
	TierName       string    `json:"tier"`
	TotalStrikes   int       `json:"total_strikes"`
	WindowStrikes  int       `json:"window_strikes"`
	WindowSeverity int       `json:"window_severity"`
	LastStrikeAt   time.Time `json:"last_strike_at,omitempty"`
}
