// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strikes

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Ledger records strikes and derives trust tiers.
//
// # Thread Safety
//
// Safe for concurrent use when the underlying Store is.
type Ledger struct {
	store    Store
	config   Config
	notifier Notifier
	logger   *slog.Logger
}

// NewLedger builds a ledger. A nil notifier discards escalations; zero
// config fields fall back to DefaultConfig values.
func NewLedger(store Store, config Config, notifier Notifier, logger *slog.Logger) *Ledger {
	def := DefaultConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.WatchedAt <= 0 {
		config.WatchedAt = def.WatchedAt
	}
	if config.RestrictedAt <= 0 {
		config.RestrictedAt = def.RestrictedAt
	}
	if config.SuspendedAt <= 0 {
		config.SuspendedAt = def.SuspendedAt
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, config: config, notifier: notifier, logger: logger}
}

// Record appends a strike for a violation observed at ts.
//
// # Description
//
// Idempotent: recording the same (user, reason, timestamp) twice writes
// once and reports applied=false the second time. When the write moves
// the captain into a worse tier, an escalation event is handed to the
// notifier; delivery is fire and forget and never affects the result.
//
// # Outputs
//
//   - Summary: the captain's standing after this record.
//   - bool: whether a new ledger entry was written.
//   - error: storage failure only.
func (l *Ledger) Record(ctx context.Context, userID, reason string, ts time.Time) (Summary, bool, error) {
	before, err := l.Summary(ctx, userID, ts)
	if err != nil {
		return Summary{}, false, err
	}

	strike := NewStrike(userID, reason, ts)
	applied, err := l.store.Append(ctx, strike)
	if err != nil {
		return Summary{}, false, fmt.Errorf("append strike: %w", err)
	}

	after, err := l.Summary(ctx, userID, ts)
	if err != nil {
		return Summary{}, applied, err
	}

	if applied && after.Tier > before.Tier {
		l.logger.Info("trust tier escalated",
			"user_id", userID, "from", before.Tier.String(), "to", after.TierName,
			"window_severity", after.WindowSeverity)
		l.notifier.NotifyEscalation(Escalation{
			UserID:  userID,
			NewTier: after.TierName,
			Reason:  reason,
			At:      ts.UTC(),
		})
	}

	return after, applied, nil
}

// Summary computes the captain's standing as of now.
func (l *Ledger) Summary(ctx context.Context, userID string, now time.Time) (Summary, error) {
	all, err := l.store.List(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("list strikes: %w", err)
	}

	cutoff := now.Add(-l.config.Window)
	sum := Summary{UserID: userID, TotalStrikes: len(all)}
	for _, s := range all {
		if s.CreatedAt.After(sum.LastStrikeAt) {
			sum.LastStrikeAt = s.CreatedAt
		}
		if s.CreatedAt.Before(cutoff) {
			continue
		}
		sum.WindowStrikes++
		sum.WindowSeverity += s.Severity
	}
	sum.Tier = l.config.TierFor(sum.WindowSeverity)
	sum.TierName = sum.Tier.String()
	return sum, nil
}

// Tier returns just the current trust tier for gating decisions.
func (l *Ledger) Tier(ctx context.Context, userID string, now time.Time) (TrustTier, error) {
	sum, err := l.Summary(ctx, userID, now)
	if err != nil {
		return TierNormal, err
	}
	return sum.Tier, nil
}
