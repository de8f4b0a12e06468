// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/observability"
)

// MaintenanceConfig tunes the background loops.
type MaintenanceConfig struct {
	// ReconcileInterval is how often deferred strikes are checked for
	// replay (default: 15s).
	ReconcileInterval time.Duration

	// SweepInterval is how often idle sessions are evicted
	// (default: 5m).
	SweepInterval time.Duration

	// MaxIdle is the session idle lifetime (default: 1h).
	MaxIdle time.Duration
}

// DefaultMaintenanceConfig returns the default loop settings.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		ReconcileInterval: 15 * time.Second,
		SweepInterval:     5 * time.Minute,
		MaxIdle:           time.Hour,
	}
}

// RunMaintenance runs the reconcile and eviction loops until ctx is
// cancelled. Always returns ctx.Err().
func (o *Orchestrator) RunMaintenance(ctx context.Context, config MaintenanceConfig) error {
	def := DefaultMaintenanceConfig()
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = def.ReconcileInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.MaxIdle <= 0 {
		config.MaxIdle = def.MaxIdle
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(config.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				o.reconcileDeferred(ctx)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				evicted := o.store.EvictIdleOlderThan(config.MaxIdle, o.now())
				for _, id := range evicted {
					o.reseq.Forget(id)
				}
				if len(evicted) > 0 {
					observability.SessionsEvicted.Add(float64(len(evicted)))
					observability.SessionsLive.Set(float64(o.store.Len()))
					o.logger.Info("idle sessions evicted", "count", len(evicted))
				}
			}
		}
	})

	return g.Wait()
}

// reconcileDeferred replays deferred strikes once the system is back in
// Full mode. Items that fail to record re-enter the queue with their
// original timestamps, so the dedupe key is stable and nothing is
// double-counted.
func (o *Orchestrator) reconcileDeferred(ctx context.Context) {
	if o.controller.SelectMode() != degrade.ModeFull {
		return
	}
	if o.controller.DeferredDepth() == 0 {
		return
	}

	items := o.controller.Drain()
	replayed := 0
	for i, item := range items {
		_, applied, err := o.ledger.Record(ctx, item.UserID, item.Reason, item.Timestamp)
		if err != nil {
			o.logger.Error("deferred strike replay failed, re-queueing",
				"user_id", item.UserID, "error", err)
			for _, rest := range items[i:] {
				o.controller.Defer(rest)
			}
			return
		}
		if applied {
			observability.StrikesRecorded.WithLabelValues(item.Reason).Inc()
		}
		replayed++
	}
	if replayed > 0 {
		o.logger.Info("deferred strikes reconciled", "count", replayed)
	}
}
