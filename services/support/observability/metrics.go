// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the Prometheus metrics for the support
// agent. All metrics are registered once via promauto at init.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// MessagesTotal counts handled messages by resolved language, mode,
	// and reply kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchguard_messages_total",
		Help: "Total handled messages by language, degradation mode, and reply kind",
	}, []string{"language", "mode", "reply"})

	// MessageDuration tracks end-to-end message handling latency.
	MessageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatchguard_message_duration_seconds",
		Help:    "Message handling duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
	}, []string{"mode"})

	// ClassifierCalls counts classifier invocations by backend and result.
	ClassifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchguard_classifier_calls_total",
		Help: "Classifier calls by backend (model, fallback) and result",
	}, []string{"backend", "result"})

	// BreakerState exposes each breaker's state (0 closed, 1 open,
	// 2 half-open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatchguard_breaker_state",
		Help: "Circuit breaker state per target: 0=closed, 1=open, 2=half_open",
	}, []string{"target"})

	// DegradationMode exposes the mode chosen per request (0 full,
	// 1 reduced, 2 minimal) as a last-observed gauge.
	DegradationMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchguard_degradation_mode",
		Help: "Last selected degradation mode: 0=full, 1=reduced, 2=minimal",
	})

	// StrikesRecorded counts applied ledger writes by reason.
	StrikesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchguard_strikes_recorded_total",
		Help: "Strikes written to the ledger by reason",
	}, []string{"reason"})

	// StrikesDeferred counts strikes queued during minimal mode.
	StrikesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchguard_strikes_deferred_total",
		Help: "Strikes deferred while the ledger path was degraded",
	})

	// TierEscalations counts trust tier escalations by new tier.
	TierEscalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatchguard_tier_escalations_total",
		Help: "Trust tier escalations by new tier",
	}, []string{"tier"})

	// SessionsLive exposes the number of sessions in the store.
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatchguard_sessions_live",
		Help: "Sessions currently held in the store",
	})

	// SessionsEvicted counts idle-session evictions.
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchguard_sessions_evicted_total",
		Help: "Sessions evicted by the idle sweep",
	})

	// CorruptedSessions counts invariant-violation resets.
	CorruptedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatchguard_sessions_corrupted_total",
		Help: "Sessions reset after a state invariant violation",
	})
)
