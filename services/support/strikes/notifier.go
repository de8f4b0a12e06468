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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Escalation is sent to the back office when a captain's tier worsens.
type Escalation struct {
	UserID  string    `json:"userId"`
	NewTier string    `json:"newTier"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Notifier delivers escalation events. Implementations must not block
// the caller.
type Notifier interface {
	NotifyEscalation(ev Escalation)
}

// NopNotifier discards escalations. Used when no back-office endpoint
// is configured.
type NopNotifier struct{}

// NotifyEscalation implements Notifier.
func (NopNotifier) NotifyEscalation(Escalation) {}

// BackofficeNotifier posts escalations to the back-office webhook.
//
// # Description
//
// Fire and forget: events enter a bounded queue and a single worker
// posts them. A full queue drops the event with a warning rather than
// stalling message handling; delivery failures are logged, never
// retried into the hot path. The strike itself is already durable in
// the ledger, so a lost notification is recoverable from there.
//
// # Thread Safety
//
// NotifyEscalation is safe for concurrent use.
type BackofficeNotifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	queue   chan Escalation
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewBackofficeNotifier starts the delivery worker. Call Close on
// shutdown to flush the queue.
func NewBackofficeNotifier(endpoint string, queueSize int, logger *slog.Logger) *BackofficeNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	n := &BackofficeNotifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		queue:    make(chan Escalation, queueSize),
		done:     make(chan struct{}),
	}
	go n.run()
	return n
}

// NotifyEscalation implements Notifier.
func (n *BackofficeNotifier) NotifyEscalation(ev Escalation) {
	select {
	case n.queue <- ev:
	default:
		n.dropped.Add(1)
		n.logger.Warn("escalation queue full, event dropped",
			"user_id", ev.UserID, "new_tier", ev.NewTier)
	}
}

// Dropped returns the number of events lost to a full queue.
func (n *BackofficeNotifier) Dropped() int64 {
	return n.dropped.Load()
}

// Close stops the worker after draining queued events.
func (n *BackofficeNotifier) Close() {
	n.closeOnce.Do(func() {
		close(n.queue)
		<-n.done
	})
}

func (n *BackofficeNotifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		n.deliver(ev)
	}
}

func (n *BackofficeNotifier) deliver(ev Escalation) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("encode escalation", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("build escalation request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("escalation delivery failed",
			"user_id", ev.UserID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("escalation rejected by back office",
			"user_id", ev.UserID, "status", resp.StatusCode)
	}
}
