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
	"sync"
	"time"
)

const defaultResequenceWait = 2 * time.Second

// resequencer restores per-user message order when the transport
// delivers out of order.
//
// # Description
//
// Each user has a cursor holding the next expected sequence number.
// A message ahead of the cursor waits until the gap fills, the bounded
// wait expires, or the caller's context ends; then it proceeds anyway
// and the cursor jumps, so a gap message arriving after the wait is
// answered as stale. The cursor starts at the first sequence observed
// for a user, since the service cannot know what came before it.
//
// # Thread Safety
//
// Safe for concurrent use. Waiting never holds the mutex.
type resequencer struct {
	maxWait time.Duration

	mu    sync.Mutex
	users map[string]*seqCursor
}

type seqCursor struct {
	// next is the next expected sequence number, 0 until the first
	// message for this user is observed.
	next uint64

	// notify is closed and replaced whenever the cursor advances.
	notify chan struct{}
}

func newResequencer(maxWait time.Duration) *resequencer {
	if maxWait <= 0 {
		maxWait = defaultResequenceWait
	}
	return &resequencer{
		maxWait: maxWait,
		users:   make(map[string]*seqCursor),
	}
}

func (r *resequencer) cursor(userID string) *seqCursor {
	c, ok := r.users[userID]
	if !ok {
		c = &seqCursor{notify: make(chan struct{})}
		r.users[userID] = c
	}
	return c
}

// Wait blocks until seq is next in line for the user, the bounded wait
// expires, or ctx ends. Sequence 0 (no ordering info) and at-or-behind
// sequences return immediately; the pipeline's stale check handles the
// latter.
func (r *resequencer) Wait(ctx context.Context, userID string, seq uint64) {
	if seq == 0 {
		return
	}

	timer := time.NewTimer(r.maxWait)
	defer timer.Stop()

	for {
		r.mu.Lock()
		c := r.cursor(userID)
		if c.next == 0 || seq <= c.next {
			r.mu.Unlock()
			return
		}
		notify := c.notify
		r.mu.Unlock()

		select {
		case <-notify:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Advance marks seq handled and wakes waiters. Behind-cursor sequences
// are a no-op, so it is safe to call on the stale path too.
func (r *resequencer) Advance(userID string, seq uint64) {
	if seq == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cursor(userID)
	if seq+1 <= c.next {
		return
	}
	c.next = seq + 1
	close(c.notify)
	c.notify = make(chan struct{})
}

// Forget drops a user's cursor. Called when their session is evicted.
func (r *resequencer) Forget(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}
