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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResequencer_FirstObservedSequencePasses(t *testing.T) {
	r := newResequencer(time.Second)
	ctx := context.Background()

	// No history for the user: any starting sequence goes straight
	// through, including a cursor restart after Forget.
	start := time.Now()
	r.Wait(ctx, "cap-1", 7)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	r.Advance("cap-1", 7)

	r.Forget("cap-1")
	start = time.Now()
	r.Wait(ctx, "cap-1", 2)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestResequencer_AdvanceReleasesWaiter(t *testing.T) {
	r := newResequencer(5 * time.Second)
	ctx := context.Background()

	r.Advance("cap-1", 1)

	released := make(chan time.Duration, 1)
	start := time.Now()
	go func() {
		r.Wait(ctx, "cap-1", 3)
		released <- time.Since(start)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Advance("cap-1", 2)

	select {
	case waited := <-released:
		assert.Less(t, waited, time.Second, "waiter must wake on Advance, not on the deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was never released")
	}
}

func TestResequencer_WaitHonorsContext(t *testing.T) {
	r := newResequencer(time.Minute)
	r.Advance("cap-1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	r.Wait(ctx, "cap-1", 9)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResequencer_BehindCursorNeverBlocks(t *testing.T) {
	r := newResequencer(time.Minute)
	r.Advance("cap-1", 5)

	start := time.Now()
	r.Wait(context.Background(), "cap-1", 3)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Advancing backwards is a no-op.
	r.Advance("cap-1", 3)
	start = time.Now()
	r.Wait(context.Background(), "cap-1", 6)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
