// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package degrade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
)

func newHealthyController() (*Controller, *breaker.Registry) {
	reg := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1,
		Cooldown:         time.Hour, // stays open for the whole test
	})
	c := NewController(Config{
		MaxInFlight: 4,
		AdmitRate:   10000,
		AdmitBurst:  10000,
	}, reg)
	return c, reg
}

func TestSelectMode_FullWhenHealthy(t *testing.T) {
	c, _ := newHealthyController()
	assert.Equal(t, ModeFull, c.SelectMode())
}

func TestSelectMode_ReducedWhenClassifierOpen(t *testing.T) {
	c, reg := newHealthyController()
	reg.Get(breaker.TargetClassifier).RecordFailure()
	require.Equal(t, breaker.StateOpen, reg.Get(breaker.TargetClassifier).State())

	assert.Equal(t, ModeReduced, c.SelectMode())
}

func TestSelectMode_ReducedWhenOverloaded(t *testing.T) {
	c, _ := newHealthyController()

	var done []func()
	for i := 0; i < 5; i++ {
		done = append(done, c.Begin())
	}
	assert.Equal(t, ModeReduced, c.SelectMode())

	for _, fn := range done {
		fn()
	}
	assert.Equal(t, ModeFull, c.SelectMode())
}

func TestSelectMode_MinimalWhenOpenAndOverloaded(t *testing.T) {
	c, reg := newHealthyController()
	reg.Get(breaker.TargetClassifier).RecordFailure()

	var done []func()
	for i := 0; i < 5; i++ {
		done = append(done, c.Begin())
	}
	defer func() {
		for _, fn := range done {
			fn()
		}
	}()

	assert.Equal(t, ModeMinimal, c.SelectMode())
}

func TestSelectMode_RecoversWhenBreakerCloses(t *testing.T) {
	c, reg := newHealthyController()
	b := reg.Get(breaker.TargetClassifier)
	b.RecordFailure()
	require.Equal(t, ModeReduced, c.SelectMode())

	b.Reset()
	assert.Equal(t, ModeFull, c.SelectMode(), "mode is recomputed per request")
}

func TestBeginRelease_IsIdempotent(t *testing.T) {
	c, _ := newHealthyController()

	release := c.Begin()
	release()
	release() // double release must not underflow

	assert.Equal(t, int64(0), c.Stats().InFlight)
}

func TestDeferAndDrain(t *testing.T) {
	c, _ := newHealthyController()

	c.Defer(DeferredStrike{UserID: "cap-1", Reason: "abusive_language", Severity: 2})
	c.Defer(DeferredStrike{UserID: "cap-2", Reason: "fraud_signal", Severity: 4})
	assert.Equal(t, 2, c.DeferredDepth())

	items := c.Drain()
	require.Len(t, items, 2)
	assert.Equal(t, "cap-1", items[0].UserID)
	assert.Equal(t, 0, c.DeferredDepth())

	assert.Empty(t, c.Drain(), "second drain is empty, items are never duplicated")
}

func TestDefer_OverflowFlagsButKeeps(t *testing.T) {
	reg := breaker.NewRegistry(breaker.DefaultConfig())
	c := NewController(Config{
		DeferredCapacity: 2,
		AdmitRate:        10000,
		AdmitBurst:       10000,
	}, reg)

	for i := 0; i < 3; i++ {
		c.Defer(DeferredStrike{UserID: "cap-1", Reason: "spam", Severity: 1})
	}

	stats := c.Stats()
	assert.True(t, stats.Overflowed)
	assert.Len(t, c.Drain(), 3, "overflow never drops items")
}
