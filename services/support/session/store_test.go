// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreateReturnsCopies(t *testing.T) {
	s := NewStore()
	now := time.Now()

	a := s.GetOrCreate("cap-1", now)
	a.Current = StateInTopic

	b, ok := s.Get("cap-1")
	require.True(t, ok)
	assert.Equal(t, StateIdle, b.Current, "mutating a read copy must not leak into the store")
}

func TestStore_UpsertReplacesWholeRecord(t *testing.T) {
	s := NewStore()
	now := time.Now()

	sess := s.GetOrCreate("cap-1", now)
	sess.Current = StateAwaitingConfirmation
	sess.Pending = &PendingAction{Kind: ActionDeleteAccount, ExpiresAt: now.Add(time.Minute)}
	s.Upsert(sess)

	got, ok := s.Get("cap-1")
	require.True(t, ok)
	assert.Equal(t, StateAwaitingConfirmation, got.Current)
	require.NotNil(t, got.Pending)
	assert.Equal(t, ActionDeleteAccount, got.Pending.Kind)

	// Mutating the committed record afterwards has no effect either.
	sess.Pending.Kind = ActionSubmitEvidence
	got, _ = s.Get("cap-1")
	assert.Equal(t, ActionDeleteAccount, got.Pending.Kind)
}

func TestStore_AcquireSerializesPerUser(t *testing.T) {
	s := NewStore()

	const workers = 16
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := s.Acquire("cap-1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestStore_AcquireReapsLockEntries(t *testing.T) {
	s := NewStore()
	ul := &s.users[shardIndex("cap-1")]

	release := s.Acquire("cap-1")
	ul.mu.Lock()
	_, held := ul.locks["cap-1"]
	ul.mu.Unlock()
	assert.True(t, held)

	release()
	ul.mu.Lock()
	_, held = ul.locks["cap-1"]
	ul.mu.Unlock()
	assert.False(t, held, "the last release must remove the lock entry")

	// Churn across users leaves nothing behind.
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			release := s.Acquire(fmt.Sprintf("cap-%d", n%8))
			release()
		}(i)
	}
	wg.Wait()

	entries := 0
	for i := range s.users {
		s.users[i].mu.Lock()
		entries += len(s.users[i].locks)
		s.users[i].mu.Unlock()
	}
	assert.Zero(t, entries)
}

func TestStore_EvictIdleOlderThan(t *testing.T) {
	s := NewStore()
	now := time.Now()

	stale := s.GetOrCreate("cap-old", now.Add(-2*time.Hour))
	s.Upsert(stale)
	fresh := s.GetOrCreate("cap-new", now)
	s.Upsert(fresh)

	evicted := s.EvictIdleOlderThan(time.Hour, now)
	assert.Equal(t, []string{"cap-old"}, evicted)

	_, ok := s.Get("cap-old")
	assert.False(t, ok)
	_, ok = s.Get("cap-new")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentAccessAcrossUsers(t *testing.T) {
	s := NewStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("cap-%d", n%8)
			release := s.Acquire(id)
			defer release()
			sess := s.GetOrCreate(id, now)
			sess.TurnCount++
			s.Upsert(sess)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, s.Len())
	total := 0
	for i := 0; i < 8; i++ {
		sess, ok := s.Get(fmt.Sprintf("cap-%d", i))
		require.True(t, ok)
		total += sess.TurnCount
	}
	assert.Equal(t, 64, total)
}
