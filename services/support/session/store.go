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
	"hash/fnv"
	"sync"
	"time"
)

const defaultShards = 32

// Store is the in-memory session store.
//
// # Description
//
// Sessions are partitioned across shards by FNV-1a of the user ID, so
// unrelated captains never contend on one mutex. Reads and writes hand
// out deep copies; the stored record is never aliased by callers.
//
// Per-user message serialization is a separate concern from shard
// locking: Acquire gives the orchestrator an exclusive per-user lock
// held across the whole message pipeline, while the shard mutexes only
// guard the map itself.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	shards [defaultShards]shard
	users  [defaultShards]userLocks
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

// userLock is refcounted so entries can be reaped once no message is
// holding or waiting on them.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].sessions = make(map[string]*Session)
		s.users[i].locks = make(map[string]*userLock)
	}
	return s
}

func shardIndex(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % defaultShards)
}

// Get returns a copy of the session for a captain, or (nil, false) when
// none exists.
func (s *Store) Get(userID string) (*Session, bool) {
	sh := &s.shards[shardIndex(userID)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	sess, ok := sh.sessions[userID]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// GetOrCreate returns a copy of the captain's session, creating an idle
// one if absent.
func (s *Store) GetOrCreate(userID string, now time.Time) *Session {
	sh := &s.shards[shardIndex(userID)]

	sh.mu.RLock()
	if sess, ok := sh.sessions[userID]; ok {
		cp := sess.Clone()
		sh.mu.RUnlock()
		return cp
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sess, ok := sh.sessions[userID]; ok {
		return sess.Clone()
	}
	sess := NewSession(userID, now)
	sh.sessions[userID] = sess.Clone()
	return sess
}

// Upsert commits a whole session record, replacing any previous one.
func (s *Store) Upsert(sess *Session) {
	sh := &s.shards[shardIndex(sess.UserID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.sessions[sess.UserID] = sess.Clone()
}

// Delete removes a captain's session.
func (s *Store) Delete(userID string) {
	sh := &s.shards[shardIndex(userID)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, userID)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].sessions)
		s.shards[i].mu.RUnlock()
	}
	return n
}

// Acquire takes the exclusive per-user lock and returns its release
// function. The orchestrator holds this across the full pipeline for a
// message, so messages from one captain are strictly serialized.
//
// The lock entry is refcounted: waiters take a reference before
// blocking, and the last release removes the entry, so the lock map
// never outgrows the set of in-flight messages.
func (s *Store) Acquire(userID string) func() {
	ul := &s.users[shardIndex(userID)]

	ul.mu.Lock()
	l, ok := ul.locks[userID]
	if !ok {
		l = &userLock{}
		ul.locks[userID] = l
	}
	l.refs++
	ul.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		ul.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(ul.locks, userID)
		}
		ul.mu.Unlock()
	}
}

// EvictIdleOlderThan drops sessions whose last activity is older than
// maxIdle and returns the evicted user IDs. Pending actions on evicted
// sessions are discarded with them; the expiry sweep runs well past any
// pending-action TTL.
func (s *Store) EvictIdleOlderThan(maxIdle time.Duration, now time.Time) []string {
	cutoff := now.Add(-maxIdle)
	var evicted []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if sess.LastActivityAt.Before(cutoff) {
				delete(sh.sessions, id)
				evicted = append(evicted, id)
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}
