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
	"sort"
	"sync"
)

// Store persists the append-only ledger.
type Store interface {
	// Append writes a strike unless its dedupe key was seen before.
	// Returns false when the strike was a duplicate and nothing was
	// written.
	Append(ctx context.Context, s Strike) (bool, error)

	// List returns all strikes for a captain in chronological order.
	List(ctx context.Context, userID string) ([]Strike, error)
}

// MemoryStore is the non-durable Store used in tests and single-node
// dev setups.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	byUser map[string][]Strike
	seen   map[string]struct{}
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser: make(map[string][]Strike),
		seen:   make(map[string]struct{}),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, s Strike) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.seen[s.DedupeKey]; dup {
		return false, nil
	}
	m.seen[s.DedupeKey] = struct{}{}
	m.byUser[s.UserID] = append(m.byUser[s.UserID], s)
	return true, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, userID string) ([]Strike, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.byUser[userID]
	out := make([]Strike, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
