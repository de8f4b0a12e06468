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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	strike/<userID>/<dedupeKey>  -> Strike JSON
//	dedupe/<dedupeKey>           -> empty
//
// The dedupe index is separate so Append can check idempotence without
// knowing the user prefix, and so a ledger scan never pays for index
// entries.
const (
	strikePrefix = "strike/"
	dedupePrefix = "dedupe/"
)

// BadgerStore is the durable Store.
//
// # Thread Safety
//
// Safe for concurrent use; each Append runs in one Badger transaction.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an opened database. The caller owns db's
// lifecycle.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func strikeKey(userID, dedupeKey string) []byte {
	return []byte(strikePrefix + userID + "/" + dedupeKey)
}

func dedupeKey(key string) []byte {
	return []byte(dedupePrefix + key)
}

// Append implements Store.
func (b *BadgerStore) Append(_ context.Context, s Strike) (bool, error) {
	written := false
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dedupeKey(s.DedupeKey))
		if err == nil {
			return nil // duplicate
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("check dedupe index: %w", err)
		}

		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode strike: %w", err)
		}
		if err := txn.Set(strikeKey(s.UserID, s.DedupeKey), raw); err != nil {
			return fmt.Errorf("write strike: %w", err)
		}
		if err := txn.Set(dedupeKey(s.DedupeKey), nil); err != nil {
			return fmt.Errorf("write dedupe index: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

// List implements Store.
func (b *BadgerStore) List(_ context.Context, userID string) ([]Strike, error) {
	prefix := []byte(strikePrefix + userID + "/")
	var out []Strike

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(raw []byte) error {
				var s Strike
				if err := json.Unmarshal(raw, &s); err != nil {
					return fmt.Errorf("decode strike %s: %w", it.Item().Key(), err)
				}
				out = append(out, s)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
