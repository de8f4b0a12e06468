// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session holds the per-captain conversation state and the state
// guard that validates every transition.
//
// # Description
//
// One Session exists per captain. It is mutated exclusively by the Guard
// under the store's per-user lock, and every mutation is committed as a
// whole-record replace (Upsert), never a partial field update.
//
// Core invariant: a session has a pending action if and only if it is in
// StateAwaitingConfirmation. The Guard checks this on every message and
// repairs violations by resetting the session rather than crashing.
package session

import (
	"errors"
	"time"

	"github.com/AleutianAI/DispatchGuard/services/support/language"
)

// ErrSessionCorrupted reports an invariant violation found on read
// (e.g. awaiting confirmation with no pending action). Fatal for the
// session only: the guard resets it to idle and reports the event.
var ErrSessionCorrupted = errors.New("session: corrupted state")

// ErrInvalidTransition reports a message arriving in a state that
// forbids it. Recovered by re-prompting, never fatal.
var ErrInvalidTransition = errors.New("session: invalid transition")

// State is the conversation state of a session.
type State int

const (
	// StateIdle has no pending topic.
	StateIdle State = iota
	// StateInTopic is actively collecting info for a multi-step task.
	StateInTopic
	// StateAwaitingConfirmation means a pending action is set and the
	// very next reply is interpreted as confirm/cancel/ambiguous.
	StateAwaitingConfirmation
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTopic:
		return "in_topic"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "unknown"
	}
}

// ActionKind is the closed set of sensitive actions that require
// explicit confirmation. Adding a kind is a compile-time-checked
// addition: the executor dispatch switches exhaustively over these.
type ActionKind int

const (
	// ActionRegisterDocument submits onboarding verification documents.
	ActionRegisterDocument ActionKind = iota
	// ActionSubmitEvidence attaches evidence to an open dispute.
	ActionSubmitEvidence
	// ActionEscalateDispute hands a dispute to a human reviewer.
	ActionEscalateDispute
	// ActionDeleteAccount requests account deletion.
	ActionDeleteAccount
)

// String returns the wire name of the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionRegisterDocument:
		return "register_document"
	case ActionSubmitEvidence:
		return "submit_evidence"
	case ActionEscalateDispute:
		return "escalate_dispute"
	case ActionDeleteAccount:
		return "delete_account"
	default:
		return "unknown"
	}
}

// PendingAction captures what a confirm/cancel reply will apply to.
// Owned exclusively by its Session.
type PendingAction struct {
	Kind      ActionKind        `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

func (p *PendingAction) clone() *PendingAction {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Payload != nil {
		cp.Payload = make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			cp.Payload[k] = v
		}
	}
	return &cp
}

// Expired reports whether the pending action's deadline has passed.
func (p *PendingAction) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Session is the per-captain conversation record.
type Session struct {
	UserID  string `json:"user_id"`
	Current State  `json:"current_state"`

	// Pending is non-nil exactly when Current is
	// StateAwaitingConfirmation.
	Pending *PendingAction `json:"pending,omitempty"`

	// Language is the session language lock, mutated by the resolver.
	Language language.LockState `json:"language"`

	// AmbiguousReplies counts consecutive unclassifiable replies to the
	// current pending action.
	AmbiguousReplies int `json:"ambiguous_replies,omitempty"`

	// LastSeq is the per-user resequencing cursor (highest sequence
	// number handed to the guard so far).
	LastSeq uint64 `json:"last_seq"`

	TurnCount      int       `json:"turn_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewSession creates an idle session for a captain.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		Current:        StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy, so store readers never alias the stored
// record.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Pending = s.Pending.clone()
	return &cp
}

// Validate checks the pending/state invariant.
//
// Returns ErrSessionCorrupted when the session is awaiting confirmation
// without a pending action, or carries a pending action in any other
// state.
func (s *Session) Validate() error {
	awaiting := s.Current == StateAwaitingConfirmation
	hasPending := s.Pending != nil
	if awaiting != hasPending {
		return ErrSessionCorrupted
	}
	return nil
}

// Reset clears all in-flight conversational state back to idle,
// discarding any pending action.
func (s *Session) Reset() {
	s.Current = StateIdle
	s.Pending = nil
	s.AmbiguousReplies = 0
}
