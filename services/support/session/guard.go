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
	"time"

	"github.com/AleutianAI/DispatchGuard/services/support/language"
)

// InputKind is the guard-level class of an incoming message, derived
// from the classifier's intent by the orchestrator.
type InputKind int

const (
	// InputGeneral is a question or small talk with no state change.
	InputGeneral InputKind = iota
	// InputOpenTopic starts a multi-step flow (dispute details, report).
	InputOpenTopic
	// InputStartAction requests a sensitive action that needs
	// confirmation.
	InputStartAction
)

// Input is one resequenced message entering the guard.
type Input struct {
	Kind    InputKind
	Action  ActionKind        // valid when Kind == InputStartAction
	Payload map[string]string // action parameters extracted upstream
	Lang    string            // resolved reply language for this turn
	Text    string
	Seq     uint64
	Now     time.Time
}

// ReplyKind selects the response template. Rendering into the locked
// language happens in the conversation layer.
type ReplyKind int

const (
	// ReplyGeneral answers the message with no protocol framing.
	ReplyGeneral ReplyKind = iota
	// ReplyAskConfirm restates the pending action and asks yes/no.
	ReplyAskConfirm
	// ReplyExecuted reports that the confirmed action ran.
	ReplyExecuted
	// ReplyCancelled acknowledges an explicit cancellation.
	ReplyCancelled
	// ReplyReprompt re-asks after an ambiguous confirmation reply.
	ReplyReprompt
	// ReplyForcedCancel reports auto-cancellation after too many
	// ambiguous replies.
	ReplyForcedCancel
	// ReplyExpired reports that the pending action timed out.
	ReplyExpired
	// ReplyReset reports recovery from a corrupted session.
	ReplyReset
)

// String returns the template key for a reply kind.
func (k ReplyKind) String() string {
	switch k {
	case ReplyAskConfirm:
		return "ask_confirm"
	case ReplyExecuted:
		return "executed"
	case ReplyCancelled:
		return "cancelled"
	case ReplyReprompt:
		return "reprompt"
	case ReplyForcedCancel:
		return "forced_cancel"
	case ReplyExpired:
		return "expired"
	case ReplyReset:
		return "reset"
	default:
		return "general"
	}
}

// Outcome is the guard's decision for one message.
type Outcome struct {
	Reply ReplyKind

	// Execute is the confirmed action the caller must now run. Set only
	// on an explicit confirmation; the guard itself never executes.
	Execute *PendingAction

	// Superseded marks that a previous pending action was replaced by a
	// new request before being resolved.
	Superseded bool

	// Expired marks that a stale pending action was auto-cancelled on
	// this turn before the message was processed.
	Expired bool
}

// GuardConfig configures the state guard.
type GuardConfig struct {
	// AmbiguityLimit force-cancels the pending action after this many
	// consecutive unclassifiable replies (default: 3).
	AmbiguityLimit int

	// PendingTTL is how long a pending action stays confirmable
	// (default: 5m).
	PendingTTL time.Duration
}

// DefaultGuardConfig returns the default guard settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		AmbiguityLimit: 3,
		PendingTTL:     5 * time.Minute,
	}
}

// Guard applies the conversation state machine to one session at a time.
//
// # Thread Safety
//
// A Guard is stateless apart from configuration; the caller must hold
// the per-user lock for the session being mutated.
type Guard struct {
	config GuardConfig
	vocab  *language.Vocabulary
}

// NewGuard creates a guard. Zero config fields fall back to defaults.
func NewGuard(config GuardConfig, vocab *language.Vocabulary) *Guard {
	def := DefaultGuardConfig()
	if config.AmbiguityLimit <= 0 {
		config.AmbiguityLimit = def.AmbiguityLimit
	}
	if config.PendingTTL <= 0 {
		config.PendingTTL = def.PendingTTL
	}
	if vocab == nil {
		vocab = language.DefaultVocabulary()
	}
	return &Guard{config: config, vocab: vocab}
}

// allowed transition edges; every reachable (state, state) pair the
// guard produces must appear here.
var transitions = map[State]map[State]bool{
	StateIdle: {
		StateIdle:                 true,
		StateInTopic:              true,
		StateAwaitingConfirmation: true,
	},
	StateInTopic: {
		StateIdle:                 true,
		StateInTopic:              true,
		StateAwaitingConfirmation: true,
	},
	StateAwaitingConfirmation: {
		StateIdle:                 true,
		StateAwaitingConfirmation: true,
	},
}

func (g *Guard) transition(sess *Session, to State) error {
	if !transitions[sess.Current][to] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Current, to)
	}
	sess.Current = to
	return nil
}

// HandleMessage runs one message through the state machine, mutating
// sess in place. The caller commits the mutated record with
// Store.Upsert afterwards.
//
// # Description
//
// Order of operations:
//  1. Invariant check. A corrupted record is reset to idle and reported
//     via ErrSessionCorrupted; the returned Outcome (ReplyReset) is
//     still valid and should be sent to the captain.
//  2. Pending-action expiry. A stale pending action is auto-cancelled
//     before the message is interpreted, so a late "yes" can never
//     trigger it.
//  3. State dispatch. While awaiting confirmation, a new action request
//     supersedes the old pending action; otherwise the reply is
//     classified as confirm, cancel, or ambiguous. Consecutive
//     ambiguous replies up to the limit force-cancel.
//
// The guard never executes actions. A confirmation surfaces the action
// in Outcome.Execute and moves the session to idle; the caller runs it
// and owns any failure handling.
func (g *Guard) HandleMessage(sess *Session, in Input) (Outcome, error) {
	if err := sess.Validate(); err != nil {
		sess.Reset()
		sess.LastActivityAt = in.Now
		return Outcome{Reply: ReplyReset}, err
	}

	sess.TurnCount++
	sess.LastActivityAt = in.Now
	if in.Seq > sess.LastSeq {
		sess.LastSeq = in.Seq
	}

	var out Outcome

	if sess.Current == StateAwaitingConfirmation && sess.Pending.Expired(in.Now) {
		sess.Pending = nil
		sess.AmbiguousReplies = 0
		if err := g.transition(sess, StateIdle); err != nil {
			return out, err
		}
		out.Expired = true
	}

	if sess.Current == StateAwaitingConfirmation {
		return g.handleAwaiting(sess, in)
	}

	switch in.Kind {
	case InputStartAction:
		sess.Pending = &PendingAction{
			Kind:      in.Action,
			Payload:   in.Payload,
			CreatedAt: in.Now,
			ExpiresAt: in.Now.Add(g.config.PendingTTL),
		}
		sess.AmbiguousReplies = 0
		if err := g.transition(sess, StateAwaitingConfirmation); err != nil {
			return out, err
		}
		out.Reply = ReplyAskConfirm
		// A request arriving right after an expiry still supersedes
		// nothing; Expired stays set so the reply can mention it.
		return out, nil

	case InputOpenTopic:
		if err := g.transition(sess, StateInTopic); err != nil {
			return out, err
		}
		out.Reply = ReplyGeneral
		if out.Expired {
			out.Reply = ReplyExpired
		}
		return out, nil

	default:
		out.Reply = ReplyGeneral
		if out.Expired {
			out.Reply = ReplyExpired
		}
		return out, nil
	}
}

func (g *Guard) handleAwaiting(sess *Session, in Input) (Outcome, error) {
	var out Outcome

	if in.Kind == InputStartAction {
		sess.Pending = &PendingAction{
			Kind:      in.Action,
			Payload:   in.Payload,
			CreatedAt: in.Now,
			ExpiresAt: in.Now.Add(g.config.PendingTTL),
		}
		sess.AmbiguousReplies = 0
		out.Reply = ReplyAskConfirm
		out.Superseded = true
		return out, nil
	}

	switch g.vocab.Classify(in.Lang, in.Text) {
	case language.ReplyConfirm:
		out.Execute = sess.Pending.clone()
		sess.Pending = nil
		sess.AmbiguousReplies = 0
		if err := g.transition(sess, StateIdle); err != nil {
			return out, err
		}
		out.Reply = ReplyExecuted
		return out, nil

	case language.ReplyCancel:
		sess.Pending = nil
		sess.AmbiguousReplies = 0
		if err := g.transition(sess, StateIdle); err != nil {
			return out, err
		}
		out.Reply = ReplyCancelled
		return out, nil

	default:
		sess.AmbiguousReplies++
		if sess.AmbiguousReplies >= g.config.AmbiguityLimit {
			sess.Pending = nil
			sess.AmbiguousReplies = 0
			if err := g.transition(sess, StateIdle); err != nil {
				return out, err
			}
			out.Reply = ReplyForcedCancel
			return out, nil
		}
		out.Reply = ReplyReprompt
		return out, nil
	}
}
