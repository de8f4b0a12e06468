// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify turns raw captain messages into intents and
// moderation flags.
//
// # Description
//
// The primary classifier is an external model behind a circuit breaker.
// Every failure mode of that dependency (timeout, transport error,
// malformed response) is normalized to ErrUnavailable so the caller has
// exactly one degradation signal to act on. The Fallback classifier is
// a local keyword heuristic used in reduced mode; it never fails.
package classify

import (
	"context"
	"errors"
)

// ErrUnavailable is the single error surfaced for any classifier
// dependency failure. Callers switch to the fallback on it; they never
// inspect the underlying cause.
var ErrUnavailable = errors.New("classify: service unavailable")

// Intent is the classified purpose of a message.
type Intent string

const (
	// IntentGeneral is a question or small talk.
	IntentGeneral Intent = "general"
	// IntentOpenTopic starts a multi-step support flow.
	IntentOpenTopic Intent = "open_topic"
	// IntentRegisterDocument asks to submit verification documents.
	IntentRegisterDocument Intent = "register_document"
	// IntentSubmitEvidence asks to attach evidence to a dispute.
	IntentSubmitEvidence Intent = "submit_evidence"
	// IntentEscalateDispute asks for human review of a dispute.
	IntentEscalateDispute Intent = "escalate_dispute"
	// IntentDeleteAccount asks for account deletion.
	IntentDeleteAccount Intent = "delete_account"
)

// Moderation flag values attached to a Result.
const (
	FlagAbusive     = "abusive"
	FlagSpam        = "spam"
	FlagFraud       = "fraud_signal"
	FlagSelfHarm    = "self_harm"
	FlagOffPlatform = "off_platform_deal"
)

// Request is one message to classify.
type Request struct {
	Text         string `json:"text"`
	LanguageHint string `json:"language_hint,omitempty"`
	UserID       string `json:"user_id"`
}

// Result is the classifier verdict for one message.
type Result struct {
	Intent          Intent   `json:"intent"`
	ModerationFlags []string `json:"moderation_flags,omitempty"`
	Confidence      float64  `json:"confidence"`

	// Payload carries action parameters the classifier extracted
	// (dispute IDs, document types).
	Payload map[string]string `json:"payload,omitempty"`
}

// Flagged reports whether the result carries a given moderation flag.
func (r Result) Flagged(flag string) bool {
	for _, f := range r.ModerationFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// Client classifies messages.
type Client interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// validIntents guards against the model inventing intent labels.
var validIntents = map[Intent]bool{
	IntentGeneral:          true,
	IntentOpenTopic:        true,
	IntentRegisterDocument: true,
	IntentSubmitEvidence:   true,
	IntentEscalateDispute:  true,
	IntentDeleteAccount:    true,
}

// ValidIntent reports whether the label is one the pipeline understands.
func ValidIntent(i Intent) bool {
	return validIntents[i]
}
