// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"strings"
	"unicode"
)

// Reply classifies a user's answer to a pending confirmation.
type Reply int

const (
	// ReplyAmbiguous is neither a recognized confirmation nor a
	// recognized cancellation.
	ReplyAmbiguous Reply = iota
	// ReplyConfirm approves the pending action.
	ReplyConfirm
	// ReplyCancel rejects the pending action.
	ReplyCancel
)

// String returns a human-readable reply class.
func (r Reply) String() string {
	switch r {
	case ReplyConfirm:
		return "confirm"
	case ReplyCancel:
		return "cancel"
	default:
		return "ambiguous"
	}
}

// Vocabulary holds the confirm/cancel token sets per language. The
// defaults cover English, Arabic and common Arabizi spellings; deployers
// can extend the sets through configuration.
type Vocabulary struct {
	confirm map[string]map[string]struct{}
	cancel  map[string]map[string]struct{}
}

// DefaultVocabulary returns the built-in confirm/cancel token sets.
func DefaultVocabulary() *Vocabulary {
	v := &Vocabulary{
		confirm: map[string]map[string]struct{}{},
		cancel:  map[string]map[string]struct{}{},
	}

	v.Extend(English, []string{
		"yes", "y", "yeah", "yep", "ok", "okay", "sure", "confirm",
		"confirmed", "proceed", "go ahead", "do it", "correct",
	}, []string{
		"no", "n", "nope", "cancel", "stop", "don't", "dont", "abort",
		"never mind", "nevermind", "wrong",
	})

	v.Extend(Arabic, []string{
		"نعم", "اه", "ايوه", "ايوة", "أيوه", "اكيد", "أكيد", "تمام",
		"موافق", "ماشي", "اوك", "يلا", "اكمل", "أكمل",
		// Arabizi confirmations
		"aywa", "ah", "tamam", "akeed", "mashy", "mashi", "ywa",
	}, []string{
		"لا", "لأ", "الغاء", "إلغاء", "الغي", "ألغي", "رفض", "ارفض",
		"مش موافق", "خلاص لا",
		// Arabizi cancellations
		"la", "la2", "laa", "cancel", "msh mwafe2",
	})

	return v
}

// Extend adds confirm and cancel tokens for a language. Tokens are
// matched case-insensitively on the normalized full message.
func (v *Vocabulary) Extend(lang string, confirm, cancel []string) {
	if v.confirm[lang] == nil {
		v.confirm[lang] = map[string]struct{}{}
	}
	if v.cancel[lang] == nil {
		v.cancel[lang] = map[string]struct{}{}
	}
	for _, t := range confirm {
		v.confirm[lang][normalizeToken(t)] = struct{}{}
	}
	for _, t := range cancel {
		v.cancel[lang][normalizeToken(t)] = struct{}{}
	}
}

// Classify interprets text as a confirm/cancel reply in the given
// language.
//
// # Description
//
// The whole normalized message is matched first (catches multi-word
// tokens like "go ahead"), then the first token alone ("yes please").
// The locked language's sets are consulted first; the other language's
// sets are consulted as a fallback because captains frequently answer a
// prompt in the other script. Anything unmatched is ambiguous — the
// caller re-prompts rather than guessing.
func (v *Vocabulary) Classify(lang, text string) Reply {
	normalized := normalizeToken(text)
	if normalized == "" {
		return ReplyAmbiguous
	}

	first := normalized
	if i := strings.IndexByte(normalized, ' '); i > 0 {
		first = normalized[:i]
	}

	for _, l := range v.lookupOrder(lang) {
		if _, ok := v.cancel[l][normalized]; ok {
			return ReplyCancel
		}
		if _, ok := v.confirm[l][normalized]; ok {
			return ReplyConfirm
		}
		if _, ok := v.cancel[l][first]; ok {
			return ReplyCancel
		}
		if _, ok := v.confirm[l][first]; ok {
			return ReplyConfirm
		}
	}

	return ReplyAmbiguous
}

func (v *Vocabulary) lookupOrder(lang string) []string {
	order := make([]string, 0, len(v.confirm)+1)
	if lang != "" {
		order = append(order, lang)
	}
	for l := range v.confirm {
		if l != lang {
			order = append(order, l)
		}
	}
	return order
}

// normalizeToken lowercases, trims, strips punctuation and collapses
// internal whitespace.
func normalizeToken(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
