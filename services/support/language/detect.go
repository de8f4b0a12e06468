// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package language resolves and locks the conversation language.
//
// # Description
//
// Detection is deliberately local and deterministic: rune-class counting
// for Arabic vs Latin script plus an Arabizi heuristic (Arabic written in
// Latin letters with digit substitutions). The external classifier is
// never consulted for language, so detection works identically in every
// degradation mode.
//
// The Resolver applies the session language lock: the first confident
// detection locks the language, and later messages can only flip the lock
// after a configured number of consecutive high-confidence detections of
// a different language. A one-character reply or an emoji can never flip
// the conversation mid-dialogue.
package language

import (
	"strings"
	"unicode"
)

// Supported language codes.
const (
	Arabic  = "ar"
	English = "en"
)

// Detection is the outcome of script-based language detection.
type Detection struct {
	// Language is the detected code, or "" when undecidable.
	Language string

	// Confidence is 0..1. Short or mixed messages score low.
	Confidence float64

	// Arabizi marks Arabic written in Latin script ("3ayez", "tamam").
	Arabizi bool
}

// arabiziMarkers are common Egyptian-Arabic tokens written in Latin
// script, taken from real captain traffic.
var arabiziMarkers = map[string]struct{}{
	"aywa": {}, "ayw": {}, "la2": {}, "tamam": {}, "tmam": {},
	"khalas": {}, "5alas": {}, "shokran": {}, "shukran": {},
	"3ayez": {}, "3awez": {}, "3aiz": {}, "msh": {}, "mesh": {},
	"eh": {}, "leh": {}, "ezay": {}, "ezai": {}, "fen": {}, "feen": {},
	"ya3ni": {}, "ya3ny": {}, "mmkn": {}, "momken": {}, "lw": {},
	"sm7t": {}, "ma3lesh": {}, "kwayes": {}, "kwys": {},
}

// digit-as-letter substitutions used in Arabizi (ع=3, ح=7, خ=5, ء=2, ط=6).
const arabiziDigits = "23567"

// Detect classifies the script of a message.
//
// # Outputs
//
//   - Detection: language code, confidence, and Arabizi flag. Messages
//     with no letters at all (numbers, emoji, punctuation) come back with
//     empty Language and zero confidence.
func Detect(text string) Detection {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Detection{}
	}

	var arabic, latin int
	for _, r := range trimmed {
		switch {
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.IsLetter(r) && r < 0x250:
			latin++
		}
	}

	letters := arabic + latin
	if letters == 0 {
		return Detection{}
	}

	if arabic >= latin {
		return Detection{
			Language:   Arabic,
			Confidence: lengthConfidence(letters) * float64(arabic) / float64(letters),
		}
	}

	if looksArabizi(trimmed) {
		return Detection{Language: Arabic, Confidence: 0.7, Arabizi: true}
	}

	return Detection{
		Language:   English,
		Confidence: lengthConfidence(letters) * float64(latin) / float64(letters),
	}
}

// lengthConfidence scales confidence by message length: a couple of
// letters is never strong evidence of anything.
func lengthConfidence(letters int) float64 {
	switch {
	case letters <= 2:
		return 0.4
	case letters <= 5:
		return 0.75
	default:
		return 1.0
	}
}

func looksArabizi(text string) bool {
	lower := strings.ToLower(text)

	digitHits := 0
	for _, d := range arabiziDigits {
		if strings.ContainsRune(lower, d) {
			digitHits++
		}
	}

	tokenHits := 0
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, ok := arabiziMarkers[tok]; ok {
			tokenHits++
		}
	}

	return tokenHits >= 1 && (digitHits >= 1 || tokenHits >= 2)
}
