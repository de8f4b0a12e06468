// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"strings"
	"unicode"
)

// intent keyword tables for the local heuristic. English, Arabic, and
// common Arabizi spellings share one table since matching is per token
// or substring.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentDeleteAccount, []string{
		"delete my account", "close my account", "remove my account",
		"امسح حسابي", "احذف حسابي", "اقفل حسابي", "الغاء الحساب", "إلغاء الحساب",
	}},
	{IntentEscalateDispute, []string{
		"escalate", "speak to a human", "talk to a person", "supervisor",
		"تصعيد", "اكلم حد", "عايز اكلم موظف", "مسؤول",
	}},
	{IntentSubmitEvidence, []string{
		"evidence", "proof", "screenshot", "receipt",
		"دليل", "اثبات", "إثبات", "صورة الشاشة", "ايصال", "إيصال",
	}},
	{IntentRegisterDocument, []string{
		"register my", "upload my license", "upload my id", "my documents",
		"national id", "driving license",
		"رخصة", "الرخصة", "بطاقة", "البطاقة", "مستندات", "المستندات", "اوراق",
	}},
	{IntentOpenTopic, []string{
		"problem with", "issue with", "complaint", "dispute", "on hold",
		"blocked", "suspended",
		"مشكلة", "شكوى", "معلق", "محجوز", "موقوف", "خصم",
	}},
}

var abusiveKeywords = []string{
	"stupid", "idiot", "scam", "thieves", "يا حمار", "غبي", "نصابين", "حرامية",
}

// Fallback is the local keyword classifier used in reduced mode.
//
// # Description
//
// Deterministic substring matching over a small bilingual keyword table.
// It has no dependencies, never returns an error, and reports moderate
// confidence at best so downstream consumers know the verdict is
// heuristic.
type Fallback struct{}

// NewFallback returns the heuristic classifier.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Classify matches the message against the keyword tables.
func (f *Fallback) Classify(_ context.Context, req Request) (Result, error) {
	text := normalizeText(req.Text)

	result := Result{Intent: IntentGeneral, Confidence: 0.3}
	for _, group := range intentKeywords {
		if containsAny(text, group.keywords) {
			result.Intent = group.intent
			result.Confidence = 0.6
			break
		}
	}

	if containsAny(text, abusiveKeywords) {
		result.ModerationFlags = append(result.ModerationFlags, FlagAbusive)
	}

	return result, nil
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// normalizeText lowercases and strips punctuation so keyword matching
// survives "Delete my account!!!".
func normalizeText(s string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
