// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation wires the full message pipeline: language
// resolution, degradation-aware classification, the session state
// guard, the strike ledger, and reply rendering.
//
// # Description
//
// All messages from one captain are strictly serialized behind the
// session store's per-user lock. Reordered deliveries are resequenced:
// an ahead-of-sequence message waits a bounded interval for the gap to
// fill before it is processed, and messages at or below the session
// cursor get a stale reply instead of mutating state. Messages from
// different captains proceed concurrently.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/classify"
	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
	"github.com/AleutianAI/DispatchGuard/services/support/language"
	"github.com/AleutianAI/DispatchGuard/services/support/observability"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
	"github.com/AleutianAI/DispatchGuard/services/support/strikes"
)

// Message is one inbound captain message.
type Message struct {
	UserID     string
	Text       string
	Seq        uint64
	ReceivedAt time.Time
}

// Response is the agent's reply plus pipeline metadata.
type Response struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Mode     string `json:"mode"`
	State    string `json:"state"`
	Reply    string `json:"reply"`
	Tier     string `json:"tier,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
}

// Orchestrator runs the message pipeline.
type Orchestrator struct {
	store      *session.Store
	guard      *session.Guard
	resolver   *language.Resolver
	gate       *featuregate.Gate
	classifier classify.Client
	fallback   classify.Client
	breakers   *breaker.Registry
	controller *degrade.Controller
	ledger     *strikes.Ledger
	executor   Executor
	logger     *slog.Logger
	reseq      *resequencer

	now func() time.Time
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store      *session.Store
	Guard      *session.Guard
	Resolver   *language.Resolver
	Gate       *featuregate.Gate
	Classifier classify.Client
	Breakers   *breaker.Registry
	Controller *degrade.Controller
	Ledger     *strikes.Ledger
	Executor   Executor
	Logger     *slog.Logger

	// ResequenceWait bounds how long an ahead-of-sequence message waits
	// for the gap to fill before being processed anyway (default: 2s).
	ResequenceWait time.Duration
}

// New creates an orchestrator. Classifier may be nil, in which case the
// keyword fallback serves every request.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:      deps.Store,
		guard:      deps.Guard,
		resolver:   deps.Resolver,
		gate:       deps.Gate,
		classifier: deps.Classifier,
		fallback:   classify.NewFallback(),
		breakers:   deps.Breakers,
		controller: deps.Controller,
		ledger:     deps.Ledger,
		executor:   deps.Executor,
		logger:     logger,
		reseq:      newResequencer(deps.ResequenceWait),
		now:        time.Now,
	}
	if o.classifier == nil {
		o.classifier = o.fallback
	}
	return o
}

// HandleMessage runs one message through the pipeline.
//
// # Description
//
// Pipeline order: wait for the message's turn in the per-user sequence
// (bounded), acquire the per-user lock, drop stale sequence numbers,
// resolve language, select the degradation mode, classify,
// apply moderation strikes, run the state guard, execute a confirmed
// action, commit the session, render the reply. Failures inside the
// pipeline degrade the reply; they never leave the session in a
// half-committed state because the record is committed exactly once.
//
// # Outputs
//
//   - Response: reply text in the locked language plus metadata.
//   - error: ErrActionExecutionFailed (with a valid apology Response)
//     or a ledger storage failure.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) (Response, error) {
	// Hold ahead-of-sequence messages outside the per-user lock so the
	// gap message can still get through; the wait is bounded.
	o.reseq.Wait(ctx, msg.UserID, msg.Seq)
	defer o.reseq.Advance(msg.UserID, msg.Seq)

	release := o.store.Acquire(msg.UserID)
	defer release()
	done := o.controller.Begin()
	defer done()

	start := o.now()
	now := msg.ReceivedAt
	if now.IsZero() {
		now = start
	}

	sess := o.store.GetOrCreate(msg.UserID, now)

	if msg.Seq != 0 && msg.Seq <= sess.LastSeq {
		o.logger.Debug("stale message skipped",
			"user_id", msg.UserID, "seq", msg.Seq, "cursor", sess.LastSeq)
		return Response{
			Text:     renderStale(sess.Language.Locked),
			Language: sess.Language.Locked,
			State:    sess.Current.String(),
			Reply:    "stale",
			Stale:    true,
		}, nil
	}

	lang := o.resolver.Resolve(&sess.Language, msg.UserID, msg.Text)

	mode := o.controller.SelectMode()
	observability.DegradationMode.Set(float64(mode))

	result := o.classifyMessage(ctx, msg, lang, mode)

	summary, err := o.applyModeration(ctx, msg.UserID, result, mode, now)
	tierKnown := err == nil
	if err != nil {
		// Ledger storage failure: degrade to a deferred strike rather
		// than losing the violation or failing the message.
		o.logger.Error("strike recording failed, deferring",
			"user_id", msg.UserID, "error", err)
		o.deferStrikes(msg.UserID, result, now)
	}

	input := o.guardInput(msg, result, lang, summary, tierKnown, now)

	out, guardErr := o.guard.HandleMessage(sess, input.Input)
	if guardErr != nil {
		if errors.Is(guardErr, session.ErrSessionCorrupted) {
			observability.CorruptedSessions.Inc()
			o.logger.Warn("corrupted session reset", "user_id", msg.UserID)
		} else {
			o.store.Upsert(sess)
			return Response{}, guardErr
		}
	}

	resp := Response{
		Language: lang,
		Mode:     mode.String(),
		Reply:    out.Reply.String(),
		Tier:     summary.TierName,
	}

	var actionKind session.ActionKind
	switch {
	case out.Execute != nil:
		actionKind = out.Execute.Kind
	case sess.Pending != nil:
		actionKind = sess.Pending.Kind
	case input.Kind == session.InputStartAction:
		actionKind = input.Action
	}

	var execErr error
	if out.Execute != nil {
		if execErr = o.executor.Execute(ctx, msg.UserID, out.Execute); execErr != nil {
			o.logger.Error("confirmed action failed",
				"user_id", msg.UserID, "action", out.Execute.Kind.String(), "error", execErr)
		}
	}

	o.store.Upsert(sess)
	observability.SessionsLive.Set(float64(o.store.Len()))

	resp.State = sess.Current.String()
	switch {
	case execErr != nil:
		resp.Text = renderApology(lang, actionKind)
		resp.Reply = "apology"
	case input.restricted:
		resp.Text = renderRestricted(lang)
		resp.Reply = "restricted"
	default:
		resp.Text = renderReply(lang, out.Reply, actionKind, out.Superseded)
	}

	observability.MessagesTotal.WithLabelValues(lang, mode.String(), resp.Reply).Inc()
	observability.MessageDuration.WithLabelValues(mode.String()).Observe(o.now().Sub(start).Seconds())

	if execErr != nil {
		return resp, execErr
	}
	return resp, nil
}

// classifyMessage picks the classifier backend for the mode and runs it
// through the classifier breaker. It always returns a usable result.
func (o *Orchestrator) classifyMessage(ctx context.Context, msg Message, lang string, mode degrade.Mode) classify.Result {
	req := classify.Request{Text: msg.Text, LanguageHint: lang, UserID: msg.UserID}

	if mode == degrade.ModeMinimal || !o.gate.Enabled(featuregate.FlagMLModeration, msg.UserID) {
		result, _ := o.fallback.Classify(ctx, req)
		observability.ClassifierCalls.WithLabelValues("fallback", "ok").Inc()
		return result
	}

	br := o.breakers.Get(breaker.TargetClassifier)
	defer func() {
		observability.BreakerState.WithLabelValues(breaker.TargetClassifier).Set(float64(br.State()))
	}()

	allowed, probeDone := br.Allow()
	if !allowed {
		result, _ := o.fallback.Classify(ctx, req)
		observability.ClassifierCalls.WithLabelValues("fallback", "circuit_open").Inc()
		return result
	}
	// probeDone is only non-nil for the half-open probe slot.
	if probeDone != nil {
		defer probeDone()
	}

	callCtx := ctx
	if mode == degrade.ModeReduced {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.controller.ReducedTimeout())
		defer cancel()
	}

	result, err := o.classifier.Classify(callCtx, req)
	if err != nil {
		br.RecordFailure()
		observability.ClassifierCalls.WithLabelValues("model", "error").Inc()
		o.logger.Warn("classifier unavailable, using fallback",
			"user_id", msg.UserID, "error", err)
		result, _ = o.fallback.Classify(ctx, req)
		observability.ClassifierCalls.WithLabelValues("fallback", "ok").Inc()
		return result
	}

	br.RecordSuccess()
	observability.ClassifierCalls.WithLabelValues("model", "ok").Inc()
	return result
}

// flagReasons maps moderation flags to ledger reasons. Flags without an
// entry are observational only.
var flagReasons = map[string]string{
	classify.FlagAbusive:     strikes.ReasonAbusiveLanguage,
	classify.FlagSpam:        strikes.ReasonSpam,
	classify.FlagFraud:       strikes.ReasonFraudSignal,
	classify.FlagOffPlatform: strikes.ReasonOffPlatformDeal,
}

// applyModeration records strikes for moderation flags. In Minimal mode
// strikes are deferred instead of written, so the ledger path stays
// cold while degraded.
func (o *Orchestrator) applyModeration(ctx context.Context, userID string, result classify.Result, mode degrade.Mode, now time.Time) (strikes.Summary, error) {
	if mode == degrade.ModeMinimal {
		o.deferStrikes(userID, result, now)
		return o.ledger.Summary(ctx, userID, now)
	}

	var summary strikes.Summary
	var err error
	recorded := false
	for _, flag := range result.ModerationFlags {
		reason, ok := flagReasons[flag]
		if !ok {
			continue
		}
		var applied bool
		summary, applied, err = o.ledger.Record(ctx, userID, reason, now)
		if err != nil {
			return strikes.Summary{}, err
		}
		recorded = true
		if applied {
			observability.StrikesRecorded.WithLabelValues(reason).Inc()
			if summary.Tier >= strikes.TierRestricted {
				observability.TierEscalations.WithLabelValues(summary.TierName).Inc()
			}
		}
	}

	if !recorded {
		summary, err = o.ledger.Summary(ctx, userID, now)
	}
	return summary, err
}

func (o *Orchestrator) deferStrikes(userID string, result classify.Result, now time.Time) {
	for _, flag := range result.ModerationFlags {
		reason, ok := flagReasons[flag]
		if !ok {
			continue
		}
		o.controller.Defer(degrade.DeferredStrike{
			UserID:    userID,
			Reason:    reason,
			Severity:  strikes.SeverityFor(reason),
			Timestamp: now,
		})
		observability.StrikesDeferred.Inc()
	}
}

// guardInput maps a classifier verdict to a guard input, applying
// trust-tier gating: restricted captains cannot start sensitive
// actions. An unknown tier (ledger unreadable) fails closed.
func (o *Orchestrator) guardInput(msg Message, result classify.Result, lang string, summary strikes.Summary, tierKnown bool, now time.Time) pipelineInput {
	in := pipelineInput{Input: session.Input{
		Kind: session.InputGeneral,
		Lang: lang,
		Text: msg.Text,
		Seq:  msg.Seq,
		Now:  now,
	}}

	var action session.ActionKind
	isAction := true
	switch result.Intent {
	case classify.IntentRegisterDocument:
		action = session.ActionRegisterDocument
	case classify.IntentSubmitEvidence:
		action = session.ActionSubmitEvidence
	case classify.IntentEscalateDispute:
		action = session.ActionEscalateDispute
	case classify.IntentDeleteAccount:
		action = session.ActionDeleteAccount
	case classify.IntentOpenTopic:
		in.Kind = session.InputOpenTopic
		isAction = false
	default:
		isAction = false
	}

	if isAction {
		enforced := !o.gate.Enabled(featuregate.FlagStrikeAdvisory, msg.UserID)
		if enforced && (!tierKnown || summary.Tier >= strikes.TierRestricted) {
			if !tierKnown {
				o.logger.Warn("trust tier unknown, blocking sensitive action",
					"user_id", msg.UserID, "action", action.String())
			}
			in.restricted = true
			in.Kind = session.InputGeneral
		} else {
			in.Kind = session.InputStartAction
			in.Action = action
			in.Payload = result.Payload
		}
	}
	return in
}

// pipelineInput decorates the guard input with orchestrator-only
// flags.
type pipelineInput struct {
	session.Input
	restricted bool
}
