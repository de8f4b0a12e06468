// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/classify"
	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
	"github.com/AleutianAI/DispatchGuard/services/support/language"
	"github.com/AleutianAI/DispatchGuard/services/support/observability"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
	"github.com/AleutianAI/DispatchGuard/services/support/strikes"
)

// scriptedClassifier returns queued results in order, then repeats the
// last one. It records every request for ordering assertions.
type scriptedClassifier struct {
	mu      sync.Mutex
	results []classify.Result
	errs    []error
	reqs    []classify.Request
	calls   int
}

func (s *scriptedClassifier) Classify(_ context.Context, req classify.Request) (classify.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func (s *scriptedClassifier) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.reqs))
	for i, r := range s.reqs {
		out[i] = r.Text
	}
	return out
}

func (s *scriptedClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []session.ActionKind
	fail     bool
}

func (r *recordingExecutor) Execute(_ context.Context, _ string, action *session.PendingAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("backend down")
	}
	r.executed = append(r.executed, action.Kind)
	return nil
}

type fixture struct {
	orch     *Orchestrator
	exec     *recordingExecutor
	ledger   *strikes.Ledger
	ctl      *degrade.Controller
	breakers *breaker.Registry
	gate     *featuregate.Gate
}

// fixtureConfig overrides fixture collaborators for individual tests.
type fixtureConfig struct {
	ledger         *strikes.Ledger
	resequenceWait time.Duration
}

func newFixture(t *testing.T, classifier classify.Client) *fixture {
	return newFixtureWith(t, classifier, fixtureConfig{})
}

func newFixtureWith(t *testing.T, classifier classify.Client, fc fixtureConfig) *fixture {
	t.Helper()

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	ctl := degrade.NewController(degrade.Config{AdmitRate: 10000, AdmitBurst: 10000}, breakers)
	ledger := fc.ledger
	if ledger == nil {
		ledger = strikes.NewLedger(strikes.NewMemoryStore(), strikes.Config{}, nil, nil)
	}
	exec := &recordingExecutor{}
	gate := featuregate.New(map[string]featuregate.Flag{
		featuregate.FlagMLModeration: {Enabled: true},
	})

	orch := New(Deps{
		Store:          session.NewStore(),
		Guard:          session.NewGuard(session.GuardConfig{}, language.DefaultVocabulary()),
		Resolver:       language.NewResolver(language.Config{}, gate),
		Gate:           gate,
		Classifier:     classifier,
		Breakers:       breakers,
		Controller:     ctl,
		Ledger:         ledger,
		Executor:       exec,
		ResequenceWait: fc.resequenceWait,
	})
	return &fixture{orch: orch, exec: exec, ledger: ledger, ctl: ctl, breakers: breakers, gate: gate}
}

func TestHandleMessage_ConfirmFlow(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentDeleteAccount, Confidence: 0.95},
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}})
	ctx := context.Background()

	resp, err := f.orch.HandleMessage(ctx, Message{
		UserID: "cap-1", Text: "please delete my account", Seq: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "ask_confirm", resp.Reply)
	assert.Equal(t, "awaiting_confirmation", resp.State)
	assert.Equal(t, language.English, resp.Language)
	assert.Contains(t, resp.Text, "deleting your account")

	resp, err = f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "yes", Seq: 2})
	require.NoError(t, err)
	assert.Equal(t, "executed", resp.Reply)
	assert.Equal(t, "idle", resp.State)
	require.Len(t, f.exec.executed, 1)
	assert.Equal(t, session.ActionDeleteAccount, f.exec.executed[0])
}

func TestHandleMessage_HealthyBreakerModelPath(t *testing.T) {
	scripted := &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}}
	f := newFixture(t, scripted)
	ctx := context.Background()

	// A closed breaker hands out no probe slot; the model call must
	// still complete and record its outcome.
	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "hello over there", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "general", resp.Reply)
	assert.Equal(t, 1, scripted.callCount())

	snap := f.breakers.Get(breaker.TargetClassifier).Snapshot()
	assert.Equal(t, int64(1), snap.TotalCalls)
	assert.Equal(t, int64(1), snap.SuccessCount)
}

func TestHandleMessage_ExecutionFailureApologizes(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentEscalateDispute, Confidence: 0.9},
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}})
	f.exec.fail = true
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "escalate my dispute", Seq: 1})
	require.NoError(t, err)

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "yes", Seq: 2})
	assert.ErrorIs(t, err, ErrActionExecutionFailed)
	assert.Equal(t, "apology", resp.Reply)
	assert.Equal(t, "idle", resp.State, "a failed execution must not leave the session stuck")
	assert.Contains(t, resp.Text, "failed on our side")
}

func TestHandleMessage_ClassifierFailureFallsBack(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{
		results: []classify.Result{{}},
		errs:    []error{classify.ErrUnavailable},
	})
	ctx := context.Background()

	// The fallback keyword classifier still recognizes the request.
	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "delete my account", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "ask_confirm", resp.Reply)

	snap := f.breakers.Get(breaker.TargetClassifier).Snapshot()
	assert.Equal(t, 1, snap.FailureCount)
}

func TestHandleMessage_OpenCircuitUpdatesStateGauge(t *testing.T) {
	scripted := &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}}
	f := newFixture(t, scripted)
	ctx := context.Background()

	br := f.breakers.Get(breaker.TargetClassifier)
	for i := 0; i < 5; i++ {
		br.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, br.State())

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "hello over there", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "general", resp.Reply)
	assert.Zero(t, scripted.callCount(), "an open circuit must short-circuit to the fallback")

	gauge := observability.BreakerState.WithLabelValues(breaker.TargetClassifier)
	assert.Equal(t, float64(breaker.StateOpen), testutil.ToFloat64(gauge))
}

func TestHandleMessage_StaleSequenceSkipped(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}})
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "hello there friend", Seq: 5})
	require.NoError(t, err)

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "old message", Seq: 3})
	require.NoError(t, err)
	assert.True(t, resp.Stale)
	assert.Equal(t, "stale", resp.Reply)
}

func TestHandleMessage_OutOfOrderDeliveryResequenced(t *testing.T) {
	scripted := &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}}
	f := newFixture(t, scripted)
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "first message here", Seq: 1})
	require.NoError(t, err)

	// Message 3 arrives before message 2; it must wait for the gap.
	done := make(chan Response, 1)
	go func() {
		resp, _ := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "third message here", Seq: 3})
		done <- resp
	}()

	time.Sleep(50 * time.Millisecond)
	resp2, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "second message here", Seq: 2})
	require.NoError(t, err)
	assert.False(t, resp2.Stale, "the gap message must still be processed")

	resp3 := <-done
	assert.False(t, resp3.Stale)
	assert.Equal(t, []string{
		"first message here", "second message here", "third message here",
	}, scripted.texts())
}

func TestHandleMessage_GapWaitExpiresAndSkips(t *testing.T) {
	scripted := &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}}
	f := newFixtureWith(t, scripted, fixtureConfig{resequenceWait: 30 * time.Millisecond})
	ctx := context.Background()

	_, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "first message here", Seq: 1})
	require.NoError(t, err)

	resp5, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "fifth message here", Seq: 5})
	require.NoError(t, err)
	assert.False(t, resp5.Stale, "the bounded wait must not block forever")

	// The gap message arriving after the cursor moved on is answered as
	// stale rather than rewinding history.
	resp2, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "second message here", Seq: 2})
	require.NoError(t, err)
	assert.True(t, resp2.Stale)
}

func TestHandleMessage_ModerationRecordsStrike(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9, ModerationFlags: []string{classify.FlagAbusive}},
	}})
	ctx := context.Background()

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "this service is terrible", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", resp.Tier)

	sum, err := f.ledger.Summary(ctx, "cap-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalStrikes)
}

// failingStrikeStore simulates a ledger outage.
type failingStrikeStore struct{}

func (failingStrikeStore) Append(context.Context, strikes.Strike) (bool, error) {
	return false, errors.New("ledger down")
}

func (failingStrikeStore) List(context.Context, string) ([]strikes.Strike, error) {
	return nil, errors.New("ledger down")
}

func TestHandleMessage_LedgerOutageFailsClosed(t *testing.T) {
	f := newFixtureWith(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentDeleteAccount, Confidence: 0.95},
	}}, fixtureConfig{
		ledger: strikes.NewLedger(failingStrikeStore{}, strikes.Config{}, nil, nil),
	})
	ctx := context.Background()

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "delete my account", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "restricted", resp.Reply, "an unknown tier must not admit a sensitive action")
	assert.Equal(t, "idle", resp.State)
	assert.Empty(t, f.exec.executed)
}

func TestHandleMessage_RestrictedTierBlocksActions(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentDeleteAccount, Confidence: 0.95},
	}})
	ctx := context.Background()

	// Pre-load the ledger past the RESTRICTED threshold.
	now := time.Now()
	_, _, err := f.ledger.Record(ctx, "cap-1", strikes.ReasonFraudSignal, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, _, err = f.ledger.Record(ctx, "cap-1", strikes.ReasonFraudSignal, now.Add(-time.Hour))
	require.NoError(t, err)

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "delete my account", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "restricted", resp.Reply)
	assert.Equal(t, "RESTRICTED", resp.Tier)
	assert.Equal(t, "idle", resp.State, "no pending action may be created")
	assert.Empty(t, f.exec.executed)
}

func TestHandleMessage_AdvisoryTierDoesNotBlock(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentDeleteAccount, Confidence: 0.95},
	}})
	f.gate.Replace(map[string]featuregate.Flag{
		featuregate.FlagMLModeration:   {Enabled: true},
		featuregate.FlagStrikeAdvisory: {Enabled: true},
	})
	ctx := context.Background()

	now := time.Now()
	_, _, err := f.ledger.Record(ctx, "cap-1", strikes.ReasonFraudSignal, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, _, err = f.ledger.Record(ctx, "cap-1", strikes.ReasonFraudSignal, now.Add(-time.Hour))
	require.NoError(t, err)

	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "delete my account", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "ask_confirm", resp.Reply, "tier is reported but no longer gates")
	assert.Equal(t, "RESTRICTED", resp.Tier)
}

func TestHandleMessage_MLFlagOffUsesFallback(t *testing.T) {
	scripted := &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentEscalateDispute, Confidence: 0.95},
	}}
	f := newFixture(t, scripted)
	f.gate.Replace(nil)
	ctx := context.Background()

	// The keyword heuristic handles the turn; the model is never called.
	resp, err := f.orch.HandleMessage(ctx, Message{UserID: "cap-1", Text: "delete my account", Seq: 1})
	require.NoError(t, err)
	assert.Equal(t, "ask_confirm", resp.Reply)
	assert.Contains(t, resp.Text, "deleting your account")
	assert.Zero(t, scripted.calls)
}

func TestHandleMessage_ArabicFlow(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentRegisterDocument, Confidence: 0.9},
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}})
	ctx := context.Background()

	resp, err := f.orch.HandleMessage(ctx, Message{
		UserID: "cap-9", Text: "عايز اسجل الرخصة بتاعتي لو سمحت", Seq: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, language.Arabic, resp.Language)
	assert.Contains(t, resp.Text, "تسجيل المستندات")

	resp, err = f.orch.HandleMessage(ctx, Message{UserID: "cap-9", Text: "ايوه", Seq: 2})
	require.NoError(t, err)
	assert.Equal(t, "executed", resp.Reply)
	assert.Equal(t, language.Arabic, resp.Language)
}

func TestReconcileDeferred_ReplaysIntoLedger(t *testing.T) {
	f := newFixture(t, &scriptedClassifier{results: []classify.Result{
		{Intent: classify.IntentGeneral, Confidence: 0.9},
	}})
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	f.ctl.Defer(degrade.DeferredStrike{
		UserID: "cap-1", Reason: strikes.ReasonSpam,
		Severity: strikes.SeverityFor(strikes.ReasonSpam), Timestamp: ts,
	})
	// The same violation queued twice replays exactly once.
	f.ctl.Defer(degrade.DeferredStrike{
		UserID: "cap-1", Reason: strikes.ReasonSpam,
		Severity: strikes.SeverityFor(strikes.ReasonSpam), Timestamp: ts,
	})

	f.orch.reconcileDeferred(ctx)

	assert.Zero(t, f.ctl.DeferredDepth())
	sum, err := f.ledger.Summary(ctx, "cap-1", ts.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalStrikes)
}

func TestDispatcher_ExhaustiveDispatch(t *testing.T) {
	called := map[session.ActionKind]bool{}
	mk := func(kind session.ActionKind) ActionFunc {
		return func(context.Context, string, map[string]string) error {
			called[kind] = true
			return nil
		}
	}
	d := &Dispatcher{
		RegisterDocument: mk(session.ActionRegisterDocument),
		SubmitEvidence:   mk(session.ActionSubmitEvidence),
		EscalateDispute:  mk(session.ActionEscalateDispute),
		DeleteAccount:    mk(session.ActionDeleteAccount),
	}
	ctx := context.Background()

	for _, kind := range []session.ActionKind{
		session.ActionRegisterDocument, session.ActionSubmitEvidence,
		session.ActionEscalateDispute, session.ActionDeleteAccount,
	} {
		require.NoError(t, d.Execute(ctx, "cap-1", &session.PendingAction{Kind: kind}))
		assert.True(t, called[kind], kind.String())
	}

	// A kind with no handler must fail loudly.
	err := (&Dispatcher{}).Execute(ctx, "cap-1", &session.PendingAction{Kind: session.ActionDeleteAccount})
	assert.ErrorIs(t, err, ErrActionExecutionFailed)
}
