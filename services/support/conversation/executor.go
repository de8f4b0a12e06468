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
	"fmt"

	"github.com/AleutianAI/DispatchGuard/services/support/session"
)

// ErrActionExecutionFailed reports that a confirmed action could not be
// carried out. The session is already idle when this surfaces; the
// captain gets an apology and may retry.
var ErrActionExecutionFailed = errors.New("conversation: action execution failed")

// Executor carries out a confirmed action.
type Executor interface {
	Execute(ctx context.Context, userID string, action *session.PendingAction) error
}

// ActionFunc executes one kind of action.
type ActionFunc func(ctx context.Context, userID string, payload map[string]string) error

// Dispatcher routes confirmed actions to their backends.
//
// # Description
//
// Dispatch is exhaustive over the closed ActionKind set: a kind with no
// registered handler is an execution failure, never a silent no-op.
type Dispatcher struct {
	RegisterDocument ActionFunc
	SubmitEvidence   ActionFunc
	EscalateDispute  ActionFunc
	DeleteAccount    ActionFunc
}

// Execute implements Executor.
func (d *Dispatcher) Execute(ctx context.Context, userID string, action *session.PendingAction) error {
	var fn ActionFunc
	switch action.Kind {
	case session.ActionRegisterDocument:
		fn = d.RegisterDocument
	case session.ActionSubmitEvidence:
		fn = d.SubmitEvidence
	case session.ActionEscalateDispute:
		fn = d.EscalateDispute
	case session.ActionDeleteAccount:
		fn = d.DeleteAccount
	default:
		return fmt.Errorf("%w: unknown action kind %d", ErrActionExecutionFailed, action.Kind)
	}

	if fn == nil {
		return fmt.Errorf("%w: no handler for %s", ErrActionExecutionFailed, action.Kind)
	}
	if err := fn(ctx, userID, action.Payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrActionExecutionFailed, action.Kind, err)
	}
	return nil
}
