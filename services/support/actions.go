// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/conversation"
)

// backofficeActions posts confirmed actions to the back-office API. The
// back-office breaker guards the calls so a dead API trips fast instead
// of stacking timeouts behind confirmed captains.
type backofficeActions struct {
	endpoint string
	client   *http.Client
	breaker  *breaker.Breaker
	logger   *slog.Logger
}

// newActionDispatcher builds the production executor. With no endpoint
// configured the actions log locally and succeed, which keeps dev
// setups usable without a back office.
func newActionDispatcher(endpoint string, breakers *breaker.Registry, logger *slog.Logger) *conversation.Dispatcher {
	a := &backofficeActions{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  breakers.Get(breaker.TargetBackoffice),
		logger:   logger,
	}
	return &conversation.Dispatcher{
		RegisterDocument: a.action("register_document"),
		SubmitEvidence:   a.action("submit_evidence"),
		EscalateDispute:  a.action("escalate_dispute"),
		DeleteAccount:    a.action("delete_account"),
	}
}

func (a *backofficeActions) action(name string) conversation.ActionFunc {
	return func(ctx context.Context, userID string, payload map[string]string) error {
		if a.endpoint == "" {
			a.logger.Info("action executed locally (no back office configured)",
				"action", name, "user_id", userID)
			return nil
		}
		return a.breaker.Execute(ctx, func(ctx context.Context) error {
			return a.post(ctx, name, userID, payload)
		})
	}
}

func (a *backofficeActions) post(ctx context.Context, name, userID string, payload map[string]string) error {
	body, err := json.Marshal(map[string]any{
		"action":  name,
		"userId":  userID,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.endpoint+"/actions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post action %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("action %s rejected: status %d", name, resp.StatusCode)
	}
	return nil
}
