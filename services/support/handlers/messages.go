// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers for the support agent.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DispatchGuard/services/support/conversation"
)

// MessageRequest is the inbound webhook payload from the messaging
// gateway.
type MessageRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Text   string `json:"text" binding:"required"`
	Seq    uint64 `json:"seq"`
}

// PostMessage handles POST /v1/messages.
func PostMessage(orch *conversation.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and text are required"})
			return
		}

		resp, err := orch.HandleMessage(c.Request.Context(), conversation.Message{
			UserID:     req.UserID,
			Text:       req.Text,
			Seq:        req.Seq,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			// A failed action still produced a valid apology reply; the
			// gateway should deliver it.
			if errors.Is(err, conversation.ErrActionExecutionFailed) {
				slog.Warn("action execution failed", "user_id", req.UserID, "error", err)
				c.JSON(http.StatusOK, resp)
				return
			}
			slog.Error("message handling failed", "user_id", req.UserID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "message handling failed"})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}
