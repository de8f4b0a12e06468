// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DispatchGuard/services/support/strikes"
)

// GetStrikes handles GET /v1/strikes/:userId.
func GetStrikes(ledger *strikes.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		summary, err := ledger.Summary(c.Request.Context(), userID, time.Now())
		if err != nil {
			slog.Error("strike summary failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "strike summary failed"})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}
