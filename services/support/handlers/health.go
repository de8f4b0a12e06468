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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
)

// HealthCheck handles GET /health. The service reports ok even while
// degraded; degradation is visible in the payload, not the status code,
// because the agent keeps answering captains in every mode.
func HealthCheck(breakers *breaker.Registry, ctl *degrade.Controller, store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"degradation": ctl.Stats(),
			"breakers":    breakers.Snapshots(),
			"sessions":    store.Len(),
		})
	}
}
