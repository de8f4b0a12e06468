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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
)

// GetFlags handles GET /v1/flags.
func GetFlags(gate *featuregate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"flags": gate.Snapshot()})
	}
}

// ReloadFlags handles POST /v1/flags/reload. The watcher picks up file
// edits automatically; this endpoint forces an immediate reload after
// out-of-band changes.
func ReloadFlags(gate *featuregate.Gate, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if path == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "no flags file configured"})
			return
		}
		flags, err := featuregate.LoadFile(path)
		if err != nil {
			slog.Error("flag reload failed", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "flag reload failed"})
			return
		}
		gate.Replace(flags)
		c.JSON(http.StatusOK, gin.H{"status": "reloaded", "flags": gate.Snapshot()})
	}
}
