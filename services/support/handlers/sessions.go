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

	"github.com/AleutianAI/DispatchGuard/services/support/session"
)

// GetSession handles GET /v1/sessions/:userId.
func GetSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")

		sess, ok := store.Get(userID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for user"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id":           sess.UserID,
			"state":             sess.Current.String(),
			"pending":           sess.Pending,
			"language":          sess.Language,
			"turn_count":        sess.TurnCount,
			"ambiguous_replies": sess.AmbiguousReplies,
			"last_activity_at":  sess.LastActivityAt,
		})
	}
}

// DeleteSession handles DELETE /v1/sessions/:userId. Used by the back
// office to force a clean slate for a captain.
func DeleteSession(store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		store.Delete(userID)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "user_id": userID})
	}
}
