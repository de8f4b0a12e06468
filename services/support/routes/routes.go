// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the HTTP surface of the support agent.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/DispatchGuard/services/support/breaker"
	"github.com/AleutianAI/DispatchGuard/services/support/conversation"
	"github.com/AleutianAI/DispatchGuard/services/support/degrade"
	"github.com/AleutianAI/DispatchGuard/services/support/featuregate"
	"github.com/AleutianAI/DispatchGuard/services/support/handlers"
	"github.com/AleutianAI/DispatchGuard/services/support/middleware"
	"github.com/AleutianAI/DispatchGuard/services/support/session"
	"github.com/AleutianAI/DispatchGuard/services/support/strikes"
)

// Deps bundles everything the routes need.
type Deps struct {
	Orchestrator *conversation.Orchestrator
	Store        *session.Store
	Ledger       *strikes.Ledger
	Gate         *featuregate.Gate
	Breakers     *breaker.Registry
	Controller   *degrade.Controller

	// WebhookSecret authenticates the messaging gateway on /v1 routes.
	WebhookSecret string

	// FlagsPath is the flags file for the manual reload endpoint.
	FlagsPath string
}

// SetupRoutes registers all endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Breakers, deps.Controller, deps.Store))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.WebhookAuth(deps.WebhookSecret))
	{
		v1.POST("/messages", handlers.PostMessage(deps.Orchestrator))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:userId", handlers.GetSession(deps.Store))
			sessions.DELETE("/:userId", handlers.DeleteSession(deps.Store))
		}

		v1.GET("/strikes/:userId", handlers.GetStrikes(deps.Ledger))

		flags := v1.Group("/flags")
		{
			flags.GET("", handlers.GetFlags(deps.Gate))
			flags.POST("/reload", handlers.ReloadFlags(deps.Gate, deps.FlagsPath))
		}
	}
}
