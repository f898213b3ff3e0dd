// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"github.com/AleutianAI/AleutianTeam/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter builds the engine with recovery, tracing and every route.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	SetupRoutes(router, h)
	return router
}

// SetupRoutes registers the routes on router.
func SetupRoutes(router *gin.Engine, h *Handlers) {
	router.GET("/health", HealthCheck)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/agents", h.ListAgents)

		agent := v1.Group("/agents/:id")
		{
			agent.GET("", h.GetAgent)
			agent.POST("/tick", h.Tick)
			agent.POST("/observations", h.Observe)
			agent.GET("/plans", h.ListPlans)
			agent.POST("/plans/propose", h.ProposePlans)
			agent.POST("/react", h.DecideReaction)
			agent.GET("/tools", h.ListTools)
			agent.POST("/tools/:tool", h.ExecuteTool)
			agent.POST("/importance", h.ScoreImportance)
			agent.POST("/reflect", h.Reflect)
			agent.POST("/gossip", h.Gossip)
			agent.POST("/has-happened", h.HasHappened)
			if h.history != nil {
				agent.GET("/plans/history", h.PlanHistory)
			}
		}

		if h.sim != nil {
			v1.POST("/simulation/step", h.Step)
		}
	}
}
