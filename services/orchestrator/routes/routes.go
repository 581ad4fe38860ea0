// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries everything the routes need.
//
//   - Chat: the chat pipeline; also serves history and quota reads.
//   - Metrics: request counters. May be nil.
//   - Gatherer: source for /metrics. Defaults to prometheus.DefaultGatherer.
//   - Options: extension points; AuthProvider guards every /v1 route.
//   - Readiness: named probes for /ready. May be empty.
//   - AllowedOrigins: browser origins accepted on /v1/chat/ws.
type Deps struct {
	Chat           *services.ChatService
	Metrics        *observability.ChatMetrics
	Gatherer       prometheus.Gatherer
	Options        extensions.ServiceOptions
	Readiness      map[string]handlers.ReadinessCheck
	AllowedOrigins []string
}

// SetupRoutes registers the public probes and the authenticated /v1 API.
func SetupRoutes(router *gin.Engine, deps Deps) {
	opts := deps.Options.Normalize()
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.HandleReady(deps.Readiness))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.POST("/chat", handlers.HandleChat(deps.Chat, deps.Metrics))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Chat, deps.Metrics, deps.AllowedOrigins))
		v1.GET("/quota", handlers.HandleQuota(deps.Chat))
		v1.GET("/models", handlers.HandleModels)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", handlers.HandleListConversations(deps.Chat))
			conversations.GET("/:conversationId/messages", handlers.HandleConversationMessages(deps.Chat))
		}
	}
}
