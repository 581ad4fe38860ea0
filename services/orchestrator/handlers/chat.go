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
	"fmt"
	"net/http"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("aleutian.orchestrator.handlers")

// HandleChat creates a handler for POST /v1/chat.
//
// # Description
//
// Binds a ChatRequest, runs it through the chat service with the identity
// resolved by the auth middleware, and returns the ChatResponse. Errors
// are mapped to a status code and a generic localized message.
//
// # Inputs
//
//   - svc: The chat pipeline.
//   - metrics: Request counters. May be nil.
//
// # Outputs
//
//	200 {content, conversation_id, balance, cost, persisted}
//	400/401/403/404/409/500 {error}
func HandleChat(svc ChatProcessor, metrics *observability.ChatMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		metrics.RequestStarted(observability.TransportHTTP)
		defer metrics.RequestEnded(observability.TransportHTTP)

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			err = fmt.Errorf("%w: %v", services.ErrValidation, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			metrics.RecordRequest(observability.TransportHTTP, observability.OutcomeValidation)
			respondError(c, err)
			return
		}

		resp, err := svc.Process(ctx, middleware.GetAuthInfo(c), &req)
		metrics.RecordRequest(observability.TransportHTTP, services.OutcomeOf(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
