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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// HandleListConversations returns the caller's conversations, newest first.
func HandleListConversations(svc HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := callerID(c)
		if userID == "" {
			respondError(c, services.ErrUnauthenticated)
			return
		}
		convs, err := svc.Conversations(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if convs == nil {
			convs = []conversation.Conversation{}
		}
		c.JSON(http.StatusOK, datatypes.ConversationsResponse{Conversations: convs})
	}
}

// HandleConversationMessages returns the ordered history of one
// conversation. Conversations owned by someone else are reported as not
// found.
func HandleConversationMessages(svc HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := callerID(c)
		if userID == "" {
			respondError(c, services.ErrUnauthenticated)
			return
		}
		conversationID := c.Param("conversationId")
		msgs, err := svc.History(c.Request.Context(), userID, conversationID)
		if err != nil {
			respondError(c, err)
			return
		}
		if msgs == nil {
			msgs = []conversation.Message{}
		}
		c.JSON(http.StatusOK, datatypes.MessagesResponse{ConversationID: conversationID, Messages: msgs})
	}
}

// HandleQuota returns the caller's authoritative balance. Clients reconcile
// their displayed quota with it.
func HandleQuota(svc QuotaReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := callerID(c)
		if userID == "" {
			respondError(c, services.ErrUnauthenticated)
			return
		}
		balance, err := svc.Balance(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.QuotaResponse{UserID: userID, Balance: balance})
	}
}

// HandleModels lists the catalog in display order.
func HandleModels(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.ModelsResponse{Models: catalog.All()})
}

// HealthCheck is the liveness probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessCheck probes one backing service.
type ReadinessCheck func(ctx context.Context) error

// HandleReady runs every check with a short deadline and reports 503 if
// any of them fails. Errors are logged, not returned.
func HandleReady(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"checks": results})
	}
}
