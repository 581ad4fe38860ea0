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
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/i18n"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Interfaces
// =============================================================================

// ChatProcessor runs one chat exchange. *services.ChatService implements it.
type ChatProcessor interface {
	Process(ctx context.Context, identity *extensions.AuthInfo, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error)
}

// HistoryReader serves the caller's conversation history.
type HistoryReader interface {
	Conversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
	History(ctx context.Context, userID, conversationID string) ([]conversation.Message, error)
}

// QuotaReader serves the caller's authoritative balance.
type QuotaReader interface {
	Balance(ctx context.Context, userID string) (int, error)
}

var (
	_ ChatProcessor = (*services.ChatService)(nil)
	_ HistoryReader = (*services.ChatService)(nil)
	_ QuotaReader   = (*services.ChatService)(nil)
)

// =============================================================================
// Error Mapping
// =============================================================================

// classifyError maps a service error to its HTTP status and the generic
// client message key. Unknown errors are internal.
func classifyError(err error) (int, i18n.Key) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, i18n.KeyValidation
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized, i18n.KeyUnauthenticated
	case errors.Is(err, services.ErrInsufficientBalance):
		return http.StatusForbidden, i18n.KeyInsufficientBalance
	case errors.Is(err, services.ErrConversationNotFound):
		return http.StatusNotFound, i18n.KeyConversationNotFound
	case errors.Is(err, services.ErrDuplicateRequest):
		return http.StatusConflict, i18n.KeyDuplicateRequest
	case errors.Is(err, services.ErrUpstream):
		return http.StatusInternalServerError, i18n.KeyUpstream
	default:
		return http.StatusInternalServerError, i18n.KeyInternal
	}
}

// errorMessage logs err and returns the status and the localized text the
// client is allowed to see. Internal detail stays in the log.
func errorMessage(c *gin.Context, err error) (int, string) {
	status, key := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		slog.Info("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	return status, i18n.Message(c.GetHeader("Accept-Language"), key)
}

func respondError(c *gin.Context, err error) {
	status, msg := errorMessage(c, err)
	c.AbortWithStatusJSON(status, datatypes.ErrorResponse{Error: msg})
}

// callerID returns the authenticated user id, or "" when the auth
// middleware did not run.
func callerID(c *gin.Context) string {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return ""
}
