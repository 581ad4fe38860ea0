// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Size Limits
// =============================================================================

const (
	// MaxMessageBytes bounds the user's message text.
	MaxMessageBytes = 32 * 1024

	// MaxFileTextBytes bounds the extracted document text sent as context.
	MaxFileTextBytes = 512 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks the byte length (not rune count) of a string field
// against the tag parameter, e.g. `validate:"maxbytes=32768"`.
func validateMaxBytes(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return len(fl.Field().String()) <= limit
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest is the body of POST /v1/chat and of each WebSocket frame.
//
// # Fields
//
//   - ConversationID: Optional. Empty starts a new conversation.
//   - Message: Required. The user's text, at most 32KB.
//   - ModelID: Required. Catalog identifier; unlisted ids are forwarded at cost 0.
//   - FileText: Optional. Extracted document text used as context, at most 512KB.
//   - IsPrivileged: Optional. Skips the debit; honored for admin identities only.
//   - RequestID: Optional. Client-chosen id for duplicate-submission rejection.
//
// # Validation
//
// Call EnsureDefaults before Validate so whitespace-only messages are rejected.
type ChatRequest struct {
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
	Message        string `json:"message" validate:"required,maxbytes=32768"`
	ModelID        string `json:"model_id" validate:"required,max=128"`
	FileText       string `json:"file_text,omitempty" validate:"maxbytes=524288"`
	IsPrivileged   bool   `json:"is_privileged,omitempty"`
	RequestID      string `json:"request_id,omitempty" validate:"omitempty,max=128"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults trims identifiers and the message. FileText is kept as sent.
func (r *ChatRequest) EnsureDefaults() {
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	r.Message = strings.TrimSpace(r.Message)
	r.ModelID = strings.TrimSpace(r.ModelID)
	r.RequestID = strings.TrimSpace(r.RequestID)
}

// =============================================================================
// Responses
// =============================================================================

// ChatResponse is returned for a completed exchange.
//
// # Fields
//
//   - Content: Sanitized assistant text.
//   - ConversationID: The conversation the exchange belongs to. Present even
//     when history could not be saved.
//   - Balance: Authoritative balance after the debit; clients reconcile
//     their displayed quota with it.
//   - Cost: Points charged for this request (0 when privileged or free).
//   - Persisted: False when the exchange was answered but not fully saved.
type ChatResponse struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	Balance        int    `json:"balance"`
	Cost           int    `json:"cost"`
	Persisted      bool   `json:"persisted"`
}

// ErrorResponse carries a generic, localized error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

type QuotaResponse struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

type ConversationsResponse struct {
	Conversations []conversation.Conversation `json:"conversations"`
}

type MessagesResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

type ModelsResponse struct {
	Models []catalog.Descriptor `json:"models"`
}
