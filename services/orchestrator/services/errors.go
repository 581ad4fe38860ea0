// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/quota"
)

// =============================================================================
// Rejections
// =============================================================================

// Sentinel errors returned by ChatService.Process. Handlers map them to
// status codes with errors.Is; the wrapped detail is for logs only.
var (
	ErrValidation           = errors.New("validation failed")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInsufficientBalance  = quota.ErrInsufficientBalance
	ErrUpstream             = llm.ErrUpstream
	ErrConversationNotFound = conversation.ErrConversationNotFound
	ErrDuplicateRequest     = errors.New("duplicate request in flight")
)

// =============================================================================
// Degraded Outcomes
// =============================================================================

// Persistence stages reported by PersistenceFault.
const (
	StageConversation     = "conversation"
	StageUserMessage      = "user_message"
	StageAssistantMessage = "assistant_message"
)

// PersistenceFault reports an exchange that was answered (and paid for) but
// not fully written to history. It is logged and counted, never returned to
// the client.
type PersistenceFault struct {
	Stage          string
	ConversationID string
	Err            error
}

func (e *PersistenceFault) Error() string {
	return fmt.Sprintf("persistence fault at %s (conversation %q): %v", e.Stage, e.ConversationID, e.Err)
}

func (e *PersistenceFault) Unwrap() error { return e.Err }

// DebitWithoutCompletion reports points that were debited for a completion
// that failed, and could not be credited back.
type DebitWithoutCompletion struct {
	UserID    string
	RequestID string
	Points    int
	Err       error
}

func (e *DebitWithoutCompletion) Error() string {
	return fmt.Sprintf("debit of %d points for user %q not refunded: %v", e.Points, e.UserID, e.Err)
}

func (e *DebitWithoutCompletion) Unwrap() error { return e.Err }

// OutcomeOf maps a Process error to its metrics label.
func OutcomeOf(err error) observability.Outcome {
	switch {
	case err == nil:
		return observability.OutcomeSuccess
	case errors.Is(err, ErrValidation):
		return observability.OutcomeValidation
	case errors.Is(err, ErrUnauthenticated):
		return observability.OutcomeUnauthorized
	case errors.Is(err, ErrInsufficientBalance):
		return observability.OutcomeInsufficient
	case errors.Is(err, ErrConversationNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, ErrDuplicateRequest):
		return observability.OutcomeDuplicate
	case errors.Is(err, ErrUpstream):
		return observability.OutcomeUpstreamError
	default:
		return observability.OutcomeInternalError
	}
}
