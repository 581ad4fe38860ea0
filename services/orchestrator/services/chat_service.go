// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. ChatService runs the quota-gated chat
// exchange: it prices the request, debits the user's balance, calls the
// completion backend and records both sides of the exchange.
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/dedupe"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/quota"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// chatTracer is the OpenTelemetry tracer for ChatService operations.
var chatTracer = otel.Tracer("aleutian.orchestrator.services.chat")

const (
	// DocumentContextPreamble introduces attached document text in the
	// user prompt.
	DocumentContextPreamble = "Use the following document as context:"

	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultInFlightTTL  = 2 * time.Minute

	// detachedTimeout bounds refunds and history writes that must outlive a
	// disconnected client.
	detachedTimeout = 10 * time.Second
)

// =============================================================================
// Interfaces
// =============================================================================

// Completer produces one sanitized completion. *llm.Gateway implements it.
//
// Every failure must wrap llm.ErrUpstream.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// =============================================================================
// ChatService
// =============================================================================

// ChatConfig holds the tunables of ChatService.
type ChatConfig struct {
	SystemPrompt string

	// SignupPoints is granted once, when a user's first request opens the
	// account.
	SignupPoints int

	// InFlightTTL bounds how long a request id stays claimed.
	InFlightTTL time.Duration
}

// ChatDeps are the collaborators of ChatService. Guard, Audit and Metrics
// are optional.
type ChatDeps struct {
	Ledger    quota.Ledger
	Store     conversation.Store
	Completer Completer
	Guard     dedupe.Guard
	Audit     extensions.AuditLogger
	Metrics   *observability.ChatMetrics
}

// ChatService runs one chat exchange per Process call.
//
// # Description
//
// Process moves a request through Received, Authenticated, Priced,
// QuotaChecked, Completed and Persisted. Any failure before Completed is a
// rejection: nothing is written and nothing is charged, except that an
// upstream failure after a real debit is refunded. Failures after
// Completed are degraded outcomes: the client still gets the answer and is
// still charged, and the fault is logged and counted.
//
// # Thread Safety
//
// Safe for concurrent use. The only shared mutable state is the ledger,
// which serializes debits per user.
type ChatService struct {
	ledger    quota.Ledger
	store     conversation.Store
	completer Completer
	guard     dedupe.Guard
	audit     extensions.AuditLogger
	metrics   *observability.ChatMetrics
	cfg       ChatConfig
	now       func() time.Time
}

// NewChatService validates deps and applies config defaults.
func NewChatService(deps ChatDeps, cfg ChatConfig) (*ChatService, error) {
	if deps.Ledger == nil || deps.Store == nil || deps.Completer == nil {
		return nil, errors.New("chat service requires a ledger, a store and a completer")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.InFlightTTL <= 0 {
		cfg.InFlightTTL = DefaultInFlightTTL
	}
	if cfg.SignupPoints < 0 {
		return nil, fmt.Errorf("signup points must be >= 0, got %d", cfg.SignupPoints)
	}
	audit := deps.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &ChatService{
		ledger:    deps.Ledger,
		store:     deps.Store,
		completer: deps.Completer,
		guard:     deps.Guard,
		audit:     audit,
		metrics:   deps.Metrics,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// =============================================================================
// Core Processing Methods
// =============================================================================

// Process handles one chat exchange end-to-end.
//
// The processing flow is:
//  1. Validate the request and claim its request id, if any
//  2. Resolve privilege and price the model
//  3. Check ownership of an existing conversation
//  4. Open the caller's account on first use
//  5. Debit the balance (insufficient balance stops here, no upstream call)
//  6. Call the completion backend; refund the debit if it fails
//  7. Record the conversation, the user message, then the assistant message
//
// Parameters:
//   - ctx: Request context. Cancelling it aborts the upstream call; refunds
//     and history writes run on a detached context.
//   - identity: The verified caller. nil yields ErrUnauthenticated.
//   - req: The chat request. Modified in place by EnsureDefaults.
//
// Returns the response, or one of the sentinel errors declared in errors.go
// (possibly wrapped). Any other error is an internal failure.
func (s *ChatService) Process(ctx context.Context, identity *extensions.AuthInfo, req *datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.Process")
	defer span.End()
	receivedAt := s.now()

	// Received
	if identity == nil || identity.UserID == "" {
		span.SetStatus(codes.Error, "unauthenticated")
		return nil, ErrUnauthenticated
	}
	userID := identity.UserID
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("request.id", req.RequestID),
		attribute.String("model.id", req.ModelID),
	)

	if req.RequestID != "" && s.guard != nil {
		release, err := s.claim(ctx, userID, req.RequestID)
		if err != nil {
			span.SetStatus(codes.Error, "duplicate request")
			return nil, err
		}
		defer release()
	}

	// Authenticated
	privileged := req.IsPrivileged && identity.IsAdmin()
	if req.IsPrivileged && !privileged {
		slog.Warn("privileged flag ignored for non-admin caller", "user_id", userID)
	}

	// Priced
	model := catalog.Lookup(req.ModelID)
	span.SetAttributes(attribute.Int("model.cost", model.Cost), attribute.Bool("request.privileged", privileged))

	if req.ConversationID != "" {
		if _, err := conversation.Owned(ctx, s.store, userID, req.ConversationID); err != nil {
			span.SetStatus(codes.Error, "conversation lookup failed")
			if errors.Is(err, conversation.ErrConversationNotFound) {
				return nil, ErrConversationNotFound
			}
			return nil, fmt.Errorf("check conversation: %w", err)
		}
	}

	// The account is opened only once nothing else can reject the request.
	if _, err := s.ledger.OpenAccount(ctx, userID, s.cfg.SignupPoints); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open account failed")
		return nil, fmt.Errorf("open account: %w", err)
	}

	// QuotaChecked
	decision, err := s.debit(ctx, userID, req.RequestID, model, privileged)
	if err != nil {
		span.SetStatus(codes.Error, "quota check failed")
		return nil, err
	}

	// Completed
	content, err := s.complete(ctx, model.ID, BuildUserPrompt(req.Message, req.FileText))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream failed")
		if decision.Debited > 0 {
			s.refund(ctx, userID, req.RequestID, model.ID, decision.Debited)
		}
		return nil, err
	}

	// Persisted
	conversationID, persisted := s.persist(ctx, userID, req, content, receivedAt)
	span.SetAttributes(attribute.String("conversation.id", conversationID), attribute.Bool("persisted", persisted))

	slog.Info("chat exchange completed",
		"user_id", userID,
		"conversation_id", conversationID,
		"model_id", model.ID,
		"cost", decision.Debited,
		"persisted", persisted,
	)
	return &datatypes.ChatResponse{
		Content:        content,
		ConversationID: conversationID,
		Balance:        decision.Balance,
		Cost:           decision.Debited,
		Persisted:      persisted,
	}, nil
}

// Balance returns the caller's authoritative balance, opening the account
// with the signup grant if needed.
func (s *ChatService) Balance(ctx context.Context, userID string) (int, error) {
	return s.ledger.OpenAccount(ctx, userID, s.cfg.SignupPoints)
}

// Conversations lists the caller's conversations, newest first.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// History returns the ordered messages of a conversation the caller owns.
func (s *ChatService) History(ctx context.Context, userID, conversationID string) ([]conversation.Message, error) {
	if _, err := conversation.Owned(ctx, s.store, userID, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, conversationID)
}

// BuildUserPrompt prefixes the message with attached document text, if any.
func BuildUserPrompt(message, fileText string) string {
	if fileText == "" {
		return message
	}
	return DocumentContextPreamble + "\n\n" + fileText + "\n\n" + message
}

// =============================================================================
// Private Methods
// =============================================================================

func (s *ChatService) claim(ctx context.Context, userID, requestID string) (func(), error) {
	key := userID + ":" + requestID
	token, err := s.guard.Claim(ctx, key, s.cfg.InFlightTTL)
	if errors.Is(err, dedupe.ErrInFlight) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	if err != nil {
		// Guard outages must not block chat.
		slog.Warn("in-flight guard unavailable, continuing without it", "error", err)
		return func() {}, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
		defer cancel()
		if err := s.guard.Release(releaseCtx, key, token); err != nil {
			slog.Warn("failed to release in-flight claim", "request_id", requestID, "error", err)
		}
	}, nil
}

func (s *ChatService) debit(ctx context.Context, userID, requestID string, model catalog.Descriptor, privileged bool) (quota.Decision, error) {
	ctx, span := chatTracer.Start(ctx, "ChatService.debit")
	defer span.End()

	decision, err := s.ledger.CheckAndDebit(ctx, userID, model.Cost, privileged)
	if errors.Is(err, quota.ErrInsufficientBalance) {
		s.metrics.RecordDebit(observability.DebitDenied, model.ID, 0)
		s.emit(ctx, extensions.AuditEvent{
			EventType: extensions.AuditEventDenied,
			UserID:    userID,
			RequestID: requestID,
			ModelID:   model.ID,
			Points:    model.Cost,
			Outcome:   "insufficient_balance",
		})
		span.SetStatus(codes.Error, "insufficient balance")
		return decision, err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "debit failed")
		return decision, fmt.Errorf("debit: %w", err)
	}

	switch {
	case privileged:
		s.metrics.RecordDebit(observability.DebitPrivileged, model.ID, 0)
	case decision.Debited == 0:
		s.metrics.RecordDebit(observability.DebitFree, model.ID, 0)
	default:
		s.metrics.RecordDebit(observability.DebitCharged, model.ID, decision.Debited)
		s.emit(ctx, extensions.AuditEvent{
			EventType: extensions.AuditEventDebit,
			UserID:    userID,
			RequestID: requestID,
			ModelID:   model.ID,
			Points:    decision.Debited,
			Outcome:   "charged",
		})
	}
	span.SetAttributes(attribute.Int("quota.debited", decision.Debited), attribute.Int("quota.balance", decision.Balance))
	return decision, nil
}

func (s *ChatService) complete(ctx context.Context, model, userPrompt string) (string, error) {
	content, err := s.completer.Complete(ctx, model, s.cfg.SystemPrompt, userPrompt)
	if err != nil && !errors.Is(err, ErrUpstream) {
		err = fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return content, err
}

// refund credits back a debit whose completion failed. A failed refund is a
// DebitWithoutCompletion: logged and counted, the client still sees the
// upstream error.
func (s *ChatService) refund(ctx context.Context, userID, requestID, modelID string, points int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	event := extensions.AuditEvent{
		EventType: extensions.AuditEventRefund,
		UserID:    userID,
		RequestID: requestID,
		ModelID:   modelID,
		Points:    points,
		Outcome:   "refunded",
	}
	if _, err := s.ledger.Credit(ctx, userID, points); err != nil {
		fault := &DebitWithoutCompletion{UserID: userID, RequestID: requestID, Points: points, Err: err}
		slog.Error("refund failed", "error", fault)
		s.metrics.RecordRefund(false)
		event.Outcome = "failed"
		s.emit(ctx, event)
		return
	}
	s.metrics.RecordRefund(true)
	s.emit(ctx, event)
}

// persist records the exchange. It returns the conversation id (empty only
// when a new conversation could not be created) and whether both messages
// were written. The assistant message is never written without its user
// message.
func (s *ChatService) persist(ctx context.Context, userID string, req *datatypes.ChatRequest, content string, receivedAt time.Time) (string, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()
	ctx, span := chatTracer.Start(ctx, "ChatService.persist")
	defer span.End()

	conversationID, err := s.store.EnsureConversation(ctx, userID, req.ConversationID, req.Message)
	if err != nil {
		s.fault(&PersistenceFault{Stage: StageConversation, ConversationID: req.ConversationID, Err: err})
		span.SetStatus(codes.Error, StageConversation)
		return req.ConversationID, false
	}

	if _, err := s.store.AppendMessage(ctx, conversationID, conversation.RoleUser, req.Message, receivedAt); err != nil {
		s.fault(&PersistenceFault{Stage: StageUserMessage, ConversationID: conversationID, Err: err})
		span.SetStatus(codes.Error, StageUserMessage)
		return conversationID, false
	}

	answeredAt := s.now()
	if answeredAt.Before(receivedAt) {
		answeredAt = receivedAt
	}
	if _, err := s.store.AppendMessage(ctx, conversationID, conversation.RoleAssistant, content, answeredAt); err != nil {
		s.fault(&PersistenceFault{Stage: StageAssistantMessage, ConversationID: conversationID, Err: err})
		span.SetStatus(codes.Error, StageAssistantMessage)
		return conversationID, false
	}
	return conversationID, true
}

func (s *ChatService) fault(f *PersistenceFault) {
	slog.Error("chat history not saved", "stage", f.Stage, "conversation_id", f.ConversationID, "error", f.Err)
	s.metrics.RecordPersistenceFault(f.Stage)
}

func (s *ChatService) emit(ctx context.Context, event extensions.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	if err := s.audit.Log(ctx, event); err != nil {
		slog.Warn("audit log failed", "event_type", event.EventType, "error", err)
	}
}
