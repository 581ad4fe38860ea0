// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation persists chat threads and their messages.
//
// # Description
//
// A Conversation is created lazily by the first message of a new thread and
// owned by exactly one user. Messages are append-only; each carries a
// creation timestamp and a store-assigned sequence number that breaks ties
// between messages created in the same instant.
//
// # Thread Safety
//
// All Store implementations are safe for concurrent use. Single-row inserts
// rely on the storage engine's atomicity; there are no multi-row
// transactions.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// TitleMaxRunes bounds the title derived from a thread's first message.
const TitleMaxRunes = 40

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

var (
	// ErrConversationNotFound covers both a missing id and an id owned by
	// another user, so callers cannot probe for foreign conversations.
	ErrConversationNotFound = errors.New("conversation not found")

	ErrInvalidRole = errors.New("invalid message role")
)

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	Seq            int64     `json:"seq"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is the conversation history backend.
type Store interface {
	// EnsureConversation returns conversationID after checking that userID
	// owns it. An empty conversationID creates a new conversation titled
	// from firstMessage and returns its id.
	EnsureConversation(ctx context.Context, userID, conversationID, firstMessage string) (string, error)

	GetConversation(ctx context.Context, conversationID string) (Conversation, error)

	// ListConversations returns the user's conversations, newest first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// AppendMessage stores one message with the given creation time.
	AppendMessage(ctx context.Context, conversationID string, role Role, content string, at time.Time) (Message, error)

	// ListMessages returns the thread ordered by creation time, then sequence.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}

// Owned fetches a conversation and verifies userID owns it.
func Owned(ctx context.Context, s Store, userID, conversationID string) (Conversation, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conv.UserID != userID {
		return Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// TitleFrom derives a conversation title: the first TitleMaxRunes runes of
// the trimmed message.
func TitleFrom(message string) string {
	s := strings.TrimSpace(message)
	if utf8.RuneCountInString(s) <= TitleMaxRunes {
		return s
	}
	return string([]rune(s)[:TitleMaxRunes])
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides the clock used for conversation creation times.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides conversation id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}
