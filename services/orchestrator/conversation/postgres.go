// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps conversations in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts options
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) *PostgresStore {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	return &PostgresStore{pool: pool, opts: o}
}

func (s *PostgresStore) EnsureConversation(ctx context.Context, userID, conversationID, firstMessage string) (string, error) {
	if conversationID != "" {
		if _, err := Owned(ctx, s, userID, conversationID); err != nil {
			return "", err
		}
		return conversationID, nil
	}

	id := s.opts.newID()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_id, title, created_at) VALUES ($1, $2, $3, $4)`,
		id, userID, TitleFrom(firstMessage), s.opts.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	slog.Debug("conversation created", "conversation_id", id, "user_id", userID)
	return id, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var c Conversation
	var created int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = $1`, conversationID).
		Scan(&c.ID, &c.UserID, &c.Title, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, title, created_at FROM conversations
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		var created int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &created); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID string, role Role, content string, at time.Time) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	m := Message{ConversationID: conversationID, Role: role, Content: content, CreatedAt: time.UnixMilli(at.UnixMilli()).UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, role, content, created_at)
		 SELECT $1::text, $2::text, $3::text, $4::bigint
		 WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $1::text)
		 RETURNING seq`,
		conversationID, string(role), content, at.UnixMilli()).Scan(&m.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrConversationNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var role string
		var created int64
		if err := rows.Scan(&m.Seq, &m.ConversationID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
