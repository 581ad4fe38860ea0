// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsReply mirrors the frames written by the server's chat socket.
type wsReply struct {
	Type     string                  `json:"type"`
	Response *datatypes.ChatResponse `json:"response,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Status   int                     `json:"status,omitempty"`
}

// ErrSocketClosed is returned by Send after Close.
var ErrSocketClosed = errors.New("chat socket closed")

// ChatSocket is a persistent chat connection. Exchanges are serialized: the
// server answers frames in order, one reply per frame.
type ChatSocket struct {
	client *Client
	conn   *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// DialChat opens the WebSocket chat endpoint. Authentication happens on
// the handshake; a rejected handshake is returned as an APIError.
func (c *Client) DialChat(ctx context.Context) (*ChatSocket, error) {
	u := *c.baseURL
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial chat socket: %w", err)
	}
	return &ChatSocket{client: c, conn: conn}, nil
}

// Send writes one request frame and waits for its reply. The mirror is
// updated exactly as for Client.Send.
func (s *ChatSocket) Send(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSocketClosed
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := s.client.reserve(req); err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
	}

	var reply wsReply
	err := s.conn.WriteJSON(req)
	if err == nil {
		err = s.conn.ReadJSON(&reply)
	}
	if err != nil {
		s.client.mirror.Revert(req.RequestID)
		return nil, fmt.Errorf("chat socket: %w", err)
	}

	if reply.Type != "response" || reply.Response == nil {
		s.client.mirror.Revert(req.RequestID)
		return nil, &APIError{StatusCode: reply.Status, Message: reply.Error}
	}
	s.client.mirror.Confirm(req.RequestID, reply.Response.Balance)
	return reply.Response, nil
}

// Close sends a close frame and releases the connection.
func (s *ChatSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
