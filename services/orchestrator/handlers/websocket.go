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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
)

// Reply frame types.
const (
	WSTypeResponse = "response"
	WSTypeError    = "error"
)

// maxFrameBytes bounds one inbound frame: the largest valid message plus
// the largest attached document, with room for the JSON envelope.
const maxFrameBytes = datatypes.MaxMessageBytes + datatypes.MaxFileTextBytes + 16*1024

// WSReply is the single frame written back for each ChatRequest frame.
type WSReply struct {
	Type     string                  `json:"type"`
	Response *datatypes.ChatResponse `json:"response,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Status   int                     `json:"status,omitempty"`
}

// newUpgrader accepts browser origins listed in allowedOrigins. With an
// empty list only same-host origins are accepted (gorilla's default check).
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	u := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	if len(allowedOrigins) == 0 {
		return u
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
	return u
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket creates a handler for GET /v1/chat/ws.
//
// # Description
//
// Upgrades an authenticated request and then serves chat exchanges over
// the socket: each text frame carries one ChatRequest and is answered by
// exactly one WSReply. Exchanges on one socket run sequentially. A frame
// that is not valid JSON gets a validation error reply; the socket stays
// open until the client closes it.
//
// # Inputs
//
//   - svc: The chat pipeline.
//   - metrics: Request counters. May be nil.
//   - allowedOrigins: Browser origins allowed to connect.
func HandleChatWebSocket(svc ChatProcessor, metrics *observability.ChatMetrics, allowedOrigins []string) gin.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(c *gin.Context) {
		identity := middleware.GetAuthInfo(c)

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(maxFrameBytes)

		userID := ""
		if identity != nil {
			userID = identity.UserID
		}
		slog.Info("websocket client connected", "user_id", userID)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("websocket closed unexpectedly", "user_id", userID, "error", err)
				} else {
					slog.Info("websocket client disconnected", "user_id", userID)
				}
				return
			}

			reply := serveFrame(c, svc, metrics, data)
			if err := sendJSON(ws, reply); err != nil {
				return
			}
		}
	}
}

func serveFrame(c *gin.Context, svc ChatProcessor, metrics *observability.ChatMetrics, data []byte) WSReply {
	ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatWebSocket.frame",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	metrics.RequestStarted(observability.TransportWebSocket)
	defer metrics.RequestEnded(observability.TransportWebSocket)

	var req datatypes.ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		err = fmt.Errorf("%w: %v", services.ErrValidation, err)
		metrics.RecordRequest(observability.TransportWebSocket, observability.OutcomeValidation)
		return errorReply(c, err)
	}

	resp, err := svc.Process(ctx, middleware.GetAuthInfo(c), &req)
	metrics.RecordRequest(observability.TransportWebSocket, services.OutcomeOf(err))
	if err != nil {
		span.RecordError(err)
		return errorReply(c, err)
	}
	return WSReply{Type: WSTypeResponse, Response: resp}
}

func errorReply(c *gin.Context, err error) WSReply {
	status, msg := errorMessage(c, err)
	return WSReply{Type: WSTypeError, Error: msg, Status: status}
}
