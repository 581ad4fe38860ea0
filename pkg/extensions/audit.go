// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types emitted by the chat pipeline.
const (
	AuditEventDebit  = "quota.debit"
	AuditEventRefund = "quota.refund"
	AuditEventDenied = "quota.denied"
)

// AuditEvent records a single quota mutation or refusal.
type AuditEvent struct {
	EventType string
	Timestamp time.Time
	UserID    string
	RequestID string
	ModelID   string
	Points    int
	Outcome   string
}

// AuditLogger receives quota events. Log must not block the request path for
// long; implementations that ship events remotely should buffer.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

// Log implements AuditLogger.
func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error {
	return nil
}

// SlogAuditLogger writes events as structured log lines.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log implements AuditLogger.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	logger.InfoContext(ctx, "audit",
		"event_type", event.EventType,
		"timestamp", ts,
		"user_id", event.UserID,
		"request_id", event.RequestID,
		"model_id", event.ModelID,
		"points", event.Points,
		"outcome", event.Outcome,
	)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
