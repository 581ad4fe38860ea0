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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// AuthInfo Tests
// =============================================================================

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{UserID: "u1", Roles: []string{"viewer", RoleAdmin}}

	assert.True(t, info.HasRole("viewer"))
	assert.True(t, info.IsAdmin())
	assert.False(t, info.HasRole("auditor"))
}

func TestAuthInfo_NilIsNotAdmin(t *testing.T) {
	var info *AuthInfo
	assert.False(t, info.IsAdmin())
}

func TestNopAuthProvider_ReturnsLocalAdmin(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
	assert.True(t, info.IsAdmin())
}

// =============================================================================
// JWTAuthProvider Tests
// =============================================================================

func TestNewJWTAuthProvider_RejectsEmptySecret(t *testing.T) {
	_, err := NewJWTAuthProvider("  ", "")
	assert.Error(t, err)
}

func TestJWTAuthProvider_RoundTrip(t *testing.T) {
	p, err := NewJWTAuthProvider("s3cret", "chat-idp")
	require.NoError(t, err)

	token, err := p.Issue("user-42", "u42@example.com", []string{RoleAdmin}, time.Hour)
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", info.UserID)
	assert.Equal(t, "u42@example.com", info.Email)
	assert.True(t, info.IsAdmin())
}

func TestJWTAuthProvider_Rejections(t *testing.T) {
	p, err := NewJWTAuthProvider("s3cret", "chat-idp")
	require.NoError(t, err)
	other, err := NewJWTAuthProvider("different", "chat-idp")
	require.NoError(t, err)
	wrongIssuer, err := NewJWTAuthProvider("s3cret", "someone-else")
	require.NoError(t, err)

	expired, err := p.Issue("user-1", "", nil, -time.Minute)
	require.NoError(t, err)
	badSig, err := other.Issue("user-1", "", nil, time.Hour)
	require.NoError(t, err)
	foreign, err := wrongIssuer.Issue("user-1", "", nil, time.Hour)
	require.NoError(t, err)
	noSubject, err := p.Issue("", "", nil, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "chat-idp"},
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", expired},
		{"bad signature", badSig},
		{"wrong issuer", foreign},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := p.Validate(context.Background(), tt.token)
			assert.Nil(t, info)
			assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
		})
	}
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestSlogAuditLogger_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := &SlogAuditLogger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	err := logger.Log(context.Background(), AuditEvent{
		EventType: AuditEventDebit,
		UserID:    "user-1",
		ModelID:   "gpt-4o",
		Points:    5,
		Outcome:   "allowed",
	})
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, AuditEventDebit, line["event_type"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.EqualValues(t, 5, line["points"])
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()

	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)

	custom := &SlogAuditLogger{}
	opts = DefaultOptions().WithAudit(custom)
	assert.Same(t, custom, opts.AuditLogger)
}
