// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// newUpstream fakes an OpenAI-compatible completion endpoint.
func newUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-test",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstreamURL string) Config {
	t.Helper()
	return Config{
		Storage:      StorageConfig{Driver: DriverSQLite, DSN: ":memory:"},
		LLM:          LLMConfig{APIKey: "test-key", BaseURL: upstreamURL + "/v1"},
		SignupPoints: 10,
	}
}

func newTestService(t *testing.T, cfg Config, opts *extensions.ServiceOptions) *service {
	t.Helper()
	svc, err := New(cfg, opts)
	require.NoError(t, err)
	s := svc.(*service)
	t.Cleanup(s.cleanup)
	return s
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// New Tests
// =============================================================================

// TestNew_ServesChatEndToEnd wires SQLite, the no-auth provider and a fake
// upstream, then runs one exchange through the router.
func TestNew_ServesChatEndToEnd(t *testing.T) {
	// Arrange
	upstream := newUpstream(t, "<think>hmm</think>Bonjour")
	s := newTestService(t, testConfig(t, upstream.URL), nil)

	// Act
	w := do(s.Router(), "POST", "/v1/chat", `{"message": "hello", "model_id": "gpt-4o"}`)

	// Assert
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Bonjour", resp["content"])
	assert.Equal(t, float64(5), resp["balance"], "signup grant of 10 minus cost 5")
	assert.Equal(t, true, resp["persisted"])

	w = do(s.Router(), "GET", "/v1/quota", "")
	assert.JSONEq(t, `{"user_id": "local-user", "balance": 5}`, w.Body.String())
}

func TestNew_ReadinessAndMetrics(t *testing.T) {
	upstream := newUpstream(t, "ok")
	s := newTestService(t, testConfig(t, upstream.URL), nil)

	w := do(s.Router(), "GET", "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"checks": {"database": "ok"}}`, w.Body.String())

	w = do(s.Router(), "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_RedisGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.RedisURL = "redis://" + mr.Addr()

	s := newTestService(t, cfg, nil)

	w := do(s.Router(), "GET", "/ready", "")
	assert.JSONEq(t, `{"checks": {"database": "ok", "redis": "ok"}}`, w.Body.String())

	w = do(s.Router(), "POST", "/v1/chat", `{"message": "hi", "model_id": "gpt-4o-mini", "request_id": "r-1"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mr.Keys(), "the in-flight claim is released after the exchange")
}

func TestNew_UnreachableRedisFallsBack(t *testing.T) {
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.RedisURL = "redis://127.0.0.1:1"

	s := newTestService(t, cfg, nil)

	w := do(s.Router(), "GET", "/ready", "")
	assert.JSONEq(t, `{"checks": {"database": "ok"}}`, w.Body.String())
}

func TestNew_JWTAuth(t *testing.T) {
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.Auth = AuthConfig{Mode: AuthModeJWT, JWTSecret: "test-secret", JWTIssuer: "chat"}
	s := newTestService(t, cfg, nil)

	issuer, err := extensions.NewJWTAuthProvider("test-secret", "chat")
	require.NoError(t, err)
	token, err := issuer.Issue("alice", "alice@example.com", nil, time.Hour)
	require.NoError(t, err)

	w := do(s.Router(), "GET", "/v1/quota", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req, _ := http.NewRequest("GET", "/v1/quota", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: token})
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id": "alice", "balance": 10}`, rec.Body.String())
}

// TestNew_CustomOptionsWin verifies supplied extension options are used
// instead of the configured ones.
func TestNew_CustomOptionsWin(t *testing.T) {
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.Auth = AuthConfig{Mode: AuthModeJWT, JWTSecret: "unused"}
	opts := extensions.DefaultOptions()

	s := newTestService(t, cfg, &opts)

	_, isNop := s.opts.AuthProvider.(*extensions.NopAuthProvider)
	assert.True(t, isNop)
}

func TestNew_AuditLogOption(t *testing.T) {
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.AuditLog = true

	s := newTestService(t, cfg, nil)

	_, isSlog := s.opts.AuditLogger.(*extensions.SlogAuditLogger)
	assert.True(t, isSlog)
}

func TestNew_Errors(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		_, err := New(Config{Storage: StorageConfig{Driver: "mysql"}}, nil)
		assert.ErrorContains(t, err, "invalid config")
	})

	t.Run("missing api key", func(t *testing.T) {
		_, err := New(Config{}, nil)
		assert.ErrorContains(t, err, "LLM client")
	})
}

// =============================================================================
// Run Tests
// =============================================================================

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_GracefulShutdown serves until the context is cancelled.
func TestRun_GracefulShutdown(t *testing.T) {
	upstream := newUpstream(t, "ok")
	cfg := testConfig(t, upstream.URL)
	cfg.Port = freePort(t)
	svc, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
