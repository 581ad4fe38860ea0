// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/database"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/quota"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockLLMClient is a minimal mock for llm.LLMClient
type mockLLMClient struct{}

func (m *mockLLMClient) Chat(_ context.Context, _ string, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return "mock chat response", nil
}

// denyAll rejects every token.
type denyAll struct{}

func (denyAll) Validate(context.Context, string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}

func newTestDeps(t *testing.T, opts extensions.ServiceOptions) Deps {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	metrics := observability.NewChatMetrics(reg)
	svc, err := services.NewChatService(services.ChatDeps{
		Ledger:    quota.NewMemoryLedger(),
		Store:     conversation.NewSQLiteStore(db),
		Completer: llm.NewGateway(&mockLLMClient{}, llm.GatewayConfig{}, metrics),
		Metrics:   metrics,
	}, services.ChatConfig{SignupPoints: 10})
	if err != nil {
		t.Fatalf("new chat service: %v", err)
	}
	return Deps{Chat: svc, Metrics: metrics, Gatherer: reg, Options: opts}
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t, extensions.DefaultOptions()))

	expectedRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/ready"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat"},
		{"GET", "/v1/chat/ws"},
		{"GET", "/v1/quota"},
		{"GET", "/v1/models"},
		{"GET", "/v1/conversations"},
		{"GET", "/v1/conversations/:conversationId/messages"},
	}

	routes := router.Routes()
	for _, expected := range expectedRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t, extensions.DefaultOptions()))

	w := serve(router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

// TestSetupRoutes_ChatThroughNopAuth runs one exchange with the local
// single-user provider and the signup grant.
func TestSetupRoutes_ChatThroughNopAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t, extensions.DefaultOptions()))

	w := serve(router, "POST", "/v1/chat", `{"message": "hi", "model_id": "gpt-4o"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("chat returned %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"balance":5`) {
		t.Errorf("expected balance 5 after signup grant of 10, got %s", w.Body.String())
	}
}

func TestSetupRoutes_APIRequiresAuth(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t, extensions.DefaultOptions().WithAuth(denyAll{})))

	for _, path := range []string{"/v1/quota", "/v1/models", "/v1/conversations"} {
		w := serve(router, "GET", path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s returned %d, want %d", path, w.Code, http.StatusUnauthorized)
		}
	}

	// Probes stay public.
	if w := serve(router, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDeps(t, extensions.DefaultOptions()))

	// One request so the counter vector has a child to export.
	serve(router, "POST", "/v1/chat", `{"message": "hi", "model_id": "gpt-4o-mini"}`)

	w := serve(router, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "aleutian_chat_requests_total") {
		t.Error("Metrics endpoint should export aleutian_chat_requests_total")
	}
}
