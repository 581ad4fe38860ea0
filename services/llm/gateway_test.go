// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test doubles
// =============================================================================

type fakeClient struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	calls    int
	model    string
	messages []Message
	params   GenerationParams
}

func (f *fakeClient) Chat(ctx context.Context, model string, messages []Message, params GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls++
	f.model = model
	f.messages = messages
	f.params = params
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recordingObserver) ObserveUpstream(_, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

// =============================================================================
// Complete
// =============================================================================

func TestGateway_Complete_Success(t *testing.T) {
	client := &fakeClient{reply: "<think>plan</think>\n  Paris is the capital. "}
	obs := &recordingObserver{}
	gw := NewGateway(client, GatewayConfig{Temperature: 0.7}, obs)

	out, err := gw.Complete(context.Background(), "gpt-4o-mini", "be brief", "capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital.", out)

	assert.Equal(t, 1, client.calls)
	assert.Equal(t, "gpt-4o-mini", client.model)
	require.Len(t, client.messages, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: "be brief"}, client.messages[0])
	assert.Equal(t, Message{Role: RoleUser, Content: "capital of France?"}, client.messages[1])
	require.NotNil(t, client.params.Temperature)
	assert.InDelta(t, 0.7, *client.params.Temperature, 1e-6)
	assert.Equal(t, []string{"success"}, obs.statuses)
}

func TestGateway_Complete_BackendError(t *testing.T) {
	client := &fakeClient{err: errors.New("503 service unavailable")}
	obs := &recordingObserver{}
	gw := NewGateway(client, GatewayConfig{}, obs)

	out, err := gw.Complete(context.Background(), "gpt-4o", "sys", "hi")
	assert.Empty(t, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, client.calls, "no retries")
	assert.Equal(t, []string{"error"}, obs.statuses)
}

func TestGateway_Complete_EmptyAfterSanitizing(t *testing.T) {
	client := &fakeClient{reply: "<think>only thoughts</think>   "}
	gw := NewGateway(client, GatewayConfig{}, nil)

	_, err := gw.Complete(context.Background(), "deepseek-r1", "sys", "hi")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGateway_Complete_Timeout(t *testing.T) {
	client := &fakeClient{reply: "late", delay: time.Second}
	obs := &recordingObserver{}
	gw := NewGateway(client, GatewayConfig{Timeout: 20 * time.Millisecond}, obs)

	start := time.Now()
	_, err := gw.Complete(context.Background(), "gpt-4o", "sys", "hi")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"timeout"}, obs.statuses)
}

func TestGateway_Complete_CallerCancelled(t *testing.T) {
	client := &fakeClient{reply: "never", delay: time.Second}
	gw := NewGateway(client, GatewayConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Complete(ctx, "gpt-4o", "sys", "hi")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestGateway_Throttle(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	gw := NewGateway(client, GatewayConfig{MaxRPS: 1, Burst: 1, Timeout: 50 * time.Millisecond}, nil)

	_, err := gw.Complete(context.Background(), "m", "s", "u")
	require.NoError(t, err)

	// The bucket is empty and refills after one second, past the timeout.
	_, err = gw.Complete(context.Background(), "m", "s", "u")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 1, client.calls)
}

func TestNewGateway_Defaults(t *testing.T) {
	gw := NewGateway(&fakeClient{}, GatewayConfig{}, nil)
	assert.Equal(t, DefaultGatewayTimeout, gw.cfg.Timeout)
	assert.Nil(t, gw.limiter)
}
