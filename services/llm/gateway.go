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
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// ErrUpstream is returned for any completion failure: transport error,
// non-success status, timeout, empty or malformed payload. The wrapped cause
// is for logs only and must never be shown to end users.
var ErrUpstream = errors.New("completion upstream error")

var gatewayTracer = otel.Tracer("aleutian.chat.llm")

const (
	DefaultTemperature    float32 = 0.7
	DefaultGatewayTimeout         = 60 * time.Second
)

// GatewayConfig tunes the Completion Gateway.
type GatewayConfig struct {
	// Temperature is fixed for every call.
	Temperature float32

	// Timeout bounds one upstream call, including time spent throttled.
	Timeout time.Duration

	// MaxRPS caps upstream calls per second across all users. 0 disables.
	MaxRPS float64

	// Burst is the throttle bucket size. Defaults to 1 when MaxRPS > 0.
	Burst int
}

// UpstreamObserver receives the outcome of each upstream call.
// status is "success", "error" or "timeout".
type UpstreamObserver interface {
	ObserveUpstream(model, status string, elapsed time.Duration)
}

// Gateway formats the prompt pair, calls the backend once and sanitizes the
// answer.
//
// # Description
//
// Complete never retries. Every failure is reported as ErrUpstream so the
// caller can translate it into a generic message; the cause stays in the
// error chain for logging.
//
// # Thread Safety
//
// Safe for concurrent use.
type Gateway struct {
	client   LLMClient
	cfg      GatewayConfig
	limiter  *rate.Limiter
	observer UpstreamObserver
}

// NewGateway wraps client. observer may be nil.
func NewGateway(client LLMClient, cfg GatewayConfig, observer UpstreamObserver) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGatewayTimeout
	}
	g := &Gateway{client: client, cfg: cfg, observer: observer}
	if cfg.MaxRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRPS), burst)
	}
	return g
}

// Complete sends systemPrompt and userPrompt to model and returns the
// sanitized answer.
func (g *Gateway) Complete(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	ctx, span := gatewayTracer.Start(ctx, "Gateway.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, err := g.call(ctx, model, systemPrompt, userPrompt)
	elapsed := time.Since(start)

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		g.observe(model, status, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		slog.Warn("completion failed", "model", model, "status", status, "elapsed_ms", elapsed.Milliseconds(), "error", err)
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	g.observe(model, "success", elapsed)
	return text, nil
}

func (g *Gateway) call(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("throttled: %w", err)
		}
	}

	temperature := g.cfg.Temperature
	messages := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt},
	}
	raw, err := g.client.Chat(ctx, model, messages, GenerationParams{Temperature: &temperature})
	if err != nil {
		return "", err
	}

	text := StripReasoning(raw)
	if text == "" {
		return "", errors.New("empty completion after sanitizing")
	}
	return text, nil
}

func (g *Gateway) observe(model, status string, elapsed time.Duration) {
	if g.observer != nil {
		g.observer.ObserveUpstream(model, status, elapsed)
	}
}
