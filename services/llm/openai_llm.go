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
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures any OpenAI-compatible chat-completion endpoint.
type OpenAIConfig struct {
	APIKey string

	// APIKeyFile is read when APIKey is empty (container secrets).
	APIKeyFile string

	// BaseURL overrides the API root, e.g. "https://openrouter.ai/api/v1".
	BaseURL string

	HTTPClient *http.Client
}

type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.APIKeyFile != "" {
		keyBytes, err := os.ReadFile(cfg.APIKeyFile)
		if err != nil {
			slog.Error("LLM API key not set and secret file unreadable", "path", cfg.APIKeyFile)
			return nil, fmt.Errorf("read api key file: %w", err)
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the LLM API key from secret file")
	}
	if apiKey == "" {
		return nil, errors.New("LLM API key is not configured")
	}

	conf := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}
	slog.Info("Initializing OpenAI-compatible client", "base_url", conf.BaseURL)
	return &OpenAIClient{client: openai.NewClientWithConfig(conf)}, nil
}

// Chat implements the LLMClient interface
func (o *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, params GenerationParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			slog.Error("OpenAI API call failed", "status", apiErr.HTTPStatusCode, "type", apiErr.Type)
		} else {
			slog.Error("OpenAI API call failed", "error", err)
		}
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", errors.New("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "model", model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

var _ LLMClient = (*OpenAIClient)(nil)
