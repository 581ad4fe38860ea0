// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatclient is an HTTP and WebSocket client for the chat service.
//
// Every chat call goes through the client's quota mirror: the model's cost
// is reserved before the request is sent, confirmed with the server's
// balance on success and reverted on failure.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianChat/pkg/quotamirror"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/catalog"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// DefaultTimeout covers the slowest completion the server allows plus
// persistence.
const DefaultTimeout = 90 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// APIError is a non-2xx response. Message is the server's localized text.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat service returned %d", e.StatusCode)
	}
	return fmt.Sprintf("chat service returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// IsInsufficientBalance reports a 403 from the chat endpoint.
func IsInsufficientBalance(err error) bool {
	return IsStatus(err, http.StatusForbidden)
}

type Client struct {
	baseURL  *url.URL
	token    string
	language string
	http     *http.Client
	mirror   *quotamirror.Mirror
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithAcceptLanguage selects the language of server error messages.
func WithAcceptLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

func WithMirror(m *quotamirror.Mirror) Option {
	return func(c *Client) { c.mirror = m }
}

// New creates a client for the server at baseURL, authenticating with the
// bearer token (empty for servers running without auth).
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
		mirror:  quotamirror.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mirror returns the client's displayed quota.
func (c *Client) Mirror() *quotamirror.Mirror {
	return c.mirror
}

// =============================================================================
// Chat
// =============================================================================

// Send submits one chat exchange. A missing RequestID is generated so the
// server can reject a duplicate submission.
func (c *Client) Send(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := c.reserve(req); err != nil {
		return nil, err
	}

	var resp datatypes.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat", req, &resp); err != nil {
		c.mirror.Revert(req.RequestID)
		return nil, err
	}
	c.mirror.Confirm(req.RequestID, resp.Balance)
	return &resp, nil
}

// reserve subtracts the listed cost of the model from the mirror.
// Privileged requests reserve nothing; the server's balance corrects the
// display either way.
func (c *Client) reserve(req datatypes.ChatRequest) error {
	cost := catalog.Cost(req.ModelID)
	if req.IsPrivileged {
		cost = 0
	}
	_, err := c.mirror.Reserve(req.RequestID, cost)
	return err
}

// =============================================================================
// Reads
// =============================================================================

// Quota fetches the authoritative balance and reconciles the mirror.
func (c *Client) Quota(ctx context.Context) (datatypes.QuotaResponse, error) {
	var resp datatypes.QuotaResponse
	if err := c.do(ctx, http.MethodGet, "/v1/quota", nil, &resp); err != nil {
		return resp, err
	}
	c.mirror.Reconcile(resp.Balance)
	return resp, nil
}

func (c *Client) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	var resp datatypes.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) History(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var resp datatypes.MessagesResponse
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) Models(ctx context.Context) ([]catalog.Descriptor, error) {
	var resp datatypes.ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	if c.language != "" {
		h.Set("Accept-Language", c.language)
	}
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body datatypes.ErrorResponse
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Error
	}
	return apiErr
}
