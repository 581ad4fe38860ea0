// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable collaborators of the chat service.
//
// The chat orchestrator never talks to an identity provider or an audit sink
// directly. It consumes the interfaces in this package, and the binary that
// starts the service decides which implementation to inject:
//
//   - AuthProvider: resolves opaque request credentials to an identity
//   - AuditLogger: records quota mutations for later review
//
// Every interface ships with a no-op implementation so the service can run
// locally without any infrastructure.
package extensions

import (
	"context"
	"errors"
	"slices"
)

// RoleAdmin is the role that allows a request to bypass quota debits.
const RoleAdmin = "admin"

// ErrUnauthorized is returned by AuthProvider implementations when the
// credentials are missing, expired, or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity resolved from a request's credentials.
//
// # Fields
//
//   - UserID: Required. Stable identifier of the account that owns the
//     points balance and the conversations.
//   - Email: Optional. Informational only.
//   - Roles: Role memberships. RoleAdmin enables privileged requests.
type AuthInfo struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the identity carries the given role.
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Roles, role)
}

// IsAdmin reports whether the identity may issue privileged requests.
func (a *AuthInfo) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// AuthProvider validates request credentials.
//
// # Description
//
// Validate receives the raw token extracted by the HTTP middleware (bearer
// header or session cookie) and returns the identity it represents. It must
// not mutate any state beyond reading session data.
//
// # Outputs
//
//   - *AuthInfo: resolved identity, never nil when err is nil
//   - error: ErrUnauthorized (possibly wrapped) for bad credentials, any
//     other error for provider failures
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a local administrator.
//
// Intended for single-user local deployments and tests. Never use it on a
// network-reachable instance: every caller shares the same balance and may
// issue privileged requests.
type NopAuthProvider struct{}

// Validate always succeeds with the "local-user" identity.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
