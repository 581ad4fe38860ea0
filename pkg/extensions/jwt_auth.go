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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SessionClaims is the JWT payload issued by the identity provider.
type SessionClaims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthProvider validates HS256 session tokens signed with a shared secret.
//
// # Description
//
// The subject claim is the user id. Expired, not-yet-valid, badly signed or
// subject-less tokens are rejected with ErrUnauthorized. The signing method
// is pinned to HMAC so a token cannot downgrade itself to "none".
//
// # Thread Safety
//
// Safe for concurrent use; the provider holds immutable state only.
type JWTAuthProvider struct {
	secret []byte
	issuer string
}

// NewJWTAuthProvider creates a provider. issuer may be empty to accept any.
func NewJWTAuthProvider(secret, issuer string) (*JWTAuthProvider, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt auth: secret must not be empty")
	}
	return &JWTAuthProvider{
		secret: []byte(secret),
		issuer: issuer,
	}, nil
}

// Validate parses and verifies token.
func (p *JWTAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	// exp is verified by the parser; tokens without one are refused here.
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: token without expiry", ErrUnauthorized)
	}
	if p.issuer != "" && claims.Issuer != p.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrUnauthorized, claims.Issuer)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}

	return &AuthInfo{
		UserID: claims.Subject,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// Issue signs a session token for userID. Used by tests and by operators
// minting tokens for the CLI client.
func (p *JWTAuthProvider) Issue(userID, email string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

var _ AuthProvider = (*JWTAuthProvider)(nil)
