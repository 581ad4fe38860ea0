// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedupe rejects concurrent duplicate submissions.
//
// A client may attach a request id to a chat submission. While the first
// submission with that id is in flight, any other submission with the same id
// is refused with ErrInFlight. Claims expire after a TTL so a crashed request
// cannot block its id forever.
package dedupe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInFlight is returned when the key is already claimed.
var ErrInFlight = errors.New("request already in flight")

// Guard is the in-flight claim store.
type Guard interface {
	// Claim takes key for at most ttl and returns a token proving ownership.
	Claim(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Release frees key if token still owns it. Releasing an expired or
	// foreign claim is a no-op.
	Release(ctx context.Context, key, token string) error
}

type memoryClaim struct {
	token   string
	expires time.Time
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{claims: make(map[string]memoryClaim), now: time.Now}
}

func (g *MemoryGuard) Claim(_ context.Context, key string, ttl time.Duration) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, ok := g.claims[key]; ok && now.Before(c.expires) {
		return "", ErrInFlight
	}
	g.sweep(now)

	token := uuid.NewString()
	g.claims[key] = memoryClaim{token: token, expires: now.Add(ttl)}
	return token, nil
}

func (g *MemoryGuard) Release(_ context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.claims[key]; ok && c.token == token {
		delete(g.claims, key)
	}
	return nil
}

// sweep drops expired claims. Caller holds g.mu.
func (g *MemoryGuard) sweep(now time.Time) {
	for k, c := range g.claims {
		if !now.Before(c.expires) {
			delete(g.claims, k)
		}
	}
}

var _ Guard = (*MemoryGuard)(nil)
