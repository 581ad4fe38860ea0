// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quotamirror keeps a client-side copy of the user's points balance
// for display.
//
// The server ledger is authoritative. The mirror subtracts pending
// reservations so the display drops as soon as a request is sent, and
// adopts the server's balance whenever one arrives. It never shows a value
// below zero.
package quotamirror

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateReservation = errors.New("reservation already pending")
	ErrNegativeCost         = errors.New("reservation cost must be >= 0")
)

// Mirror is the displayed quota.
//
// # Thread Safety
//
// Safe for concurrent use.
type Mirror struct {
	mu            sync.Mutex
	authoritative int
	known         bool
	pending       map[string]int
}

// New returns a mirror that has not seen a server balance yet. Until the
// first Reconcile or Confirm it displays 0.
func New() *Mirror {
	return &Mirror{pending: make(map[string]int)}
}

// Reconcile adopts balance as the authoritative value. Pending reservations
// stay subtracted until they are confirmed or reverted.
func (m *Mirror) Reconcile(balance int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authoritative = balance
	m.known = true
	return m.displayLocked()
}

// Reserve optimistically subtracts cost for an outgoing request and
// returns the new displayed value.
func (m *Mirror) Reserve(requestID string, cost int) (int, error) {
	if cost < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeCost, cost)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[requestID]; ok {
		return m.displayLocked(), fmt.Errorf("%w: %q", ErrDuplicateReservation, requestID)
	}
	m.pending[requestID] = cost
	return m.displayLocked(), nil
}

// Confirm settles a reservation with the balance the server reported for
// that request. Unknown request ids still adopt the server balance.
//
// Other reservations stay subtracted. The server may already have debited
// some of them, and a response does not say which, so while requests
// overlap the display can read low by their cost. It never reads high, and
// it is exact once the last reservation settles.
func (m *Mirror) Confirm(requestID string, serverBalance int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
	m.authoritative = serverBalance
	m.known = true
	return m.displayLocked()
}

// Revert undoes a reservation whose request failed.
func (m *Mirror) Revert(requestID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, requestID)
	return m.displayLocked()
}

// Display returns the last authoritative balance minus pending
// reservations, floored at zero.
func (m *Mirror) Display() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayLocked()
}

// CanAfford reports whether the displayed balance covers cost. It is a hint
// for the UI; the server decides.
func (m *Mirror) CanAfford(cost int) bool {
	return m.Display() >= cost
}

// Known reports whether a server balance has been seen.
func (m *Mirror) Known() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known
}

// Pending returns the number of unsettled reservations.
func (m *Mirror) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Mirror) displayLocked() int {
	shown := m.authoritative
	for _, cost := range m.pending {
		shown -= cost
	}
	if shown < 0 {
		return 0
	}
	return shown
}
