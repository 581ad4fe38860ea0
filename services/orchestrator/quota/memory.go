// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package quota

import (
	"context"
	"sync"
)

type memoryAccount struct {
	mu     sync.Mutex
	points int
}

// MemoryLedger keeps balances in process memory. Each account carries its
// own mutex, so users never contend with each other.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*memoryAccount)}
}

func (l *MemoryLedger) account(userID string) (*memoryAccount, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[userID]
	return acct, ok
}

func (l *MemoryLedger) OpenAccount(_ context.Context, userID string, initial int) (int, error) {
	if err := validateInitial(initial); err != nil {
		return 0, err
	}
	l.mu.Lock()
	acct, ok := l.accounts[userID]
	if !ok {
		acct = &memoryAccount{points: initial}
		l.accounts[userID] = acct
	}
	l.mu.Unlock()

	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.points, nil
}

func (l *MemoryLedger) Balance(_ context.Context, userID string) (int, error) {
	acct, ok := l.account(userID)
	if !ok {
		return 0, ErrAccountNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return acct.points, nil
}

func (l *MemoryLedger) CheckAndDebit(_ context.Context, userID string, cost int, privileged bool) (Decision, error) {
	if err := validateCost(cost); err != nil {
		return Decision{Outcome: Denied}, err
	}
	acct, ok := l.account(userID)
	if !ok {
		if privileged || cost == 0 {
			return Decision{Outcome: Allowed}, nil
		}
		return denied(0)
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	if privileged || cost == 0 {
		return Decision{Outcome: Allowed, Balance: acct.points}, nil
	}
	if acct.points < cost {
		return denied(acct.points)
	}
	acct.points -= cost
	return Decision{Outcome: Allowed, Debited: cost, Balance: acct.points}, nil
}

func (l *MemoryLedger) Credit(_ context.Context, userID string, amount int) (int, error) {
	if err := validateCredit(amount); err != nil {
		return 0, err
	}
	acct, ok := l.account(userID)
	if !ok {
		return 0, ErrAccountNotFound
	}
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.points += amount
	return acct.points, nil
}

var _ Ledger = (*MemoryLedger)(nil)
