// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package quota holds the authoritative points balance of every user.
//
// # Description
//
// A Ledger is the only writer of balances. Debits are conditional: a debit
// that would take a balance below zero is refused without mutating it, never
// clamped. Each backend closes the check-then-deduct race in its own way:
//
//   - MemoryLedger serializes operations per user with a mutex.
//   - SQLiteLedger and PostgresLedger issue a single conditional UPDATE
//     (points >= cost) and read the affected row count.
//
// # Thread Safety
//
// All Ledger implementations are safe for concurrent use.
package quota

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit is refused.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound is returned when the user has no account.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount is returned for negative costs or non-positive credits.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Outcome of a CheckAndDebit call.
type Outcome int

const (
	Allowed Outcome = iota
	Denied
)

func (o Outcome) String() string {
	if o == Allowed {
		return "allowed"
	}
	return "denied"
}

// Decision reports what CheckAndDebit did.
type Decision struct {
	Outcome Outcome

	// Debited is the number of points actually removed. It is 0 for
	// privileged and free requests, and for denials.
	Debited int

	// Balance is the balance after the operation.
	Balance int
}

// Ledger is the quota store.
type Ledger interface {
	// OpenAccount creates the account with initial points if it does not
	// exist. Existing accounts are left untouched. Returns the balance.
	OpenAccount(ctx context.Context, userID string, initial int) (int, error)

	// Balance returns the current balance or ErrAccountNotFound.
	Balance(ctx context.Context, userID string) (int, error)

	// CheckAndDebit atomically deducts cost when balance >= cost.
	// Privileged requests and cost 0 are allowed without mutation.
	// A refusal returns a Denied decision together with ErrInsufficientBalance.
	CheckAndDebit(ctx context.Context, userID string, cost int, privileged bool) (Decision, error)

	// Credit adds amount back to an existing account and returns the new
	// balance. Used to refund a debit whose completion failed.
	Credit(ctx context.Context, userID string, amount int) (int, error)
}

func validateCost(cost int) error {
	if cost < 0 {
		return fmt.Errorf("%w: cost %d", ErrInvalidAmount, cost)
	}
	return nil
}

func validateCredit(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit %d", ErrInvalidAmount, amount)
	}
	return nil
}

func validateInitial(initial int) error {
	if initial < 0 {
		return fmt.Errorf("%w: initial %d", ErrInvalidAmount, initial)
	}
	return nil
}

func denied(balance int) (Decision, error) {
	return Decision{Outcome: Denied, Balance: balance}, ErrInsufficientBalance
}
