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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SQLiteLedger stores balances in the accounts table of a SQLite database
// opened with database.OpenSQLite.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

func (l *SQLiteLedger) OpenAccount(ctx context.Context, userID string, initial int) (int, error) {
	if err := validateInitial(initial); err != nil {
		return 0, err
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, points, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, initial, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("open account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Info("account opened", "user_id", userID, "points", initial)
	}
	return l.Balance(ctx, userID)
}

func (l *SQLiteLedger) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := l.db.QueryRowContext(ctx, `SELECT points FROM accounts WHERE user_id = ?`, userID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return points, nil
}

func (l *SQLiteLedger) CheckAndDebit(ctx context.Context, userID string, cost int, privileged bool) (Decision, error) {
	if err := validateCost(cost); err != nil {
		return Decision{Outcome: Denied}, err
	}
	if privileged || cost == 0 {
		return l.allowFree(ctx, userID)
	}

	var balance int
	err := l.db.QueryRowContext(ctx,
		`UPDATE accounts SET points = points - ? WHERE user_id = ? AND points >= ? RETURNING points`,
		cost, userID, cost).Scan(&balance)
	switch {
	case err == nil:
		return Decision{Outcome: Allowed, Debited: cost, Balance: balance}, nil
	case errors.Is(err, sql.ErrNoRows):
		current, berr := l.Balance(ctx, userID)
		if berr != nil && !errors.Is(berr, ErrAccountNotFound) {
			return Decision{Outcome: Denied}, berr
		}
		return denied(current)
	default:
		return Decision{Outcome: Denied}, fmt.Errorf("debit: %w", err)
	}
}

func (l *SQLiteLedger) allowFree(ctx context.Context, userID string) (Decision, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Decision{Outcome: Denied}, err
	}
	return Decision{Outcome: Allowed, Balance: balance}, nil
}

func (l *SQLiteLedger) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if err := validateCredit(amount); err != nil {
		return 0, err
	}
	var balance int
	err := l.db.QueryRowContext(ctx,
		`UPDATE accounts SET points = points + ? WHERE user_id = ? RETURNING points`,
		amount, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

var _ Ledger = (*SQLiteLedger)(nil)
