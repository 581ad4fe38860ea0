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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores balances in the accounts table through a pgx pool.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) OpenAccount(ctx context.Context, userID string, initial int) (int, error) {
	if err := validateInitial(initial); err != nil {
		return 0, err
	}
	tag, err := l.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, points, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, initial, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("open account: %w", err)
	}
	if tag.RowsAffected() == 1 {
		slog.Info("account opened", "user_id", userID, "points", initial)
	}
	return l.Balance(ctx, userID)
}

func (l *PostgresLedger) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := l.pool.QueryRow(ctx, `SELECT points FROM accounts WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return points, nil
}

func (l *PostgresLedger) CheckAndDebit(ctx context.Context, userID string, cost int, privileged bool) (Decision, error) {
	if err := validateCost(cost); err != nil {
		return Decision{Outcome: Denied}, err
	}
	if privileged || cost == 0 {
		balance, err := l.Balance(ctx, userID)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return Decision{Outcome: Denied}, err
		}
		return Decision{Outcome: Allowed, Balance: balance}, nil
	}

	var balance int
	err := l.pool.QueryRow(ctx,
		`UPDATE accounts SET points = points - $1 WHERE user_id = $2 AND points >= $1 RETURNING points`,
		cost, userID).Scan(&balance)
	switch {
	case err == nil:
		return Decision{Outcome: Allowed, Debited: cost, Balance: balance}, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, berr := l.Balance(ctx, userID)
		if berr != nil && !errors.Is(berr, ErrAccountNotFound) {
			return Decision{Outcome: Denied}, berr
		}
		return denied(current)
	default:
		return Decision{Outcome: Denied}, fmt.Errorf("debit: %w", err)
	}
}

func (l *PostgresLedger) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if err := validateCredit(amount); err != nil {
		return 0, err
	}
	var balance int
	err := l.pool.QueryRow(ctx,
		`UPDATE accounts SET points = points + $1 WHERE user_id = $2 RETURNING points`,
		amount, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit: %w", err)
	}
	return balance, nil
}

var _ Ledger = (*PostgresLedger)(nil)
