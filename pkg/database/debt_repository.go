// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
)

// DebtRepository persists Debt rows. Debts are stored directed
// (debtor -> creditor) and a zero-amount row is deleted rather than kept
// (spec.md §9, resolved).
type DebtRepository struct {
	q Queryer
}

func NewDebtRepository(q Queryer) *DebtRepository {
	return &DebtRepository{q: q}
}

// Get returns the debt debtor owes creditor in equivalentID, or a zero
// amount if no row exists (absence of debt, not an error).
func (r *DebtRepository) Get(ctx context.Context, equivalentID int64, debtor, creditor identity.PID) (decimal.Decimal, error) {
	var amountStr string
	err := r.q.QueryRowContext(ctx, `
		SELECT amount FROM debts WHERE equivalent_id = $1 AND debtor = $2 AND creditor = $3`,
		equivalentID, string(debtor), string(creditor)).Scan(&amountStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get debt: %w", err)
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse debt amount: %w", err)
	}
	return amount, nil
}

// Set upserts debtor's debt to creditor to exactly amount, deleting the row
// when amount is zero.
func (r *DebtRepository) Set(ctx context.Context, equivalentID int64, debtor, creditor identity.PID, amount decimal.Decimal) error {
	if amount.IsZero() {
		_, err := r.q.ExecContext(ctx, `
			DELETE FROM debts WHERE equivalent_id = $1 AND debtor = $2 AND creditor = $3`,
			equivalentID, string(debtor), string(creditor))
		if err != nil {
			return fmt.Errorf("delete zero debt: %w", err)
		}
		return nil
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO debts (equivalent_id, debtor, creditor, amount, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (equivalent_id, debtor, creditor)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = now()`,
		equivalentID, string(debtor), string(creditor), amount.String())
	if err != nil {
		return fmt.Errorf("upsert debt: %w", err)
	}
	return nil
}

// ListForParticipant returns every debt row in which pid is the debtor or
// the creditor, used by the clearing engine's net-position snapshot.
func (r *DebtRepository) ListForParticipant(ctx context.Context, equivalentID int64, pid identity.PID) ([]*Debt, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT debtor, creditor, equivalent_id, amount, updated_at
		FROM debts WHERE equivalent_id = $1 AND (debtor = $2 OR creditor = $2)`,
		equivalentID, string(pid))
	if err != nil {
		return nil, fmt.Errorf("list debts for participant: %w", err)
	}
	defer rows.Close()

	var out []*Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListAll returns every nonzero debt row for the equivalent, used by the
// integrity sweeper and the clearing engine's cycle search.
func (r *DebtRepository) ListAll(ctx context.Context, equivalentID int64) ([]*Debt, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT debtor, creditor, equivalent_id, amount, updated_at
		FROM debts WHERE equivalent_id = $1`, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	defer rows.Close()

	var out []*Debt
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordFlow appends one committed flow entry for the daily-limit window,
// called by the payment engine once per settled segment on commit.
func (r *DebtRepository) RecordFlow(ctx context.Context, txID uuid.UUID, equivalentID int64, from, to identity.PID, amount decimal.Decimal) error {
	flowJSON, err := json.Marshal(map[string]string{"amount": amount.String()})
	if err != nil {
		return fmt.Errorf("marshal flow: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO transaction_flows (tx_id, equivalent_id, from_pid, to_pid, flow)
		VALUES ($1, $2, $3, $4, $5)`,
		txID, equivalentID, string(from), string(to), flowJSON)
	if err != nil {
		return fmt.Errorf("record flow: %w", err)
	}
	return nil
}

// SumCommittedFlow24h sums committed debit flow from `from` to `to` over
// the trailing 24h window, backing the optional per-segment daily limit
// (spec.md §9, resolved: enforced).
func (r *DebtRepository) SumCommittedFlow24h(ctx context.Context, equivalentID int64, from, to identity.PID) (decimal.Decimal, error) {
	var sumStr sql.NullString
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((flow->>'amount')::numeric), 0)::text
		FROM transaction_flows
		WHERE equivalent_id = $1 AND from_pid = $2 AND to_pid = $3
		  AND created_at > now() - interval '24 hours'`,
		equivalentID, string(from), string(to)).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum committed flow: %w", err)
	}
	if !sumStr.Valid {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(sumStr.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse flow sum: %w", err)
	}
	return sum, nil
}

func scanDebt(row rowScanner) (*Debt, error) {
	var d Debt
	var debtor, creditor, amountStr string
	if err := row.Scan(&debtor, &creditor, &d.EquivalentID, &amountStr, &d.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan debt: %w", err)
	}
	d.Debtor = identity.PID(debtor)
	d.Creditor = identity.PID(creditor)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse debt amount: %w", err)
	}
	d.Amount = amount
	return &d, nil
}
