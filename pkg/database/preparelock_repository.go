// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
)

// PrepareLockRepository persists the reservation locks the two-phase
// commit engine takes on segments during PREPARE (spec.md §4.4).
type PrepareLockRepository struct {
	q Queryer
}

func NewPrepareLockRepository(q Queryer) *PrepareLockRepository {
	return &PrepareLockRepository{q: q}
}

func (r *PrepareLockRepository) Create(ctx context.Context, l *PrepareLock) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO prepare_locks (tx_id, equivalent_id, from_pid, to_pid, delta, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.TxID, l.EquivalentID, string(l.From), string(l.To), l.Delta.String(), l.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create prepare lock: %w", err)
	}
	return nil
}

func (r *PrepareLockRepository) DeleteForTx(ctx context.Context, txID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM prepare_locks WHERE tx_id = $1`, txID)
	if err != nil {
		return fmt.Errorf("delete prepare locks: %w", err)
	}
	return nil
}

func (r *PrepareLockRepository) ListForTx(ctx context.Context, txID uuid.UUID) ([]*PrepareLock, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tx_id, equivalent_id, from_pid, to_pid, delta, expires_at
		FROM prepare_locks WHERE tx_id = $1`, txID)
	if err != nil {
		return nil, fmt.Errorf("list prepare locks: %w", err)
	}
	defer rows.Close()
	return scanPrepareLocks(rows)
}

// ListExpired returns reservation locks past their expiry, used by the
// recovery loop to find and abort orphaned prepares.
func (r *PrepareLockRepository) ListExpired(ctx context.Context, asOf time.Time) ([]*PrepareLock, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tx_id, equivalent_id, from_pid, to_pid, delta, expires_at
		FROM prepare_locks WHERE expires_at < $1`, asOf)
	if err != nil {
		return nil, fmt.Errorf("list expired prepare locks: %w", err)
	}
	defer rows.Close()
	return scanPrepareLocks(rows)
}

// SumReserved returns the total amount currently reserved outbound on a
// segment by locks other than excludeTx, which the router/engine must
// subtract from the raw trust-line headroom before admitting new payments.
func (r *PrepareLockRepository) SumReserved(ctx context.Context, equivalentID int64, from, to identity.PID, excludeTx uuid.UUID) (decimal.Decimal, error) {
	var sumStr string
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0)::text FROM prepare_locks
		WHERE equivalent_id = $1 AND from_pid = $2 AND to_pid = $3 AND tx_id != $4`,
		equivalentID, string(from), string(to), excludeTx).Scan(&sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum reserved: %w", err)
	}
	sum, err := decimal.NewFromString(sumStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse reserved sum: %w", err)
	}
	return sum, nil
}

func scanPrepareLocks(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]*PrepareLock, error) {
	var out []*PrepareLock
	for rows.Next() {
		var l PrepareLock
		var from, to, deltaStr string
		if err := rows.Scan(&l.TxID, &l.EquivalentID, &from, &to, &deltaStr, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan prepare lock: %w", err)
		}
		l.From = identity.PID(from)
		l.To = identity.PID(to)
		delta, err := decimal.NewFromString(deltaStr)
		if err != nil {
			return nil, fmt.Errorf("parse prepare lock delta: %w", err)
		}
		l.Delta = delta
		out = append(out, &l)
	}
	return out, rows.Err()
}
