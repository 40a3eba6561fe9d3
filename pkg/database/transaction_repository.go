// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/creditmesh/hub/pkg/identity"
)

type TransactionRepository struct {
	q Queryer
}

func NewTransactionRepository(q Queryer) *TransactionRepository {
	return &TransactionRepository{q: q}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *Transaction) error {
	sigs := make(pq.ByteaArray, len(tx.Signatures))
	for i, s := range tx.Signatures {
		sigs[i] = s
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (tx_id, type, initiator, payload, signatures, state, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tx.TxID, string(tx.Type), string(tx.Initiator), tx.Payload, sigs, string(tx.State), tx.Reason,
		tx.CreatedAt, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, txID uuid.UUID) (*Transaction, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT tx_id, type, initiator, payload, signatures, state, reason, created_at, updated_at
		FROM transactions WHERE tx_id = $1`, txID)
	return scanTransaction(row)
}

// TransitionState performs a compare-and-swap state change, returning
// ErrStateConflict-equivalent (via zero rows affected) when the current
// state does not match expectFrom — the building block for the 2PC
// engine's idempotent commit/abort path.
func (r *TransactionRepository) TransitionState(ctx context.Context, txID uuid.UUID, expectFrom, to TransactionState, reason string) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions SET state = $1, reason = $2, updated_at = now()
		WHERE tx_id = $3 AND state = $4`,
		string(to), reason, txID, string(expectFrom))
	if err != nil {
		return false, fmt.Errorf("transition transaction state: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListStaleInProgress returns transactions stuck in PREPARE_IN_PROGRESS or
// PREPARED past the given deadline, used by the recovery loop to find
// orphaned two-phase commits.
func (r *TransactionRepository) ListStaleInProgress(ctx context.Context, cutoff time.Time) ([]*Transaction, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT tx_id, type, initiator, payload, signatures, state, reason, created_at, updated_at
		FROM transactions
		WHERE state IN ('PREPARE_IN_PROGRESS', 'PREPARED') AND updated_at < $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var typ, initiator, state string
	var sigs pq.ByteaArray
	err := row.Scan(&t.TxID, &typ, &initiator, &t.Payload, &sigs, &state, &t.Reason, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = TransactionType(typ)
	t.Initiator = identity.PID(initiator)
	t.State = TransactionState(state)
	t.Signatures = make([][]byte, len(sigs))
	for i, s := range sigs {
		t.Signatures[i] = s
	}
	return &t, nil
}
