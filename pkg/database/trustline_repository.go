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

type TrustLineRepository struct {
	q Queryer
}

func NewTrustLineRepository(q Queryer) *TrustLineRepository {
	return &TrustLineRepository{q: q}
}

func (r *TrustLineRepository) Create(ctx context.Context, t *TrustLine) error {
	policyJSON, err := json.Marshal(t.Policy)
	if err != nil {
		return fmt.Errorf("marshal trust line policy: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO trust_lines (id, from_pid, to_pid, equivalent_id, credit_limit, policy, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, string(t.From), string(t.To), t.EquivalentID, t.Limit.String(), policyJSON, string(t.Status),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create trust line: %w", err)
	}
	return nil
}

func (r *TrustLineRepository) Get(ctx context.Context, id uuid.UUID) (*TrustLine, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, from_pid, to_pid, equivalent_id, credit_limit, policy, status, created_at, updated_at
		FROM trust_lines WHERE id = $1`, id)
	return scanTrustLine(row)
}

func (r *TrustLineRepository) GetBySegment(ctx context.Context, equivalentID int64, from, to identity.PID) (*TrustLine, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, from_pid, to_pid, equivalent_id, credit_limit, policy, status, created_at, updated_at
		FROM trust_lines WHERE equivalent_id = $1 AND from_pid = $2 AND to_pid = $3`,
		equivalentID, string(from), string(to))
	return scanTrustLine(row)
}

// ListOutgoing returns all active trust lines extended FROM the given
// participant in the equivalent, used by the router to build its capacity
// graph's adjacency list.
func (r *TrustLineRepository) ListOutgoing(ctx context.Context, equivalentID int64, from identity.PID) ([]*TrustLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, from_pid, to_pid, equivalent_id, credit_limit, policy, status, created_at, updated_at
		FROM trust_lines WHERE equivalent_id = $1 AND from_pid = $2 AND status = 'active'`,
		equivalentID, string(from))
	if err != nil {
		return nil, fmt.Errorf("list outgoing trust lines: %w", err)
	}
	defer rows.Close()

	var out []*TrustLine
	for rows.Next() {
		tl, err := scanTrustLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}

// ListAll returns every active trust line for the equivalent, used to build
// the full capacity snapshot for routing and for clearing cycle search.
func (r *TrustLineRepository) ListAll(ctx context.Context, equivalentID int64) ([]*TrustLine, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, from_pid, to_pid, equivalent_id, credit_limit, policy, status, created_at, updated_at
		FROM trust_lines WHERE equivalent_id = $1 AND status = 'active'`, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("list trust lines: %w", err)
	}
	defer rows.Close()

	var out []*TrustLine
	for rows.Next() {
		tl, err := scanTrustLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}

func (r *TrustLineRepository) UpdateLimit(ctx context.Context, id uuid.UUID, limit decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx, `UPDATE trust_lines SET credit_limit = $1, updated_at = now() WHERE id = $2`,
		limit.String(), id)
	if err != nil {
		return fmt.Errorf("update trust line limit: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTrustLineNotFound
	}
	return nil
}

func (r *TrustLineRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status TrustLineStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE trust_lines SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update trust line status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTrustLineNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrustLine(row rowScanner) (*TrustLine, error) {
	var t TrustLine
	var from, to, status, limitStr string
	var policyJSON []byte
	err := row.Scan(&t.ID, &from, &to, &t.EquivalentID, &limitStr, &policyJSON, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTrustLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trust line: %w", err)
	}
	t.From = identity.PID(from)
	t.To = identity.PID(to)
	t.Status = TrustLineStatus(status)
	limit, err := decimal.NewFromString(limitStr)
	if err != nil {
		return nil, fmt.Errorf("parse trust line limit: %w", err)
	}
	t.Limit = limit
	if len(policyJSON) > 0 {
		if err := json.Unmarshal(policyJSON, &t.Policy); err != nil {
			return nil, fmt.Errorf("unmarshal trust line policy: %w", err)
		}
	}
	return &t, nil
}
