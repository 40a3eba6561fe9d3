// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"fmt"
)

type EquivalentRepository struct {
	q Queryer
}

func NewEquivalentRepository(q Queryer) *EquivalentRepository {
	return &EquivalentRepository{q: q}
}

func (r *EquivalentRepository) Create(ctx context.Context, e *Equivalent) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO equivalents (code, precision, type, iso_code, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.Code, e.Precision, string(e.Type), e.ISOCode, e.Active, e.CreatedAt, e.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create equivalent: %w", err)
	}
	return id, nil
}

func (r *EquivalentRepository) Get(ctx context.Context, id int64) (*Equivalent, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, code, precision, type, iso_code, active, created_at, updated_at
		FROM equivalents WHERE id = $1`, id)
	return scanEquivalent(row)
}

func (r *EquivalentRepository) GetByCode(ctx context.Context, code string) (*Equivalent, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, code, precision, type, iso_code, active, created_at, updated_at
		FROM equivalents WHERE code = $1`, code)
	return scanEquivalent(row)
}

// ListActiveIDs returns the IDs of every active equivalent, used by the
// integrity sweeper to know which ledgers to checksum each tick.
func (r *EquivalentRepository) ListActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id FROM equivalents WHERE active = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active equivalents: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan equivalent id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEquivalent(row scannable) (*Equivalent, error) {
	var e Equivalent
	var etype string
	err := row.Scan(&e.ID, &e.Code, &e.Precision, &etype, &e.ISOCode, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEquivalentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan equivalent: %w", err)
	}
	e.Type = EquivalentType(etype)
	return &e, nil
}
