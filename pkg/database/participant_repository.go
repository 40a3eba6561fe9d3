// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/creditmesh/hub/pkg/identity"
)

// ParticipantRepository persists Participant rows.
type ParticipantRepository struct {
	q Queryer
}

func NewParticipantRepository(q Queryer) *ParticipantRepository {
	return &ParticipantRepository{q: q}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *Participant) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO participants (pid, public_key, display_name, profile, type, status, verification_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(p.PID), p.PublicKey, p.DisplayName, p.Profile, string(p.Type), string(p.Status),
		p.VerificationLevel, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, pid identity.PID) (*Participant, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT pid, public_key, display_name, profile, type, status, verification_level, created_at, updated_at
		FROM participants WHERE pid = $1`, string(pid))
	return scanParticipant(row)
}

func (r *ParticipantRepository) UpdateStatus(ctx context.Context, pid identity.PID, status ParticipantStatus) error {
	res, err := r.q.ExecContext(ctx, `UPDATE participants SET status = $1, updated_at = now() WHERE pid = $2`,
		string(status), string(pid))
	if err != nil {
		return fmt.Errorf("update participant status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(row scannable) (*Participant, error) {
	var p Participant
	var pid, ptype, status string
	err := row.Scan(&pid, &p.PublicKey, &p.DisplayName, &p.Profile, &ptype, &status,
		&p.VerificationLevel, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.PID = identity.PID(pid)
	p.Type = ParticipantType(ptype)
	p.Status = ParticipantStatus(status)
	return &p, nil
}
