// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/creditmesh/hub/pkg/identity"
)

// CheckpointRepository persists periodic integrity checkpoints
// (spec.md §4.8).
type CheckpointRepository struct {
	q Queryer
}

func NewCheckpointRepository(q Queryer) *CheckpointRepository {
	return &CheckpointRepository{q: q}
}

func (r *CheckpointRepository) Create(ctx context.Context, c *IntegrityCheckpoint) (int64, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO integrity_checkpoints (equivalent_id, checksum, invariants_status, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		c.EquivalentID, c.Checksum, string(c.InvariantsStatus), c.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create checkpoint: %w", err)
	}
	return id, nil
}

func (r *CheckpointRepository) Latest(ctx context.Context, equivalentID int64) (*IntegrityCheckpoint, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, equivalent_id, checksum, invariants_status, created_at
		FROM integrity_checkpoints WHERE equivalent_id = $1 ORDER BY created_at DESC LIMIT 1`, equivalentID)
	var c IntegrityCheckpoint
	var status string
	err := row.Scan(&c.ID, &c.EquivalentID, &c.Checksum, &status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	c.InvariantsStatus = InvariantStatus(status)
	return &c, nil
}

// AuditLogRepository persists the append-only integrity audit log.
type AuditLogRepository struct {
	q Queryer
}

func NewAuditLogRepository(q Queryer) *AuditLogRepository {
	return &AuditLogRepository{q: q}
}

func (r *AuditLogRepository) Create(ctx context.Context, e *AuditLogEntry) (int64, error) {
	affected := make([]string, len(e.AffectedParticipants))
	for i, p := range e.AffectedParticipants {
		affected[i] = string(p)
	}
	invariantsJSON, err := json.Marshal(e.InvariantResults)
	if err != nil {
		return 0, fmt.Errorf("marshal invariant results: %w", err)
	}
	var id int64
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO integrity_audit_log
			(operation_type, tx_id, checksum_before, checksum_after, affected_participants, invariant_results, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		e.OperationType, e.TxID, e.ChecksumBefore, e.ChecksumAfter, pq.Array(affected), invariantsJSON, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create audit log entry: %w", err)
	}
	return id, nil
}

func (r *AuditLogRepository) ListRecent(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, operation_type, tx_id, checksum_before, checksum_after, affected_participants, invariant_results, created_at
		FROM integrity_audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	var out []*AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		var txID uuid.NullUUID
		var affected pq.StringArray
		var invariantsJSON []byte
		if err := rows.Scan(&e.ID, &e.OperationType, &txID, &e.ChecksumBefore, &e.ChecksumAfter,
			pq.Array(&affected), &invariantsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		if txID.Valid {
			e.TxID = &txID.UUID
		}
		e.AffectedParticipants = make([]identity.PID, len(affected))
		for i, a := range affected {
			e.AffectedParticipants[i] = identity.PID(a)
		}
		if len(invariantsJSON) > 0 {
			if err := json.Unmarshal(invariantsJSON, &e.InvariantResults); err != nil {
				return nil, fmt.Errorf("unmarshal invariant results: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
