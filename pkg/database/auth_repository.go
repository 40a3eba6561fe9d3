// Copyright 2025 Certen Protocol

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/creditmesh/hub/pkg/identity"
)

// AuthChallengeRepository persists the single-use login challenges issued
// before a participant signs in with their ed25519 key.
type AuthChallengeRepository struct {
	q Queryer
}

func NewAuthChallengeRepository(q Queryer) *AuthChallengeRepository {
	return &AuthChallengeRepository{q: q}
}

func (r *AuthChallengeRepository) Create(ctx context.Context, c *AuthChallenge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO auth_challenges (pid, nonce, expires_at, used)
		VALUES ($1, $2, $3, $4)`,
		string(c.PID), c.Nonce, c.ExpiresAt, c.Used)
	if err != nil {
		return fmt.Errorf("create auth challenge: %w", err)
	}
	return nil
}

// ConsumeIfValid atomically marks a matching, unexpired, unused challenge
// as used and reports whether it succeeded, giving single-use semantics
// without a separate read-then-write race.
func (r *AuthChallengeRepository) ConsumeIfValid(ctx context.Context, pid identity.PID, nonce string, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE auth_challenges SET used = true
		WHERE pid = $1 AND nonce = $2 AND used = false AND expires_at > $3`,
		string(pid), nonce, now)
	if err != nil {
		return false, fmt.Errorf("consume auth challenge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RefreshTokenRepository persists issued refresh tokens so they can be
// looked up and revoked independently of the stateless access token.
type RefreshTokenRepository struct {
	q Queryer
}

func NewRefreshTokenRepository(q Queryer) *RefreshTokenRepository {
	return &RefreshTokenRepository{q: q}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *RefreshToken) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_id, pid, issued_at, revoked_at)
		VALUES ($1, $2, $3, $4)`,
		t.TokenID, string(t.PID), t.IssuedAt, t.RevokedAt)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Get(ctx context.Context, tokenID uuid.UUID) (*RefreshToken, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT token_id, pid, issued_at, revoked_at FROM refresh_tokens WHERE token_id = $1`, tokenID)
	var t RefreshToken
	var pid string
	err := row.Scan(&t.TokenID, &pid, &t.IssuedAt, &t.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	t.PID = identity.PID(pid)
	return &t, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID uuid.UUID, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1 WHERE token_id = $2 AND revoked_at IS NULL`, at, tokenID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}

// RevokeAllForParticipant revokes every outstanding refresh token for a
// participant. Nothing in the hub calls it.
func (r *RefreshTokenRepository) RevokeAllForParticipant(ctx context.Context, pid identity.PID, at time.Time) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked_at = $1 WHERE pid = $2 AND revoked_at IS NULL`, at, string(pid))
	if err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}
