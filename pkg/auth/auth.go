// Copyright 2025 Certen Protocol
//
// Package auth issues and verifies the access/refresh token pair that
// gates the HTTP boundary (spec.md §6's authenticate/refresh_tokens
// operations). Login itself is signature-based: a participant requests a
// single-use challenge nonce, then signs it with their ed25519 key.

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
)

const challengeTTL = 120 * time.Second

// Issuer mints and validates JWT access tokens and manages the
// challenge/refresh-token lifecycle backing them.
type Issuer struct {
	store       *ledger.Store
	secret      []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewIssuer(store *ledger.Store, secret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{store: store, secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Claims is the access token's payload.
type Claims struct {
	jwt.RegisteredClaims
	PID string `json:"pid"`
}

// TokenPair is returned on successful authentication or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IssueChallenge creates a single-use login nonce for pid, valid for 120s
// (spec.md §6's authenticate operation).
func (i *Issuer) IssueChallenge(ctx context.Context, pid identity.PID) (string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", fmt.Errorf("generate challenge nonce: %w", err)
	}
	err = i.store.Repos.AuthChallenges.Create(ctx, &database.AuthChallenge{
		PID:       pid,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(challengeTTL),
	})
	if err != nil {
		return "", fmt.Errorf("persist challenge: %w", err)
	}
	return nonce, nil
}

// Authenticate consumes a challenge response and, if the signature over
// the nonce verifies against the participant's registered public key,
// issues a fresh token pair.
func (i *Issuer) Authenticate(ctx context.Context, pid identity.PID, nonce string, signature []byte) (*TokenPair, error) {
	ok, err := i.store.Repos.AuthChallenges.ConsumeIfValid(ctx, pid, nonce, time.Now())
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		return nil, apperr.Forbidden("challenge is unknown, expired, or already used")
	}

	participant, err := i.store.Repos.Participants.Get(ctx, pid)
	if err != nil {
		return nil, apperr.Forbidden("unknown participant").WithCause(err)
	}
	if err := identity.VerifySignature(participant.PublicKey, []byte(nonce), signature); err != nil {
		return nil, apperr.InvalidSignature("challenge signature does not verify").WithCause(err)
	}

	return i.issuePair(ctx, pid)
}

// Refresh revokes a refresh token and issues a new pair, rejecting a
// refresh token that is unknown or already revoked.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	tokenID, err := uuid.Parse(refreshToken)
	if err != nil {
		return nil, apperr.Forbidden("malformed refresh token")
	}
	rt, err := i.store.Repos.RefreshTokens.Get(ctx, tokenID)
	if err != nil {
		return nil, apperr.Forbidden("unknown refresh token").WithCause(err)
	}
	if rt.RevokedAt != nil {
		return nil, apperr.Forbidden("refresh token already revoked")
	}
	if err := i.store.Repos.RefreshTokens.Revoke(ctx, tokenID, time.Now()); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	return i.issuePair(ctx, rt.PID)
}

func (i *Issuer) issuePair(ctx context.Context, pid identity.PID) (*TokenPair, error) {
	now := time.Now()
	expiresAt := now.Add(i.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PID: string(pid),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	access, err := token.SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshID := uuid.New()
	if err := i.store.Repos.RefreshTokens.Create(ctx, &database.RefreshToken{
		TokenID:  refreshID,
		PID:      pid,
		IssuedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refreshID.String(), ExpiresAt: expiresAt}, nil
}

// Verify parses and validates an access token, returning the PID it
// authenticates.
func (i *Issuer) Verify(tokenString string) (identity.PID, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperr.Forbidden("access token invalid or expired")
	}
	return identity.PID(claims.PID), nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
