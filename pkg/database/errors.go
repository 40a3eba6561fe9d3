// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations.
// F.4 remediation: Explicit errors instead of nil, nil returns

package database

import "errors"

// Sentinel errors for database operations
var (
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrEquivalentNotFound   = errors.New("equivalent not found")
	ErrTrustLineNotFound    = errors.New("trust line not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrCheckpointNotFound   = errors.New("integrity checkpoint not found")
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrChallengeNotFound    = errors.New("auth challenge not found")
	ErrAlreadyExists        = errors.New("entity already exists")
)
