// Copyright 2025 Certen Protocol
//
// Repositories - Convenience wrapper for all database repositories
// Provides a single point of access to all repository types

package database

// Repositories holds all repository instances used by the ledger facade
// and the HTTP handlers. All of them accept a Queryer, so the same set
// can run against the pooled *Client or against a single *Tx.
type Repositories struct {
	Participants    *ParticipantRepository
	Equivalents     *EquivalentRepository
	TrustLines      *TrustLineRepository
	Debts           *DebtRepository
	Transactions    *TransactionRepository
	PrepareLocks    *PrepareLockRepository
	Checkpoints     *CheckpointRepository
	AuditLog        *AuditLogRepository
	RefreshTokens   *RefreshTokenRepository
	AuthChallenges  *AuthChallengeRepository
}

// NewRepositories creates all repositories bound to q. Pass the pooled
// *Client for ad-hoc reads, or a *Tx from Client.WithTx when a sequence of
// operations must be atomic.
func NewRepositories(q Queryer) *Repositories {
	return &Repositories{
		Participants:   NewParticipantRepository(q),
		Equivalents:    NewEquivalentRepository(q),
		TrustLines:     NewTrustLineRepository(q),
		Debts:          NewDebtRepository(q),
		Transactions:   NewTransactionRepository(q),
		PrepareLocks:   NewPrepareLockRepository(q),
		Checkpoints:    NewCheckpointRepository(q),
		AuditLog:       NewAuditLogRepository(q),
		RefreshTokens:  NewRefreshTokenRepository(q),
		AuthChallenges: NewAuthChallengeRepository(q),
	}
}
