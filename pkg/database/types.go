// Copyright 2025 Certen Protocol
//
// Entity types for the mutual-credit hub ledger (spec.md §3). These live in
// package database (rather than package ledger) so the repository files in
// this package can return them directly without an import cycle back to
// the ledger facade, which itself depends on database for persistence.
// Package ledger re-exports every type here under its own name for callers
// that think in domain terms rather than storage terms.

package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
)

// ====== Participant ======

type ParticipantType string

const (
	ParticipantPerson   ParticipantType = "person"
	ParticipantBusiness ParticipantType = "business"
	ParticipantHub      ParticipantType = "hub"
)

type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantSuspended ParticipantStatus = "suspended"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantDeleted   ParticipantStatus = "deleted"
)

type Participant struct {
	PID               identity.PID
	PublicKey         []byte
	DisplayName       string
	Profile           []byte // opaque JSON blob
	Type              ParticipantType
	Status            ParticipantStatus
	VerificationLevel int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ====== Equivalent ======

type EquivalentType string

const (
	EquivalentFiat      EquivalentType = "fiat"
	EquivalentTime      EquivalentType = "time"
	EquivalentCommodity EquivalentType = "commodity"
	EquivalentCustom    EquivalentType = "custom"
)

type Equivalent struct {
	ID        int64
	Code      string
	Precision int
	Type      EquivalentType
	ISOCode   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ====== TrustLine ======

type TrustLinePolicy struct {
	AutoClearing        bool           `json:"auto_clearing"`
	CanBeIntermediate   bool           `json:"can_be_intermediate"`
	BlockedParticipants []identity.PID `json:"blocked_participants"`
	// DailyLimit, if non-nil, bounds the rolling 24h sum of committed debit
	// flow on this segment (spec.md §9 open question, resolved: enforced).
	DailyLimit *decimal.Decimal `json:"daily_limit,omitempty"`
}

type TrustLineStatus string

const (
	TrustLineActive TrustLineStatus = "active"
	TrustLineFrozen TrustLineStatus = "frozen"
	TrustLineClosed TrustLineStatus = "closed"
)

type TrustLine struct {
	ID           uuid.UUID
	From         identity.PID
	To           identity.PID
	EquivalentID int64
	Limit        decimal.Decimal
	Policy       TrustLinePolicy
	Status       TrustLineStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ====== Debt ======

// Debt represents debtor owing creditor Amount in EquivalentID. Rows whose
// amount would be zero are deleted rather than persisted (spec.md §9).
type Debt struct {
	Debtor       identity.PID
	Creditor     identity.PID
	EquivalentID int64
	Amount       decimal.Decimal
	UpdatedAt    time.Time
}

// ====== Transaction ======

type TransactionType string

const (
	TxTrustLineCreate TransactionType = "TRUST_LINE_CREATE"
	TxTrustLineUpdate TransactionType = "TRUST_LINE_UPDATE"
	TxTrustLineClose  TransactionType = "TRUST_LINE_CLOSE"
	TxPayment         TransactionType = "PAYMENT"
	TxClearing        TransactionType = "CLEARING"
)

type TransactionState string

const (
	TxNew               TransactionState = "NEW"
	TxRouted            TransactionState = "ROUTED"
	TxPrepareInProgress TransactionState = "PREPARE_IN_PROGRESS"
	TxPrepared          TransactionState = "PREPARED"
	TxCommitted         TransactionState = "COMMITTED"
	TxAborted           TransactionState = "ABORTED"
)

type Transaction struct {
	TxID       uuid.UUID
	Type       TransactionType
	Initiator  identity.PID
	Payload    []byte // canonical JSON signed payload
	Signatures [][]byte
	State      TransactionState
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ====== PrepareLock ======

type PrepareLock struct {
	TxID         uuid.UUID
	EquivalentID int64
	From         identity.PID
	To           identity.PID
	Delta        decimal.Decimal
	ExpiresAt    time.Time
}

// ====== IntegrityCheckpoint ======

type InvariantStatus string

const (
	InvariantPass InvariantStatus = "pass"
	InvariantFail InvariantStatus = "fail"
)

type IntegrityCheckpoint struct {
	ID               int64
	EquivalentID     int64
	Checksum         string
	InvariantsStatus InvariantStatus
	CreatedAt        time.Time
}

// AuditLogEntry is one append-only row in the integrity audit log
// (spec.md §4.8).
type AuditLogEntry struct {
	ID                   int64
	OperationType        string
	TxID                 *uuid.UUID
	ChecksumBefore       string
	ChecksumAfter        string
	AffectedParticipants []identity.PID
	InvariantResults     map[string]bool
	CreatedAt            time.Time
}

// ====== Auth / session support (SPEC_FULL §3 expansion) ======

type AuthChallenge struct {
	PID       identity.PID
	Nonce     string
	ExpiresAt time.Time
	Used      bool
}

type RefreshToken struct {
	TokenID   uuid.UUID
	PID       identity.PID
	IssuedAt  time.Time
	RevokedAt *time.Time
}
