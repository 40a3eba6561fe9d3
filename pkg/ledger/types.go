// Copyright 2025 Certen Protocol
//
// Domain-facing aliases over pkg/database's entity types (spec.md §3). The
// entity structs themselves live in package database, alongside the
// repositories that persist them, so that package can't import back into
// this one; package ledger re-exports them here so the rest of the hub
// (router, payment, clearing, integrity, auth, server) can talk about
// Participant/TrustLine/Debt/Transaction in domain language without caring
// where they're actually defined.

package ledger

import "github.com/creditmesh/hub/pkg/database"

type (
	ParticipantType      = database.ParticipantType
	ParticipantStatus    = database.ParticipantStatus
	Participant          = database.Participant
	EquivalentType       = database.EquivalentType
	Equivalent           = database.Equivalent
	TrustLinePolicy      = database.TrustLinePolicy
	TrustLineStatus      = database.TrustLineStatus
	TrustLine            = database.TrustLine
	Debt                 = database.Debt
	TransactionType      = database.TransactionType
	TransactionState     = database.TransactionState
	Transaction          = database.Transaction
	PrepareLock          = database.PrepareLock
	InvariantStatus      = database.InvariantStatus
	IntegrityCheckpoint  = database.IntegrityCheckpoint
	AuditLogEntry        = database.AuditLogEntry
	AuthChallenge        = database.AuthChallenge
	RefreshToken         = database.RefreshToken
)

const (
	ParticipantPerson   = database.ParticipantPerson
	ParticipantBusiness = database.ParticipantBusiness
	ParticipantHub      = database.ParticipantHub

	ParticipantActive    = database.ParticipantActive
	ParticipantSuspended = database.ParticipantSuspended
	ParticipantLeft      = database.ParticipantLeft
	ParticipantDeleted   = database.ParticipantDeleted

	EquivalentFiat      = database.EquivalentFiat
	EquivalentTime      = database.EquivalentTime
	EquivalentCommodity = database.EquivalentCommodity
	EquivalentCustom    = database.EquivalentCustom

	TrustLineActive = database.TrustLineActive
	TrustLineFrozen = database.TrustLineFrozen
	TrustLineClosed = database.TrustLineClosed

	TxTrustLineCreate = database.TxTrustLineCreate
	TxTrustLineUpdate = database.TxTrustLineUpdate
	TxTrustLineClose  = database.TxTrustLineClose
	TxPayment         = database.TxPayment
	TxClearing        = database.TxClearing

	TxNew               = database.TxNew
	TxRouted            = database.TxRouted
	TxPrepareInProgress = database.TxPrepareInProgress
	TxPrepared          = database.TxPrepared
	TxCommitted         = database.TxCommitted
	TxAborted           = database.TxAborted

	InvariantPass = database.InvariantPass
	InvariantFail = database.InvariantFail
)
