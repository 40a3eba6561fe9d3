// Copyright 2025 Certen Protocol
//
// Store is the ledger facade: every mutation the hub performs against the
// debt/trust-line/transaction tables goes through here so the debt-symmetry
// and segment-locking discipline from spec.md §4.2 lives in one place.

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
)

// Store wraps the pooled database client with ledger-specific operations.
type Store struct {
	client *database.Client
	// Repos operates outside any transaction, for reads that don't need
	// serializable isolation (status pages, routing snapshots).
	Repos *database.Repositories
}

func NewStore(client *database.Client) *Store {
	return &Store{
		client: client,
		Repos:  database.NewRepositories(client),
	}
}

// Tx bundles a transaction-scoped repository set with the Queryer it was
// built from, so ledger-level helpers like LockSegment can issue raw SQL
// against the same transaction the repositories are using.
type Tx struct {
	Repos *database.Repositories
	q     database.Queryer
}

// WithTx runs fn with a *Tx bound to a single serializable transaction,
// committing on success.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.client.WithTx(ctx, func(q database.Queryer) error {
		return fn(&Tx{Repos: database.NewRepositories(q), q: q})
	})
}

// LockSegment acquires the per-(equivalent,from,to) advisory lock that
// serializes concurrent prepares touching the same directed trust-line
// segment. Must be called inside a transaction obtained via WithTx.
func (tx *Tx) LockSegment(ctx context.Context, equivalentID int64, from, to identity.PID) error {
	return database.LockSegment(ctx, tx.q, equivalentID, string(from), string(to))
}

// ApplyFlow moves amount of credit from `from` to `to` in equivalentID,
// maintaining the invariant that only one of debt(from,to)/debt(to,from)
// is ever nonzero (spec.md §4.1's debt-symmetry invariant). Must run
// inside a transaction that already holds LockSegment for this segment.
func ApplyFlow(ctx context.Context, repos *database.Repositories, equivalentID int64, from, to identity.PID, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("apply flow: amount must be non-negative, got %s", amount)
	}
	forward, err := repos.Debts.Get(ctx, equivalentID, from, to)
	if err != nil {
		return fmt.Errorf("apply flow: read forward debt: %w", err)
	}
	backward, err := repos.Debts.Get(ctx, equivalentID, to, from)
	if err != nil {
		return fmt.Errorf("apply flow: read backward debt: %w", err)
	}

	net := forward.Sub(backward).Add(amount)
	switch {
	case net.Sign() > 0:
		if err := repos.Debts.Set(ctx, equivalentID, from, to, net); err != nil {
			return fmt.Errorf("apply flow: set forward debt: %w", err)
		}
		if err := repos.Debts.Set(ctx, equivalentID, to, from, decimal.Zero); err != nil {
			return fmt.Errorf("apply flow: clear backward debt: %w", err)
		}
	case net.Sign() < 0:
		if err := repos.Debts.Set(ctx, equivalentID, to, from, net.Neg()); err != nil {
			return fmt.Errorf("apply flow: set backward debt: %w", err)
		}
		if err := repos.Debts.Set(ctx, equivalentID, from, to, decimal.Zero); err != nil {
			return fmt.Errorf("apply flow: clear forward debt: %w", err)
		}
	default:
		if err := repos.Debts.Set(ctx, equivalentID, from, to, decimal.Zero); err != nil {
			return fmt.Errorf("apply flow: clear forward debt: %w", err)
		}
		if err := repos.Debts.Set(ctx, equivalentID, to, from, decimal.Zero); err != nil {
			return fmt.Errorf("apply flow: clear backward debt: %w", err)
		}
	}
	return nil
}

// AvailableCapacity returns the unreserved headroom tl.To (the debtor) can
// still borrow from tl.From (the creditor): trust_limit + debt(From->To),
// i.e. any reverse debt the creditor happens to owe the debtor, minus
// debt(To->From), the debtor's normal balance against this line, minus
// locks already reserved in that same debtor->creditor direction.
func AvailableCapacity(ctx context.Context, repos *database.Repositories, tl *TrustLine, excludeTx uuid.UUID) (decimal.Decimal, error) {
	forward, err := repos.Debts.Get(ctx, tl.EquivalentID, tl.From, tl.To)
	if err != nil {
		return decimal.Zero, err
	}
	backward, err := repos.Debts.Get(ctx, tl.EquivalentID, tl.To, tl.From)
	if err != nil {
		return decimal.Zero, err
	}
	reserved, err := repos.PrepareLocks.SumReserved(ctx, tl.EquivalentID, tl.To, tl.From, excludeTx)
	if err != nil {
		return decimal.Zero, err
	}
	capacity := tl.Limit.Add(forward).Sub(backward).Sub(reserved)
	return capacity, nil
}

// TransitionTransaction performs a compare-and-swap state move, returning
// ok=false (no error) when another actor already moved the transaction out
// of expectFrom — the caller treats that as "someone else already
// finished this", which is what makes commit/abort idempotent under
// concurrent recovery-loop and client-driven retries.
func TransitionTransaction(ctx context.Context, repos *database.Repositories, txID uuid.UUID, expectFrom, to TransactionState, reason string) (bool, error) {
	return repos.Transactions.TransitionState(ctx, txID, expectFrom, to, reason)
}

// SumDailyFlow returns the rolling 24h committed debit flow from `from` to
// `to`, used to enforce an optional TrustLinePolicy.DailyLimit.
func SumDailyFlow(ctx context.Context, repos *database.Repositories, equivalentID int64, from, to identity.PID) (decimal.Decimal, error) {
	return repos.Debts.SumCommittedFlow24h(ctx, equivalentID, from, to)
}

// NewPrepareLock builds a reservation lock with the protocol's standard
// prepare timeout applied to expiry.
func NewPrepareLock(txID uuid.UUID, equivalentID int64, from, to identity.PID, delta decimal.Decimal, ttl time.Duration) *PrepareLock {
	return &PrepareLock{
		TxID:         txID,
		EquivalentID: equivalentID,
		From:         from,
		To:           to,
		Delta:        delta,
		ExpiresAt:    time.Now().Add(ttl),
	}
}
