// Copyright 2025 Certen Protocol
//
// Package payment implements the two-phase commit payment engine
// (spec.md §4.4): NEW -> ROUTED -> PREPARE_IN_PROGRESS ->
// {PREPARED -> COMMITTED | ABORTED}. Prepare acquires segment advisory
// locks in canonical (equivalent, from, to) lexicographic order across
// every hop the routed paths touch, which is what keeps concurrent
// payments that share a segment from deadlocking against each other.

package payment

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/clearing"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/invariants"
	"github.com/creditmesh/hub/pkg/ledger"
	"github.com/creditmesh/hub/pkg/router"
)

// EventSink announces a settled or abandoned payment; satisfied by
// pkg/events.Sink.
type EventSink interface {
	Emit(ctx context.Context, eventType string, attrs map[string]interface{})
}

// Engine drives payments through the 2PC state machine.
type Engine struct {
	store          *ledger.Store
	prepareTimeout time.Duration
	routing        router.Params
	clearing       *clearing.Engine
	sink           EventSink
}

func NewEngine(store *ledger.Store, prepareTimeout time.Duration, routing router.Params, clearingEngine *clearing.Engine, sink EventSink) *Engine {
	return &Engine{store: store, prepareTimeout: prepareTimeout, routing: routing, clearing: clearingEngine, sink: sink}
}

// Request describes a payment to route and settle.
type Request struct {
	EquivalentID int64
	Payer        identity.PID
	Payee        identity.PID
	Amount       decimal.Decimal
	Initiator    identity.PID
	Payload      []byte
	Signatures   [][]byte
}

// segment is one directed (equivalent, from, to) hop and the total delta
// that must move across it to satisfy every allocated path using it.
type segment struct {
	from, to identity.PID
	delta    decimal.Decimal
}

func segmentKey(from, to identity.PID) [2]identity.PID { return [2]identity.PID{from, to} }

// Create routes the request, reserves capacity on every hop it touches,
// and leaves the transaction in state PREPARED. The caller decides
// whether to Commit or Abort, e.g. after collecting additional
// signatures or running a final policy check.
func (e *Engine) Create(ctx context.Context, req Request) (*ledger.Transaction, error) {
	if req.Amount.Sign() <= 0 {
		return nil, apperr.Validation("payment amount must be positive")
	}

	txID := uuid.New()
	now := time.Now()
	tx := &ledger.Transaction{
		TxID:       txID,
		Type:       ledger.TxPayment,
		Initiator:  req.Initiator,
		Payload:    req.Payload,
		Signatures: req.Signatures,
		State:      ledger.TxNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := e.store.Repos.Transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	allocations, err := router.Route(ctx, e.store.Repos, req.EquivalentID, req.Payer, req.Payee, req.Amount, e.routing)
	if err != nil {
		e.markAborted(ctx, txID, err.Error())
		return nil, err
	}

	ok, err := ledger.TransitionTransaction(ctx, e.store.Repos, txID, ledger.TxNew, ledger.TxRouted, "")
	if err != nil {
		return nil, fmt.Errorf("transition to routed: %w", err)
	}
	if !ok {
		return nil, apperr.StateConflict("transaction left NEW state concurrently")
	}

	if err := e.prepare(ctx, txID, req.EquivalentID, allocations); err != nil {
		e.markAborted(ctx, txID, err.Error())
		return nil, err
	}

	return e.store.Repos.Transactions.Get(ctx, txID)
}

// prepare takes the canonical-ordered segment locks and inserts prepare
// locks for every hop, failing the whole payment if any segment lacks
// capacity (spec.md §4.4's atomic reservation step).
func (e *Engine) prepare(ctx context.Context, txID uuid.UUID, equivalentID int64, allocations []router.Allocation) error {
	segments := aggregateSegments(allocations)

	return e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		ok, err := ledger.TransitionTransaction(ctx, tx.Repos, txID, ledger.TxRouted, ledger.TxPrepareInProgress, "")
		if err != nil {
			return fmt.Errorf("transition to prepare_in_progress: %w", err)
		}
		if !ok {
			return apperr.StateConflict("transaction was not in ROUTED state")
		}

		for _, seg := range segments {
			if err := tx.LockSegment(ctx, equivalentID, seg.from, seg.to); err != nil {
				return fmt.Errorf("lock segment %s->%s: %w", seg.from, seg.to, err)
			}

			// seg.from/seg.to are in debtor->creditor payment-flow order;
			// the governing trust line runs creditor->debtor, so the
			// lookup takes them reversed.
			tl, err := tx.Repos.TrustLines.GetBySegment(ctx, equivalentID, seg.to, seg.from)
			if err != nil {
				return apperr.TrustLineNotActive(fmt.Sprintf("no trust line %s->%s", seg.from, seg.to)).WithCause(err)
			}
			if tl.Status != ledger.TrustLineActive {
				return apperr.TrustLineNotActive(fmt.Sprintf("trust line %s->%s is %s", seg.from, seg.to, tl.Status))
			}

			capacity, err := ledger.AvailableCapacity(ctx, tx.Repos, tl, txID)
			if err != nil {
				return fmt.Errorf("available capacity %s->%s: %w", seg.from, seg.to, err)
			}
			if capacity.LessThan(seg.delta) {
				return apperr.InsufficientCapacity(fmt.Sprintf("segment %s->%s lacks capacity for %s", seg.from, seg.to, seg.delta))
			}

			if tl.Policy.DailyLimit != nil {
				flow24h, err := ledger.SumDailyFlow(ctx, tx.Repos, equivalentID, seg.from, seg.to)
				if err != nil {
					return fmt.Errorf("sum daily flow %s->%s: %w", seg.from, seg.to, err)
				}
				if flow24h.Add(seg.delta).GreaterThan(*tl.Policy.DailyLimit) {
					return apperr.TrustLimitExceeded(fmt.Sprintf("segment %s->%s would exceed its daily limit", seg.from, seg.to))
				}
			}

			lock := ledger.NewPrepareLock(txID, equivalentID, seg.from, seg.to, seg.delta, e.prepareTimeout)
			if err := tx.Repos.PrepareLocks.Create(ctx, lock); err != nil {
				return fmt.Errorf("create prepare lock %s->%s: %w", seg.from, seg.to, err)
			}
		}

		ok, err = ledger.TransitionTransaction(ctx, tx.Repos, txID, ledger.TxPrepareInProgress, ledger.TxPrepared, "")
		if err != nil {
			return fmt.Errorf("transition to prepared: %w", err)
		}
		if !ok {
			return apperr.StateConflict("transaction was not in PREPARE_IN_PROGRESS state")
		}
		return nil
	})
}

// Commit applies every reserved segment's flow and releases its locks.
func (e *Engine) Commit(ctx context.Context, txID uuid.UUID) error {
	var committedLocks []*database.PrepareLock
	err := e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		txRow, err := tx.Repos.Transactions.Get(ctx, txID)
		if err != nil {
			return err
		}
		if txRow.State == ledger.TxCommitted {
			return nil // already committed: idempotent under retry
		}

		locks, err := tx.Repos.PrepareLocks.ListForTx(ctx, txID)
		if err != nil {
			return fmt.Errorf("list prepare locks: %w", err)
		}

		sortSegmentsForLocking(locks)

		for _, lock := range locks {
			if err := tx.LockSegment(ctx, lock.EquivalentID, lock.From, lock.To); err != nil {
				return fmt.Errorf("lock segment %s->%s: %w", lock.From, lock.To, err)
			}
			if err := ledger.ApplyFlow(ctx, tx.Repos, lock.EquivalentID, lock.From, lock.To, lock.Delta); err != nil {
				return fmt.Errorf("apply flow %s->%s: %w", lock.From, lock.To, err)
			}
			if err := tx.Repos.Debts.RecordFlow(ctx, txID, lock.EquivalentID, lock.From, lock.To, lock.Delta); err != nil {
				return fmt.Errorf("record flow %s->%s: %w", lock.From, lock.To, err)
			}
		}

		// Re-derive zero-sum, debt-symmetry, and trust-limit from the rows
		// this commit just wrote, inside the same transaction, so a
		// violation rolls the whole payment back instead of waiting for
		// the periodic sweeper to notice it (spec.md §4.5).
		if len(locks) > 0 {
			report, err := invariants.Check(ctx, tx.Repos, locks[0].EquivalentID)
			if err != nil {
				return fmt.Errorf("post-commit invariant check: %w", err)
			}
			if !report.Passed() {
				return apperr.Integrity(report.Error().Error())
			}
		}

		if err := tx.Repos.PrepareLocks.DeleteForTx(ctx, txID); err != nil {
			return fmt.Errorf("delete prepare locks: %w", err)
		}

		ok, err := ledger.TransitionTransaction(ctx, tx.Repos, txID, ledger.TxPrepared, ledger.TxCommitted, "")
		if err != nil {
			return fmt.Errorf("transition to committed: %w", err)
		}
		if !ok {
			return apperr.StateConflict("transaction was not in PREPARED state")
		}
		committedLocks = locks
		return nil
	})
	if err != nil {
		return err
	}

	if e.sink != nil {
		e.sink.Emit(ctx, "PAYMENT_COMMITTED", map[string]interface{}{"tx_id": txID.String()})
	}

	// Trigger-mode clearing runs per committed segment (spec.md §4.6):
	// best-effort, a clearing failure never unwinds the payment that
	// already settled.
	if e.clearing != nil {
		for _, lock := range committedLocks {
			if _, clearErr := e.clearing.TriggerAfterCommit(ctx, lock.EquivalentID, lock.From, lock.To); clearErr != nil {
				if e.sink != nil {
					e.sink.Emit(ctx, "CLEARING_TRIGGER_FAILED", map[string]interface{}{
						"tx_id": txID.String(),
						"error": clearErr.Error(),
					})
				}
			}
		}
	}
	return nil
}

// Abort releases every reserved segment's lock without applying any flow.
func (e *Engine) Abort(ctx context.Context, txID uuid.UUID, reason string) error {
	err := e.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if err := tx.Repos.PrepareLocks.DeleteForTx(ctx, txID); err != nil {
			return fmt.Errorf("delete prepare locks: %w", err)
		}
		txRow, err := tx.Repos.Transactions.Get(ctx, txID)
		if err != nil {
			return err
		}
		if txRow.State == ledger.TxAborted || txRow.State == ledger.TxCommitted {
			return nil // idempotent: already terminal
		}
		_, err = ledger.TransitionTransaction(ctx, tx.Repos, txID, txRow.State, ledger.TxAborted, reason)
		return err
	})
	if err != nil {
		return err
	}
	if e.sink != nil {
		e.sink.Emit(ctx, "PAYMENT_ABORTED", map[string]interface{}{"tx_id": txID.String(), "reason": reason})
	}
	return nil
}

func (e *Engine) markAborted(ctx context.Context, txID uuid.UUID, reason string) {
	_ = e.Abort(ctx, txID, reason)
}

// Transaction looks up a transaction by id for get_transaction (spec.md §6).
func (e *Engine) Transaction(ctx context.Context, txID uuid.UUID) (*ledger.Transaction, error) {
	return e.store.Repos.Transactions.Get(ctx, txID)
}

// aggregateSegments flattens every allocated path into its hop-by-hop
// deltas and sums deltas that land on the same segment from different
// paths, so prepare only takes one lock per distinct segment.
func aggregateSegments(allocations []router.Allocation) []segment {
	totals := make(map[[2]identity.PID]decimal.Decimal)
	for _, alloc := range allocations {
		nodes := alloc.Path.Nodes
		for i := 0; i < len(nodes)-1; i++ {
			key := segmentKey(nodes[i], nodes[i+1])
			totals[key] = totals[key].Add(alloc.Amount)
		}
	}

	segments := make([]segment, 0, len(totals))
	for key, delta := range totals {
		segments = append(segments, segment{from: key[0], to: key[1], delta: delta})
	}

	// Canonical lexicographic lock order: deadlock freedom requires every
	// concurrent payment to acquire shared segments in the same order.
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].from != segments[j].from {
			return segments[i].from < segments[j].from
		}
		return segments[i].to < segments[j].to
	})
	return segments
}

func sortSegmentsForLocking(locks []*database.PrepareLock) {
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].From != locks[j].From {
			return locks[i].From < locks[j].From
		}
		return locks[i].To < locks[j].To
	})
}
