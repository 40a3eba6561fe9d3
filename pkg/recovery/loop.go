// Copyright 2025 Certen Protocol
//
// Package recovery runs the background sweep that reclaims prepare locks
// and transactions orphaned by a crash mid-commit (spec.md §4.7): every
// tick it deletes expired PrepareLocks and aborts any transaction that has
// sat in PREPARE_IN_PROGRESS or PREPARED longer than the loop's grace
// window (main.go passes the prepare timeout plus RECOVERY_GRACE). main.go
// also runs it once, synchronously, at hub startup before requests are
// accepted.

package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/creditmesh/hub/pkg/ledger"
)

const staleReason = "lock expired"

// EventSink is the capability the recovery loop needs to announce a
// transaction it had to abort on its own (spec.md §4.9's TRANSACTION_RECOVERED).
type EventSink interface {
	Emit(ctx context.Context, eventType string, attrs map[string]interface{})
}

// Loop periodically reclaims orphaned prepare locks and transactions.
type Loop struct {
	store    *ledger.Store
	sink     EventSink
	log      *slog.Logger
	grace    time.Duration
	interval time.Duration
}

func NewLoop(store *ledger.Store, sink EventSink, log *slog.Logger, grace, interval time.Duration) *Loop {
	return &Loop{store: store, sink: sink, log: log, grace: grace, interval: interval}
}

// RunOnce performs a single sweep, used both by the background ticker and
// once at startup to quiesce in-flight transactions left by a prior crash.
func (l *Loop) RunOnce(ctx context.Context) error {
	now := time.Now()

	expired, err := l.store.Repos.PrepareLocks.ListExpired(ctx, now)
	if err != nil {
		return err
	}
	if err := l.deleteExpiredLocks(ctx, expired); err != nil {
		return err
	}

	cutoff := now.Add(-l.grace)
	stale, err := l.store.Repos.Transactions.ListStaleInProgress(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, tx := range stale {
		if err := l.abortStale(ctx, tx); err != nil {
			l.log.Error("recovery: failed to abort stale transaction", "tx_id", tx.TxID, "error", err)
			continue
		}
		l.sink.Emit(ctx, "TRANSACTION_RECOVERED", map[string]interface{}{
			"tx_id":  tx.TxID.String(),
			"state":  string(tx.State),
			"reason": staleReason,
		})
	}

	return nil
}

func (l *Loop) deleteExpiredLocks(ctx context.Context, expired []*ledger.PrepareLock) error {
	seen := make(map[string]bool)
	for _, lock := range expired {
		key := lock.TxID.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := l.store.Repos.PrepareLocks.DeleteForTx(ctx, lock.TxID); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) abortStale(ctx context.Context, tx *ledger.Transaction) error {
	return l.store.WithTx(ctx, func(stx *ledger.Tx) error {
		if err := stx.Repos.PrepareLocks.DeleteForTx(ctx, tx.TxID); err != nil {
			return err
		}
		_, err := ledger.TransitionTransaction(ctx, stx.Repos, tx.TxID, tx.State, ledger.TxAborted, staleReason)
		return err
	})
}

// Run blocks, ticking RunOnce every interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.log.Error("recovery: sweep failed", "error", err)
			}
		}
	}
}
