// Copyright 2025 Certen Protocol
//
// Package clearing finds and cancels debt cycles (spec.md §4.6): a cycle
// A->B->C->...->A where every edge's creditor->debtor trust line consents
// via policy.AutoClearing is decremented uniformly by the cycle's
// bottleneck amount, which nets every participant on the cycle to its
// pre-clearing position (spec.md's clearing-neutrality guarantee).

package clearing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/invariants"
	"github.com/creditmesh/hub/pkg/ledger"
)

// MaxCyclesPerRun bounds a single periodic sweep (spec.md §4.6 default).
const MaxCyclesPerRun = 200

// EventSink announces a cleared cycle; satisfied by pkg/events.Sink.
type EventSink interface {
	Emit(ctx context.Context, eventType string, attrs map[string]interface{})
}

// Engine searches for and clears consenting debt cycles.
type Engine struct {
	store *ledger.Store
	sink  EventSink
}

func NewEngine(store *ledger.Store, sink EventSink) *Engine {
	return &Engine{store: store, sink: sink}
}

// Cycle is a candidate clearing cycle, canonicalized to start at its
// lexicographically smallest PID so the same physical cycle is never
// considered twice regardless of which edge's commit discovered it.
type Cycle struct {
	Nodes  []identity.PID // closed walk: Nodes[0] == Nodes[len-1]
	Amount decimal.Decimal
}

// TriggerAfterCommit scans for length-3 and length-4 cycles that use the
// `from`->`to` debt edge, the segment a just-committed payment moved flow
// across (spec.md §4.6's trigger mode).
func (e *Engine) TriggerAfterCommit(ctx context.Context, equivalentID int64, from, to identity.PID) ([]Cycle, error) {
	debts, err := e.store.Repos.Debts.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("trigger clearing: list debts: %w", err)
	}
	candidates := findCyclesTouching(debts, from, to, 4)
	return e.clearAll(ctx, equivalentID, candidates)
}

// Sweep runs a periodic scan for cycles up to maxLen (spec.md §4.6's
// periodic mode: length-5 hourly, length-6 daily), bounded by
// MaxCyclesPerRun.
func (e *Engine) Sweep(ctx context.Context, equivalentID int64, maxLen int) ([]Cycle, error) {
	debts, err := e.store.Repos.Debts.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("sweep clearing: list debts: %w", err)
	}
	candidates := findAllCycles(debts, maxLen, MaxCyclesPerRun)
	return e.clearAll(ctx, equivalentID, candidates)
}

func (e *Engine) clearAll(ctx context.Context, equivalentID int64, candidates []Cycle) ([]Cycle, error) {
	var cleared []Cycle
	for _, c := range candidates {
		ok, err := e.clearOne(ctx, equivalentID, c)
		if err != nil {
			return cleared, err
		}
		if ok {
			cleared = append(cleared, c)
		}
	}
	return cleared, nil
}

// clearOne attempts to clear a single cycle, returning false (no error)
// when any edge's trust line declines auto-clearing.
func (e *Engine) clearOne(ctx context.Context, equivalentID int64, cycle Cycle) (bool, error) {
	consents, err := e.checkConsent(ctx, equivalentID, cycle)
	if err != nil {
		return false, err
	}
	if !consents {
		return false, nil
	}

	txID := uuid.New()
	now := time.Now()
	tx := &ledger.Transaction{
		TxID:      txID,
		Type:      ledger.TxClearing,
		Initiator: cycle.Nodes[0],
		Payload:   clearingPayload(equivalentID, cycle),
		State:     ledger.TxNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Repos.Transactions.Create(ctx, tx); err != nil {
		return false, fmt.Errorf("create clearing transaction: %w", err)
	}

	err = e.store.WithTx(ctx, func(stx *ledger.Tx) error {
		// Canonical lock order across the cycle's edges, matching the
		// payment engine's deadlock-freedom discipline.
		edges := cycleEdges(cycle)
		sortEdges(edges)
		for _, edge := range edges {
			if err := stx.LockSegment(ctx, equivalentID, edge.debtor, edge.creditor); err != nil {
				return fmt.Errorf("lock segment %s->%s: %w", edge.debtor, edge.creditor, err)
			}
		}

		before, err := positions(ctx, stx.Repos, equivalentID, cycleParticipants(cycle))
		if err != nil {
			return err
		}

		for _, edge := range edges {
			current, err := stx.Repos.Debts.Get(ctx, equivalentID, edge.debtor, edge.creditor)
			if err != nil {
				return fmt.Errorf("read debt %s->%s: %w", edge.debtor, edge.creditor, err)
			}
			remaining := current.Sub(cycle.Amount)
			if remaining.Sign() < 0 {
				return apperr.Internal(fmt.Sprintf("clearing would overdraw debt %s->%s", edge.debtor, edge.creditor))
			}
			if err := stx.Repos.Debts.Set(ctx, equivalentID, edge.debtor, edge.creditor, remaining); err != nil {
				return fmt.Errorf("decrement debt %s->%s: %w", edge.debtor, edge.creditor, err)
			}
		}

		after, err := positions(ctx, stx.Repos, equivalentID, cycleParticipants(cycle))
		if err != nil {
			return err
		}
		for pid, b := range before {
			if !after[pid].Equal(b) {
				return apperr.Integrity(fmt.Sprintf("clearing-neutrality violated for %s: %s -> %s", pid, b, after[pid]))
			}
		}

		// Re-derive zero-sum, debt-symmetry, and trust-limit over the whole
		// equivalent before committing the cycle, inside the same
		// transaction, so a violation rolls the clearing back instead of
		// waiting for the periodic sweeper to notice it (spec.md §4.6).
		report, err := invariants.Check(ctx, stx.Repos, equivalentID)
		if err != nil {
			return fmt.Errorf("post-clearing invariant check: %w", err)
		}
		if !report.Passed() {
			return apperr.Integrity(report.Error().Error())
		}

		ok, err := ledger.TransitionTransaction(ctx, stx.Repos, txID, ledger.TxNew, ledger.TxCommitted, "")
		if err != nil {
			return fmt.Errorf("transition clearing transaction: %w", err)
		}
		if !ok {
			return apperr.StateConflict("clearing transaction left NEW state concurrently")
		}
		return nil
	})
	if err != nil {
		_, _ = ledger.TransitionTransaction(ctx, e.store.Repos, txID, ledger.TxNew, ledger.TxAborted, err.Error())
		return false, err
	}

	if e.sink != nil {
		e.sink.Emit(ctx, "CLEARING_EXECUTED", map[string]interface{}{
			"tx_id":         txID.String(),
			"equivalent_id": equivalentID,
			"amount":        cycle.Amount.String(),
			"nodes":         cycle.Nodes,
		})
	}
	return true, nil
}

// checkConsent requires every edge's creditor->debtor trust line to have
// policy.AutoClearing set (spec.md §4.6's consent check).
func (e *Engine) checkConsent(ctx context.Context, equivalentID int64, cycle Cycle) (bool, error) {
	for _, edge := range cycleEdges(cycle) {
		tl, err := e.store.Repos.TrustLines.GetBySegment(ctx, equivalentID, edge.creditor, edge.debtor)
		if err != nil {
			return false, nil // no trust line on this edge: treat as declined, not an error
		}
		if tl.Status != ledger.TrustLineActive || !tl.Policy.AutoClearing {
			return false, nil
		}
	}
	return true, nil
}

type edge struct{ debtor, creditor identity.PID }

// cycleEdges returns the cycle's debtor->creditor pairs: consecutive nodes
// in the closed walk, debtor before creditor (debt flows Nodes[i] owes
// Nodes[i+1]).
func cycleEdges(c Cycle) []edge {
	edges := make([]edge, 0, len(c.Nodes)-1)
	for i := 0; i < len(c.Nodes)-1; i++ {
		edges = append(edges, edge{debtor: c.Nodes[i], creditor: c.Nodes[i+1]})
	}
	return edges
}

func sortEdges(edges []edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].debtor != edges[j].debtor {
			return edges[i].debtor < edges[j].debtor
		}
		return edges[i].creditor < edges[j].creditor
	})
}

func cycleParticipants(c Cycle) []identity.PID {
	seen := make(map[identity.PID]bool)
	var out []identity.PID
	for _, n := range c.Nodes[:len(c.Nodes)-1] {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// positions returns each participant's net position (sum of what others
// owe them, minus what they owe others) over every debt row they are a
// party to in the equivalent, not only the cycle's own edges.
func positions(ctx context.Context, repos *database.Repositories, equivalentID int64, pids []identity.PID) (map[identity.PID]decimal.Decimal, error) {
	out := make(map[identity.PID]decimal.Decimal, len(pids))
	for _, pid := range pids {
		debts, err := repos.Debts.ListForParticipant(ctx, equivalentID, pid)
		if err != nil {
			return nil, fmt.Errorf("positions: %w", err)
		}
		net := decimal.Zero
		for _, d := range debts {
			if d.Creditor == pid {
				net = net.Add(d.Amount)
			}
			if d.Debtor == pid {
				net = net.Sub(d.Amount)
			}
		}
		out[pid] = net
	}
	return out, nil
}

func clearingPayload(equivalentID int64, c Cycle) []byte {
	edges := cycleEdges(c)
	payload := fmt.Sprintf(`{"equivalent_id":%d,"amount":"%s","edges":[`, equivalentID, c.Amount.String())
	for i, e := range edges {
		if i > 0 {
			payload += ","
		}
		payload += fmt.Sprintf(`{"debtor":%q,"creditor":%q}`, e.debtor, e.creditor)
	}
	payload += "]}"
	return []byte(payload)
}
