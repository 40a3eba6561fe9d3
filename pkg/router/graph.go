// Copyright 2025 Certen Protocol
//
// Package router finds payment paths over the trust graph (spec.md §5).
// Nothing here talks to Postgres directly: Snapshot is built once from a
// repository read and then searched in memory, so a single payment
// request never holds the ledger's advisory locks while it explores the
// graph.

package router

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
)

// Edge is one directed segment with spare capacity in a Snapshot.
type Edge struct {
	To       identity.PID
	Capacity decimal.Decimal
}

// Snapshot is a point-in-time capacity graph for one equivalent: the
// credit each participant can still extend, net of existing debt and
// in-flight prepare-lock reservations.
type Snapshot struct {
	EquivalentID int64
	adjacency    map[identity.PID][]Edge
	blocked      map[identity.PID]map[identity.PID]bool
	canRelay     map[[2]identity.PID]bool
}

// BuildSnapshot reads every active trust line for equivalentID and
// resolves each one's current spare capacity, producing the graph the
// path search runs over. Capacity flows in the direction debt would: a
// trust line's From is the creditor and To is the debtor (spec.md §3's
// TrustLine), but a payment moves along the segment the debtor can still
// borrow across, so each line contributes an edge To->From, not From->To.
func BuildSnapshot(ctx context.Context, repos *database.Repositories, equivalentID int64) (*Snapshot, error) {
	lines, err := repos.TrustLines.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	snap := &Snapshot{
		EquivalentID: equivalentID,
		adjacency:    make(map[identity.PID][]Edge),
		blocked:      make(map[identity.PID]map[identity.PID]bool),
		canRelay:     make(map[[2]identity.PID]bool),
	}

	for _, tl := range lines {
		capacity, err := ledger.AvailableCapacity(ctx, repos, tl, uuid.Nil)
		if err != nil {
			return nil, fmt.Errorf("build snapshot: segment %s->%s: %w", tl.To, tl.From, err)
		}
		if capacity.Sign() <= 0 {
			continue
		}
		snap.adjacency[tl.To] = append(snap.adjacency[tl.To], Edge{To: tl.From, Capacity: capacity})
		snap.canRelay[[2]identity.PID{tl.To, tl.From}] = tl.Policy.CanBeIntermediate

		for _, blockedPID := range tl.Policy.BlockedParticipants {
			if snap.blocked[tl.To] == nil {
				snap.blocked[tl.To] = make(map[identity.PID]bool)
			}
			snap.blocked[tl.To][blockedPID] = true
		}
	}

	for from := range snap.adjacency {
		sort.Slice(snap.adjacency[from], func(i, j int) bool {
			return snap.adjacency[from][i].To < snap.adjacency[from][j].To
		})
	}

	return snap, nil
}

// Neighbors returns the outgoing edges of pid, in a stable order so the
// search is deterministic across runs against the same snapshot.
func (s *Snapshot) Neighbors(pid identity.PID) []Edge {
	return s.adjacency[pid]
}

// IsBlocked reports whether from has blocked to from appearing on any
// path that routes through from (spec.md §5's trust-line policy block list).
func (s *Snapshot) IsBlocked(from, to identity.PID) bool {
	return s.blocked[from] != nil && s.blocked[from][to]
}

// CanRelay reports whether the segment from->to may be used as a
// non-terminal hop, per that segment's trust-line policy.
func (s *Snapshot) CanRelay(from, to identity.PID) bool {
	return s.canRelay[[2]identity.PID{from, to}]
}
