// Copyright 2025 Certen Protocol

package router

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
)

func testSnapshot(edges map[identity.PID][]Edge) *Snapshot {
	snap := &Snapshot{
		EquivalentID: 1,
		adjacency:    make(map[identity.PID][]Edge),
		blocked:      make(map[identity.PID]map[identity.PID]bool),
		canRelay:     make(map[[2]identity.PID]bool),
	}
	for from, es := range edges {
		snap.adjacency[from] = es
		for _, e := range es {
			snap.canRelay[[2]identity.PID{from, e.To}] = true
		}
	}
	return snap
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestShortestPathDirectEdge(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(100)}},
	})
	p, err := shortestPath(snap, "alice", "bob", 6, nil, nil)
	if err != nil {
		t.Fatalf("shortestPath returned error: %v", err)
	}
	if len(p.Nodes) != 2 || p.Nodes[0] != "alice" || p.Nodes[1] != "bob" {
		t.Errorf("unexpected path: %v", p.Nodes)
	}
	if !p.Bottleneck.Equal(amt(100)) {
		t.Errorf("expected bottleneck 100, got %s", p.Bottleneck)
	}
}

func TestShortestPathPrefersFewerHops(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}, {To: "carol", Capacity: amt(100)}},
		"carol": {{To: "bob", Capacity: amt(100)}},
	})
	p, err := shortestPath(snap, "alice", "bob", 6, nil, nil)
	if err != nil {
		t.Fatalf("shortestPath returned error: %v", err)
	}
	if len(p.Nodes) != 2 {
		t.Errorf("expected direct 1-hop path, got %v", p.Nodes)
	}
}

func TestShortestPathNoRoute(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}},
	})
	_, err := shortestPath(snap, "alice", "dave", 6, nil, nil)
	if err != ErrNoPath {
		t.Errorf("expected ErrNoPath, got %v", err)
	}
}

func TestShortestPathRespectsMaxHops(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}},
		"bob":   {{To: "carol", Capacity: amt(10)}},
		"carol": {{To: "dave", Capacity: amt(10)}},
	})
	_, err := shortestPath(snap, "alice", "dave", 2, nil, nil)
	if err != ErrNoPath {
		t.Errorf("expected ErrNoPath when path exceeds maxHops, got %v", err)
	}
	p, err := shortestPath(snap, "alice", "dave", 3, nil, nil)
	if err != nil {
		t.Fatalf("shortestPath returned error: %v", err)
	}
	if len(p.Nodes) != 4 {
		t.Errorf("expected 4-node path, got %v", p.Nodes)
	}
}

func TestShortestPathSkipsNonRelayIntermediate(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}},
		"bob":   {{To: "carol", Capacity: amt(10)}},
	})
	snap.canRelay[[2]identity.PID{"alice", "bob"}] = false

	_, err := shortestPath(snap, "alice", "carol", 6, nil, nil)
	if err != ErrNoPath {
		t.Errorf("expected ErrNoPath when intermediate hop forbids relaying, got %v", err)
	}
}

func TestKShortestPathsFindsMultiple(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}, {To: "carol", Capacity: amt(20)}},
		"bob":   {{To: "dave", Capacity: amt(10)}},
		"carol": {{To: "dave", Capacity: amt(20)}},
	})
	paths, err := KShortestPaths(snap, "alice", "dave", 6, 3)
	if err != nil {
		t.Fatalf("KShortestPaths returned error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 loopless paths, got %d: %v", len(paths), paths)
	}
}

func TestRouteSnapshotSplitsAcrossPaths(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(10)}, {To: "carol", Capacity: amt(20)}},
		"bob":   {{To: "dave", Capacity: amt(10)}},
		"carol": {{To: "dave", Capacity: amt(20)}},
	})
	allocs, err := RouteSnapshot(snap, "alice", "dave", amt(25), Params{MaxPathLength: 6, MaxPathsPerPayment: 3})
	if err != nil {
		t.Fatalf("RouteSnapshot returned error: %v", err)
	}
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Amount)
	}
	if !total.Equal(amt(25)) {
		t.Errorf("expected allocations to total 25, got %s", total)
	}
}

func TestRouteSnapshotInsufficientCapacity(t *testing.T) {
	snap := testSnapshot(map[identity.PID][]Edge{
		"alice": {{To: "bob", Capacity: amt(5)}},
	})
	_, err := RouteSnapshot(snap, "alice", "bob", amt(100), Params{MaxPathLength: 6, MaxPathsPerPayment: 3})
	if err == nil {
		t.Fatal("expected insufficient-capacity error, got nil")
	}
}
