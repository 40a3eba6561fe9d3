// Copyright 2025 Certen Protocol
//
// Modified Yen's k-shortest-paths over the capacity snapshot: shortest by
// hop count first, with the widest (max-bottleneck) path preferred among
// ties of equal length (spec.md §5 routing algorithm). No graph library
// in the example pack offers bottleneck-aware k-shortest-paths, so this
// stays on container/heap + plain BFS rather than reaching for an
// out-of-pack dependency for one algorithm (see DESIGN.md).

package router

import (
	"container/heap"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
)

// ErrNoPath is returned when no path under maxHops connects from to to.
var ErrNoPath = errors.New("router: no path found")

// Path is one candidate route from a payment's payer to its payee.
type Path struct {
	Nodes      []identity.PID
	Bottleneck decimal.Decimal
}

func (p Path) hops() int { return len(p.Nodes) - 1 }

// pqItem is one entry in the priority search's frontier.
type pqItem struct {
	node       identity.PID
	path       []identity.PID
	bottleneck decimal.Decimal
	index      int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	li, lj := len(pq[i].path), len(pq[j].path)
	if li != lj {
		return li < lj
	}
	return pq[i].bottleneck.GreaterThan(pq[j].bottleneck)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// shortestPath finds the fewest-hop path from->to within maxHops whose
// edges are all absent from excludedEdges and all nodes (besides from/to)
// absent from excludedNodes, breaking ties toward the widest bottleneck.
// Intermediate nodes must have CanBeIntermediate set on the trust line
// they're reached through.
func shortestPath(snap *Snapshot, from, to identity.PID, maxHops int, excludedEdges map[[2]identity.PID]bool, excludedNodes map[identity.PID]bool) (Path, error) {
	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{node: from, path: []identity.PID{from}, bottleneck: infiniteBottleneck})

	best := make(map[identity.PID]int) // shortest hop count seen per node, for pruning
	best[from] = 0

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if item.node == to {
			return Path{Nodes: item.path, Bottleneck: item.bottleneck}, nil
		}
		hops := len(item.path) - 1
		if hops >= maxHops {
			continue
		}
		if seen, ok := best[item.node]; ok && seen < hops {
			continue
		}

		for _, edge := range snap.Neighbors(item.node) {
			if excludedNodes[edge.To] && edge.To != to {
				continue
			}
			if excludedEdges[[2]identity.PID{item.node, edge.To}] {
				continue
			}
			if snap.IsBlocked(item.node, edge.To) {
				continue
			}
			if edge.To != to && !snap.CanRelay(item.node, edge.To) {
				// This segment's trust-line policy forbids using it as a
				// non-terminal hop.
				continue
			}
			if containsPID(item.path, edge.To) {
				continue // no repeated nodes: loopless paths only
			}

			nextBottleneck := edge.Capacity
			if nextBottleneck.GreaterThan(item.bottleneck) {
				nextBottleneck = item.bottleneck
			}
			nextHops := hops + 1
			if seen, ok := best[edge.To]; ok && seen < nextHops {
				continue
			}
			best[edge.To] = nextHops

			nextPath := make([]identity.PID, len(item.path)+1)
			copy(nextPath, item.path)
			nextPath[len(item.path)] = edge.To

			heap.Push(pq, &pqItem{node: edge.To, path: nextPath, bottleneck: nextBottleneck})
		}
	}

	return Path{}, ErrNoPath
}

func containsPID(path []identity.PID, pid identity.PID) bool {
	for _, p := range path {
		if p == pid {
			return true
		}
	}
	return false
}

// KShortestPaths runs Yen's algorithm over shortestPath to produce up to k
// loopless candidate paths from->to within maxHops, widest-first among
// equal-length ties.
func KShortestPaths(snap *Snapshot, from, to identity.PID, maxHops, k int) ([]Path, error) {
	first, err := shortestPath(snap, from, to, maxHops, nil, nil)
	if err != nil {
		return nil, err
	}

	found := []Path{first}
	var candidates []Path

	for len(found) < k {
		lastPath := found[len(found)-1]

		for i := 0; i < len(lastPath.Nodes)-1; i++ {
			spurNode := lastPath.Nodes[i]
			rootPath := lastPath.Nodes[:i+1]

			excludedEdges := map[[2]identity.PID]bool{}
			for _, p := range found {
				if len(p.Nodes) > i && pathsShareRoot(p.Nodes, rootPath) {
					excludedEdges[[2]identity.PID{p.Nodes[i], p.Nodes[i+1]}] = true
				}
			}
			excludedNodes := map[identity.PID]bool{}
			for _, n := range rootPath[:len(rootPath)-1] {
				excludedNodes[n] = true
			}

			spurPath, err := shortestPath(snap, spurNode, to, maxHops-i, excludedEdges, excludedNodes)
			if err != nil {
				continue
			}

			totalNodes := make([]identity.PID, 0, len(rootPath)+len(spurPath.Nodes)-1)
			totalNodes = append(totalNodes, rootPath[:len(rootPath)-1]...)
			totalNodes = append(totalNodes, spurPath.Nodes...)

			bottleneck := pathBottleneck(snap, totalNodes)
			candidate := Path{Nodes: totalNodes, Bottleneck: bottleneck}
			if !containsPath(found, candidate) && !containsPath(candidates, candidate) {
				candidates = append(candidates, candidate)
			}
		}

		if len(candidates) == 0 {
			break
		}

		sortCandidates(candidates)
		found = append(found, candidates[0])
		candidates = candidates[1:]
	}

	return found, nil
}

func pathsShareRoot(path []identity.PID, root []identity.PID) bool {
	if len(path) < len(root) {
		return false
	}
	for i, n := range root {
		if path[i] != n {
			return false
		}
	}
	return true
}

func containsPath(paths []Path, candidate Path) bool {
	for _, p := range paths {
		if len(p.Nodes) != len(candidate.Nodes) {
			continue
		}
		match := true
		for i := range p.Nodes {
			if p.Nodes[i] != candidate.Nodes[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func pathBottleneck(snap *Snapshot, nodes []identity.PID) decimal.Decimal {
	bottleneck := infiniteBottleneck
	for i := 0; i < len(nodes)-1; i++ {
		for _, e := range snap.Neighbors(nodes[i]) {
			if e.To == nodes[i+1] {
				if e.Capacity.LessThan(bottleneck) {
					bottleneck = e.Capacity
				}
				break
			}
		}
	}
	return bottleneck
}

func sortCandidates(candidates []Path) {
	// Shortest length first, then widest bottleneck, matching shortestPath's
	// own ordering so Yen's deviation search stays consistent end to end.
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && lessCandidate(candidates[j], candidates[j-1]) {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
}

func lessCandidate(a, b Path) bool {
	if a.hops() != b.hops() {
		return a.hops() < b.hops()
	}
	return a.Bottleneck.GreaterThan(b.Bottleneck)
}

// infiniteBottleneck seeds the widest-path search; no real trust limit in
// the ledger (NUMERIC(20,8)) can reach this value.
var infiniteBottleneck = decimal.New(1, 18)
