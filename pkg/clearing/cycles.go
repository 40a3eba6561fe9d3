// Copyright 2025 Certen Protocol
//
// Cycle search over the debt graph. Like pkg/router's path search, this
// stays on a plain DFS rather than an out-of-pack graph library: nothing
// in the example pack offers cycle enumeration either (see DESIGN.md).

package clearing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
)

// findCyclesTouching returns canonicalized cycles of length 3..maxLen that
// use the from->to debt edge, the trigger mode's scope (spec.md §4.6).
func findCyclesTouching(debts []*database.Debt, from, to identity.PID, maxLen int) []Cycle {
	adj := adjacency(debts)
	var found []Cycle
	seen := make(map[string]bool)

	// Every cycle through from->to starts its walk at "to" and must
	// return to "from" within maxLen-1 further hops.
	var walk func(path []identity.PID, amount decimal.Decimal)
	walk = func(path []identity.PID, amount decimal.Decimal) {
		if len(path) > maxLen {
			return
		}
		last := path[len(path)-1]
		for _, e := range adj[last] {
			if e.to == from && len(path) >= 3 {
				cycle := canonicalize(append(append([]identity.PID{}, path...), from), minAmount(amount, e.amount))
				key := cycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					found = append(found, cycle)
				}
				continue
			}
			if containsPID(path, e.to) {
				continue
			}
			walk(append(path, e.to), minAmount(amount, e.amount))
		}
	}
	walk([]identity.PID{from, to}, amountTo(adj, from, to))

	sort.Slice(found, func(i, j int) bool { return len(found[i].Nodes) < len(found[j].Nodes) })
	return found
}

// findAllCycles runs a periodic sweep over the full debt graph, capped at
// limit cycles (spec.md §4.6's max_cycles_per_run).
func findAllCycles(debts []*database.Debt, maxLen, limit int) []Cycle {
	adj := adjacency(debts)
	var found []Cycle
	seen := make(map[string]bool)

	var roots []identity.PID
	for pid := range adj {
		roots = append(roots, pid)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, root := range roots {
		if len(found) >= limit {
			break
		}
		var walk func(path []identity.PID, amount decimal.Decimal)
		walk = func(path []identity.PID, amount decimal.Decimal) {
			if len(found) >= limit || len(path) > maxLen {
				return
			}
			last := path[len(path)-1]
			for _, e := range adj[last] {
				if e.to == root && len(path) >= 3 {
					cycle := canonicalize(append(append([]identity.PID{}, path...), root), minAmount(amount, e.amount))
					if cycle.Nodes[0] != root {
						continue // only canonicalize/report from its designated root, once
					}
					key := cycleKey(cycle)
					if !seen[key] {
						seen[key] = true
						found = append(found, cycle)
					}
					continue
				}
				if e.to <= root || containsPID(path, e.to) {
					continue // smaller-PID nodes were already a root; skip to dedupe rotations
				}
				walk(append(path, e.to), minAmount(amount, e.amount))
			}
		}
		walk([]identity.PID{root}, infiniteAmount)
	}

	return found
}

type weightedEdge struct {
	to     identity.PID
	amount decimal.Decimal
}

func adjacency(debts []*database.Debt) map[identity.PID][]weightedEdge {
	adj := make(map[identity.PID][]weightedEdge)
	for _, d := range debts {
		adj[d.Debtor] = append(adj[d.Debtor], weightedEdge{to: d.Creditor, amount: d.Amount})
	}
	for pid := range adj {
		sort.Slice(adj[pid], func(i, j int) bool { return adj[pid][i].to < adj[pid][j].to })
	}
	return adj
}

func amountTo(adj map[identity.PID][]weightedEdge, from, to identity.PID) decimal.Decimal {
	for _, e := range adj[from] {
		if e.to == to {
			return e.amount
		}
	}
	return decimal.Zero
}

func minAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

var infiniteAmount = decimal.New(1, 18)

func containsPID(path []identity.PID, pid identity.PID) bool {
	for _, p := range path {
		if p == pid {
			return true
		}
	}
	return false
}

// canonicalize rotates a closed walk to start at its lexicographically
// smallest PID, which is how the engine dedupes a cycle discovered from
// different starting edges (spec.md §4.6).
func canonicalize(closedWalk []identity.PID, amount decimal.Decimal) Cycle {
	open := closedWalk[:len(closedWalk)-1] // drop the repeated closing node
	minIdx := 0
	for i, p := range open {
		if p < open[minIdx] {
			minIdx = i
		}
	}
	rotated := make([]identity.PID, 0, len(open)+1)
	rotated = append(rotated, open[minIdx:]...)
	rotated = append(rotated, open[:minIdx]...)
	rotated = append(rotated, rotated[0])
	return Cycle{Nodes: rotated, Amount: amount}
}

func cycleKey(c Cycle) string {
	key := ""
	for _, n := range c.Nodes {
		key += string(n) + ">"
	}
	return key
}
