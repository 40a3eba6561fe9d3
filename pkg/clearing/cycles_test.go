// Copyright 2025 Certen Protocol

package clearing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
)

func debt(debtor, creditor identity.PID, amount int64) *database.Debt {
	return &database.Debt{Debtor: debtor, Creditor: creditor, Amount: decimal.NewFromInt(amount)}
}

// TestFindCyclesTouchingThreeCycle covers spec.md's S4: A owes B 50, B owes
// C 50, C owes A 50 forms a single length-3 cycle with bottleneck 50.
func TestFindCyclesTouchingThreeCycle(t *testing.T) {
	debts := []*database.Debt{
		debt("A", "B", 50),
		debt("B", "C", 50),
		debt("C", "A", 50),
	}

	cycles := findCyclesTouching(debts, "A", "B", 4)
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d: %v", len(cycles), cycles)
	}
	if !cycles[0].Amount.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected bottleneck 50, got %s", cycles[0].Amount)
	}
}

func TestFindCyclesTouchingNoCycle(t *testing.T) {
	debts := []*database.Debt{
		debt("A", "B", 50),
		debt("B", "C", 50),
	}
	cycles := findCyclesTouching(debts, "A", "B", 4)
	if len(cycles) != 0 {
		t.Errorf("expected no cycles, got %v", cycles)
	}
}

func TestCanonicalizeRotatesToSmallestPID(t *testing.T) {
	c := canonicalize([]identity.PID{"C", "A", "B", "C"}, decimal.NewFromInt(10))
	if c.Nodes[0] != "A" {
		t.Errorf("expected rotation to start at A, got %v", c.Nodes)
	}
	if c.Nodes[len(c.Nodes)-1] != "A" {
		t.Errorf("expected closed walk to end back at A, got %v", c.Nodes)
	}
}
