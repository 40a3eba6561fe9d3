// Copyright 2025 Certen Protocol

package integrity

import (
	"sort"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/merkle"
)

// checksumOf mirrors Sweeper.checksum's hashing without a database, so the
// determinism property can be tested without a live store.
func checksumOf(t *testing.T, debts []*database.Debt) string {
	sort.Slice(debts, func(i, j int) bool {
		if debts[i].Debtor != debts[j].Debtor {
			return debts[i].Debtor < debts[j].Debtor
		}
		return debts[i].Creditor < debts[j].Creditor
	})
	leaves := make([][]byte, len(debts))
	for i, d := range debts {
		leaf, err := debtLeaf(d.Debtor, d.Creditor, d.Amount.String())
		if err != nil {
			t.Fatalf("hash debt leaf: %v", err)
		}
		leaves[i] = leaf
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	return tree.RootHex()
}

func TestChecksumStableUnderRowOrder(t *testing.T) {
	a := &database.Debt{Debtor: "alice", Creditor: "bob", Amount: decimal.NewFromInt(10)}
	b := &database.Debt{Debtor: "carol", Creditor: "dave", Amount: decimal.NewFromInt(20)}

	c1 := checksumOf(t, []*database.Debt{a, b})
	c2 := checksumOf(t, []*database.Debt{b, a})

	if c1 != c2 {
		t.Errorf("expected checksum independent of input order, got %s vs %s", c1, c2)
	}
}

func TestChecksumChangesWithAmount(t *testing.T) {
	a := &database.Debt{Debtor: "alice", Creditor: "bob", Amount: decimal.NewFromInt(10)}
	a2 := &database.Debt{Debtor: "alice", Creditor: "bob", Amount: decimal.NewFromInt(11)}

	if checksumOf(t, []*database.Debt{a}) == checksumOf(t, []*database.Debt{a2}) {
		t.Error("expected checksum to change when debt amount changes")
	}
}

func TestDebtLeafDeterministicAndDirectional(t *testing.T) {
	leaf1, err := debtLeaf("alice", "bob", "10")
	if err != nil {
		t.Fatalf("hash debt leaf: %v", err)
	}
	leaf2, err := debtLeaf("alice", "bob", "10")
	if err != nil {
		t.Fatalf("hash debt leaf: %v", err)
	}
	if string(leaf1) != string(leaf2) {
		t.Error("expected identical debt rows to hash identically")
	}

	reversed, err := debtLeaf("bob", "alice", "10")
	if err != nil {
		t.Fatalf("hash debt leaf: %v", err)
	}
	if string(leaf1) == string(reversed) {
		t.Error("expected debtor/creditor swap to change the leaf hash")
	}
}
