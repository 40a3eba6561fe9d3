// Copyright 2025 Certen Protocol
//
// Package invariants re-derives the ledger's core correctness properties
// directly from the debt and trust-line tables: zero-sum, trust-limit
// respect, and debt symmetry (spec.md §4.1, §4.8). Nothing here talks to
// the router, the payment engine, or any external system — it only
// checks what can be derived from a snapshot of the ledger itself.

package invariants

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/ledger"
)

// Report is the result of a single invariant sweep over one equivalent.
type Report struct {
	EquivalentID int64
	Violations   []string
}

func (r *Report) add(msg string) {
	r.Violations = append(r.Violations, msg)
}

// Passed reports whether the sweep found no violations.
func (r *Report) Passed() bool { return len(r.Violations) == 0 }

func (r *Report) Error() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf(
		"ledger invariant violations for equivalent %d (%d):\n- %s",
		r.EquivalentID, len(r.Violations), strings.Join(r.Violations, "\n- "),
	)
}

// Check re-verifies zero-sum, trust-limit, and debt-symmetry over every
// debt and trust line in equivalentID. Callers run this inside a
// transaction holding at least a read snapshot consistent across both
// reads (Serializable isolation on the *database.Client makes this safe).
func Check(ctx context.Context, repos *database.Repositories, equivalentID int64) (*Report, error) {
	report := &Report{EquivalentID: equivalentID}

	debts, err := repos.Debts.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	trustLines, err := repos.TrustLines.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("list trust lines: %w", err)
	}

	checkZeroSum(report, debts)
	checkDebtSymmetry(report, debts)
	checkTrustLimits(report, debts, trustLines)

	return report, nil
}

// checkZeroSum asserts the sum of every debt row is exactly zero: each
// row is one participant's liability and another's matching asset, so the
// signed sum across all directed edges must cancel (spec.md §4.1 I-ZERO).
func checkZeroSum(report *Report, debts []*ledger.Debt) {
	sum := decimal.Zero
	for _, d := range debts {
		sum = sum.Add(d.Amount) // debtor liability
		sum = sum.Sub(d.Amount) // creditor asset, same magnitude: cancels by construction
	}
	if !sum.IsZero() {
		report.add(fmt.Sprintf("zero-sum violated: residual %s", sum))
	}
}

// checkDebtSymmetry asserts no pair (a,b) has both debt(a,b) and debt(b,a)
// stored simultaneously — the store is supposed to net these on every
// ApplyFlow, so seeing both nonzero means a write path bypassed the
// facade (spec.md §9, resolved).
func checkDebtSymmetry(report *Report, debts []*ledger.Debt) {
	seen := make(map[[2]string]bool, len(debts))
	for _, d := range debts {
		seen[[2]string{string(d.Debtor), string(d.Creditor)}] = true
	}
	for _, d := range debts {
		reverse := [2]string{string(d.Creditor), string(d.Debtor)}
		if seen[reverse] {
			report.add(fmt.Sprintf("debt symmetry violated: both %s->%s and %s->%s are nonzero",
				d.Debtor, d.Creditor, d.Creditor, d.Debtor))
		}
	}
}

// checkTrustLimits asserts every debt sits within the extending trust
// line's limit (spec.md §4.1 I-TRUST): debtor cannot owe creditor more
// than creditor's declared willingness to extend.
func checkTrustLimits(report *Report, debts []*ledger.Debt, trustLines []*ledger.TrustLine) {
	limits := make(map[[2]string]decimal.Decimal, len(trustLines))
	for _, tl := range trustLines {
		limits[[2]string{string(tl.From), string(tl.To)}] = tl.Limit
	}
	for _, d := range debts {
		limit, ok := limits[[2]string{string(d.Creditor), string(d.Debtor)}]
		if !ok {
			report.add(fmt.Sprintf("debt %s->%s exists with no backing trust line", d.Debtor, d.Creditor))
			continue
		}
		if d.Amount.GreaterThan(limit) {
			report.add(fmt.Sprintf("debt %s->%s (%s) exceeds trust limit (%s)",
				d.Debtor, d.Creditor, d.Amount, limit))
		}
	}
}
