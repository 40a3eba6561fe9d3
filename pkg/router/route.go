// Copyright 2025 Certen Protocol

package router

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/apperr"
	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
)

// Params bounds a single routing request, sourced from pkg/config.
type Params struct {
	MaxPathLength      int
	MaxPathsPerPayment int
}

// Allocation is one path selected to carry part of a payment, with the
// amount assigned to it.
type Allocation struct {
	Path   Path
	Amount decimal.Decimal
}

// Route finds up to params.MaxPathsPerPayment paths from payer to payee
// able to carry amount in total, and splits amount across them greedily
// in path order, giving each path min(remaining, bottleneck) (spec.md §5's
// multi-path routing). Returns apperr.NoRoute when no path exists and
// apperr.InsufficientCapacity when the paths found cannot carry the full
// amount.
func Route(ctx context.Context, repos *database.Repositories, equivalentID int64, payer, payee identity.PID, amount decimal.Decimal, params Params) ([]Allocation, error) {
	snap, err := BuildSnapshot(ctx, repos, equivalentID)
	if err != nil {
		return nil, err
	}
	return RouteSnapshot(snap, payer, payee, amount, params)
}

// RouteSnapshot is Route's pure in-memory half, split out so tests can
// exercise the path-finding and splitting logic against a hand-built
// Snapshot without a database.
func RouteSnapshot(snap *Snapshot, payer, payee identity.PID, amount decimal.Decimal, params Params) ([]Allocation, error) {
	paths, err := KShortestPaths(snap, payer, payee, params.MaxPathLength, params.MaxPathsPerPayment)
	if err != nil {
		return nil, apperr.NoRoute("no path connects payer to payee within the configured hop limit").WithCause(err)
	}

	remaining := amount
	var allocations []Allocation
	for _, p := range paths {
		if remaining.Sign() <= 0 {
			break
		}
		take := p.Bottleneck
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if take.Sign() <= 0 {
			continue
		}
		allocations = append(allocations, Allocation{Path: p, Amount: take})
		remaining = remaining.Sub(take)
	}

	if remaining.Sign() > 0 {
		return nil, apperr.InsufficientCapacity("available paths cannot carry the full payment amount").
			WithDetails(map[string]interface{}{
				"requested": amount.String(),
				"shortfall": remaining.String(),
			})
	}

	return allocations, nil
}
