// Copyright 2025 Certen Protocol

package payment

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/router"
)

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestAggregateSegmentsSumsSharedHops(t *testing.T) {
	allocations := []router.Allocation{
		{Path: router.Path{Nodes: []identity.PID{"alice", "bob", "dave"}}, Amount: amt(10)},
		{Path: router.Path{Nodes: []identity.PID{"alice", "carol", "dave"}}, Amount: amt(20)},
		{Path: router.Path{Nodes: []identity.PID{"alice", "bob", "dave"}}, Amount: amt(5)},
	}

	segments := aggregateSegments(allocations)

	totals := make(map[[2]identity.PID]decimal.Decimal)
	for _, s := range segments {
		totals[[2]identity.PID{s.from, s.to}] = s.delta
	}

	if got := totals[[2]identity.PID{"alice", "bob"}]; !got.Equal(amt(15)) {
		t.Errorf("alice->bob: expected 15, got %s", got)
	}
	if got := totals[[2]identity.PID{"bob", "dave"}]; !got.Equal(amt(15)) {
		t.Errorf("bob->dave: expected 15, got %s", got)
	}
	if got := totals[[2]identity.PID{"alice", "carol"}]; !got.Equal(amt(20)) {
		t.Errorf("alice->carol: expected 20, got %s", got)
	}
}

func TestAggregateSegmentsCanonicalOrder(t *testing.T) {
	allocations := []router.Allocation{
		{Path: router.Path{Nodes: []identity.PID{"zed", "alice"}}, Amount: amt(1)},
		{Path: router.Path{Nodes: []identity.PID{"alice", "bob"}}, Amount: amt(1)},
	}

	segments := aggregateSegments(allocations)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].from != "alice" || segments[1].from != "zed" {
		t.Errorf("expected segments sorted lexicographically by from, got %v, %v", segments[0], segments[1])
	}
}
