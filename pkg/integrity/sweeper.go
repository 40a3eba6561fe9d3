// Copyright 2025 Certen Protocol
//
// Package integrity runs the periodic sweep that re-verifies invariants,
// checksums the ledger, and writes an audit trail (spec.md §4.8). A
// failed sweep marks that equivalent as blocked and the next passing sweep
// clears the mark. The mark is reported by get_integrity_status; the
// payment, clearing and trust-line paths do not check it.

package integrity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/invariants"
	"github.com/creditmesh/hub/pkg/ledger"
	"github.com/creditmesh/hub/pkg/merkle"
)

// EventSink is the capability the sweeper uses to announce a critical
// violation (spec.md §4.9's INTEGRITY_VIOLATION, high severity).
type EventSink interface {
	Emit(ctx context.Context, eventType string, attrs map[string]interface{})
}

// Sweeper periodically checksums and invariant-checks every active
// equivalent, and exposes a per-equivalent blocked flag (see Blocked).
type Sweeper struct {
	store    *ledger.Store
	sink     EventSink
	log      *slog.Logger
	interval time.Duration

	mu      sync.RWMutex
	blocked map[int64]bool
}

func NewSweeper(store *ledger.Store, sink EventSink, log *slog.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		sink:     sink,
		log:      log,
		interval: interval,
		blocked:  make(map[int64]bool),
	}
}

// Blocked reports whether the latest sweep of equivalentID found an
// invariant violation. It does not by itself stop any operation.
func (s *Sweeper) Blocked(equivalentID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocked[equivalentID]
}

func (s *Sweeper) setBlocked(equivalentID int64, blocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[equivalentID] = blocked
}

// RunOnce sweeps every active equivalent once.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	equivalents, err := s.activeEquivalents(ctx)
	if err != nil {
		return fmt.Errorf("integrity sweep: %w", err)
	}
	for _, eq := range equivalents {
		if err := s.sweepOne(ctx, eq); err != nil {
			s.log.Error("integrity: sweep failed", "equivalent_id", eq, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) activeEquivalents(ctx context.Context) ([]int64, error) {
	// Every equivalent whose active flag is set, whether or not it
	// carries any debt or trust-line rows yet.
	return s.store.Repos.Equivalents.ListActiveIDs(ctx)
}

func (s *Sweeper) sweepOne(ctx context.Context, equivalentID int64) error {
	before, err := s.latestChecksum(ctx, equivalentID)
	if err != nil {
		return err
	}

	report, err := invariants.Check(ctx, s.store.Repos, equivalentID)
	if err != nil {
		return fmt.Errorf("check invariants: %w", err)
	}

	checksum, err := s.checksum(ctx, equivalentID)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	status := ledger.InvariantPass
	if !report.Passed() {
		status = ledger.InvariantFail
	}

	if _, err := s.store.Repos.Checkpoints.Create(ctx, &database.IntegrityCheckpoint{
		EquivalentID:     equivalentID,
		Checksum:         checksum,
		InvariantsStatus: status,
		CreatedAt:        time.Now(),
	}); err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}

	results := make(map[string]bool)
	results["zero_sum"] = true
	results["debt_symmetry"] = true
	results["trust_limits"] = true
	for _, v := range report.Violations {
		switch {
		case strings.Contains(v, "zero-sum"):
			results["zero_sum"] = false
		case strings.Contains(v, "symmetry"):
			results["debt_symmetry"] = false
		case strings.Contains(v, "trust limit"), strings.Contains(v, "trust line"):
			results["trust_limits"] = false
		}
	}

	if _, err := s.store.Repos.AuditLog.Create(ctx, &database.AuditLogEntry{
		OperationType:    "INTEGRITY_SWEEP",
		ChecksumBefore:   before,
		ChecksumAfter:    checksum,
		InvariantResults: results,
		CreatedAt:        time.Now(),
	}); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}

	if !report.Passed() {
		s.setBlocked(equivalentID, true)
		s.sink.Emit(ctx, "INTEGRITY_VIOLATION", map[string]interface{}{
			"equivalent_id": equivalentID,
			"violations":    report.Violations,
			"severity":      "high",
		})
		return report.Error()
	}

	s.setBlocked(equivalentID, false)
	return nil
}

func (s *Sweeper) latestChecksum(ctx context.Context, equivalentID int64) (string, error) {
	cp, err := s.store.Repos.Checkpoints.Latest(ctx, equivalentID)
	if err == database.ErrCheckpointNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cp.Checksum, nil
}

// checksum hashes every debt row for equivalentID into a Merkle tree,
// sorted by (debtor, creditor) for a deterministic root regardless of
// table scan order.
func (s *Sweeper) checksum(ctx context.Context, equivalentID int64) (string, error) {
	tree, err := s.checksumTree(ctx, equivalentID)
	if err != nil {
		return "", err
	}
	if tree == nil {
		return merkle.HashDataHex([]byte(fmt.Sprintf("empty:%d", equivalentID))), nil
	}
	return tree.RootHex(), nil
}

// checksumTree rebuilds the same Merkle tree checksum hashes, for callers
// that need more than the root (e.g. an inclusion proof). Returns a nil
// tree, not an error, when the equivalent currently has no debt rows.
func (s *Sweeper) checksumTree(ctx context.Context, equivalentID int64) (*merkle.Tree, error) {
	debts, err := s.store.Repos.Debts.ListAll(ctx, equivalentID)
	if err != nil {
		return nil, err
	}
	if len(debts) == 0 {
		return nil, nil
	}
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
			return nil, fmt.Errorf("hash debt %s->%s: %w", d.Debtor, d.Creditor, err)
		}
		leaves[i] = leaf
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return nil, fmt.Errorf("build checksum tree: %w", err)
	}
	return tree, nil
}

// debtLeaf hashes one debt row into a Merkle leaf. The row is run through
// RFC 8785 JSON canonicalization first so the leaf hash depends only on
// the row's content, not on how its fields happened to be ordered or
// whitespaced by whatever produced them — the same canonicalization
// pkg/identity applies to signed payloads, here via the reference jcs
// library directly since every field is already a string (amount
// included: decimal.Decimal.String(), never a JSON number) and so never
// crosses jcs's float64 number formatter.
func debtLeaf(debtor, creditor identity.PID, amount string) ([]byte, error) {
	raw, err := json.Marshal(map[string]string{
		"debtor":   string(debtor),
		"creditor": string(creditor),
		"amount":   amount,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal debt leaf: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize debt leaf: %w", err)
	}
	return merkle.HashData(canonical), nil
}

// InclusionProof proves that debtor's debt to creditor, at its current
// amount, is one of the rows summarized by equivalentID's latest integrity
// checkpoint. It fails if the ledger has moved since that checkpoint was
// taken (the recomputed root no longer matches) or if no such debt row
// exists, rather than serving a proof against a tree nobody published.
func (s *Sweeper) InclusionProof(ctx context.Context, equivalentID int64, debtor, creditor identity.PID) (*merkle.InclusionProof, error) {
	cp, err := s.store.Repos.Checkpoints.Latest(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}

	tree, err := s.checksumTree(ctx, equivalentID)
	if err != nil {
		return nil, fmt.Errorf("rebuild checksum tree: %w", err)
	}
	if tree == nil || tree.RootHex() != cp.Checksum {
		return nil, fmt.Errorf("ledger has changed since checkpoint %s; rerun the sweep before requesting a proof", cp.Checksum)
	}

	amount, err := s.store.Repos.Debts.Get(ctx, equivalentID, debtor, creditor)
	if err != nil {
		return nil, fmt.Errorf("read debt %s->%s: %w", debtor, creditor, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("no debt row %s->%s in equivalent %d", debtor, creditor, equivalentID)
	}

	leaf, err := debtLeaf(debtor, creditor, amount.String())
	if err != nil {
		return nil, fmt.Errorf("hash debt %s->%s: %w", debtor, creditor, err)
	}
	proof, err := tree.GenerateProofByHash(leaf)
	if err != nil {
		return nil, fmt.Errorf("generate inclusion proof %s->%s: %w", debtor, creditor, err)
	}
	return proof, nil
}

// Run blocks, ticking RunOnce every interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		}
	}
}
