// Copyright 2025 Certen Protocol
//
// End-to-end scenario test against a real Postgres instance, gated the
// same way as pkg/payment's and pkg/clearing's (and the teacher's
// pkg/database tests): skipped unless HUB_TEST_DATABASE_URL names a live
// database. Covers spec.md §8's S7 crash-recovery property.

package recovery

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
	"github.com/creditmesh/hub/pkg/payment"
	"github.com/creditmesh/hub/pkg/router"
)

var scenarioDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("HUB_TEST_DATABASE_URL")
	if connStr == "" {
		os.Exit(0)
	}

	client, err := database.NewClient(database.Config{
		DatabaseURL:      connStr,
		DatabaseMaxConns: 5,
		DatabaseMinConns: 1,
	})
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("failed to run migrations: " + err.Error())
	}
	scenarioDB = client.DB()

	code := m.Run()
	client.Close()
	os.Exit(code)
}

type noopSink struct{}

func (noopSink) Emit(context.Context, string, map[string]interface{}) {}

// TestScenarioS7RecoveryAfterCrash simulates force-killing the hub
// mid-prepare: a transaction is driven to PREPARED (lock rows present),
// then backdated past the recovery loop's grace period the way a real
// crash would leave it stale rather than freshly written. RunOnce must
// delete the expired lock, mark the transaction ABORTED, restore the
// segment's capacity, and let a fresh payment on the same segment
// succeed.
func TestScenarioS7RecoveryAfterCrash(t *testing.T) {
	if scenarioDB == nil {
		t.Skip("HUB_TEST_DATABASE_URL not configured")
	}
	store := ledger.NewStore(database.NewTestClient(scenarioDB))
	ctx := context.Background()

	a, b := identity.PID("s7-alice"), identity.PID("s7-bob")
	now := time.Now()
	for _, pid := range []identity.PID{a, b} {
		err := store.Repos.Participants.Create(ctx, &database.Participant{
			PID: pid, PublicKey: []byte(pid), DisplayName: string(pid),
			Type: database.ParticipantPerson, Status: database.ParticipantActive,
			CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("create participant %s: %v", pid, err)
		}
		t.Cleanup(func(pid identity.PID) func() {
			return func() { _, _ = scenarioDB.Exec("DELETE FROM participants WHERE pid = $1", string(pid)) }
		}(pid))
	}

	eq, err := store.Repos.Equivalents.Create(ctx, &database.Equivalent{
		Code: "S7UAH", Precision: 2, Type: database.EquivalentFiat, Active: true,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create equivalent: %v", err)
	}
	t.Cleanup(func() { _, _ = scenarioDB.Exec("DELETE FROM equivalents WHERE id = $1", eq) })

	line := &ledger.TrustLine{
		ID: uuid.New(), From: b, To: a, EquivalentID: eq,
		Limit: decimal.NewFromInt(100), Status: ledger.TrustLineActive,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.Repos.TrustLines.Create(ctx, line); err != nil {
		t.Fatalf("create trust line: %v", err)
	}

	engine := payment.NewEngine(store, 30*time.Second, router.Params{MaxPathLength: 4, MaxPathsPerPayment: 4}, nil, nil)
	tx, err := engine.Create(ctx, payment.Request{EquivalentID: eq, Payer: a, Payee: b, Amount: decimal.NewFromInt(100), Initiator: a})
	if err != nil {
		t.Fatalf("create payment (left PREPARED): %v", err)
	}

	// Simulate the crash: backdate the transaction and its locks as if
	// they'd sat untouched since well before the recovery loop's grace
	// window, rather than having just been written.
	past := now.Add(-2 * time.Hour)
	if _, err := scenarioDB.ExecContext(ctx, "UPDATE transactions SET updated_at = $1 WHERE tx_id = $2", past, tx.TxID); err != nil {
		t.Fatalf("backdate transaction: %v", err)
	}
	if _, err := scenarioDB.ExecContext(ctx, "UPDATE prepare_locks SET expires_at = $1 WHERE tx_id = $2", past, tx.TxID); err != nil {
		t.Fatalf("backdate prepare locks: %v", err)
	}

	loop := NewLoop(store, noopSink{}, slog.New(slog.NewTextHandler(os.Stderr, nil)), time.Hour, time.Minute)
	if err := loop.RunOnce(ctx); err != nil {
		t.Fatalf("recovery run: %v", err)
	}

	recovered, err := store.Repos.Transactions.Get(ctx, tx.TxID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if recovered.State != ledger.TxAborted {
		t.Errorf("expected transaction ABORTED, got %s", recovered.State)
	}

	locks, err := store.Repos.PrepareLocks.ListForTx(ctx, tx.TxID)
	if err != nil {
		t.Fatalf("list prepare locks: %v", err)
	}
	if len(locks) != 0 {
		t.Errorf("expected prepare locks reclaimed, found %d", len(locks))
	}

	capacity, err := ledger.AvailableCapacity(ctx, store.Repos, line, tx.TxID)
	if err != nil {
		t.Fatalf("available capacity: %v", err)
	}
	if !capacity.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected full capacity restored, got %s", capacity)
	}

	fresh, err := engine.Create(ctx, payment.Request{EquivalentID: eq, Payer: a, Payee: b, Amount: decimal.NewFromInt(100), Initiator: a})
	if err != nil {
		t.Fatalf("fresh payment on same segment: %v", err)
	}
	if err := engine.Commit(ctx, fresh.TxID); err != nil {
		t.Fatalf("commit fresh payment: %v", err)
	}
}
