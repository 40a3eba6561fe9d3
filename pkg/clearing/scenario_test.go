// Copyright 2025 Certen Protocol
//
// End-to-end scenario tests against a real Postgres instance, gated the
// same way as pkg/payment's (and the teacher's pkg/database tests):
// skipped unless HUB_TEST_DATABASE_URL names a live database. These cover
// spec.md §8's S4/S5 clearing properties.

package clearing

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/creditmesh/hub/pkg/database"
	"github.com/creditmesh/hub/pkg/identity"
	"github.com/creditmesh/hub/pkg/ledger"
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

func newScenarioStore(t *testing.T) *ledger.Store {
	t.Helper()
	if scenarioDB == nil {
		t.Skip("HUB_TEST_DATABASE_URL not configured")
	}
	return ledger.NewStore(database.NewTestClient(scenarioDB))
}

func scenarioParticipant(t *testing.T, store *ledger.Store, pid identity.PID) {
	t.Helper()
	now := time.Now()
	err := store.Repos.Participants.Create(context.Background(), &database.Participant{
		PID:         pid,
		PublicKey:   []byte(pid),
		DisplayName: string(pid),
		Type:        database.ParticipantPerson,
		Status:      database.ParticipantActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("create participant %s: %v", pid, err)
	}
	t.Cleanup(func() {
		_, _ = scenarioDB.Exec("DELETE FROM participants WHERE pid = $1", string(pid))
	})
}

func scenarioEquivalent(t *testing.T, store *ledger.Store, code string) int64 {
	t.Helper()
	now := time.Now()
	id, err := store.Repos.Equivalents.Create(context.Background(), &database.Equivalent{
		Code:      code,
		Precision: 2,
		Type:      database.EquivalentFiat,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("create equivalent %s: %v", code, err)
	}
	t.Cleanup(func() {
		_, _ = scenarioDB.Exec("DELETE FROM equivalents WHERE id = $1", id)
	})
	return id
}

// scenarioTrustLine creates the trust line whose From is the creditor and
// To is the debtor, matching checkConsent's GetBySegment(creditor, debtor)
// lookup for the edge debtor->creditor.
func scenarioTrustLine(t *testing.T, store *ledger.Store, equivalentID int64, creditor, debtor identity.PID, limit decimal.Decimal, policy database.TrustLinePolicy) {
	t.Helper()
	now := time.Now()
	tl := &ledger.TrustLine{
		ID:           uuid.New(),
		From:         creditor,
		To:           debtor,
		EquivalentID: equivalentID,
		Limit:        limit,
		Policy:       policy,
		Status:       ledger.TrustLineActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Repos.TrustLines.Create(context.Background(), tl); err != nil {
		t.Fatalf("create trust line %s->%s: %v", creditor, debtor, err)
	}
}

// setupCycle seeds the S4/S5 triangle: A owes B 50, B owes C 50, C owes A
// 50, all in one equivalent, with every edge's governing trust line
// (creditor->debtor) present. autoClearCA controls the policy on the edge
// C-owes-A, the one S5 flips to declined.
func setupCycle(t *testing.T, autoClearCA bool) (*ledger.Store, int64, identity.PID, identity.PID, identity.PID) {
	t.Helper()
	store := newScenarioStore(t)
	ctx := context.Background()

	a, b, c := identity.PID("s45-alice"), identity.PID("s45-bob"), identity.PID("s45-carol")
	scenarioParticipant(t, store, a)
	scenarioParticipant(t, store, b)
	scenarioParticipant(t, store, c)
	eq := scenarioEquivalent(t, store, "S45UAH")

	scenarioTrustLine(t, store, eq, b, a, decimal.NewFromInt(1000), database.TrustLinePolicy{AutoClearing: true})
	scenarioTrustLine(t, store, eq, c, b, decimal.NewFromInt(1000), database.TrustLinePolicy{AutoClearing: true})
	scenarioTrustLine(t, store, eq, a, c, decimal.NewFromInt(1000), database.TrustLinePolicy{AutoClearing: autoClearCA})

	if err := store.Repos.Debts.Set(ctx, eq, a, b, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("seed debt a->b: %v", err)
	}
	if err := store.Repos.Debts.Set(ctx, eq, b, c, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("seed debt b->c: %v", err)
	}
	if err := store.Repos.Debts.Set(ctx, eq, c, a, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("seed debt c->a: %v", err)
	}

	return store, eq, a, b, c
}

// TestScenarioS4ClearingCycle: a fully-consenting 3-cycle of 50 clears to
// zero in one CLEARING transaction, net positions unchanged.
func TestScenarioS4ClearingCycle(t *testing.T) {
	store, eq, a, b, c := setupCycle(t, true)
	ctx := context.Background()

	engine := NewEngine(store, nil)
	cleared, err := engine.Sweep(ctx, eq, 3)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(cleared) != 1 {
		t.Fatalf("expected 1 cleared cycle, got %d", len(cleared))
	}

	for _, edge := range []struct{ debtor, creditor identity.PID }{
		{a, b}, {b, c}, {c, a},
	} {
		debt, err := store.Repos.Debts.Get(ctx, eq, edge.debtor, edge.creditor)
		if err != nil {
			t.Fatalf("read debt %s->%s: %v", edge.debtor, edge.creditor, err)
		}
		if !debt.IsZero() {
			t.Errorf("expected debt %s->%s cleared to zero, got %s", edge.debtor, edge.creditor, debt)
		}
	}
}

// TestScenarioS5ClearingDeclined: the same cycle with one edge's
// auto_clearing disabled is left untouched.
func TestScenarioS5ClearingDeclined(t *testing.T) {
	store, eq, a, b, c := setupCycle(t, false)
	ctx := context.Background()

	engine := NewEngine(store, nil)
	cleared, err := engine.Sweep(ctx, eq, 3)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(cleared) != 0 {
		t.Fatalf("expected no cycles cleared, got %d", len(cleared))
	}

	for _, edge := range []struct{ debtor, creditor identity.PID }{
		{a, b}, {b, c}, {c, a},
	} {
		debt, err := store.Repos.Debts.Get(ctx, eq, edge.debtor, edge.creditor)
		if err != nil {
			t.Fatalf("read debt %s->%s: %v", edge.debtor, edge.creditor, err)
		}
		if !debt.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected debt %s->%s to remain 50, got %s", edge.debtor, edge.creditor, debt)
		}
	}
}
