package persistence_test

import (
	"context"
	"testing"
	"time"

	"IntentLedger/internal/intent"
	"IntentLedger/internal/persistence"
	"IntentLedger/internal/settlement"
	"IntentLedger/internal/testutil"
)

// These tests need a real Postgres (see testutil.TestPostgresDSN) and run the
// migrations themselves.

func setupMigratedDB(t *testing.T) (*persistence.Recovery, chan persistence.Record, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}

	ch := make(chan persistence.Record, 64)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		persistence.NewWorker(db, ch, 10, 5*time.Millisecond, nil).Run(workerCtx)
	}()

	return persistence.NewRecovery(db), ch, func() {
		close(ch)
		stopWorker()
		<-done
		cleanup()
	}
}

func TestPersistAndRecoverIntents(t *testing.T) {
	recovery, ch, cleanup := setupMigratedDB(t)
	defer cleanup()

	store := persistence.NewStore(ch)
	ctx := context.Background()

	id := intent.DeriveID("alice", "borrower", "sim", 900_000, 1_900_000_000, 1_100, 100)
	it := intent.Intent{
		ID:                   id,
		Submitter:            "alice",
		TargetAccount:        "borrower",
		TargetVenue:          "sim",
		HealthRatioThreshold: 900_000,
		MinPrice:             1_900_000_000,
		Deadline:             1_100,
		BondAmount:           100_000_000,
		State:                intent.StatePending,
		CreatedAt:            100,
	}
	if err := store.SaveIntent(ctx, it); err != nil {
		t.Fatalf("save pending: %v", err)
	}

	// Lifecycle update: the same row moves to executed with a zeroed bond.
	it.State = intent.StateExecuted
	it.BondAmount = 0
	if err := store.SaveIntent(ctx, it); err != nil {
		t.Fatalf("save executed: %v", err)
	}

	waitForRows(t, func() bool {
		got, err := recovery.LoadIntents(ctx)
		return err == nil && len(got) == 1 && got[0].State == intent.StateExecuted
	})

	got, err := recovery.LoadIntents(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loaded %d intents, want 1", len(got))
	}
	if got[0].ID != id || got[0].BondAmount != 0 || got[0].CreatedAt != 100 {
		t.Errorf("recovered intent mismatch: %+v", got[0])
	}
}

func TestPersistAndRecoverExecutions(t *testing.T) {
	recovery, ch, cleanup := setupMigratedDB(t)
	defer cleanup()

	store := persistence.NewStore(ch)
	ctx := context.Background()

	id := intent.DeriveID("alice", "borrower", "sim", 900_000, 1_900_000_000, 1_100, 101)
	it := intent.Intent{
		ID: id, Submitter: "alice", TargetAccount: "borrower", TargetVenue: "sim",
		HealthRatioThreshold: 900_000, MinPrice: 1, Deadline: 1_100,
		State: intent.StateExecuted, CreatedAt: 101,
	}
	// Executions reference their intent row.
	if err := store.SaveIntent(ctx, it); err != nil {
		t.Fatalf("save intent: %v", err)
	}

	ex := settlement.Execution{
		IntentID:         id.String(),
		Caller:           "alice",
		Venue:            "sim",
		CollateralAsset:  "ETH",
		DebtAsset:        "USDC",
		DebtRepaid:       1_000_000_000,
		CollateralSeized: 525_000,
		DebtValue:        1_000_000_000,
		SeizedValue:      1_050_000_000,
		Profit:           50_000_000,
		InsuranceFee:     250_000,
		TreasuryFee:      500_000,
		RewardAccrued:    49_250_000,
		Height:           150,
		ExecutedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.SaveExecution(ctx, ex); err != nil {
		t.Fatalf("save execution: %v", err)
	}
	// Replay is a no-op, not an error.
	if err := store.SaveExecution(ctx, ex); err != nil {
		t.Fatalf("replay execution: %v", err)
	}

	waitForRows(t, func() bool {
		got, err := recovery.LoadExecutions(ctx)
		return err == nil && len(got) == 1
	})

	got, err := recovery.LoadExecutions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("loaded %d executions, want 1", len(got))
	}
	if got[0].Profit != 50_000_000 || got[0].CollateralSeized != 525_000 {
		t.Errorf("recovered execution mismatch: %+v", got[0])
	}
}

func TestRecoverInsuranceBalance(t *testing.T) {
	recovery, ch, cleanup := setupMigratedDB(t)
	defer cleanup()

	ctx := context.Background()

	now := time.Now()
	ch <- persistence.Record{Insurance: &persistence.InsuranceRow{
		EntryID: "e1", Kind: "credit", Amount: 300, Reason: "slash:a", Timestamp: now,
	}}
	ch <- persistence.Record{Insurance: &persistence.InsuranceRow{
		EntryID: "e2", Kind: "credit", Amount: 200, Reason: "skim:b", Timestamp: now,
	}}
	ch <- persistence.Record{Insurance: &persistence.InsuranceRow{
		EntryID: "e3", Kind: "withdrawal", Amount: 150, Reason: "to:treasury", Timestamp: now,
	}}

	waitForRows(t, func() bool {
		bal, err := recovery.LoadInsuranceBalance(ctx)
		return err == nil && bal == 350
	})

	bal, err := recovery.LoadInsuranceBalance(ctx)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if bal != 350 {
		t.Errorf("balance = %d, want 350", bal)
	}
}

func waitForRows(t *testing.T, ready func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ready() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timed out waiting for worker flush")
}
