package registry_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"IntentLedger/internal/authz"
	"IntentLedger/internal/chain"
	"IntentLedger/internal/insurance"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/ledger"
	"IntentLedger/internal/registry"
	"IntentLedger/internal/testutil"
	"IntentLedger/internal/venue"
)

const bond = int64(100_000_000) // 100 native units

type fixture struct {
	reg       *registry.Registry
	vault     *ledger.BalanceTracker
	insurance *insurance.Ledger
	clock     *chain.ManualClock
	nativeID  ledger.AssetID
}

func setup(t *testing.T) *fixture {
	t.Helper()

	vault := ledger.NewBalanceTracker()
	ins := insurance.NewLedger()
	clock := chain.NewManualClock(100, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	allowList := venue.NewAllowList("sim")
	nativeID, _ := ledger.GetAssetID(ledger.NativeAsset)

	reg := registry.New(registry.DefaultConfig(), clock, vault, ins, allowList,
		nil, nil, zerolog.Nop(), nil)

	testutil.FundCollateral(t, vault, "alice", ledger.NativeAsset, 10*bond)

	return &fixture{reg: reg, vault: vault, insurance: ins, clock: clock, nativeID: nativeID}
}

func submit(t *testing.T, f *fixture) intent.ID {
	t.Helper()

	id, err := f.reg.SubmitIntent(context.Background(), registry.SubmitParams{
		Submitter:            "alice",
		TargetAccount:        "borrower",
		TargetVenue:          "sim",
		HealthRatioThreshold: 900_000,
		MinPrice:             1_500_000_000,
		Deadline:             f.clock.Height() + 1_000,
		BondAmount:           bond,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

// ============================================================================
// Test: SubmitIntent
// ============================================================================

func TestSubmitIntent_EscrowsBond(t *testing.T) {
	f := setup(t)
	id := submit(t, f)

	it, err := f.reg.GetIntent(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if it.State != intent.StatePending {
		t.Errorf("state = %s, want pending", it.State)
	}
	if it.BondAmount != bond {
		t.Errorf("bond = %d, want %d", it.BondAmount, bond)
	}

	if got := f.vault.GetBalance(ledger.BondEscrowKey()); got != bond {
		t.Errorf("escrow = %d, want %d", got, bond)
	}
	if got := f.vault.GetUserCollateral("alice", f.nativeID); got != 9*bond {
		t.Errorf("alice collateral = %d, want %d", got, 9*bond)
	}
}

func TestSubmitIntent_Duplicate(t *testing.T) {
	f := setup(t)
	submit(t, f)

	_, err := f.reg.SubmitIntent(context.Background(), registry.SubmitParams{
		Submitter:            "alice",
		TargetAccount:        "borrower",
		TargetVenue:          "sim",
		HealthRatioThreshold: 900_000,
		MinPrice:             1_500_000_000,
		Deadline:             f.clock.Height() + 1_000,
		BondAmount:           bond,
	})
	if !errors.Is(err, registry.ErrDuplicateIntent) {
		t.Errorf("err = %v, want ErrDuplicateIntent", err)
	}

	// The failed duplicate must not escrow a second bond.
	if got := f.vault.GetBalance(ledger.BondEscrowKey()); got != bond {
		t.Errorf("escrow = %d, want %d", got, bond)
	}
}

func TestSubmitIntent_ValidationFailures(t *testing.T) {
	f := setup(t)
	base := registry.SubmitParams{
		Submitter:            "alice",
		TargetAccount:        "borrower",
		TargetVenue:          "sim",
		HealthRatioThreshold: 900_000,
		MinPrice:             1_500_000_000,
		Deadline:             f.clock.Height() + 1_000,
		BondAmount:           bond,
	}

	tests := []struct {
		name   string
		mutate func(p *registry.SubmitParams)
	}{
		{"empty submitter", func(p *registry.SubmitParams) { p.Submitter = "" }},
		{"empty target", func(p *registry.SubmitParams) { p.TargetAccount = "" }},
		{"zero threshold", func(p *registry.SubmitParams) { p.HealthRatioThreshold = 0 }},
		{"threshold at one", func(p *registry.SubmitParams) { p.HealthRatioThreshold = 1_000_000 }},
		{"deadline in past", func(p *registry.SubmitParams) { p.Deadline = f.clock.Height() }},
		{"zero bond", func(p *registry.SubmitParams) { p.BondAmount = 0 }},
		{"bond above max", func(p *registry.SubmitParams) { p.BondAmount = registry.DefaultConfig().MaxBond + 1 }},
		{"venue not listed", func(p *registry.SubmitParams) { p.TargetVenue = "unknown" }},
		{"unfunded submitter", func(p *registry.SubmitParams) { p.Submitter = "pauper" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			if _, err := f.reg.SubmitIntent(context.Background(), p); !errors.Is(err, registry.ErrInvalidParameters) {
				t.Errorf("err = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

// ============================================================================
// Test: CancelIntent
// ============================================================================

func TestCancelIntent_TimelockThenRefund(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	ctx := context.Background()

	if err := f.reg.CancelIntent(ctx, id, "alice"); !errors.Is(err, registry.ErrTimelockActive) {
		t.Fatalf("early cancel err = %v, want ErrTimelockActive", err)
	}

	// One height before the timelock expires.
	f.clock.SetHeight(100 + registry.DefaultConfig().CancelTimelock - 1)
	if err := f.reg.CancelIntent(ctx, id, "alice"); !errors.Is(err, registry.ErrTimelockActive) {
		t.Fatalf("boundary cancel err = %v, want ErrTimelockActive", err)
	}

	f.clock.AdvanceHeight(1)
	if err := f.reg.CancelIntent(ctx, id, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	it, _ := f.reg.GetIntent(id)
	if it.State != intent.StateCancelled {
		t.Errorf("state = %s, want cancelled", it.State)
	}
	if it.BondAmount != 0 {
		t.Errorf("bond not zeroed: %d", it.BondAmount)
	}
	if got := f.vault.GetUserCollateral("alice", f.nativeID); got != 10*bond {
		t.Errorf("refund incomplete: %d", got)
	}
	if got := f.vault.GetBalance(ledger.BondEscrowKey()); got != 0 {
		t.Errorf("escrow not drained: %d", got)
	}
}

func TestCancelIntent_OnlySubmitter(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	f.clock.AdvanceHeight(100)

	if err := f.reg.CancelIntent(context.Background(), id, "mallory"); !errors.Is(err, registry.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestCancelIntent_NotFound(t *testing.T) {
	f := setup(t)
	var id intent.ID
	if err := f.reg.CancelIntent(context.Background(), id, "alice"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCancelIntent_AlreadyFinalized(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	f.clock.AdvanceHeight(100)
	ctx := context.Background()

	if err := f.reg.CancelIntent(ctx, id, "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.reg.CancelIntent(ctx, id, "alice"); !errors.Is(err, registry.ErrAlreadyFinalized) {
		t.Errorf("second cancel err = %v, want ErrAlreadyFinalized", err)
	}
	// A second cancel must not pay out again.
	if got := f.vault.GetUserCollateral("alice", f.nativeID); got != 10*bond {
		t.Errorf("double refund: %d", got)
	}
}

// ============================================================================
// Test: SlashIntent
// ============================================================================

func TestSlashIntent_SplitsBond(t *testing.T) {
	f := setup(t)
	id := submit(t, f)

	if err := f.reg.SlashIntent(context.Background(), id, authz.SettlementAuthority("engine")); err != nil {
		t.Fatalf("slash: %v", err)
	}

	it, _ := f.reg.GetIntent(id)
	if it.State != intent.StateSlashed {
		t.Errorf("state = %s, want slashed", it.State)
	}

	forfeit := bond * 2_000 / 10_000
	if got := f.insurance.Balance(); got != forfeit {
		t.Errorf("insurance = %d, want %d", got, forfeit)
	}
	if got := f.vault.GetBalance(ledger.InsuranceFundKey(f.nativeID)); got != forfeit {
		t.Errorf("insurance fund account = %d, want %d", got, forfeit)
	}
	if got := f.vault.GetUserCollateral("alice", f.nativeID); got != 10*bond-forfeit {
		t.Errorf("alice collateral = %d, want %d", got, 10*bond-forfeit)
	}
}

func TestSlashIntent_RequiresAuthority(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	ctx := context.Background()

	if err := f.reg.SlashIntent(ctx, id, authz.Liquidator("alice")); !errors.Is(err, registry.ErrUnauthorized) {
		t.Errorf("liquidator slash err = %v, want ErrUnauthorized", err)
	}

	// Admin may slash too.
	if err := f.reg.SlashIntent(ctx, id, authz.Admin("ops")); err != nil {
		t.Errorf("admin slash err = %v", err)
	}
}

func TestSlashIntent_AlreadyFinalized(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	ctx := context.Background()
	cap := authz.SettlementAuthority("engine")

	if err := f.reg.SlashIntent(ctx, id, cap); err != nil {
		t.Fatalf("slash: %v", err)
	}
	before := f.insurance.Balance()

	if err := f.reg.SlashIntent(ctx, id, cap); !errors.Is(err, registry.ErrAlreadyFinalized) {
		t.Errorf("second slash err = %v, want ErrAlreadyFinalized", err)
	}
	if got := f.insurance.Balance(); got != before {
		t.Errorf("double slash credited insurance: %d != %d", got, before)
	}
}

// ============================================================================
// Test: MarkExecuted / Settle
// ============================================================================

func TestMarkExecuted_ReleasesFullBond(t *testing.T) {
	f := setup(t)
	id := submit(t, f)

	if err := f.reg.MarkExecuted(context.Background(), id, authz.SettlementAuthority("engine")); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	it, _ := f.reg.GetIntent(id)
	if it.State != intent.StateExecuted {
		t.Errorf("state = %s, want executed", it.State)
	}
	if got := f.vault.GetUserCollateral("alice", f.nativeID); got != 10*bond {
		t.Errorf("bond not fully released: %d", got)
	}
	if got := f.insurance.Balance(); got != 0 {
		t.Errorf("execution must not credit insurance: %d", got)
	}
}

func TestMarkExecuted_AuthorityOnly(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	ctx := context.Background()

	for _, cap := range []authz.Capability{authz.Liquidator("alice"), authz.Admin("ops")} {
		if err := f.reg.MarkExecuted(ctx, id, cap); !errors.Is(err, registry.ErrUnauthorized) {
			t.Errorf("%s mark executed err = %v, want ErrUnauthorized", cap, err)
		}
	}
}

func TestSettle_ActionFailureLeavesPending(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	boom := errors.New("boom")

	err := f.reg.Settle(context.Background(), id, authz.SettlementAuthority("engine"),
		func(intent.Intent) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	it, _ := f.reg.GetIntent(id)
	if it.State != intent.StatePending {
		t.Errorf("state = %s, want pending", it.State)
	}
	if got := f.vault.GetBalance(ledger.BondEscrowKey()); got != bond {
		t.Errorf("bond moved on failed settle: %d", got)
	}
}

func TestSettle_FinalizedIntentRejected(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	ctx := context.Background()
	cap := authz.SettlementAuthority("engine")

	if err := f.reg.SlashIntent(ctx, id, cap); err != nil {
		t.Fatalf("slash: %v", err)
	}

	err := f.reg.Settle(ctx, id, cap, func(intent.Intent) error { return nil })
	if !errors.Is(err, registry.ErrIntentNotPending) {
		t.Errorf("err = %v, want ErrIntentNotPending", err)
	}
}

// Concurrent terminal transitions: exactly one wins, the bond is disbursed
// exactly once.
func TestConcurrentFinalization_SingleWinner(t *testing.T) {
	f := setup(t)
	id := submit(t, f)
	f.clock.AdvanceHeight(100)
	ctx := context.Background()

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts*2)

	for i := 0; i < attempts; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			results <- f.reg.CancelIntent(ctx, id, "alice")
		}()
		go func() {
			defer wg.Done()
			results <- f.reg.SlashIntent(ctx, id, authz.SettlementAuthority("engine"))
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	// Bond conservation: escrow drained, alice + insurance hold the bond.
	escrow := f.vault.GetBalance(ledger.BondEscrowKey())
	if escrow != 0 {
		t.Errorf("escrow = %d, want 0", escrow)
	}
	alice := f.vault.GetUserCollateral("alice", f.nativeID)
	insuranceBal := f.vault.GetBalance(ledger.InsuranceFundKey(f.nativeID))
	if alice+insuranceBal != 10*bond {
		t.Errorf("bond not conserved: alice=%d insurance=%d", alice, insuranceBal)
	}
}

// Concurrent submissions of distinct intents by one submitter cannot escrow
// more bond than the submitter holds: the sufficiency check and the escrow
// transfer are a single atomic ledger operation.
func TestConcurrentSubmit_CannotOverdrawCollateral(t *testing.T) {
	vault := ledger.NewBalanceTracker()
	ins := insurance.NewLedger()
	clock := chain.NewManualClock(100, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	reg := registry.New(registry.DefaultConfig(), clock, vault, ins,
		venue.NewAllowList("sim"), nil, nil, zerolog.Nop(), nil)
	nativeID, _ := ledger.GetAssetID(ledger.NativeAsset)

	// Funding for exactly one bond.
	testutil.FundCollateral(t, vault, "alice", ledger.NativeAsset, bond)

	const attempts = 20
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.SubmitIntent(context.Background(), registry.SubmitParams{
				Submitter:            "alice",
				TargetAccount:        fmt.Sprintf("borrower-%d", i),
				TargetVenue:          "sim",
				HealthRatioThreshold: 900_000,
				MinPrice:             1,
				Deadline:             clock.Height() + 1_000,
				BondAmount:           bond,
			})
			if err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, registry.ErrInvalidParameters) {
				t.Errorf("loser err = %v, want ErrInvalidParameters", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Errorf("winners = %d, want exactly 1", got)
	}
	if got := vault.GetUserCollateral("alice", nativeID); got != 0 {
		t.Errorf("alice collateral = %d, want 0 and never negative", got)
	}
	if got := vault.GetBalance(ledger.BondEscrowKey()); got != bond {
		t.Errorf("escrow = %d, want exactly one bond %d", got, bond)
	}
}

// ============================================================================
// Test: venue administration
// ============================================================================

func TestVenueAdministration(t *testing.T) {
	f := setup(t)

	if err := f.reg.AddVenue("aave", authz.Liquidator("alice")); !errors.Is(err, registry.ErrUnauthorized) {
		t.Errorf("non-admin add err = %v", err)
	}
	if err := f.reg.AddVenue("aave", authz.Admin("ops")); err != nil {
		t.Fatalf("add venue: %v", err)
	}

	_, err := f.reg.SubmitIntent(context.Background(), registry.SubmitParams{
		Submitter:            "alice",
		TargetAccount:        "borrower",
		TargetVenue:          "aave",
		HealthRatioThreshold: 900_000,
		MinPrice:             1,
		Deadline:             f.clock.Height() + 10,
		BondAmount:           bond,
	})
	if err != nil {
		t.Fatalf("submit to new venue: %v", err)
	}

	if err := f.reg.RemoveVenue("aave", authz.Admin("ops")); err != nil {
		t.Fatalf("remove venue: %v", err)
	}
	_, err = f.reg.SubmitIntent(context.Background(), registry.SubmitParams{
		Submitter:            "alice",
		TargetAccount:        "other",
		TargetVenue:          "aave",
		HealthRatioThreshold: 900_000,
		MinPrice:             1,
		Deadline:             f.clock.Height() + 10,
		BondAmount:           bond,
	})
	if !errors.Is(err, registry.ErrInvalidParameters) {
		t.Errorf("submit to removed venue err = %v", err)
	}
}
