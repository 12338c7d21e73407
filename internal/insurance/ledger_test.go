package insurance_test

import (
	"errors"
	"sync"
	"testing"

	"IntentLedger/internal/authz"
	"IntentLedger/internal/insurance"
)

func TestLedger_CreditAndBalance(t *testing.T) {
	l := insurance.NewLedger()

	if err := l.Credit(100, "slash:abc"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Credit(50, "skim:def"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := l.Balance(); got != 150 {
		t.Errorf("balance = %d, want 150", got)
	}

	history := l.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Kind != insurance.EntryCredit || history[0].Amount != 100 {
		t.Errorf("unexpected first entry: %+v", history[0])
	}
}

func TestLedger_CreditRejectsNonPositive(t *testing.T) {
	l := insurance.NewLedger()
	if err := l.Credit(0, "x"); !errors.Is(err, insurance.ErrInvalidAmount) {
		t.Errorf("credit(0) err = %v", err)
	}
	if err := l.Credit(-5, "x"); !errors.Is(err, insurance.ErrInvalidAmount) {
		t.Errorf("credit(-5) err = %v", err)
	}
}

func TestLedger_WithdrawRequiresAdmin(t *testing.T) {
	l := insurance.NewLedger()
	l.Credit(100, "seed")

	if err := l.Withdraw(10, "treasury", authz.Liquidator("alice")); !errors.Is(err, insurance.ErrUnauthorized) {
		t.Errorf("liquidator withdraw err = %v", err)
	}
	if err := l.Withdraw(10, "treasury", authz.SettlementAuthority("engine")); !errors.Is(err, insurance.ErrUnauthorized) {
		t.Errorf("authority withdraw err = %v", err)
	}
	if err := l.Withdraw(10, "treasury", authz.Admin("ops")); err != nil {
		t.Errorf("admin withdraw err = %v", err)
	}
	if got := l.Balance(); got != 90 {
		t.Errorf("balance = %d, want 90", got)
	}
}

func TestLedger_WithdrawInsufficientBalance(t *testing.T) {
	l := insurance.NewLedger()
	l.Credit(50, "seed")

	if err := l.Withdraw(51, "treasury", authz.Admin("ops")); !errors.Is(err, insurance.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.Balance(); got != 50 {
		t.Errorf("failed withdraw changed balance: %d", got)
	}
}

// Concurrent credits and withdrawals must conserve value and never drive the
// balance negative.
func TestLedger_ConcurrentConservation(t *testing.T) {
	l := insurance.NewLedger()
	admin := authz.Admin("ops")

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	var withdrawn sync.Map

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var got int64
			for i := 0; i < perWorker; i++ {
				l.Credit(3, "skim")
				if err := l.Withdraw(2, "treasury", admin); err == nil {
					got += 2
				}
			}
			withdrawn.Store(w, got)
		}(w)
	}
	wg.Wait()

	var totalWithdrawn int64
	withdrawn.Range(func(_, v interface{}) bool {
		totalWithdrawn += v.(int64)
		return true
	})

	credited := int64(workers * perWorker * 3)
	if got := l.Balance(); got != credited-totalWithdrawn {
		t.Errorf("balance = %d, want %d", got, credited-totalWithdrawn)
	}
	if l.Balance() < 0 {
		t.Error("balance went negative")
	}
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []insurance.Entry
}

func (r *captureRecorder) RecordEntry(e insurance.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func TestLedger_RecorderSeesEntries(t *testing.T) {
	l := insurance.NewLedger()
	rec := &captureRecorder{}
	l.SetRecorder(rec)

	l.Credit(10, "skim:a")
	l.Withdraw(4, "treasury", authz.Admin("ops"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.entries) != 2 {
		t.Fatalf("recorded %d entries, want 2", len(rec.entries))
	}
	if rec.entries[1].Kind != insurance.EntryWithdrawal || rec.entries[1].Amount != 4 {
		t.Errorf("unexpected withdrawal entry: %+v", rec.entries[1])
	}
}
