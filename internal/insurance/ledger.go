// Package insurance tracks the protocol backstop balance: credits from
// settlement skims and slashed bonds, debits from admin withdrawals.
package insurance

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"IntentLedger/internal/authz"
)

var (
	ErrInvalidAmount       = errors.New("insurance: amount must be positive")
	ErrUnauthorized        = errors.New("insurance: unauthorized")
	ErrInsufficientBalance = errors.New("insurance: insufficient balance")
)

// EntryKind discriminates ledger history records.
type EntryKind uint8

const (
	EntryCredit EntryKind = iota + 1
	EntryWithdrawal
)

func (k EntryKind) String() string {
	switch k {
	case EntryCredit:
		return "credit"
	case EntryWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// Entry is one immutable history record.
type Entry struct {
	Kind      EntryKind
	Amount    int64
	Reason    string // credit source or withdrawal recipient
	Timestamp time.Time
}

// Recorder receives every appended entry, for write-behind persistence.
// Calls happen under the history mutex and must not block for long.
type Recorder interface {
	RecordEntry(e Entry)
}

// Ledger is the single running backstop balance. The balance is an atomic
// counter: concurrent settlements skim fees without lost updates, and
// withdrawals use a compare-and-swap loop so the balance can never go
// negative.
type Ledger struct {
	balance atomic.Int64

	mu       sync.Mutex
	history  []Entry
	recorder Recorder
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Credit adds amount to the backstop. Internal-only: called by the
// settlement engine (profit skim) and the registry (slash forfeits).
func (l *Ledger) Credit(amount int64, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.balance.Add(amount)
	l.appendEntry(Entry{Kind: EntryCredit, Amount: amount, Reason: reason, Timestamp: time.Now()})
	return nil
}

// Withdraw moves amount to recipient. Admin capability required.
func (l *Ledger) Withdraw(amount int64, recipient string, cap authz.Capability) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !cap.CanAdministrate() {
		return ErrUnauthorized
	}

	for {
		cur := l.balance.Load()
		if cur < amount {
			return ErrInsufficientBalance
		}
		if l.balance.CompareAndSwap(cur, cur-amount) {
			break
		}
	}

	l.appendEntry(Entry{Kind: EntryWithdrawal, Amount: amount, Reason: recipient, Timestamp: time.Now()})
	return nil
}

// Balance returns the current backstop balance.
func (l *Ledger) Balance() int64 {
	return l.balance.Load()
}

// Restore sets the balance from persisted state at startup.
func (l *Ledger) Restore(balance int64) {
	l.balance.Store(balance)
}

// History returns a copy of all entries, oldest first.
func (l *Ledger) History() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.history))
	copy(out, l.history)
	return out
}

// SetRecorder attaches a persistence recorder. Entries appended before the
// recorder is set stay in-memory only.
func (l *Ledger) SetRecorder(r Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

func (l *Ledger) appendEntry(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, e)
	if l.recorder != nil {
		l.recorder.RecordEntry(e)
	}
}
