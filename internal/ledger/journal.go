package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeBondEscrow
	JournalTypeBondRefund
	JournalTypeBondSlash
	JournalTypeDebtPull
	JournalTypeDebtRepay
	JournalTypeCollateralSeize
	JournalTypeCollateralPayout
	JournalTypeInsuranceSkim
	JournalTypeTreasuryFee
	JournalTypeRewardAccrual
	JournalTypeRewardClaim
	JournalTypeInsuranceWithdraw
	JournalTypeAdjustment
)

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Intent id (hex) or other operation reference
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Epoch microseconds of the owning operation
}

// Batch represents a balanced set of journal entries applied atomically
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// NewBatch creates an empty batch bound to an operation reference.
func NewBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Timestamp: timestamp,
	}
}

// Add appends a transfer of amount from credit to debit account.
func (b *Batch) Add(jt JournalType, debit, credit AccountKey, assetID AssetID, amount int64) {
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Reverse builds the compensating batch that undoes every entry in b.
// Used to roll back the settlement pull when the venue call fails.
func (b *Batch) Reverse() *Batch {
	rev := NewBatch(b.EventRef, b.Timestamp)
	for _, j := range b.Journals {
		rev.Add(JournalTypeAdjustment, j.CreditAccount, j.DebitAccount, j.AssetID, j.Amount)
	}
	return rev
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by construction
// (a single positive amount moves from credit account to debit account). Therefore
// sum(debits) == sum(credits) is guaranteed per-entry. Multi-leg batches (e.g., a
// settlement with fee legs) use multiple entries under one batch_id — each
// individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
