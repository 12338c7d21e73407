package ledger

import (
	"fmt"
	"sync"
)

// BalanceTracker maintains in-memory account balances.
// Safe for concurrent use: settlements on distinct intents run in parallel
// and all touch the shared vault.
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyBatch validates and applies all journals in a batch atomically.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()

	for _, j := range batch.Journals {
		bt.balances[j.DebitAccount] += j.Amount
		bt.balances[j.CreditAccount] -= j.Amount
	}

	return nil
}

// ApplyBatchChecked applies the batch and enforces that every guarded account
// ends non-negative, all under one lock acquisition. A validate-then-apply
// pair over two acquisitions lets concurrent writers from the same source
// account both pass the check and overdraw it; this closes that window. On a
// guard violation the batch is undone and no balance changes.
func (bt *BalanceTracker) ApplyBatchChecked(batch *Batch, guarded ...AccountKey) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	bt.mu.Lock()
	defer bt.mu.Unlock()

	for _, j := range batch.Journals {
		bt.balances[j.DebitAccount] += j.Amount
		bt.balances[j.CreditAccount] -= j.Amount
	}

	for _, key := range guarded {
		if balance := bt.balances[key]; balance < 0 {
			for _, j := range batch.Journals {
				bt.balances[j.DebitAccount] -= j.Amount
				bt.balances[j.CreditAccount] += j.Amount
			}
			return fmt.Errorf("insufficient balance: account %s would go to %d", key.AccountPath(), balance)
		}
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.balances[key]
}

// GetUserCollateral returns an actor's free balance in an asset.
func (bt *BalanceTracker) GetUserCollateral(actor string, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(actor, SubTypeCollateral, assetID))
}

// GetUserRewards returns an actor's accrued settlement-profit balance (quote units).
func (bt *BalanceTracker) GetUserRewards(actor string, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(actor, SubTypeRewards, assetID))
}

// ValidateSufficientCollateral checks that an actor can fund an outgoing transfer.
func (bt *BalanceTracker) ValidateSufficientCollateral(actor string, assetID AssetID, required int64) error {
	have := bt.GetUserCollateral(actor, assetID)
	if have < required {
		return fmt.Errorf("insufficient collateral: have=%d, need=%d", have, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (must be 0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	totals := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}
	return totals
}

// Snapshot returns a copy of all balances
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
