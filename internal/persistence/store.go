// Package persistence is the write-behind Postgres layer: domain writes go
// onto a persist channel, a worker batches them into transactional multi-row
// statements, and recovery reloads state at startup.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"IntentLedger/internal/insurance"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/settlement"
)

// Store converts domain records to rows and feeds the persist channel.
// Sends block: a slow worker stalls writers instead of losing records.
type Store struct {
	ch chan<- Record
}

func NewStore(ch chan<- Record) *Store {
	return &Store{ch: ch}
}

// SaveIntent enqueues an intent upsert.
func (s *Store) SaveIntent(ctx context.Context, it intent.Intent) error {
	s.ch <- Record{Intent: &IntentRow{
		IntentID:             it.ID.String(),
		Submitter:            it.Submitter,
		TargetAccount:        it.TargetAccount,
		TargetVenue:          it.TargetVenue,
		HealthRatioThreshold: it.HealthRatioThreshold,
		MinPrice:             it.MinPrice,
		Deadline:             int64(it.Deadline),
		BondAmount:           it.BondAmount,
		State:                it.State.String(),
		CreatedAtHeight:      int64(it.CreatedAt),
		UpdatedAt:            time.Now(),
	}}
	return nil
}

// SaveExecution enqueues an execution insert.
func (s *Store) SaveExecution(ctx context.Context, ex settlement.Execution) error {
	s.ch <- Record{Execution: &ExecutionRow{
		IntentID:         ex.IntentID,
		Caller:           ex.Caller,
		Venue:            ex.Venue,
		CollateralAsset:  ex.CollateralAsset,
		DebtAsset:        ex.DebtAsset,
		DebtRepaid:       ex.DebtRepaid,
		CollateralSeized: ex.CollateralSeized,
		DebtValue:        ex.DebtValue,
		SeizedValue:      ex.SeizedValue,
		Profit:           ex.Profit,
		InsuranceFee:     ex.InsuranceFee,
		TreasuryFee:      ex.TreasuryFee,
		RewardAccrued:    ex.RewardAccrued,
		Height:           int64(ex.Height),
		ExecutedAt:       ex.ExecutedAt,
	}}
	return nil
}

// RecordEntry enqueues an insurance ledger append.
func (s *Store) RecordEntry(e insurance.Entry) {
	s.ch <- Record{Insurance: &InsuranceRow{
		EntryID:   uuid.NewString(),
		Kind:      e.Kind.String(),
		Amount:    e.Amount,
		Reason:    e.Reason,
		Timestamp: e.Timestamp,
	}}
}
