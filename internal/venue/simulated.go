package venue

import (
	"context"
	"fmt"

	"IntentLedger/internal/fixmath"
	"IntentLedger/internal/ledger"
	"IntentLedger/internal/oracle"
)

// SimulatedVenue models a lending venue against the in-process vault. It
// exchanges repaid debt for seized collateral at oracle prices plus a
// liquidation bonus, and keeps the position cache consistent so a second
// liquidator observes the post-liquidation state.
//
// The adapter re-checks eligibility itself: the engine's oracle read is a
// pre-lock snapshot and the position may have recovered or closed since. An
// ineligible position is not an error at this layer; the call succeeds with
// nothing seized and the engine observes a zero balance delta.
type SimulatedVenue struct {
	name      string
	vault     *ledger.BalanceTracker
	positions *oracle.PositionCache
	prices    oracle.PriceOracle
	bonusBps  int64
}

func NewSimulatedVenue(name string, vault *ledger.BalanceTracker, positions *oracle.PositionCache, prices oracle.PriceOracle, bonusBps int64) *SimulatedVenue {
	return &SimulatedVenue{
		name:      name,
		vault:     vault,
		positions: positions,
		prices:    prices,
		bonusBps:  bonusBps,
	}
}

func (v *SimulatedVenue) Liquidate(ctx context.Context, collateralAsset, debtAsset, account string, debtToCover int64) error {
	reading, err := v.positions.Read(ctx, account, v.name)
	if err != nil {
		// Unknown position: nothing to liquidate, nothing seized.
		return nil
	}
	if reading.DebtValue == 0 || reading.HealthRatio >= fixmath.RatioConfig.Scale {
		// Recovered or already closed: nothing seized.
		return nil
	}

	colID, ok := ledger.GetAssetID(collateralAsset)
	if !ok {
		return fmt.Errorf("%w: unknown collateral asset %s", ErrCallFailed, collateralAsset)
	}
	debtID, ok := ledger.GetAssetID(debtAsset)
	if !ok {
		return fmt.Errorf("%w: unknown debt asset %s", ErrCallFailed, debtAsset)
	}

	colPrice, err := v.prices.Price(ctx, collateralAsset)
	if err != nil {
		return fmt.Errorf("%w: no price for %s", ErrCallFailed, collateralAsset)
	}
	debtPrice, err := v.prices.Price(ctx, debtAsset)
	if err != nil {
		return fmt.Errorf("%w: no price for %s", ErrCallFailed, debtAsset)
	}

	// Seize collateral worth the repaid debt plus the liquidation bonus,
	// capped at what the position holds.
	debtValue := fixmath.ValueInQuote(debtToCover, debtPrice)
	seizeValue := debtValue + fixmath.BpsOf(debtValue, v.bonusBps)
	if seizeValue > reading.CollateralValue {
		seizeValue = reading.CollateralValue
	}
	seized := fixmath.AmountForValue(seizeValue, colPrice)
	if seized <= 0 {
		// Nothing left to seize: the engine observes a zero balance delta.
		return nil
	}

	batch := ledger.NewBatch(fmt.Sprintf("venue:%s:%s", v.name, account), 0)
	batch.Add(ledger.JournalTypeDebtRepay,
		ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, debtID),
		ledger.SettlementKey(debtID),
		debtID, debtToCover)
	batch.Add(ledger.JournalTypeCollateralSeize,
		ledger.SettlementKey(colID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, colID),
		colID, seized)
	if err := v.vault.ApplyBatch(batch); err != nil {
		return fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	// Reflect the liquidation in the position snapshot.
	reading.CollateralValue -= seizeValue
	reading.DebtValue -= debtValue
	if reading.CollateralValue < 0 {
		reading.CollateralValue = 0
	}
	if reading.DebtValue < 0 {
		reading.DebtValue = 0
	}
	reading.HealthRatio = fixmath.HealthRatio(reading.CollateralValue, reading.DebtValue)
	if reading.DebtValue == 0 {
		reading.HealthRatio = fixmath.RatioConfig.Scale
	}
	v.positions.Update(account, v.name, reading)

	return nil
}
