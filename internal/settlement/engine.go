// Package settlement drives proof-gated liquidation execution: ordered
// precondition checks, the atomic transfer step with compensating rollback,
// and proceeds distribution across caller, insurance, and treasury.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"IntentLedger/internal/authz"
	"IntentLedger/internal/chain"
	"IntentLedger/internal/event"
	"IntentLedger/internal/fixmath"
	"IntentLedger/internal/insurance"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/ledger"
	"IntentLedger/internal/observability"
	"IntentLedger/internal/oracle"
	"IntentLedger/internal/registry"
	"IntentLedger/internal/venue"
)

var (
	ErrInvalidParameters       = errors.New("settlement: invalid parameters")
	ErrIntentExpired           = errors.New("settlement: intent deadline passed")
	ErrUnauthorized            = errors.New("settlement: caller is not the submitter")
	ErrProofInvalid            = errors.New("settlement: proof invalid")
	ErrProofExpired            = errors.New("settlement: proof outside freshness window")
	ErrPositionNotLiquidatable = errors.New("settlement: position not liquidatable")
	ErrExceedsCloseFactor      = errors.New("settlement: debt to cover exceeds close factor")
	ErrUnpricedAsset           = errors.New("settlement: no price for asset")
	ErrSlippageExceeded        = errors.New("settlement: collateral price below intent minimum")
	ErrVenueCallFailed         = errors.New("settlement: venue liquidation call failed")
	ErrNoCollateralSeized      = errors.New("settlement: venue call seized no collateral")
	ErrNotFound                = errors.New("settlement: execution not found")
	ErrNoRewards               = errors.New("settlement: no claimable rewards")
)

// Store persists execution records and reward claims.
type Store interface {
	SaveExecution(ctx context.Context, ex Execution) error
}

type nopStore struct{}

func (nopStore) SaveExecution(context.Context, Execution) error { return nil }

// Config holds the engine's policy constants.
type Config struct {
	// FreshnessWindow bounds proof age at execution time.
	FreshnessWindow time.Duration
	// CloseFactorBps caps repayable debt per settlement (basis points of
	// the position's outstanding debt value).
	CloseFactorBps int64
	// InsuranceFeeBps is skimmed from positive settlement profit into the
	// insurance ledger.
	InsuranceFeeBps int64
	// TreasuryFeeBps is the protocol treasury's share of positive profit.
	TreasuryFeeBps int64
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow: time.Hour,
		CloseFactorBps:  5_000, // 50%
		InsuranceFeeBps: 50,    // 0.5%
		TreasuryFeeBps:  100,   // 1%
	}
}

// Engine settles Pending intents. Oracle reads happen before the per-id lock
// is taken and are a snapshot; the venue adapter re-validates at the point of
// transfer. The mutating step runs under the registry's per-id lock and is
// all-or-nothing.
type Engine struct {
	cfg       Config
	reg       *registry.Registry
	vault     *ledger.BalanceTracker
	venues    *venue.Directory
	proofs    oracle.ProofOracle
	positions oracle.PositionOracle
	prices    oracle.PriceOracle
	insurance *insurance.Ledger
	clock     chain.Clock
	authority authz.Capability

	mu         sync.RWMutex
	executions map[intent.ID]Execution

	store   Store
	events  event.Sink
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewEngine(cfg Config, reg *registry.Registry, vault *ledger.BalanceTracker, venues *venue.Directory, proofs oracle.ProofOracle, positions oracle.PositionOracle, prices oracle.PriceOracle, ins *insurance.Ledger, clock chain.Clock, authority authz.Capability, store Store, events event.Sink, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	if store == nil {
		store = nopStore{}
	}
	if events == nil {
		events = event.NopSink{}
	}
	return &Engine{
		cfg:        cfg,
		reg:        reg,
		vault:      vault,
		venues:     venues,
		proofs:     proofs,
		positions:  positions,
		prices:     prices,
		insurance:  ins,
		clock:      clock,
		authority:  authority,
		executions: make(map[intent.ID]Execution),
		store:      store,
		events:     events,
		log:        log,
		metrics:    metrics,
	}
}

// ExecuteLiquidation runs the full settlement of one intent. Preconditions
// are checked in a fixed order and the first failure wins; nothing is
// transferred until every check passes. On success the intent is finalized
// and its bond released through the registry under the same per-id lock.
func (e *Engine) ExecuteLiquidation(ctx context.Context, id intent.ID, collateralAsset, debtAsset string, debtToCover int64, caller string) (Execution, error) {
	start := time.Now()

	ex, err := e.executeLiquidation(ctx, id, collateralAsset, debtAsset, debtToCover, caller)
	if err != nil {
		e.countFailure(err)
		return Execution{}, err
	}

	if e.metrics != nil {
		e.metrics.SettlementsCompleted.WithLabelValues(ex.Venue).Inc()
		e.metrics.SettlementDuration.Observe(time.Since(start).Seconds())
		if ex.Profit > 0 {
			e.metrics.SettlementProfit.Add(float64(ex.Profit))
		}
	}
	return ex, nil
}

func (e *Engine) executeLiquidation(ctx context.Context, id intent.ID, collateralAsset, debtAsset string, debtToCover int64, caller string) (Execution, error) {
	if debtToCover <= 0 {
		return Execution{}, fmt.Errorf("%w: debt to cover must be positive", ErrInvalidParameters)
	}
	colID, ok := ledger.GetAssetID(collateralAsset)
	if !ok {
		return Execution{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidParameters, collateralAsset)
	}
	debtID, ok := ledger.GetAssetID(debtAsset)
	if !ok {
		return Execution{}, fmt.Errorf("%w: unknown asset %q", ErrInvalidParameters, debtAsset)
	}

	it, err := e.reg.GetIntent(id)
	if err != nil {
		return Execution{}, err
	}
	if it.State != intent.StatePending {
		return Execution{}, fmt.Errorf("%w: state=%s", registry.ErrIntentNotPending, it.State)
	}

	height := e.clock.Height()
	if height > it.Deadline {
		return Execution{}, fmt.Errorf("%w: deadline %d, height %d", ErrIntentExpired, it.Deadline, height)
	}

	if caller != it.Submitter {
		return Execution{}, fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}

	proof, err := e.proofs.Check(ctx, id)
	if err != nil || !proof.Valid {
		return Execution{}, fmt.Errorf("%w: %s", ErrProofInvalid, id)
	}
	if age := e.clock.Now().Sub(proof.VerifiedAt); age > e.cfg.FreshnessWindow {
		return Execution{}, fmt.Errorf("%w: proof age %s exceeds %s", ErrProofExpired, age, e.cfg.FreshnessWindow)
	}

	// Snapshot read. The position may recover before the transfer; the
	// venue re-validates and the call fails closed.
	reading, err := e.positions.Read(ctx, it.TargetAccount, it.TargetVenue)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: %s@%s", ErrPositionNotLiquidatable, it.TargetAccount, it.TargetVenue)
	}
	// The protocol-wide bound only: the intent's own health threshold is the
	// prover's concern, attested by the proof, not re-checked at settlement.
	if reading.DebtValue == 0 || reading.HealthRatio >= fixmath.RatioConfig.Scale {
		return Execution{}, fmt.Errorf("%w: health=%d debt=%d", ErrPositionNotLiquidatable, reading.HealthRatio, reading.DebtValue)
	}

	debtPrice, err := e.prices.Price(ctx, debtAsset)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: %s", ErrUnpricedAsset, debtAsset)
	}
	debtValue := fixmath.ValueInQuote(debtToCover, debtPrice)
	if maxRepay := fixmath.BpsOf(reading.DebtValue, e.cfg.CloseFactorBps); debtValue > maxRepay {
		return Execution{}, fmt.Errorf("%w: repaying %d, max %d", ErrExceedsCloseFactor, debtValue, maxRepay)
	}

	colPrice, err := e.prices.Price(ctx, collateralAsset)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: %s", ErrUnpricedAsset, collateralAsset)
	}
	if colPrice < it.MinPrice {
		return Execution{}, fmt.Errorf("%w: price %d below minimum %d", ErrSlippageExceeded, colPrice, it.MinPrice)
	}

	ven, err := e.venues.Lookup(it.TargetVenue)
	if err != nil {
		return Execution{}, fmt.Errorf("%w: %s", ErrVenueCallFailed, it.TargetVenue)
	}

	var ex Execution
	err = e.reg.Settle(ctx, id, e.authority, func(it intent.Intent) error {
		ex, err = e.settleLocked(ctx, it, ven, colID, debtID, collateralAsset, debtAsset, debtToCover, debtValue, colPrice, caller, height)
		return err
	})
	if err != nil {
		return Execution{}, err
	}

	e.mu.Lock()
	e.executions[id] = ex
	e.mu.Unlock()

	if err := e.store.SaveExecution(ctx, ex); err != nil {
		e.log.Error().Err(err).Str("intent_id", id.String()).Msg("persist execution failed")
	}

	e.events.Emit(event.Event{
		Kind:      event.KindSettlementCompleted,
		IntentID:  id.String(),
		Venue:     ex.Venue,
		Payload:   ex,
		Timestamp: ex.ExecutedAt,
	})

	e.log.Info().
		Str("intent_id", id.String()).
		Str("venue", ex.Venue).
		Int64("debt_repaid", ex.DebtRepaid).
		Int64("collateral_seized", ex.CollateralSeized).
		Int64("profit", ex.Profit).
		Msg("settlement completed")

	return ex, nil
}

// settleLocked is the atomic step, run under the registry's per-id lock. It
// either completes every transfer or reverses the debt pull and leaves all
// balances untouched.
func (e *Engine) settleLocked(ctx context.Context, it intent.Intent, ven venue.Venue, colID, debtID ledger.AssetID, collateralAsset, debtAsset string, debtToCover, debtValue, colPrice int64, caller string, height uint64) (Execution, error) {
	now := e.clock.Now()
	ref := it.ID.String()

	// Pull the repayment into the settlement account so the venue call is
	// funded. Sufficiency is enforced inside the same lock acquisition that
	// moves the funds; a concurrent pull from the same caller cannot
	// overdraw the account. Everything after this point must either finish
	// or reverse.
	callerKey := ledger.NewUserAccountKey(caller, ledger.SubTypeCollateral, debtID)
	pull := ledger.NewBatch(ref, now.UnixMicro())
	pull.Add(ledger.JournalTypeDebtPull,
		ledger.SettlementKey(debtID),
		callerKey,
		debtID, debtToCover)
	if err := e.vault.ApplyBatchChecked(pull, callerKey); err != nil {
		return Execution{}, fmt.Errorf("%w: debt pull: %v", ErrInvalidParameters, err)
	}

	rollback := func() {
		if err := e.vault.ApplyBatch(pull.Reverse()); err != nil {
			e.log.Error().Err(err).Str("intent_id", ref).Msg("rollback failed, ledger inconsistent")
		}
	}

	colBefore := e.vault.GetBalance(ledger.SettlementKey(colID))

	if err := ven.Liquidate(ctx, collateralAsset, debtAsset, it.TargetAccount, debtToCover); err != nil {
		rollback()
		return Execution{}, fmt.Errorf("%w: %v", ErrVenueCallFailed, err)
	}

	// Seized collateral is measured as the settlement account's balance
	// delta, never the venue's claim.
	seized := e.vault.GetBalance(ledger.SettlementKey(colID)) - colBefore
	if seized <= 0 {
		rollback()
		return Execution{}, fmt.Errorf("%w: %s@%s", ErrNoCollateralSeized, it.TargetAccount, it.TargetVenue)
	}

	seizedValue := fixmath.ValueInQuote(seized, colPrice)
	profit := seizedValue - debtValue

	var insuranceFee, treasuryFee, reward int64
	if profit > 0 {
		insuranceFee = fixmath.BpsOf(profit, e.cfg.InsuranceFeeBps)
		treasuryFee = fixmath.BpsOf(profit, e.cfg.TreasuryFeeBps)
		reward = profit - insuranceFee - treasuryFee
	}

	// Fees come out of the seized collateral in kind at the oracle price.
	insuranceFeeAmt := fixmath.AmountForValue(insuranceFee, colPrice)
	treasuryFeeAmt := fixmath.AmountForValue(treasuryFee, colPrice)
	payout := seized - insuranceFeeAmt - treasuryFeeAmt

	quoteID, _ := ledger.GetAssetID(ledger.QuoteAsset)

	dist := ledger.NewBatch(ref, now.UnixMicro())
	if payout > 0 {
		dist.Add(ledger.JournalTypeCollateralPayout,
			ledger.NewUserAccountKey(caller, ledger.SubTypeCollateral, colID),
			ledger.SettlementKey(colID),
			colID, payout)
	}
	if insuranceFeeAmt > 0 {
		dist.Add(ledger.JournalTypeInsuranceSkim,
			ledger.InsuranceFundKey(colID),
			ledger.SettlementKey(colID),
			colID, insuranceFeeAmt)
	}
	if treasuryFeeAmt > 0 {
		dist.Add(ledger.JournalTypeTreasuryFee,
			ledger.TreasuryKey(colID),
			ledger.SettlementKey(colID),
			colID, treasuryFeeAmt)
	}
	if reward > 0 {
		dist.Add(ledger.JournalTypeRewardAccrual,
			ledger.NewUserAccountKey(caller, ledger.SubTypeRewards, quoteID),
			ledger.NewExternalAccountKey(ledger.SubTypeExternalFunding, quoteID),
			quoteID, reward)
	}
	if err := e.vault.ApplyBatch(dist); err != nil {
		// Distribution only moves funds the settlement account just
		// received; a failure here means the batch itself is malformed.
		rollback()
		return Execution{}, fmt.Errorf("%w: distribution: %v", ErrVenueCallFailed, err)
	}

	if insuranceFee > 0 {
		if err := e.insurance.Credit(insuranceFee, "skim:"+ref); err != nil {
			e.log.Error().Err(err).Str("intent_id", ref).Msg("insurance credit failed")
		}
		if e.metrics != nil {
			e.metrics.InsuranceCredits.WithLabelValues("skim").Add(float64(insuranceFee))
			e.metrics.InsuranceBalance.Set(float64(e.insurance.Balance()))
		}
	}

	return Execution{
		IntentID:         ref,
		Caller:           caller,
		Venue:            it.TargetVenue,
		CollateralAsset:  collateralAsset,
		DebtAsset:        debtAsset,
		DebtRepaid:       debtToCover,
		CollateralSeized: seized,
		DebtValue:        debtValue,
		SeizedValue:      seizedValue,
		Profit:           profit,
		InsuranceFee:     insuranceFee,
		TreasuryFee:      treasuryFee,
		RewardAccrued:    reward,
		Height:           height,
		ExecutedAt:       now,
	}, nil
}

// GetExecution returns the settlement record for an intent.
func (e *Engine) GetExecution(id intent.ID) (Execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ex, ok := e.executions[id]
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ex, nil
}

// ClaimRewards converts the caller's accrued reward balance into spendable
// quote collateral and returns the claimed amount.
func (e *Engine) ClaimRewards(ctx context.Context, caller string) (int64, error) {
	quoteID, _ := ledger.GetAssetID(ledger.QuoteAsset)

	amount := e.vault.GetUserRewards(caller, quoteID)
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoRewards, caller)
	}

	batch := ledger.NewBatch("claim:"+caller, e.clock.Now().UnixMicro())
	batch.Add(ledger.JournalTypeRewardClaim,
		ledger.NewUserAccountKey(caller, ledger.SubTypeCollateral, quoteID),
		ledger.NewUserAccountKey(caller, ledger.SubTypeRewards, quoteID),
		quoteID, amount)
	if err := e.vault.ApplyBatch(batch); err != nil {
		return 0, fmt.Errorf("settlement: reward claim: %w", err)
	}

	e.log.Info().Str("caller", caller).Int64("amount", amount).Msg("rewards claimed")
	return amount, nil
}

// Restore loads persisted executions at startup.
func (e *Engine) Restore(executions []Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ex := range executions {
		id, err := intent.ParseID(ex.IntentID)
		if err != nil {
			e.log.Error().Err(err).Str("intent_id", ex.IntentID).Msg("skipping malformed execution record")
			continue
		}
		e.executions[id] = ex
	}
}

func (e *Engine) countFailure(err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.SettlementFailures.WithLabelValues(failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return "not_found"
	case errors.Is(err, registry.ErrIntentNotPending):
		return "not_pending"
	case errors.Is(err, ErrIntentExpired):
		return "expired"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrProofInvalid):
		return "proof_invalid"
	case errors.Is(err, ErrProofExpired):
		return "proof_expired"
	case errors.Is(err, ErrPositionNotLiquidatable):
		return "not_liquidatable"
	case errors.Is(err, ErrExceedsCloseFactor):
		return "close_factor"
	case errors.Is(err, ErrUnpricedAsset):
		return "unpriced_asset"
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, ErrVenueCallFailed):
		return "venue_call"
	case errors.Is(err, ErrNoCollateralSeized):
		return "no_collateral"
	default:
		return "other"
	}
}
