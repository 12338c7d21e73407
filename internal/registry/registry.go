// Package registry owns intent identity, bond escrow, and every terminal
// transition not driven by settlement success. It is the single source of
// truth for intent state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"IntentLedger/internal/authz"
	"IntentLedger/internal/chain"
	"IntentLedger/internal/event"
	"IntentLedger/internal/fixmath"
	"IntentLedger/internal/insurance"
	"IntentLedger/internal/intent"
	"IntentLedger/internal/ledger"
	"IntentLedger/internal/observability"
	"IntentLedger/internal/venue"
)

var (
	ErrInvalidParameters = errors.New("registry: invalid parameters")
	ErrDuplicateIntent   = errors.New("registry: duplicate intent")
	ErrNotFound          = errors.New("registry: intent not found")
	ErrUnauthorized      = errors.New("registry: unauthorized")
	ErrAlreadyFinalized  = errors.New("registry: intent already finalized")
	ErrTimelockActive    = errors.New("registry: cancel timelock active")
	ErrIntentNotPending  = errors.New("registry: intent not pending")
)

// Store persists intent state changes. Implementations must be safe for
// concurrent use; writes are keyed by intent id and idempotent.
type Store interface {
	SaveIntent(ctx context.Context, it intent.Intent) error
}

// Config holds the registry's policy constants.
type Config struct {
	// MaxBond caps bond_amount at submission (native units).
	MaxBond int64
	// CancelTimelock is the number of heights after submission during
	// which cancellation is refused.
	CancelTimelock uint64
	// SlashBps is the bond fraction forfeited to the insurance ledger on
	// slashing (basis points).
	SlashBps int64
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		MaxBond:        1_000 * fixmath.AmountConfig.Scale,
		CancelTimelock: 50,
		SlashBps:       2_000, // 20%
	}
}

// Registry is the bonded-intent state machine. Access per intent id is
// serialized through a keyed mutex; operations on distinct ids proceed
// concurrently.
type Registry struct {
	cfg       Config
	clock     chain.Clock
	vault     *ledger.BalanceTracker
	insurance *insurance.Ledger
	venues    *venue.AllowList

	mu      sync.RWMutex
	intents map[intent.ID]*intent.Intent

	locks keyedLocks

	store   Store
	events  event.Sink
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(cfg Config, clock chain.Clock, vault *ledger.BalanceTracker, ins *insurance.Ledger, venues *venue.AllowList, store Store, events event.Sink, log zerolog.Logger, metrics *observability.Metrics) *Registry {
	if store == nil {
		store = nopStore{}
	}
	if events == nil {
		events = event.NopSink{}
	}
	return &Registry{
		cfg:       cfg,
		clock:     clock,
		vault:     vault,
		insurance: ins,
		venues:    venues,
		intents:   make(map[intent.ID]*intent.Intent),
		store:     store,
		events:    events,
		log:       log,
		metrics:   metrics,
	}
}

type nopStore struct{}

func (nopStore) SaveIntent(context.Context, intent.Intent) error { return nil }

// SubmitParams are the caller-supplied fields of a new intent.
type SubmitParams struct {
	Submitter            string
	TargetAccount        string
	TargetVenue          string
	HealthRatioThreshold int64
	MinPrice             int64
	Deadline             uint64
	BondAmount           int64
}

// SubmitIntent validates params, derives the deterministic id, escrows the
// bond, and registers the intent as Pending.
func (r *Registry) SubmitIntent(ctx context.Context, p SubmitParams) (intent.ID, error) {
	height := r.clock.Height()

	if err := r.validateSubmit(p, height); err != nil {
		r.countRejected("invalid_parameters")
		return intent.ID{}, err
	}

	id := intent.DeriveID(p.Submitter, p.TargetAccount, p.TargetVenue,
		p.HealthRatioThreshold, p.MinPrice, p.Deadline, height)

	unlock := r.locks.lock(id)
	defer unlock()

	r.mu.Lock()
	if _, exists := r.intents[id]; exists {
		r.mu.Unlock()
		r.countRejected("duplicate")
		return intent.ID{}, fmt.Errorf("%w: %s", ErrDuplicateIntent, id)
	}
	r.mu.Unlock()

	// Escrow the bond before the intent becomes visible. A failed escrow
	// leaves no trace of the submission. The sufficiency check and the
	// transfer are one atomic step: the per-id lock does not serialize two
	// intents from the same submitter, so a split check could double-spend
	// the submitter's collateral.
	nativeID, _ := ledger.GetAssetID(ledger.NativeAsset)
	collateralKey := ledger.NewUserAccountKey(p.Submitter, ledger.SubTypeCollateral, nativeID)

	batch := ledger.NewBatch(id.String(), r.clock.Now().UnixMicro())
	batch.Add(ledger.JournalTypeBondEscrow,
		ledger.BondEscrowKey(),
		collateralKey,
		nativeID, p.BondAmount)
	if err := r.vault.ApplyBatchChecked(batch, collateralKey); err != nil {
		r.countRejected("invalid_parameters")
		return intent.ID{}, fmt.Errorf("%w: bond escrow: %v", ErrInvalidParameters, err)
	}

	it := &intent.Intent{
		ID:                   id,
		Submitter:            p.Submitter,
		TargetAccount:        p.TargetAccount,
		TargetVenue:          p.TargetVenue,
		HealthRatioThreshold: p.HealthRatioThreshold,
		MinPrice:             p.MinPrice,
		Deadline:             p.Deadline,
		BondAmount:           p.BondAmount,
		State:                intent.StatePending,
		CreatedAt:            height,
	}

	r.mu.Lock()
	r.intents[id] = it
	r.mu.Unlock()

	if err := r.store.SaveIntent(ctx, *it); err != nil {
		r.log.Error().Err(err).Str("intent_id", id.String()).Msg("persist intent failed")
	}

	r.events.Emit(event.Event{
		Kind:      event.KindIntentCreated,
		IntentID:  id.String(),
		Venue:     p.TargetVenue,
		Payload:   *it,
		Timestamp: r.clock.Now(),
	})

	if r.metrics != nil {
		r.metrics.IntentsSubmitted.WithLabelValues(p.TargetVenue).Inc()
		r.metrics.BondEscrowed.Add(float64(p.BondAmount))
	}

	r.log.Info().
		Str("intent_id", id.String()).
		Str("submitter", p.Submitter).
		Str("venue", p.TargetVenue).
		Int64("bond", p.BondAmount).
		Uint64("deadline", p.Deadline).
		Msg("intent submitted")

	return id, nil
}

func (r *Registry) validateSubmit(p SubmitParams, height uint64) error {
	if p.Submitter == "" || p.TargetAccount == "" {
		return fmt.Errorf("%w: submitter and target account required", ErrInvalidParameters)
	}
	if p.HealthRatioThreshold <= 0 || p.HealthRatioThreshold >= fixmath.RatioConfig.Scale {
		return fmt.Errorf("%w: health ratio threshold %d outside (0, %d)",
			ErrInvalidParameters, p.HealthRatioThreshold, fixmath.RatioConfig.Scale)
	}
	if p.Deadline <= height {
		return fmt.Errorf("%w: deadline %d not after current height %d",
			ErrInvalidParameters, p.Deadline, height)
	}
	if p.BondAmount <= 0 || p.BondAmount > r.cfg.MaxBond {
		return fmt.Errorf("%w: bond %d outside (0, %d]",
			ErrInvalidParameters, p.BondAmount, r.cfg.MaxBond)
	}
	if !r.venues.Contains(p.TargetVenue) {
		return fmt.Errorf("%w: venue %q not supported", ErrInvalidParameters, p.TargetVenue)
	}
	return nil
}

// CancelIntent returns the bond to the submitter after the timelock. The
// timelock stops a submitter from watching a proof get generated against
// them and withdrawing the instant the claim becomes inconvenient.
func (r *Registry) CancelIntent(ctx context.Context, id intent.ID, caller string) error {
	unlock := r.locks.lock(id)
	defer unlock()

	it, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if caller != it.Submitter {
		return fmt.Errorf("%w: caller %s is not the submitter", ErrUnauthorized, caller)
	}
	if it.State != intent.StatePending {
		return fmt.Errorf("%w: state=%s", ErrAlreadyFinalized, it.State)
	}
	if height := r.clock.Height(); height < it.CreatedAt+r.cfg.CancelTimelock {
		return fmt.Errorf("%w: unlocks at height %d (now %d)",
			ErrTimelockActive, it.CreatedAt+r.cfg.CancelTimelock, height)
	}

	if err := r.disburseBond(it, intent.StateCancelled, 0); err != nil {
		return err
	}

	if err := r.store.SaveIntent(ctx, *it); err != nil {
		r.log.Error().Err(err).Str("intent_id", id.String()).Msg("persist cancel failed")
	}

	r.events.Emit(event.Event{
		Kind:      event.KindIntentCancelled,
		IntentID:  id.String(),
		Venue:     it.TargetVenue,
		Timestamp: r.clock.Now(),
	})
	r.countFinalized("cancelled")

	r.log.Info().Str("intent_id", id.String()).Msg("intent cancelled")
	return nil
}

// SlashIntent penalizes a dishonest or abandoned claim: a fixed fraction of
// the bond is forfeited to the insurance ledger, the remainder refunded.
func (r *Registry) SlashIntent(ctx context.Context, id intent.ID, cap authz.Capability) error {
	unlock := r.locks.lock(id)
	defer unlock()

	it, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if !cap.CanSlash() {
		return fmt.Errorf("%w: %s cannot slash", ErrUnauthorized, cap)
	}
	if it.State != intent.StatePending {
		return fmt.Errorf("%w: state=%s", ErrAlreadyFinalized, it.State)
	}

	forfeit := fixmath.BpsOf(it.BondAmount, r.cfg.SlashBps)
	if err := r.disburseBond(it, intent.StateSlashed, forfeit); err != nil {
		return err
	}

	if forfeit > 0 {
		if err := r.insurance.Credit(forfeit, "slash:"+id.String()); err != nil {
			// Credit only rejects non-positive amounts; forfeit is checked above.
			r.log.Error().Err(err).Str("intent_id", id.String()).Msg("insurance credit failed")
		}
		if r.metrics != nil {
			r.metrics.InsuranceCredits.WithLabelValues("slash").Add(float64(forfeit))
			r.metrics.InsuranceBalance.Set(float64(r.insurance.Balance()))
		}
	}

	if err := r.store.SaveIntent(ctx, *it); err != nil {
		r.log.Error().Err(err).Str("intent_id", id.String()).Msg("persist slash failed")
	}

	r.events.Emit(event.Event{
		Kind:      event.KindIntentSlashed,
		IntentID:  id.String(),
		Venue:     it.TargetVenue,
		Payload:   map[string]int64{"forfeit": forfeit},
		Timestamp: r.clock.Now(),
	})
	r.countFinalized("slashed")

	r.log.Info().
		Str("intent_id", id.String()).
		Int64("forfeit", forfeit).
		Str("authority", cap.Actor).
		Msg("intent slashed")
	return nil
}

// MarkExecuted finalizes a settled intent and releases the bond. Only the
// settlement authority may call it; the bond is a good-faith deposit, not a
// source of settlement proceeds, so it returns to the submitter in full.
func (r *Registry) MarkExecuted(ctx context.Context, id intent.ID, cap authz.Capability) error {
	unlock := r.locks.lock(id)
	defer unlock()
	return r.markExecutedLocked(ctx, id, cap)
}

func (r *Registry) markExecutedLocked(ctx context.Context, id intent.ID, cap authz.Capability) error {
	it, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if !cap.CanMarkExecuted() {
		return fmt.Errorf("%w: %s cannot mark executed", ErrUnauthorized, cap)
	}
	if it.State != intent.StatePending {
		return fmt.Errorf("%w: state=%s", ErrAlreadyFinalized, it.State)
	}

	if err := r.disburseBond(it, intent.StateExecuted, 0); err != nil {
		return err
	}

	if err := r.store.SaveIntent(ctx, *it); err != nil {
		r.log.Error().Err(err).Str("intent_id", id.String()).Msg("persist execute failed")
	}

	r.events.Emit(event.Event{
		Kind:      event.KindIntentExecuted,
		IntentID:  id.String(),
		Venue:     it.TargetVenue,
		Timestamp: r.clock.Now(),
	})
	r.countFinalized("executed")

	return nil
}

// Settle serializes the mutating step of a settlement: it re-checks that the
// intent is still Pending under the per-id lock, runs the engine's atomic
// action, and on success finalizes the intent. A concurrent settlement or
// terminal transition surfaces as ErrIntentNotPending.
func (r *Registry) Settle(ctx context.Context, id intent.ID, cap authz.Capability, action func(it intent.Intent) error) error {
	unlock := r.locks.lock(id)
	defer unlock()

	it, err := r.getLocked(id)
	if err != nil {
		return err
	}
	if it.State != intent.StatePending {
		return fmt.Errorf("%w: state=%s", ErrIntentNotPending, it.State)
	}

	if err := action(*it); err != nil {
		return err
	}

	return r.markExecutedLocked(ctx, id, cap)
}

// disburseBond pays out the escrowed bond exactly once: forfeit (if any) to
// the insurance fund account, the remainder back to the submitter. The bond
// field is zeroed so no terminal state can disburse twice.
func (r *Registry) disburseBond(it *intent.Intent, next intent.State, forfeit int64) error {
	if !it.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyFinalized, it.State, next)
	}
	if it.BondAmount < forfeit {
		return fmt.Errorf("registry: forfeit %d exceeds bond %d", forfeit, it.BondAmount)
	}

	nativeID, _ := ledger.GetAssetID(ledger.NativeAsset)
	bond := it.BondAmount
	refund := bond - forfeit

	if bond > 0 {
		batch := ledger.NewBatch(it.ID.String(), r.clock.Now().UnixMicro())
		if forfeit > 0 {
			batch.Add(ledger.JournalTypeBondSlash,
				ledger.InsuranceFundKey(nativeID),
				ledger.BondEscrowKey(),
				nativeID, forfeit)
		}
		if refund > 0 {
			batch.Add(ledger.JournalTypeBondRefund,
				ledger.NewUserAccountKey(it.Submitter, ledger.SubTypeCollateral, nativeID),
				ledger.BondEscrowKey(),
				nativeID, refund)
		}
		if err := r.vault.ApplyBatch(batch); err != nil {
			return fmt.Errorf("registry: bond disbursement: %w", err)
		}
	}

	it.State = next
	it.BondAmount = 0

	if r.metrics != nil {
		r.metrics.BondEscrowed.Sub(float64(bond))
	}
	return nil
}

// GetIntent returns a copy of the intent.
func (r *Registry) GetIntent(id intent.ID) (intent.Intent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.intents[id]
	if !ok {
		return intent.Intent{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *it, nil
}

// Restore loads persisted intents at startup. Terminal intents are kept so
// their ids stay unavailable for reuse.
func (r *Registry) Restore(intents []intent.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var escrowed int64
	for i := range intents {
		it := intents[i]
		r.intents[it.ID] = &it
		if it.State == intent.StatePending {
			escrowed += it.BondAmount
		}
	}
	if r.metrics != nil && escrowed > 0 {
		r.metrics.BondEscrowed.Set(float64(escrowed))
	}
}

// AddVenue adds a lending venue to the allow-list. Admin capability required.
func (r *Registry) AddVenue(name string, cap authz.Capability) error {
	if !cap.CanAdministrate() {
		return fmt.Errorf("%w: %s cannot manage venues", ErrUnauthorized, cap)
	}
	r.venues.Add(name)
	r.log.Info().Str("venue", name).Str("admin", cap.Actor).Msg("venue allow-listed")
	return nil
}

// RemoveVenue removes a venue from the allow-list. Existing intents keep
// their lifecycle; only new submissions are refused.
func (r *Registry) RemoveVenue(name string, cap authz.Capability) error {
	if !cap.CanAdministrate() {
		return fmt.Errorf("%w: %s cannot manage venues", ErrUnauthorized, cap)
	}
	r.venues.Remove(name)
	r.log.Info().Str("venue", name).Str("admin", cap.Actor).Msg("venue removed from allow-list")
	return nil
}

func (r *Registry) getLocked(id intent.ID) (*intent.Intent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.intents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return it, nil
}

func (r *Registry) countRejected(reason string) {
	if r.metrics != nil {
		r.metrics.IntentsRejected.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) countFinalized(outcome string) {
	if r.metrics != nil {
		r.metrics.IntentsFinalized.WithLabelValues(outcome).Inc()
	}
}
