// Package oracle defines the read-only external capabilities the settlement
// engine depends on: proof verification status, position health, and asset
// prices. Each is an injectable interface so the engine is testable against
// fakes without a concrete proof system or price feed.
package oracle

import (
	"context"
	"errors"
	"time"

	"IntentLedger/internal/intent"
)

var ErrNotFound = errors.New("oracle: not found")

// ProofStatus is the outcome of a proof lookup for an intent id.
// Verification internals are opaque: only validity and age matter here.
type ProofStatus struct {
	Valid      bool
	VerifiedAt time.Time
}

// ProofOracle reports whether a previously-submitted proof for a claim is
// valid and when it was produced.
type ProofOracle interface {
	Check(ctx context.Context, id intent.ID) (ProofStatus, error)
}

// PositionReading is a snapshot of a borrowing position at a venue.
// Values are quote-denominated fixed-point; HealthRatio uses ratio scale 1e6.
type PositionReading struct {
	CollateralValue int64
	DebtValue       int64
	HealthRatio     int64
}

// PositionOracle reads current position state for an account at a venue.
type PositionOracle interface {
	Read(ctx context.Context, account, venue string) (PositionReading, error)
}

// PriceOracle returns the quote-denominated price of one whole unit of an
// asset (price scale 1e6).
type PriceOracle interface {
	Price(ctx context.Context, asset string) (int64, error)
}
