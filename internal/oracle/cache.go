package oracle

import (
	"context"
	"sync"
	"time"

	"IntentLedger/internal/intent"
)

// ProofCache is the in-process ProofOracle implementation. In production it
// is fed from the proof-verifier feed; in tests it is populated directly.
type ProofCache struct {
	mu     sync.RWMutex
	proofs map[intent.ID]ProofStatus
}

func NewProofCache() *ProofCache {
	return &ProofCache{proofs: make(map[intent.ID]ProofStatus)}
}

func (c *ProofCache) Check(_ context.Context, id intent.ID) (ProofStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.proofs[id]
	if !ok {
		return ProofStatus{}, ErrNotFound
	}
	return st, nil
}

// Record stores the verification outcome for a claim.
func (c *ProofCache) Record(id intent.ID, valid bool, verifiedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proofs[id] = ProofStatus{Valid: valid, VerifiedAt: verifiedAt}
}

type positionKey struct {
	account string
	venue   string
}

// PositionCache is the feed-backed PositionOracle implementation.
type PositionCache struct {
	mu        sync.RWMutex
	positions map[positionKey]PositionReading
}

func NewPositionCache() *PositionCache {
	return &PositionCache{positions: make(map[positionKey]PositionReading)}
}

func (c *PositionCache) Read(_ context.Context, account, venue string) (PositionReading, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.positions[positionKey{account: account, venue: venue}]
	if !ok {
		return PositionReading{}, ErrNotFound
	}
	return r, nil
}

// Update replaces the snapshot for an account/venue pair.
func (c *PositionCache) Update(account, venue string, reading PositionReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[positionKey{account: account, venue: venue}] = reading
}

// PriceCache is the feed-backed PriceOracle implementation.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]int64
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]int64)}
}

func (c *PriceCache) Price(_ context.Context, asset string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.prices[asset]
	if !ok || p <= 0 {
		return 0, ErrNotFound
	}
	return p, nil
}

// SetPrice records the latest quote-denominated price for an asset.
func (c *PriceCache) SetPrice(asset string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = price
}
