// Package venue abstracts the lending venues whose liquidation calls the
// settlement engine drives, plus the admin-managed allow-list of venues
// intents may target.
package venue

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrUnknownVenue   = errors.New("venue: unknown venue")
	ErrCallFailed     = errors.New("venue: liquidation call failed")
	ErrNotAllowListed = errors.New("venue: not on allow-list")
)

// Venue executes a liquidation at a lending venue. The call re-validates
// eligibility at the point of transfer; a position that recovered or closed
// between the engine's oracle read and the call succeeds with zero seizure.
// An error means the venue call itself failed.
type Venue interface {
	Liquidate(ctx context.Context, collateralAsset, debtAsset, account string, debtToCover int64) error
}

// Directory resolves venue names to their adapters.
type Directory struct {
	mu     sync.RWMutex
	venues map[string]Venue
}

func NewDirectory() *Directory {
	return &Directory{venues: make(map[string]Venue)}
}

func (d *Directory) Register(name string, v Venue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.venues[name] = v
}

func (d *Directory) Lookup(name string) (Venue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.venues[name]
	if !ok {
		return nil, ErrUnknownVenue
	}
	return v, nil
}

// AllowList is the set of venues intents may target. Mutations require an
// admin capability, checked by the registry.
type AllowList struct {
	mu     sync.RWMutex
	venues map[string]struct{}
}

func NewAllowList(venues ...string) *AllowList {
	al := &AllowList{venues: make(map[string]struct{}, len(venues))}
	for _, v := range venues {
		al.venues[v] = struct{}{}
	}
	return al
}

func (al *AllowList) Contains(name string) bool {
	al.mu.RLock()
	defer al.mu.RUnlock()
	_, ok := al.venues[name]
	return ok
}

func (al *AllowList) Add(name string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.venues[name] = struct{}{}
}

func (al *AllowList) Remove(name string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	delete(al.venues, name)
}

func (al *AllowList) List() []string {
	al.mu.RLock()
	defer al.mu.RUnlock()

	out := make([]string, 0, len(al.venues))
	for v := range al.venues {
		out = append(out, v)
	}
	return out
}
