package registry

import (
	"sync"

	"IntentLedger/internal/intent"
)

// keyedLocks serializes lifecycle operations per intent id. Entries are
// reference-counted and removed when the last holder releases, so the map
// stays proportional to in-flight operations rather than intent history.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[intent.ID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the lock for id and returns the release func.
func (k *keyedLocks) lock(id intent.ID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[intent.ID]*lockEntry)
	}
	e, ok := k.locks[id]
	if !ok {
		e = &lockEntry{}
		k.locks[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
