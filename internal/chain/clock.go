// Package chain provides the engine's view of chain height and wall time.
// Heights gate deadlines and the cancel timelock; wall time gates proof
// freshness. Both are injected so tests can drive them directly.
package chain

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the height/time capability consumed by the engine.
type Clock interface {
	Height() uint64
	Now() time.Time
}

// FeedClock tracks the chain head from an external feed (NATS head updates)
// and uses wall time for proof freshness.
type FeedClock struct {
	height atomic.Uint64
}

func NewFeedClock() *FeedClock {
	return &FeedClock{}
}

func (c *FeedClock) Height() uint64 {
	return c.height.Load()
}

func (c *FeedClock) Now() time.Time {
	return time.Now()
}

// SetHeight records a new chain head. Heights never move backwards; a stale
// feed update is ignored.
func (c *FeedClock) SetHeight(h uint64) {
	for {
		cur := c.height.Load()
		if h <= cur {
			return
		}
		if c.height.CompareAndSwap(cur, h) {
			return
		}
	}
}

// ManualClock is a fully controlled clock for unit tests.
type ManualClock struct {
	mu     sync.Mutex
	height uint64
	now    time.Time
}

func NewManualClock(height uint64, now time.Time) *ManualClock {
	return &ManualClock{height: height, now: now}
}

func (c *ManualClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) SetHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = h
}

func (c *ManualClock) AdvanceHeight(delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += delta
}

func (c *ManualClock) SetNow(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *ManualClock) AdvanceNow(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
