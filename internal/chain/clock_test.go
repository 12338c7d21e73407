package chain_test

import (
	"testing"
	"time"

	"IntentLedger/internal/chain"
)

func TestFeedClock_HeightMonotonic(t *testing.T) {
	c := chain.NewFeedClock()

	c.SetHeight(10)
	if got := c.Height(); got != 10 {
		t.Fatalf("height = %d, want 10", got)
	}

	// Stale updates are ignored.
	c.SetHeight(5)
	if got := c.Height(); got != 10 {
		t.Errorf("height regressed to %d", got)
	}

	c.SetHeight(11)
	if got := c.Height(); got != 11 {
		t.Errorf("height = %d, want 11", got)
	}
}

func TestManualClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := chain.NewManualClock(100, now)

	if c.Height() != 100 {
		t.Fatalf("height = %d, want 100", c.Height())
	}
	if !c.Now().Equal(now) {
		t.Fatalf("now = %v, want %v", c.Now(), now)
	}

	c.AdvanceHeight(5)
	c.AdvanceNow(time.Hour)
	if c.Height() != 105 {
		t.Errorf("height = %d, want 105", c.Height())
	}
	if !c.Now().Equal(now.Add(time.Hour)) {
		t.Errorf("now = %v", c.Now())
	}
}
