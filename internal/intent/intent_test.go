package intent_test

import (
	"testing"

	"IntentLedger/internal/intent"
)

// ============================================================================
// Test: deterministic IDs
// ============================================================================

func TestDeriveID_Deterministic(t *testing.T) {
	a := intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_000, 100, 10)
	b := intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_000, 100, 10)
	if a != b {
		t.Error("identical parameters must derive identical ids")
	}
}

func TestDeriveID_SensitiveToEveryField(t *testing.T) {
	base := intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_000, 100, 10)

	variants := []intent.ID{
		intent.DeriveID("bob", "borrower", "simulated", 900_000, 1_500_000_000, 100, 10),
		intent.DeriveID("alice", "other", "simulated", 900_000, 1_500_000_000, 100, 10),
		intent.DeriveID("alice", "borrower", "venue2", 900_000, 1_500_000_000, 100, 10),
		intent.DeriveID("alice", "borrower", "simulated", 800_000, 1_500_000_000, 100, 10),
		intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_001, 100, 10),
		intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_000, 101, 10),
		intent.DeriveID("alice", "borrower", "simulated", 900_000, 1_500_000_000, 100, 11),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base id", i)
		}
	}
}

func TestDeriveID_LengthPrefixInjective(t *testing.T) {
	// Without length prefixes ("ab","c") and ("a","bc") would concatenate
	// identically.
	a := intent.DeriveID("ab", "c", "v", 1, 1, 2, 3)
	b := intent.DeriveID("a", "bc", "v", 1, 1, 2, 3)
	if a == b {
		t.Error("boundary-shifted strings must not collide")
	}
}

func TestParseID_RoundTrip(t *testing.T) {
	id := intent.DeriveID("alice", "borrower", "simulated", 900_000, 1, 100, 10)

	parsed, err := intent.ParseID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Error("round trip mismatch")
	}
}

func TestParseID_Invalid(t *testing.T) {
	for _, s := range []string{"", "zz", "deadbeef", "not-hex"} {
		if _, err := intent.ParseID(s); err == nil {
			t.Errorf("ParseID(%q) should fail", s)
		}
	}
}

// ============================================================================
// Test: state machine
// ============================================================================

func TestState_Transitions(t *testing.T) {
	terminals := []intent.State{intent.StateExecuted, intent.StateCancelled, intent.StateSlashed}

	for _, next := range terminals {
		if !intent.StatePending.CanTransitionTo(next) {
			t.Errorf("pending -> %s should be allowed", next)
		}
	}

	for _, from := range terminals {
		for _, next := range append(terminals, intent.StatePending) {
			if from.CanTransitionTo(next) {
				t.Errorf("%s -> %s should be forbidden", from, next)
			}
		}
		if !from.IsTerminal() {
			t.Errorf("%s should be terminal", from)
		}
	}

	if intent.StatePending.CanTransitionTo(intent.StatePending) {
		t.Error("pending -> pending should be forbidden")
	}
}

func TestParseState_RoundTrip(t *testing.T) {
	states := []intent.State{
		intent.StatePending, intent.StateExecuted, intent.StateCancelled, intent.StateSlashed,
	}
	for _, s := range states {
		got, ok := intent.ParseState(s.String())
		if !ok || got != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := intent.ParseState("bogus"); ok {
		t.Error("unknown state string should not parse")
	}
}
