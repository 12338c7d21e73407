package intent

import "fmt"

// State is the lifecycle state of a liquidation intent.
// Transitions are monotonic: every state other than Pending is terminal.
type State uint8

const (
	StateUnknown State = iota
	StatePending
	StateExecuted
	StateCancelled
	StateSlashed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuted:
		return "executed"
	case StateCancelled:
		return "cancelled"
	case StateSlashed:
		return "slashed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateExecuted || s == StateCancelled || s == StateSlashed
}

// CanTransitionTo enforces the monotonic state machine.
func (s State) CanTransitionTo(next State) bool {
	if s != StatePending {
		return false
	}
	switch next {
	case StateExecuted, StateCancelled, StateSlashed:
		return true
	default:
		return false
	}
}

// ParseState parses the wire/storage representation of a state.
func ParseState(s string) (State, bool) {
	switch s {
	case "pending":
		return StatePending, true
	case "executed":
		return StateExecuted, true
	case "cancelled":
		return StateCancelled, true
	case "slashed":
		return StateSlashed, true
	default:
		return StateUnknown, false
	}
}

// Intent is a liquidator's bonded, time-bounded claim that a position is
// liquidatable. The id is derived deterministically from the submission
// parameters; ids are never recycled.
type Intent struct {
	ID                   ID
	Submitter            string
	TargetAccount        string
	TargetVenue          string
	HealthRatioThreshold int64 // ratio scale 1e6, domain (0, 1.0)
	MinPrice             int64 // minimum acceptable collateral price, quote scale 1e6
	Deadline             uint64
	BondAmount           int64 // zeroed on terminal disbursement to prevent double-spend
	State                State
	CreatedAt            uint64 // submission height, anchors the cancel timelock
}
