// Package event defines the outbound lifecycle events the engine publishes
// for downstream consumers (dashboards, keepers, analytics).
package event

import "time"

// Kind discriminates lifecycle events.
type Kind int32

const (
	KindUnknown Kind = iota
	KindIntentCreated
	KindIntentCancelled
	KindIntentSlashed
	KindIntentExecuted
	KindSettlementCompleted
	KindInsuranceCredited
	KindInsuranceWithdrawn
)

func (k Kind) String() string {
	switch k {
	case KindIntentCreated:
		return "intent_created"
	case KindIntentCancelled:
		return "intent_cancelled"
	case KindIntentSlashed:
		return "intent_slashed"
	case KindIntentExecuted:
		return "intent_executed"
	case KindSettlementCompleted:
		return "settlement_completed"
	case KindInsuranceCredited:
		return "insurance_credited"
	case KindInsuranceWithdrawn:
		return "insurance_withdrawn"
	default:
		return "unknown"
	}
}

// Event is one outbound lifecycle record. Payload is the event-specific
// document serialized by the publisher.
type Event struct {
	Kind      Kind        `json:"kind"`
	IntentID  string      `json:"intent_id,omitempty"`
	Venue     string      `json:"venue,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Sink receives engine events. Sends must never block the engine's critical
// path; implementations drop on a full buffer.
type Sink interface {
	Emit(evt Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChanSink forwards events to a buffered channel with drop-on-full
// semantics, mirroring the projection-channel pattern: consumers that fall
// behind catch up from the store.
type ChanSink struct {
	C chan Event
}

func NewChanSink(capacity int) *ChanSink {
	return &ChanSink{C: make(chan Event, capacity)}
}

func (s *ChanSink) Emit(evt Event) {
	select {
	case s.C <- evt:
	default:
	}
}
