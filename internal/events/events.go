// Package events provides structured event emission for diagnostics.
package events

import "time"

// EventType identifies the kind of event.
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventPaired           EventType = "paired"
	EventChallenged       EventType = "challenged"
	EventAuthFailure      EventType = "auth_failure"
	EventCounterExhausted EventType = "counter_exhausted"
	EventFrameAuthed      EventType = "frame_authenticated"
	EventError            EventType = "error"
)

// Envelope wraps every emitted event with type and timestamp.
type Envelope struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// StateChangedData is the payload for state_changed events: the
// Authenticator's prior and new lifecycle state.
type StateChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// PairedData is the payload for paired events.
type PairedData struct {
	Role string `json:"role"` // "CEM" or "PAKM"
}

// ChallengedData is the payload for challenged events.
type ChallengedData struct {
	TxCounter byte `json:"tx_counter"`
	RxCounter byte `json:"rx_counter"`
}

// AuthFailureData is the payload for auth_failure events: a frame failed
// checksum, structural validation, replay/stall, or signature checks.
type AuthFailureData struct {
	Reason string `json:"reason"`
}

// CounterExhaustedData is the payload for counter_exhausted events: a
// direction's counter reached its ceiling and can no longer send or
// accept frames until rechallenged.
type CounterExhaustedData struct {
	Direction string `json:"direction"` // "tx" or "rx"
}

// FrameAuthedData is the payload for frame_authenticated events.
type FrameAuthedData struct {
	SCmd      byte `json:"scmd"`
	RxCounter byte `json:"rx_counter"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// Emitter is the interface for emitting structured events.
type Emitter interface {
	Emit(eventType EventType, data interface{})
	Close() error
}
