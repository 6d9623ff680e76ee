// Package events publishes session occurrences to in-process
// subscribers: the status API, the trace writer, tests.
package events

import "time"

// EventType identifies the type of event.
type EventType string

// Session lifecycle events.
const (
	EventDebuggerAttached EventType = "debugger_attached"
	EventSessionStopped   EventType = "session_stopped"
)

// Interception events.
const (
	EventCallIntercepted EventType = "call_intercepted"
	EventPropChanged     EventType = "prop_changed"
)

// Event is one occurrence in a debugging session.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id,omitempty"`
	Type      EventType `json:"type"`

	// Call fields, set on call_intercepted events.
	Function   string  `json:"function,omitempty"`
	ContextID  uint64  `json:"context_id,omitempty"`
	DurationMS float64 `json:"duration_ms,omitempty"`

	// Property fields, set on prop_changed events.
	Prop  string `json:"prop,omitempty"`
	Value int32  `json:"value,omitempty"`
}
