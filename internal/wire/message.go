package wire

import "fmt"

// Function identifies which intercepted operation a message concerns, or
// carries a control directive from the debugger. Instrumentation layers
// assign their own call tags; the directive values live in a reserved
// range well above any plausible tag.
type Function uint32

const (
	// FuncACK is sent by the target once, immediately after accept.
	FuncACK Function = 0xFFF0

	// FuncContinue tells the target to execute the announced call.
	FuncContinue Function = 0xFFF1

	// FuncSkip terminates the interception loop for the current call.
	FuncSkip Function = 0xFFF2

	// FuncSetProp changes a runtime property; Prop and Arg0 carry the
	// selector and the new value.
	FuncSetProp Function = 0xFFF3
)

// IsDirective reports whether f is a control directive rather than a
// call tag.
func (f Function) IsDirective() bool {
	switch f {
	case FuncACK, FuncContinue, FuncSkip, FuncSetProp:
		return true
	}
	return false
}

func (f Function) String() string {
	switch f {
	case FuncACK:
		return "ACK"
	case FuncContinue:
		return "CONTINUE"
	case FuncSkip:
		return "SKIP"
	case FuncSetProp:
		return "SETPROP"
	}
	return fmt.Sprintf("call_%d", uint32(f))
}

// Phase marks which point of an interception a message reports.
type Phase uint8

const (
	PhaseBeforeCall Phase = iota
	PhaseAfterCall
	PhaseResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeCall:
		return "BeforeCall"
	case PhaseAfterCall:
		return "AfterCall"
	case PhaseResponse:
		return "Response"
	}
	return fmt.Sprintf("phase_%d", uint8(p))
}

// Prop selects a runtime property in a SETPROP directive.
type Prop uint8

const (
	// PropCapture toggles capture of call payload data.
	PropCapture Prop = iota

	// PropTimeMode selects the clock source; Arg0 carries a clock.Mode.
	PropTimeMode
)

func (p Prop) String() string {
	switch p {
	case PropCapture:
		return "capture"
	case PropTimeMode:
		return "time_mode"
	}
	return fmt.Sprintf("prop_%d", uint8(p))
}

// Message is the protocol envelope exchanged in both directions. The
// sender stamps ContextID on every message it owns; ExpectResponse makes
// the sender block until a reply arrives on the same connection.
type Message struct {
	ContextID      uint64   `cbor:"context_id"`
	Function       Function `cbor:"function"`
	Type           Phase    `cbor:"type"`
	ExpectResponse bool     `cbor:"expect_response"`

	// Time is the wall-clock duration in milliseconds the call took to
	// execute. Invocations that copy out data set it themselves; nil
	// means nobody measured yet.
	Time *float32 `cbor:"time,omitempty"`

	// Prop and Arg0 are meaningful only on SETPROP directives.
	Prop Prop  `cbor:"prop,omitempty"`
	Arg0 int32 `cbor:"arg0,omitempty"`

	// Data carries the call-specific payload. Its layout belongs to the
	// instrumentation layer; the envelope only transports it.
	Data []byte `cbor:"data,omitempty"`
}

// Reset clears m for reuse.
func (m *Message) Reset() { *m = Message{} }

// SetTime records an execution duration in milliseconds.
func (m *Message) SetTime(ms float32) { m.Time = &ms }

// HasTime reports whether a duration was recorded.
func (m *Message) HasTime() bool { return m.Time != nil }

// TimeMS returns the recorded duration, or 0 when none was recorded.
func (m *Message) TimeMS() float32 {
	if m.Time == nil {
		return 0
	}
	return *m.Time
}
