package intercept

import (
	"fmt"
	"sync/atomic"

	"github.com/glesdbg/glesdbg/internal/clock"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// Props is the process-wide runtime state a debugger can change
// mid-session with SETPROP directives: the capture flag and the clock
// source.
type Props struct {
	capture atomic.Int32
	clock   *clock.Source
}

// NewProps returns properties bound to the given clock source.
func NewProps(src *clock.Source) *Props {
	if src == nil {
		src = clock.New(clock.Monotonic)
	}
	return &Props{clock: src}
}

// Apply applies one property change. Unknown properties and
// out-of-range values are protocol violations.
func (p *Props) Apply(prop wire.Prop, value int32) error {
	switch prop {
	case wire.PropCapture:
		p.capture.Store(value)
	case wire.PropTimeMode:
		mode := clock.Mode(value)
		if !mode.Valid() {
			return fmt.Errorf("setprop %s: value %d out of range: %w", prop, value, wire.ErrProtocol)
		}
		p.clock.SetMode(mode)
	default:
		return fmt.Errorf("setprop: unknown property %d: %w", uint8(prop), wire.ErrProtocol)
	}
	return nil
}

// Capture returns the current capture flag value.
func (p *Props) Capture() int32 { return p.capture.Load() }

// Clock returns the session clock source.
func (p *Props) Clock() *clock.Source { return p.clock }
