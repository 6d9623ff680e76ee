// Package clock provides the selectable time source used to measure
// payload writes and intercepted-call execution. The mode is
// process-wide mutable state a debugger can flip mid-session with a
// SETPROP directive.
package clock

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Mode selects how a Source reads time.
type Mode int32

const (
	// Monotonic reads Go's monotonic clock and is the default. It stands
	// in for the per-thread CPU clock the instrumented side used
	// historically; Go exposes no portable equivalent.
	Monotonic Mode = iota

	// Wall reads the wall clock; deltas are affected by clock steps.
	Wall
)

func (m Mode) String() string {
	switch m {
	case Monotonic:
		return "monotonic"
	case Wall:
		return "wall"
	}
	return fmt.Sprintf("mode_%d", int32(m))
}

// ParseMode parses a config-level mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "monotonic":
		return Monotonic, nil
	case "wall":
		return Wall, nil
	}
	return Monotonic, fmt.Errorf("unknown clock mode %q", s)
}

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool { return m == Monotonic || m == Wall }

// Source is a clock whose mode may change at runtime. The zero value
// reads monotonic time.
type Source struct {
	mode atomic.Int32
}

// New returns a Source starting in mode m.
func New(m Mode) *Source {
	s := &Source{}
	s.SetMode(m)
	return s
}

// SetMode switches the time source for subsequent readings.
func (s *Source) SetMode(m Mode) { s.mode.Store(int32(m)) }

// Mode returns the current time source.
func (s *Source) Mode() Mode { return Mode(s.mode.Load()) }

// Now returns a timestamp suitable for Since under the current mode.
func (s *Source) Now() time.Time {
	if s.Mode() == Wall {
		// Round(0) strips the monotonic reading, so Since measures the
		// wall-clock delta.
		return time.Now().Round(0)
	}
	return time.Now()
}

// Since returns the elapsed time between t and now, read under the
// current mode.
func (s *Source) Since(t time.Time) time.Duration {
	if s.Mode() == Wall {
		return time.Now().Round(0).Sub(t)
	}
	return time.Since(t)
}
