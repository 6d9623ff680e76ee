// Package intercept drives the per-call state machine: announce the
// call to the debugger, wait for a directive, execute or skip the real
// call, announce the result. The calling goroutine blocks inside Run
// until a SKIP directive (or a fatal error) lets it leave; an
// unresponsive debugger stalls it indefinitely by design.
package intercept

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/glesdbg/glesdbg/internal/transport"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// CallContext identifies the logical execution context performing an
// intercepted call. Its ID stamps every message the call sends, so the
// debugger can tell concurrent contexts apart.
type CallContext struct {
	ID uint64
}

// InvokeFunc executes the real underlying call. Implementations may fill
// result fields on the AfterCall message — including a self-measured
// time for calls that copy out data — and return an opaque result for
// the instrumented caller.
type InvokeFunc func(result *wire.Message) any

// Record summarizes one terminated interception for observers.
type Record struct {
	ContextID   uint64
	Function    wire.Function
	Name        string
	DurationMS  float64
	Invocations int
}

// Observer receives a Record when an interception terminates normally.
type Observer func(Record)

// Interceptor runs intercepted calls through the transport session.
type Interceptor struct {
	sess    *transport.Session
	props   *Props
	log     *slog.Logger
	observe Observer
}

// New returns an Interceptor. observe may be nil.
func New(sess *transport.Session, props *Props, log *slog.Logger, observe Observer) *Interceptor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Interceptor{sess: sess, props: props, log: log, observe: observe}
}

// Props returns the runtime properties the interceptor applies SETPROP
// directives to.
func (i *Interceptor) Props() *Props { return i.props }

// Run announces one intercepted call and executes the debugger's
// directives until SKIP terminates the loop, returning whatever result
// invoke produced (nil if the call was never invoked).
//
// When expectResponse is false the loop never reads the socket: a local
// CONTINUE is synthesized after the BeforeCall frame and a local SKIP
// after the AfterCall frame, so both frames are still transmitted.
func (i *Interceptor) Run(cc CallContext, name string, fn wire.Function, invoke InvokeFunc, expectResponse bool) (any, error) {
	msg := wire.Message{
		Function:       fn,
		Type:           wire.PhaseBeforeCall,
		ExpectResponse: expectResponse,
	}
	var cmd wire.Message
	if _, err := i.sess.Send(cc.ID, &msg, &cmd); err != nil {
		return nil, err
	}
	if !expectResponse {
		// Silence from the debugger means proceed.
		cmd = wire.Message{Function: wire.FuncContinue}
	}

	var (
		ret         any
		invocations int
		totalMS     float64
	)
	for {
		switch cmd.Function {
		case wire.FuncContinue:
			res := wire.Message{
				Function:       fn,
				Type:           wire.PhaseAfterCall,
				ExpectResponse: expectResponse,
			}
			c0 := i.props.Clock().Now()
			ret = invoke(&res)
			invocations++
			if !res.HasTime() {
				// Calls that copy out data time themselves inside the
				// invocation; everything else is measured here.
				res.SetTime(float32(i.props.Clock().Since(c0).Seconds() * 1e3))
			}
			totalMS += float64(res.TimeMS())
			if _, err := i.sess.Send(cc.ID, &res, &cmd); err != nil {
				return ret, err
			}
			if !expectResponse {
				cmd = wire.Message{Function: wire.FuncSkip}
			}

		case wire.FuncSkip:
			if i.observe != nil {
				i.observe(Record{
					ContextID:   cc.ID,
					Function:    fn,
					Name:        name,
					DurationMS:  totalMS,
					Invocations: invocations,
				})
			}
			return ret, nil

		case wire.FuncSetProp:
			if err := i.props.Apply(cmd.Prop, cmd.Arg0); err != nil {
				return ret, err
			}
			i.log.Debug("runtime property changed", "prop", cmd.Prop.String(), "value", cmd.Arg0)
			// The debugger follows up with another directive; nothing is
			// sent back for a SETPROP.
			if err := i.sess.Receive(&cmd); err != nil {
				return ret, err
			}

		default:
			return ret, fmt.Errorf("intercept %s: unexpected directive %s: %w", name, cmd.Function, wire.ErrProtocol)
		}
	}
}
