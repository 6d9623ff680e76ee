// Package session owns the lifecycle of one debugging session: start the
// transport, route intercepted calls through the break policy, persist
// and publish finished calls, and enforce the fatal-error policy.
package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/glesdbg/glesdbg/internal/clock"
	"github.com/glesdbg/glesdbg/internal/config"
	"github.com/glesdbg/glesdbg/internal/events"
	"github.com/glesdbg/glesdbg/internal/intercept"
	"github.com/glesdbg/glesdbg/internal/policy"
	"github.com/glesdbg/glesdbg/internal/store"
	"github.com/glesdbg/glesdbg/internal/transport"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// Status is a point-in-time snapshot for the status API.
type Status struct {
	SessionID string   `json:"session_id,omitempty"`
	Listening bool     `json:"listening"`
	Attached  bool     `json:"attached"`
	Addr      string   `json:"addr,omitempty"`
	Capture   int32    `json:"capture"`
	ClockMode string   `json:"clock_mode"`
	BreakOn   []string `json:"break_on,omitempty"`
}

// Manager wires the session together. One Manager per process.
type Manager struct {
	cfg    *config.Config
	log    *slog.Logger
	clock  *clock.Source
	props  *intercept.Props
	sess   *transport.Session
	icept  *intercept.Interceptor
	broker *events.Broker
	calls  store.CallStore

	policy atomic.Pointer[policy.BreakPolicy]

	mu       sync.Mutex
	id       string
	started  bool
	stopping atomic.Bool

	exit      func(int)
	fatalOnce *sync.Once
}

// Option adjusts a Manager at construction.
type Option func(*Manager)

// WithExitFunc replaces os.Exit for the fatal-error path.
func WithExitFunc(fn func(int)) Option {
	return func(m *Manager) { m.exit = fn }
}

// WithCallStore persists finished interceptions.
func WithCallStore(cs store.CallStore) Option {
	return func(m *Manager) { m.calls = cs }
}

// WithBroker publishes session events.
func WithBroker(b *events.Broker) Option {
	return func(m *Manager) { m.broker = b }
}

// New builds a Manager from cfg. The configuration must already be
// validated; an invalid break pattern here is a programming error.
func New(cfg *config.Config, log *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	mode, err := clock.ParseMode(cfg.Interception.TimeMode)
	if err != nil {
		return nil, err
	}
	src := clock.New(mode)

	props := intercept.NewProps(src)
	if err := props.Apply(wire.PropCapture, cfg.Interception.Capture); err != nil {
		return nil, err
	}

	pol, err := policy.Compile(cfg.Interception.BreakOn, cfg.Interception.ExpectResponse)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		log:       log,
		clock:     src,
		props:     props,
		exit:      os.Exit,
		fatalOnce: &sync.Once{},
	}
	m.policy.Store(pol)
	for _, opt := range opts {
		opt(m)
	}

	m.sess = transport.New(log, src)
	m.icept = intercept.New(m.sess, props, log, m.record)
	return m, nil
}

// Start opens the debug port and blocks until a debugger attaches and
// the handshake completes. A transport failure here is fatal.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.id = uuid.NewString()
	id := m.id
	// A restart re-arms the fatal policy a previous Stop disarmed.
	m.stopping.Store(false)
	m.fatalOnce = &sync.Once{}
	m.mu.Unlock()

	m.log.Info("session starting",
		"session_id", id,
		"port", m.cfg.Server.Port,
		"clock_mode", m.clock.Mode().String())

	if err := m.sess.Start(m.cfg.Server.Port); err != nil {
		m.fatal(err)
		return
	}

	m.publish(events.Event{Type: events.EventDebuggerAttached})
}

// Stop tears the session down. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	m.stopping.Store(true)
	m.sess.Stop()
	m.publish(events.Event{Type: events.EventSessionStopped})
	m.log.Info("session stopped")
}

// SessionID returns the identifier assigned on Start, empty before.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Intercept runs one call through the interception loop. The break
// policy decides whether the call pauses for directives or is
// fire-and-forget. Transport and protocol errors are fatal.
func (m *Manager) Intercept(cc intercept.CallContext, name string, fn wire.Function, invoke intercept.InvokeFunc) any {
	expect := m.policy.Load().ShouldBreak(name)
	ret, err := m.icept.Run(cc, name, fn, invoke, expect)
	if err != nil {
		m.fatal(err)
	}
	return ret
}

// SetRuntimeProperty applies a property change from the local side, the
// same path a SETPROP directive takes, and publishes the change.
func (m *Manager) SetRuntimeProperty(prop wire.Prop, value int32) error {
	if err := m.props.Apply(prop, value); err != nil {
		return err
	}
	m.publish(events.Event{
		Type:  events.EventPropChanged,
		Prop:  prop.String(),
		Value: value,
	})
	return nil
}

// ApplyConfig applies the hot-reloadable interception section of a new
// configuration: break policy, clock mode, capture flag. The listening
// port and trace settings need a restart.
func (m *Manager) ApplyConfig(cfg *config.Config) {
	pol, err := policy.Compile(cfg.Interception.BreakOn, cfg.Interception.ExpectResponse)
	if err != nil {
		m.log.Warn("config reload rejected", "error", err)
		return
	}
	mode, err := clock.ParseMode(cfg.Interception.TimeMode)
	if err != nil {
		m.log.Warn("config reload rejected", "error", err)
		return
	}

	m.policy.Store(pol)
	m.clock.SetMode(mode)
	if err := m.SetRuntimeProperty(wire.PropCapture, cfg.Interception.Capture); err != nil {
		m.log.Warn("config reload: capture not applied", "error", err)
	}
	m.log.Info("interception config applied",
		"break_on", pol.Patterns(),
		"clock_mode", mode.String(),
		"capture", cfg.Interception.Capture)
}

// Props exposes the runtime properties for the status API.
func (m *Manager) Props() *intercept.Props { return m.props }

// Snapshot reports the current session state.
func (m *Manager) Snapshot() Status {
	st := Status{
		SessionID: m.SessionID(),
		Listening: m.sess.Listening(),
		Attached:  m.sess.Attached(),
		Capture:   m.props.Capture(),
		ClockMode: m.clock.Mode().String(),
		BreakOn:   m.policy.Load().Patterns(),
	}
	if addr := m.sess.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}

// record observes a finished interception: publish it and, when a store
// is configured, persist it. Persistence failures are logged, never
// fatal.
func (m *Manager) record(rec intercept.Record) {
	m.publish(events.Event{
		Type:       events.EventCallIntercepted,
		Function:   rec.Name,
		ContextID:  rec.ContextID,
		DurationMS: rec.DurationMS,
	})
	if m.calls == nil {
		return
	}
	err := m.calls.AppendCall(context.Background(), store.CallRecord{
		SessionID:   m.SessionID(),
		ContextID:   rec.ContextID,
		Function:    uint32(rec.Function),
		Name:        rec.Name,
		DurationMS:  rec.DurationMS,
		Invocations: rec.Invocations,
	})
	if err != nil {
		m.log.Warn("call trace not persisted", "function", rec.Name, "error", err)
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.broker == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	ev.SessionID = m.SessionID()
	m.broker.Publish(ev)
}

// fatal implements the session error policy: log, tear everything down,
// exit. Unknown directives, malformed frames and socket failures all
// land here; there is no recovery path once the wire is suspect. Errors
// surfacing after a deliberate Stop are the teardown itself and are not
// fatal.
func (m *Manager) fatal(err error) {
	if m.stopping.Load() {
		m.log.Debug("session error during shutdown", "error", err)
		return
	}
	m.mu.Lock()
	once := m.fatalOnce
	m.mu.Unlock()
	once.Do(func() {
		m.log.Error("fatal session error", "error", err)
		m.sess.Stop()
		if m.calls != nil {
			if cerr := m.calls.Close(); cerr != nil {
				m.log.Warn("closing call store", "error", cerr)
			}
		}
		m.exit(1)
	})
}
