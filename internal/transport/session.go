// Package transport owns the listening endpoint and the single accepted
// debugger connection. Every request/response exchange is serialized
// through one exclusive lock, so the wire never carries more than one
// outstanding request no matter how many goroutines are mid-interception.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/glesdbg/glesdbg/internal/clock"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// ErrTransport marks socket-level failures: create/bind/listen/accept
// errors, short or failed sends, short or failed receives. Session
// policy treats anything wrapping it as fatal; there is no retry path.
var ErrTransport = errors.New("transport failure")

// Session is the process-wide transport state: one listening socket, one
// accepted debugger connection, and the shared receive buffer.
type Session struct {
	log   *slog.Logger
	clock *clock.Source

	// mu serializes every request/response cycle on the connection and
	// guards buf. Holding it across the optional receive is what makes
	// concurrent interceptions a queue at the socket boundary.
	mu  sync.Mutex
	buf []byte // grows, never shrinks

	// sockMu guards the socket handles so Stop can close them while a
	// Send or Receive is blocked; the close unblocks the waiter with an
	// error.
	sockMu sync.Mutex
	ln     net.Listener
	conn   net.Conn
}

// New returns an unstarted Session measuring payload writes with src.
func New(log *slog.Logger, src *clock.Source) *Session {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if src == nil {
		src = clock.New(clock.Monotonic)
	}
	return &Session{log: log, clock: src}
}

// Start binds the listening endpoint on port across all interfaces,
// blocks until exactly one debugger connects, and performs the
// handshake: a single ACK frame with no reply read. It is a no-op when
// the listener is already open.
func (s *Session) Start(port int) error {
	s.sockMu.Lock()
	if s.ln != nil {
		s.sockMu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		s.sockMu.Unlock()
		return fmt.Errorf("listen on port %d: %v: %w", port, err, ErrTransport)
	}
	s.ln = ln
	s.sockMu.Unlock()

	s.log.Info("debug server listening", "addr", ln.Addr().String())

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("accept debugger connection: %v: %w", err, ErrTransport)
	}
	s.sockMu.Lock()
	s.conn = conn
	s.sockMu.Unlock()
	s.log.Info("debugger attached", "remote", conn.RemoteAddr().String())

	ack := wire.Message{Function: wire.FuncACK, Type: wire.PhaseResponse}
	if _, err := s.Send(0, &ack, nil); err != nil {
		return err
	}
	return nil
}

// Stop closes the debugger connection, then the listening endpoint, and
// resets both to absent so a later Start can run again. Calling it when
// nothing is open is a no-op.
func (s *Session) Stop() {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
}

// Addr reports the bound listening address, or nil before Start.
func (s *Session) Addr() net.Addr {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listening reports whether the listening endpoint is open.
func (s *Session) Listening() bool {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	return s.ln != nil
}

// Attached reports whether a debugger connection is open.
func (s *Session) Attached() bool {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	return s.conn != nil
}

func (s *Session) client() (net.Conn, error) {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.conn == nil {
		return nil, fmt.Errorf("no debugger connection: %w", ErrTransport)
	}
	return s.conn, nil
}

// Send transmits msg as one frame under the session's exclusive lock:
// stamp the caller's context identity, write the header, write the
// payload, and when msg expects a response, block in receive before
// releasing the lock. The returned duration covers the payload write
// only, in milliseconds, read from the configured clock source.
func (s *Session) Send(ctxID uint64, msg, reply *wire.Message) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.client()
	if err != nil {
		return 0, err
	}

	msg.ContextID = ctxID
	payload, err := wire.EncodePayload(msg)
	if err != nil {
		return 0, err
	}
	var hdr [wire.HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))

	n, err := conn.Write(hdr[:])
	if err != nil {
		return 0, fmt.Errorf("send frame header: %v: %w", err, ErrTransport)
	}
	if n != wire.HeaderSize {
		return 0, fmt.Errorf("send frame header: short write (%d of %d bytes): %w", n, wire.HeaderSize, ErrTransport)
	}

	c0 := s.clock.Now()
	n, err = conn.Write(payload)
	elapsed := s.clock.Since(c0)
	if err != nil {
		return 0, fmt.Errorf("send frame payload: %v: %w", err, ErrTransport)
	}
	if n != len(payload) {
		return 0, fmt.Errorf("send frame payload: short write (%d of %d bytes): %w", n, len(payload), ErrTransport)
	}
	ms := float64(elapsed) / float64(time.Millisecond)

	if !msg.ExpectResponse {
		return ms, nil
	}
	if err := s.receiveLocked(conn, reply); err != nil {
		return ms, err
	}
	return ms, nil
}

// Receive blocks for one frame from the debugger. It takes the same
// exclusive lock as Send, keeping the shared buffer and the wire
// serialized against concurrent senders; the interception loop uses it
// for the directive that follows a SETPROP.
func (s *Session) Receive(reply *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.client()
	if err != nil {
		return err
	}
	return s.receiveLocked(conn, reply)
}

func (s *Session) receiveLocked(conn net.Conn, reply *wire.Message) error {
	buf, err := wire.ReadFrame(conn, s.buf, reply)
	s.buf = buf
	if err != nil {
		if errors.Is(err, wire.ErrProtocol) {
			return err
		}
		return fmt.Errorf("receive frame: %v: %w", err, ErrTransport)
	}
	return nil
}
