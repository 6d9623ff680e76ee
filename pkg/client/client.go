// Package client implements the debugger side of the interception
// protocol: connect to a paused target, read its call announcements and
// answer with directives.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/glesdbg/glesdbg/internal/wire"
)

// Client is one attached debugger connection. Reads and writes are each
// safe for one concurrent caller; the protocol itself is a strict
// request/response alternation driven by the target.
type Client struct {
	conn net.Conn

	readMu sync.Mutex
	buf    []byte

	writeMu sync.Mutex
}

// Dial connects to a target's debug endpoint. The target ACKs as soon as
// the connection is accepted; read it with Recv.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Recv blocks for the next frame from the target.
func (c *Client) Recv() (*wire.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	var m wire.Message
	buf, err := wire.ReadFrame(c.conn, c.buf, &m)
	c.buf = buf
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Send transmits one frame to the target.
func (c *Client) Send(m *wire.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, m)
}

// Continue directs the paused call to invoke the real function.
func (c *Client) Continue() error {
	return c.Send(&wire.Message{Function: wire.FuncContinue, Type: wire.PhaseResponse})
}

// Skip directs the paused call to terminate its interception loop.
func (c *Client) Skip() error {
	return c.Send(&wire.Message{Function: wire.FuncSkip, Type: wire.PhaseResponse})
}

// SetProp changes a runtime property on the target. The target applies
// it and keeps waiting for the next directive.
func (c *Client) SetProp(prop wire.Prop, value int32) error {
	return c.Send(&wire.Message{
		Function: wire.FuncSetProp,
		Type:     wire.PhaseResponse,
		Prop:     prop,
		Arg0:     value,
	})
}

// Close closes the connection; the target treats this as fatal.
func (c *Client) Close() error {
	return c.conn.Close()
}
