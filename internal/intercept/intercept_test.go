package intercept

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glesdbg/glesdbg/internal/clock"
	"github.com/glesdbg/glesdbg/internal/transport"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// scriptedPeer is a fake debugger on the far end of a real TCP
// connection.
type scriptedPeer struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func (p *scriptedPeer) read() wire.Message {
	p.t.Helper()
	var m wire.Message
	var err error
	p.buf, err = wire.ReadFrame(p.conn, p.buf, &m)
	require.NoError(p.t, err)
	return m
}

func (p *scriptedPeer) reply(m wire.Message) {
	p.t.Helper()
	m.Type = wire.PhaseResponse
	require.NoError(p.t, wire.WriteFrame(p.conn, &m))
}

func newTestInterceptor(t *testing.T, observe Observer) (*Interceptor, *scriptedPeer) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := clock.New(clock.Monotonic)
	sess := transport.New(log, src)

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Start(0) }()
	require.Eventually(t, func() bool { return sess.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	port := sess.Addr().(*net.TCPAddr).Port

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	peer := &scriptedPeer{t: t, conn: conn}

	ack := peer.read()
	require.Equal(t, wire.FuncACK, ack.Function)
	require.NoError(t, <-errCh)

	t.Cleanup(func() {
		sess.Stop()
		conn.Close()
	})
	return New(sess, NewProps(src), log, observe), peer
}

func TestContinueThenSkipInvokesExactlyOnce(t *testing.T) {
	var records []Record
	i, peer := newTestInterceptor(t, func(r Record) { records = append(records, r) })

	invocations := 0
	done := make(chan any, 1)
	go func() {
		ret, err := i.Run(CallContext{ID: 11}, "glDrawArrays", 7, func(res *wire.Message) any {
			invocations++
			return "drawn"
		}, true)
		assert.NoError(t, err)
		done <- ret
	}()

	before := peer.read()
	assert.Equal(t, wire.PhaseBeforeCall, before.Type)
	assert.Equal(t, wire.Function(7), before.Function)
	assert.Equal(t, uint64(11), before.ContextID)
	peer.reply(wire.Message{Function: wire.FuncContinue})

	after := peer.read()
	assert.Equal(t, wire.PhaseAfterCall, after.Type)
	assert.True(t, after.HasTime(), "AfterCall must carry a measured time")
	peer.reply(wire.Message{Function: wire.FuncSkip})

	select {
	case ret := <-done:
		assert.Equal(t, "drawn", ret)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate on SKIP")
	}
	assert.Equal(t, 1, invocations)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Invocations)
	assert.Equal(t, "glDrawArrays", records[0].Name)
}

func TestSkipBeforeInvokeReturnsNil(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	invocations := 0
	done := make(chan any, 1)
	go func() {
		ret, err := i.Run(CallContext{ID: 1}, "glClear", 2, func(res *wire.Message) any {
			invocations++
			return "cleared"
		}, true)
		assert.NoError(t, err)
		done <- ret
	}()

	peer.read() // BeforeCall
	peer.reply(wire.Message{Function: wire.FuncSkip})

	select {
	case ret := <-done:
		assert.Nil(t, ret, "skipped call must return the never-invoked result")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate on SKIP")
	}
	assert.Zero(t, invocations)
}

func TestSetPropDoesNotAdvanceTheCall(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	var invocations atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, err := i.Run(CallContext{ID: 3}, "glDrawElements", 9, func(res *wire.Message) any {
			invocations.Add(1)
			return nil
		}, true)
		done <- err
	}()

	peer.read() // BeforeCall
	peer.reply(wire.Message{Function: wire.FuncSetProp, Prop: wire.PropCapture, Arg0: 5})
	// The target applies the property and blocks in receive without
	// sending; follow up with more directives unsolicited.
	peer.reply(wire.Message{Function: wire.FuncSetProp, Prop: wire.PropTimeMode, Arg0: int32(clock.Wall)})
	assert.Zero(t, invocations.Load(), "invoke must not run before a CONTINUE")

	peer.reply(wire.Message{Function: wire.FuncContinue})
	peer.read() // AfterCall
	peer.reply(wire.Message{Function: wire.FuncSkip})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate")
	}
	assert.Equal(t, int32(1), invocations.Load())
	assert.Equal(t, int32(5), i.Props().Capture())
	assert.Equal(t, clock.Wall, i.Props().Clock().Mode())
}

func TestNoResponseSynthesisSendsBothFramesWithoutBlocking(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	invocations := 0
	ret, err := i.Run(CallContext{ID: 4}, "glFlush", 12, func(res *wire.Message) any {
		invocations++
		return "flushed"
	}, false)
	require.NoError(t, err, "Run must complete without any peer reply")
	assert.Equal(t, "flushed", ret)
	assert.Equal(t, 1, invocations)

	before := peer.read()
	assert.Equal(t, wire.PhaseBeforeCall, before.Type)
	assert.False(t, before.ExpectResponse)

	after := peer.read()
	assert.Equal(t, wire.PhaseAfterCall, after.Type)
	assert.True(t, after.HasTime())
}

func TestInvocationSuppliedTimeIsKept(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	_, err := i.Run(CallContext{ID: 5}, "glReadPixels", 13, func(res *wire.Message) any {
		// Calls that copy out data record time inside the invocation.
		res.SetTime(123.5)
		return nil
	}, false)
	require.NoError(t, err)

	peer.read() // BeforeCall
	after := peer.read()
	assert.Equal(t, float32(123.5), after.TimeMS())
}

func TestRepeatedContinueReinvokes(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	invocations := 0
	done := make(chan error, 1)
	go func() {
		_, err := i.Run(CallContext{ID: 6}, "glClear", 2, func(res *wire.Message) any {
			invocations++
			return nil
		}, true)
		done <- err
	}()

	peer.read() // BeforeCall
	peer.reply(wire.Message{Function: wire.FuncContinue})
	peer.read() // AfterCall
	peer.reply(wire.Message{Function: wire.FuncContinue})
	peer.read() // second AfterCall
	peer.reply(wire.Message{Function: wire.FuncSkip})

	require.NoError(t, <-done)
	assert.Equal(t, 2, invocations)
}

func TestUnknownDirectiveIsProtocolError(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := i.Run(CallContext{ID: 7}, "glClear", 2, func(res *wire.Message) any { return nil }, true)
		done <- err
	}()

	peer.read()
	peer.reply(wire.Message{Function: wire.FuncACK})

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrProtocol)
}

func TestUnknownPropIsProtocolError(t *testing.T) {
	i, peer := newTestInterceptor(t, nil)

	done := make(chan error, 1)
	go func() {
		_, err := i.Run(CallContext{ID: 8}, "glClear", 2, func(res *wire.Message) any { return nil }, true)
		done <- err
	}()

	peer.read()
	peer.reply(wire.Message{Function: wire.FuncSetProp, Prop: wire.Prop(99), Arg0: 1})

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrProtocol)
}

func TestPropsApply(t *testing.T) {
	p := NewProps(clock.New(clock.Monotonic))

	require.NoError(t, p.Apply(wire.PropCapture, 1))
	assert.Equal(t, int32(1), p.Capture())

	require.NoError(t, p.Apply(wire.PropTimeMode, int32(clock.Wall)))
	assert.Equal(t, clock.Wall, p.Clock().Mode())

	err := p.Apply(wire.PropTimeMode, 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrProtocol)
}
