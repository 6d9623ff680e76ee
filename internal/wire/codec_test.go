package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	ms := float32(3.25)
	tests := []struct {
		name string
		msg  Message
	}{
		{"handshake ack", Message{Function: FuncACK, Type: PhaseResponse}},
		{"before call", Message{ContextID: 42, Function: 7, Type: PhaseBeforeCall, ExpectResponse: true}},
		{"after call with time", Message{ContextID: 42, Function: 7, Type: PhaseAfterCall, Time: &ms, Data: []byte{1, 2, 3}}},
		{"setprop directive", Message{Function: FuncSetProp, Type: PhaseResponse, Prop: PropTimeMode, Arg0: 1}},
		{"empty", Message{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := EncodePayload(&tc.msg)
			require.NoError(t, err)

			var got Message
			require.NoError(t, DecodePayload(payload, &got))
			assert.Equal(t, tc.msg, got)
		})
	}
}

func TestDecodePayloadRejectsTrailingBytes(t *testing.T) {
	payload, err := EncodePayload(&Message{Function: FuncContinue, Type: PhaseResponse})
	require.NoError(t, err)

	var got Message
	err = DecodePayload(append(payload, 0x00), &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodePayloadRejectsTruncated(t *testing.T) {
	payload, err := EncodePayload(&Message{ContextID: 9, Function: 3, Type: PhaseBeforeCall, Data: bytes.Repeat([]byte{0xAB}, 64)})
	require.NoError(t, err)

	var got Message
	err = DecodePayload(payload[:len(payload)/2], &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestFrameRoundTrip(t *testing.T) {
	var network bytes.Buffer
	want := Message{ContextID: 1, Function: 5, Type: PhaseBeforeCall, ExpectResponse: true}
	require.NoError(t, WriteFrame(&network, &want))

	var got Message
	_, err := ReadFrame(&network, nil, &got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Zero(t, network.Len(), "frame must consume exactly its declared bytes")
}

func TestReadFrameLengthHonesty(t *testing.T) {
	// Header claims 10 payload bytes but only 5 ever arrive.
	var network bytes.Buffer
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	network.Write(hdr[:])
	network.Write([]byte{1, 2, 3, 4, 5})

	var got Message
	_, err := ReadFrame(&network, nil, &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameRejectsAbsurdLength(t *testing.T) {
	var network bytes.Buffer
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	network.Write(hdr[:])

	var got Message
	_, err := ReadFrame(&network, nil, &got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestReadFrameBufferReuseNoStaleBytes(t *testing.T) {
	var network bytes.Buffer
	big := Message{ContextID: 1, Function: 2, Type: PhaseAfterCall, Data: bytes.Repeat([]byte{0xCC}, 512)}
	small := Message{ContextID: 2, Function: FuncSkip, Type: PhaseResponse}
	require.NoError(t, WriteFrame(&network, &big))
	require.NoError(t, WriteFrame(&network, &small))

	var got Message
	buf, err := ReadFrame(&network, nil, &got)
	require.NoError(t, err)
	require.Equal(t, big, got)
	grown := cap(buf)

	buf, err = ReadFrame(&network, buf, &got)
	require.NoError(t, err)
	assert.Equal(t, small, got)
	assert.Nil(t, got.Data, "reused buffer must not leak the previous payload")
	assert.Equal(t, grown, cap(buf), "buffer grows but never shrinks")
}

func TestFunctionDirectives(t *testing.T) {
	assert.True(t, FuncContinue.IsDirective())
	assert.True(t, FuncSetProp.IsDirective())
	assert.False(t, Function(12).IsDirective())
	assert.Equal(t, "CONTINUE", FuncContinue.String())
	assert.Equal(t, "call_12", Function(12).String())
}
