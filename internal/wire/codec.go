// Package wire defines the protocol envelope and its framing: a 4-byte
// big-endian length header followed by exactly that many bytes of CBOR
// payload, repeated for every message in both directions.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// ErrProtocol marks malformed frames and values outside the recognized
// enumerations. Session policy treats anything wrapping it as
// unrecoverable.
var ErrProtocol = errors.New("protocol violation")

const (
	// HeaderSize is the length prefix in front of every payload.
	HeaderSize = 4

	// MaxFrameSize caps the declared payload length. A header past this
	// is a protocol violation, not an allocation attempt.
	MaxFrameSize = 64 << 20
)

// EncodePayload serializes one message payload, without the length header.
func EncodePayload(m *Message) ([]byte, error) {
	b, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode message: %w", err)
	}
	return b, nil
}

// DecodePayload parses buf into m. The buffer must hold exactly one
// message; truncated payloads and trailing bytes both fail, so a reused
// buffer can never leak stale bytes into the result.
func DecodePayload(buf []byte, m *Message) error {
	m.Reset()
	if err := cbor.Unmarshal(buf, m); err != nil {
		return fmt.Errorf("wire: decode %d-byte payload: %v: %w", len(buf), err, ErrProtocol)
	}
	return nil
}

// WriteFrame writes one length-prefixed frame carrying m.
func WriteFrame(w io.Writer, m *Message) error {
	payload, err := EncodePayload(m)
	if err != nil {
		return err
	}
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame into m, reusing buf when it is large enough
// and growing it otherwise. It returns the buffer for the next call; the
// buffer only ever grows. Both reads retry partial reads internally; a
// byte count short of the declared length fails with
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, buf []byte, m *Message) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return buf, fmt.Errorf("wire: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return buf, fmt.Errorf("wire: declared frame length %d exceeds %d: %w", n, MaxFrameSize, ErrProtocol)
	}
	if int(n) > cap(buf) {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r, buf); err != nil {
		return buf, fmt.Errorf("wire: read %d-byte frame payload: %w", n, err)
	}
	if err := DecodePayload(buf, m); err != nil {
		return buf, err
	}
	return buf, nil
}
