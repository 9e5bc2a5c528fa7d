package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxPayloadSize bounds a single frame's MessagePack payload (§3: "N must
// satisfy 1 <= N <= 64 MiB"). It exists to cap the allocation a corrupt or
// hostile peer can force per frame, not to limit legitimate traffic.
const MaxPayloadSize = 64 * 1024 * 1024

// ErrConnectionClosed is returned by ReadFrame when the peer closed the
// connection cleanly (EOF exactly at a frame boundary). It is distinct from
// a corrupt-payload error so callers can tell "the other side hung up" from
// "the other side sent garbage".
var ErrConnectionClosed = errors.New("rpc: connection closed")

// ProtocolError marks a fatal framing violation: a zero-length frame, an
// oversize frame, or a short read mid-payload. Per §7, all of these
// terminate the connection; they are never retried.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// ReadFrame reads exactly one length-prefixed frame from r and returns its
// raw MessagePack payload, undecoded. Decoding into a concrete shape is the
// caller's job (see DecodeEnvelope) since the agent and the client
// disambiguate differently.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolErrorf("rpc: short read on length prefix: %v", err)
		}
		return nil, fmt.Errorf("rpc: read length prefix: %w", err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, protocolErrorf("rpc: zero-length frame")
	}
	if n > MaxPayloadSize {
		return nil, protocolErrorf("rpc: frame of %d bytes exceeds max %d", n, MaxPayloadSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, protocolErrorf("rpc: short read on %d-byte payload: %v", n, err)
		}
		return nil, fmt.Errorf("rpc: read payload: %w", err)
	}

	return payload, nil
}

// WriteFrame serialises msg as a named MessagePack map (struct fields keyed
// by their msgpack tag, matching the Rust side's rmp_serde::to_vec_named)
// and writes it as a single length-prefixed frame. It does not itself
// serialise concurrent callers; use a FrameWriter for a shared connection.
func WriteFrame(w io.Writer, msg interface{}) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: encode frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return protocolErrorf("rpc: encoded frame of %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpc: write payload: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("rpc: flush: %w", err)
		}
	}
	return nil
}

type flusher interface {
	Flush() error
}

// FrameWriter serialises every frame written to w behind a mutex so that
// two goroutines (e.g. the dispatcher's response path and the notification
// forwarder) can never interleave partial frames on the wire (§4.3).
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteFrame(msg interface{}) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return WriteFrame(fw.w, msg)
}
