// Package wire frames arbitrary-length text payloads over a byte
// stream using a 4-byte big-endian length prefix. The same convention
// is used by both the venue server and the client.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds the payload length accepted on the read side
const MaxFrameSize = 1_000_000

var (
	// ErrInvalidLength indicates a non-positive length prefix. The
	// stream cannot be resynchronized afterwards.
	ErrInvalidLength = errors.New("wire: invalid frame length")

	// ErrFrameTooLarge indicates an oversized frame. The payload has
	// been discarded and the stream remains usable.
	ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")
)

// Framer reads and writes length-prefixed frames on a byte stream.
// Reads and writes each assume a single caller; no partial frame is
// ever returned.
type Framer struct {
	rw io.ReadWriter
}

// NewFramer creates a framer over a byte stream
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw}
}

// WriteFrame writes one frame as a single contiguous write
func (f *Framer) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := f.rw.Write(buf); err != nil {
		return fmt.Errorf("wire: failed to write frame: %w", err)
	}
	return nil
}

// ReadFrame blocks until a full frame arrives. A short read of either
// the prefix or the payload is reported as the underlying error
// (connection loss). Oversized frames are skipped and reported as
// ErrFrameTooLarge so the caller can log and keep reading.
func (f *Framer) ReadFrame() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(f.rw, prefix[:]); err != nil {
		return nil, fmt.Errorf("wire: failed to read length prefix: %w", err)
	}

	length := int32(binary.BigEndian.Uint32(prefix[:]))
	if length <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}
	if length > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, f.rw, int64(length)); err != nil {
			return nil, fmt.Errorf("wire: failed to skip oversized frame: %w", err)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.rw, payload); err != nil {
		return nil, fmt.Errorf("wire: failed to read payload: %w", err)
	}
	return payload, nil
}
