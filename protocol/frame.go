package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Wire format: [4 bytes big-endian length][payload]

const (
	// HeaderLength is the size of the frame length prefix.
	HeaderLength = 4

	// ReadChunkSize bounds a single payload read, so a hostile length prefix cannot
	// force one huge allocation before any data arrives.
	ReadChunkSize = 4096

	// DefaultMaxFrameSize caps accepted frames. A whole file travels in one FILE
	// packet, so the cap is generous.
	DefaultMaxFrameSize = 64 * 1024 * 1024
)

// WriteFrame writes payload preceded by its length as one logical write.
// Partial writes by the underlying writer are retried until every byte is flushed.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := GetBufferWithSize(HeaderLength + len(payload))
	defer PutBuffer(buf)

	var header [HeaderLength]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buf.Write(header[:])
	buf.Write(payload)

	if err := writeFull(w, buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// ReadFrame reads one frame and returns its payload.
//
// It returns io.EOF when the stream ends cleanly before a header byte arrives, and
// ErrTruncatedFrame when the stream ends after part of a frame was read. A maxSize
// of zero disables the length cap.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [HeaderLength]byte
	n, err := io.ReadFull(r, header[:])
	if err != nil {
		switch {
		case n == 0 && errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: got %d of %d header bytes", ErrTruncatedFrame, n, HeaderLength)
		default:
			return nil, fmt.Errorf("read frame header: %w", err)
		}
	}

	length := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, 0, min(int(length), ReadChunkSize))
	for remaining := int(length); remaining > 0; {
		chunk := min(remaining, ReadChunkSize)
		start := len(payload)
		payload = slices.Grow(payload, chunk)[:start+chunk]

		n, err := io.ReadFull(r, payload[start:])
		remaining -= n
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: got %d of %d payload bytes", ErrTruncatedFrame, int(length)-remaining, length)
			}
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}

	return payload, nil
}
