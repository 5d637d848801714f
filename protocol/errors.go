package protocol

import "errors"

// Framing errors.
var (
	// ErrFrameTooLarge is returned when a frame header declares a length above the
	// configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrTruncatedFrame is returned when the peer closed the stream after part of a
	// frame was read. Unlike io.EOF this is a protocol violation.
	ErrTruncatedFrame = errors.New("connection closed mid-frame")
)

// Packet errors. A read loop drops the offending packet and keeps going.
var (
	// ErrAuthentication indicates a frame failed authenticated decryption: wrong key,
	// truncated token or modified bytes.
	ErrAuthentication = errors.New("packet authentication failed")

	// ErrDecode indicates the plaintext is not a well formed packet.
	ErrDecode = errors.New("malformed packet")

	// ErrUnknownCommand indicates a well formed packet with a command tag this side
	// does not understand.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnexpectedPlaintext indicates an unencrypted packet whose command is required
	// to be encrypted.
	ErrUnexpectedPlaintext = errors.New("plaintext packet for encrypted command")
)

// Connection and key errors.
var (
	ErrConnClosed = errors.New("connection closed")
	ErrInvalidKey = errors.New("invalid key")
	ErrNoCipher   = errors.New("encryption requested without a cipher")

	// ErrDesync is returned by Dispatcher.Serve after too many consecutive
	// undecryptable or malformed packets.
	ErrDesync = errors.New("too many bad packets")
)

// IsDroppable reports whether err only affects a single packet, so the read loop
// may log it and continue.
func IsDroppable(err error) bool {
	return errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrDecode) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrUnexpectedPlaintext)
}
