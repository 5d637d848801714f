package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Conn owns one framer/cipher/codec stack over a reliable ordered stream.
//
// Any number of goroutines may send concurrently: a single write lock keeps
// frames from interleaving on the wire. Reading is meant for exactly one
// goroutine, usually Dispatcher.Serve.
type Conn struct {
	rw       io.ReadWriteCloser
	cipher   Cipher
	policy   Policy
	maxFrame uint32

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	cause     error
	done      chan struct{}

	logger zerolog.Logger
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithMaxFrameSize caps frames in both directions. Zero disables the cap.
func WithMaxFrameSize(n uint32) ConnOption {
	return func(c *Conn) { c.maxFrame = n }
}

// NewConn wraps rw. A nil cipher sends and accepts every packet unencrypted.
func NewConn(rw io.ReadWriteCloser, cipher Cipher, policy Policy, logger zerolog.Logger, opts ...ConnOption) *Conn {
	c := &Conn{
		rw:       rw,
		cipher:   cipher,
		policy:   policy,
		maxFrame: DefaultMaxFrameSize,
		done:     make(chan struct{}),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes p, encrypting it when the policy says so.
// It never fails loudly: the result only tells the caller whether to keep going.
func (c *Conn) Send(p Packet) bool {
	return c.SendEncrypted(p, c.cipher != nil && c.policy.Encrypted(p.Command()))
}

// SendEncrypted writes p with an explicit encryption choice.
func (c *Conn) SendEncrypted(p Packet, encrypted bool) bool {
	if err := c.WritePacket(p, encrypted); err != nil {
		c.logger.Debug().Err(err).Str("command", string(p.Command())).Msg("send failed")
		return false
	}
	return true
}

// WritePacket encodes, optionally encrypts, and writes p as one frame.
// A transport error closes the connection. A frame over the size cap is
// refused with ErrFrameTooLarge and the connection stays open.
func (c *Conn) WritePacket(p Packet, encrypted bool) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	frame, err := Encode(p)
	if err != nil {
		return err
	}
	if encrypted {
		if c.cipher == nil {
			return ErrNoCipher
		}
		if frame, err = c.cipher.Encrypt(frame); err != nil {
			return fmt.Errorf("encrypt %s: %w", p.Command(), err)
		}
	}

	if c.maxFrame > 0 && uint64(len(frame)) > uint64(c.maxFrame) {
		return fmt.Errorf("%w: %s needs %d bytes, limit is %d", ErrFrameTooLarge, p.Command(), len(frame), c.maxFrame)
	}

	c.writeMu.Lock()
	err = WriteFrame(c.rw, frame)
	c.writeMu.Unlock()

	if err != nil {
		if c.closed.Load() {
			return ErrConnClosed
		}
		c.logger.Debug().Err(err).Msg("write failed, closing connection")
		_ = c.closeWith(err)
		return err
	}
	return nil
}

// ReadPacket blocks until the next frame arrives and opens it.
//
// io.EOF means the peer closed cleanly. Errors for which IsDroppable is true
// concern only that frame; the stream is still in sync.
func (c *Conn) ReadPacket() (Packet, error) {
	frame, err := ReadFrame(c.rw, c.maxFrame)
	if err != nil {
		if c.closed.Load() && !errors.Is(err, io.EOF) {
			if c.cause != nil {
				return nil, fmt.Errorf("write side failed: %w", c.cause)
			}
			return nil, ErrConnClosed
		}
		return nil, err
	}
	return c.open(frame)
}

func (c *Conn) open(frame []byte) (Packet, error) {
	if c.cipher == nil {
		return Decode(frame)
	}

	plaintext, err := c.cipher.Decrypt(frame)
	if err == nil {
		return Decode(plaintext)
	}
	if !errors.Is(err, ErrAuthentication) || !c.policy.AllowsPlaintext() {
		return nil, err
	}

	// Frames for plaintext commands are not ciphertext at all.
	p, decodeErr := Decode(frame)
	if decodeErr != nil {
		return nil, err
	}
	if c.policy.Encrypted(p.Command()) {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPlaintext, p.Command())
	}
	return p, nil
}

// IsOpen reports whether Close has not been called yet.
func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying stream. It is safe to call more than once.
func (c *Conn) Close() error {
	return c.closeWith(nil)
}

func (c *Conn) closeWith(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.cause = cause
		c.closed.Store(true)
		close(c.done)
		err = c.rw.Close()
	})
	return err
}
