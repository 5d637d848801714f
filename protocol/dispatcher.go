package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// HandlerFunc handles one decoded packet on the read goroutine.
type HandlerFunc func(p Packet)

// Dispatcher routes decoded packets to handlers by command and drives a
// connection's read loop.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Command]HandlerFunc
	maxBad   int
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Command]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers h for cmd, replacing any previous handler.
func (d *Dispatcher) Handle(cmd Command, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cmd] = h
}

// SetMaxBadPackets makes Serve give up after n consecutive packets that fail
// authentication or decoding. Zero keeps reading forever.
func (d *Dispatcher) SetMaxBadPackets(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maxBad = n
}

// Dispatch calls the handler registered for p's command.
// It returns ErrUnknownCommand when there is none.
func (d *Dispatcher) Dispatch(p Packet) error {
	d.mu.RLock()
	h, ok := d.handlers[p.Command()]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no handler for %s", ErrUnknownCommand, p.Command())
	}
	h(p)
	return nil
}

// Serve reads packets from c and dispatches them until the stream ends, then
// closes c. Cancelling ctx closes c as well.
//
// It returns nil when the peer closed cleanly or c was closed locally, and the
// transport error otherwise. Single bad packets are logged and skipped.
func (d *Dispatcher) Serve(ctx context.Context, c *Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.Close()

	d.mu.RLock()
	maxBad := d.maxBad
	d.mu.RUnlock()

	bad := 0
	for {
		p, err := c.ReadPacket()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				d.logger.Info().Msg("peer closed connection")
				return nil
			case errors.Is(err, ErrConnClosed):
				d.logger.Debug().Msg("connection closed locally")
				return nil
			case errors.Is(err, ErrUnknownCommand):
				d.logger.Debug().Err(err).Msg("ignoring unknown command")
				continue
			case IsDroppable(err):
				bad++
				d.logger.Warn().Err(err).Int("consecutive", bad).Msg("dropped packet")
				if maxBad > 0 && bad >= maxBad {
					return fmt.Errorf("%w: %d in a row", ErrDesync, bad)
				}
				continue
			default:
				return fmt.Errorf("read packet: %w", err)
			}
		}

		bad = 0
		if err := d.Dispatch(p); err != nil {
			d.logger.Debug().Err(err).Msg("ignoring packet")
		}
	}
}
