// Package client is one user's session with a relay: it logs in, turns
// inbound packets into presentation events, and drives calls.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/config"
	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/Mmx233/QTalk/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a Client.
type Options struct {
	Username      string
	Cipher        protocol.Cipher // nil sends everything in plaintext
	Policy        protocol.Policy
	MaxFrameSize  uint32
	MaxBadPackets int
	Call          call.Config
	Devices       media.Devices
	EventsBuffer  int
	Clock         call.Clock
	Logger        *zerolog.Logger
}

// NewOptions derives client options from a loaded configuration.
func NewOptions(conf *config.Client, devices media.Devices) (Options, error) {
	cipher, policy, err := conf.Cipher.Build()
	if err != nil {
		return Options{}, fmt.Errorf("build cipher: %w", err)
	}
	if devices == nil {
		devices = conf.SyntheticDevices(nil)
	}
	return Options{
		Username:      conf.Username,
		Cipher:        cipher,
		Policy:        policy,
		MaxFrameSize:  conf.MaxFrameSize,
		MaxBadPackets: conf.MaxBadPackets,
		Call: call.Config{
			GracePeriod:     conf.Call.GracePeriod,
			VideoInterval:   conf.Call.VideoInterval,
			MaxSendFailures: conf.Call.MaxSendFailures,
		},
		Devices:      devices,
		EventsBuffer: conf.EventsBuffer,
	}, nil
}

// Client is a single connection to a relay. It does not reconnect; create a
// new one after Run returns.
type Client struct {
	username   string
	conn       *protocol.Conn
	dispatcher *protocol.Dispatcher
	calls      *call.Manager
	clock      call.Clock
	maxFrame   uint32
	encrypt    func(protocol.Command) bool

	events       chan Event
	eventsMu     sync.RWMutex
	eventsClosed bool
	closing      chan struct{}
	closingOnce  sync.Once
	running      atomic.Bool

	logger zerolog.Logger
}

// Connect dials the relay described by conf and logs in.
func Connect(ctx context.Context, conf *config.Client, devices media.Devices) (*Client, error) {
	opts, err := NewOptions(conf, devices)
	if err != nil {
		return nil, err
	}
	kind, topts, err := conf.TransportOptions()
	if err != nil {
		return nil, fmt.Errorf("transport options: %w", err)
	}
	return Dial(ctx, kind, conf.Server, topts, opts)
}

// Dial opens a stream to addr and logs in.
func Dial(ctx context.Context, kind transport.Kind, addr string, topts transport.Options, opts Options) (*Client, error) {
	stream, err := transport.Dial(ctx, kind, addr, topts)
	if err != nil {
		return nil, err
	}
	c := New(stream, opts)
	if err := c.Login(); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.logger.Info().Str("server", addr).Str("transport", string(kind)).Msg("connected to relay")
	return c, nil
}

// New wraps an established stream. Call Login before Run.
func New(rw io.ReadWriteCloser, opts Options) *Client {
	var logger zerolog.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	} else {
		logger = log.With().Str("com", "client").Logger()
	}
	logger = logger.With().Str("user", opts.Username).Logger()

	if opts.EventsBuffer <= 0 {
		opts.EventsBuffer = config.DefaultEventsBuffer
	}
	if opts.Clock == nil {
		opts.Clock = call.SystemClock{}
	}
	if opts.Devices == nil {
		opts.Devices = &media.Synthetic{}
	}

	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	connOpts := []protocol.ConnOption{protocol.WithMaxFrameSize(opts.MaxFrameSize)}
	conn := protocol.NewConn(rw, opts.Cipher, opts.Policy, logger, connOpts...)

	opts.Call.Self = opts.Username
	c := &Client{
		username:   opts.Username,
		conn:       conn,
		dispatcher: protocol.NewDispatcher(logger),
		clock:      opts.Clock,
		maxFrame:   opts.MaxFrameSize,
		events:     make(chan Event, opts.EventsBuffer),
		closing:    make(chan struct{}),
		logger:     logger,
	}
	c.encrypt = func(cmd protocol.Command) bool {
		return opts.Cipher != nil && opts.Policy.Encrypted(cmd)
	}
	c.calls = call.NewManager(conn, opts.Devices, opts.Call,
		call.WithClock(opts.Clock),
		call.WithLogger(logger.With().Str("com", "call").Logger()),
	)
	c.dispatcher.SetMaxBadPackets(opts.MaxBadPackets)
	c.register()
	return c
}

// Username returns the name this client logged in with.
func (c *Client) Username() string {
	return c.username
}

// Events delivers presentation events in arrival order. It is closed after
// Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Login announces the username to the relay.
func (c *Client) Login() error {
	p := &protocol.Login{Username: c.username}
	if err := c.conn.WritePacket(p, c.encrypt(p.Command())); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	return nil
}

// Run reads from the relay until the connection ends or ctx is cancelled.
// It tears down any call, emits EventDisconnected and closes Events before
// returning. A clean close by either side returns nil.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	c.emit(Event{Kind: EventConnected})
	err := c.dispatcher.Serve(ctx, c.conn)

	if s, ok := c.calls.Teardown(); ok {
		e := callEvent(EventCallEnded, s, c.clock.Now())
		e.Reason = ReasonDisconnected
		c.emit(e)
	}
	c.calls.Wait()

	if err != nil {
		c.logger.Warn().Err(err).Msg("disconnected from relay")
	} else {
		c.logger.Info().Msg("disconnected from relay")
	}
	c.emitDisconnected(err)
	c.shutdown()
	c.closeEvents()
	return err
}

// Done is closed once the connection is closed.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Done()
}

// Close hangs up the connection. Run returns soon after.
func (c *Client) Close() error {
	c.shutdown()
	err := c.conn.Close()
	// Run never started, so nobody else will release the events channel.
	if c.running.CompareAndSwap(false, true) {
		c.calls.Teardown()
		c.calls.Wait()
		c.closeEvents()
	}
	return err
}

// SendMessage sends text to a user, or to the current room when to is empty
// or protocol.Broadcast.
func (c *Client) SendMessage(to, text string) bool {
	if to == "" {
		to = protocol.Broadcast
	}
	return c.conn.Send(&protocol.Msg{Text: text, To: to})
}

// JoinRoom joins or creates room. An empty password means none.
func (c *Client) JoinRoom(room, password string) bool {
	p := &protocol.JoinRoom{Room: room}
	if password != "" {
		p.Password = protocol.StringPtr(password)
	}
	return c.conn.Send(p)
}

// SendFile sends content under the base name of filename, to one user or to
// the room when to is empty or protocol.Broadcast.
func (c *Client) SendFile(filename string, content []byte, to string) error {
	if len(content) == 0 {
		return ErrEmptyFile
	}
	if uint64(len(content)) > uint64(c.maxFrame) {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrFileTooLarge, len(content), c.maxFrame)
	}
	p := &protocol.File{
		Filename: filepath.Base(filename),
		Size:     int64(len(content)),
		Content:  content,
	}
	if to != "" && to != protocol.Broadcast {
		p.To = protocol.StringPtr(to)
	}
	if err := c.conn.WritePacket(p, c.encrypt(p.Command())); err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return fmt.Errorf("%w: %w", ErrFileTooLarge, err)
		}
		return fmt.Errorf("send file: %w", err)
	}
	return nil
}

// StartCall calls partner and starts streaming local media.
func (c *Client) StartCall(partner string, mode call.Mode) (*call.Session, error) {
	s, err := c.calls.StartCall(partner, mode)
	if err != nil {
		return nil, err
	}
	c.emit(callEvent(EventCallStarted, s, s.StartedAt))
	return s, nil
}

// EndCall hangs up. It reports false when there was no call.
func (c *Client) EndCall() bool {
	s, ok := c.calls.EndCall()
	if ok {
		e := callEvent(EventCallEnded, s, c.clock.Now())
		e.Reason = ReasonLocal
		c.emit(e)
	}
	return ok
}

// ActiveCall returns the ongoing call, or nil.
func (c *Client) ActiveCall() *call.Session {
	return c.calls.Active()
}

func (c *Client) shutdown() {
	c.closingOnce.Do(func() { close(c.closing) })
}

// emit blocks while the events buffer is full, so a slow consumer slows the
// read loop instead of losing events. After shutdown events are dropped.
func (c *Client) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = c.clock.Now()
	}
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- e:
	case <-c.closing:
		c.logger.Debug().Str("kind", string(e.Kind)).Msg("dropping event after shutdown")
	}
}

func (c *Client) emitDisconnected(err error) {
	e := Event{Kind: EventDisconnected, Time: c.clock.Now()}
	if err != nil {
		e.Err = err
		e.Error = err.Error()
	}
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- e:
		return
	default:
	}
	select {
	case c.events <- e:
	case <-c.closing:
		c.logger.Debug().Msg("events buffer full, disconnect not delivered")
	}
}

func (c *Client) closeEvents() {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}
