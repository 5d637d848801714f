// Package call arbitrates the single call a connection may carry: it decides
// when inbound media opens a call, owns the producer goroutines that stream
// local capture to the partner, and suppresses glare after a hangup.
package call

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/rs/zerolog"
)

const (
	DefaultGracePeriod     = 3 * time.Second
	DefaultVideoInterval   = 100 * time.Millisecond
	DefaultMaxSendFailures = 3

	// idleDelay is how long a producer waits after an empty capture.
	idleDelay = 10 * time.Millisecond
)

// Sender is the part of a connection the call manager uses.
type Sender interface {
	Send(p protocol.Packet) bool
	IsOpen() bool
	Done() <-chan struct{}
}

// Config tunes a Manager. Zero values select the defaults.
type Config struct {
	// Self is the local username, used to reject calls to oneself.
	Self string
	// GracePeriod is how long media from the last partner is dropped after a
	// hangup instead of reopening the call.
	GracePeriod time.Duration
	// VideoInterval is the pause between captured frames.
	VideoInterval time.Duration
	// MaxSendFailures stops a producer after that many consecutive failed sends.
	MaxSendFailures int
}

func (c *Config) applyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.VideoInterval <= 0 {
		c.VideoInterval = DefaultVideoInterval
	}
	if c.MaxSendFailures <= 0 {
		c.MaxSendFailures = DefaultMaxSendFailures
	}
}

// Manager is the per-connection call state machine: Idle when Active returns
// nil, Active otherwise.
//
// Transitions happen under mu, from the read goroutine (HandleMedia,
// HandleEndCall, Teardown) or the caller's goroutine (StartCall, EndCall).
// Producers only read the active session pointer.
type Manager struct {
	mu               sync.Mutex
	active           atomic.Pointer[Session]
	lastEndedPartner string
	lastEndedAt      time.Time
	// closed is set by Teardown; no call starts afterwards.
	closed bool

	conn    Sender
	devices media.Devices
	clock   Clock
	conf    Config

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates an idle manager for one connection.
func NewManager(conn Sender, devices media.Devices, conf Config, opts ...Option) *Manager {
	conf.applyDefaults()
	m := &Manager{
		conn:    conn,
		devices: devices,
		clock:   SystemClock{},
		conf:    conf,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Active returns the current session, or nil when idle.
func (m *Manager) Active() *Session {
	return m.active.Load()
}

// StartCall places an outgoing call and starts streaming to partner.
func (m *Manager) StartCall(partner string, mode Mode) (*Session, error) {
	switch {
	case partner == "" || partner == protocol.Broadcast:
		return nil, ErrNoPartner
	case partner == m.conf.Self:
		return nil, ErrSelfCall
	case !m.conn.IsOpen():
		return nil, ErrNotConnected
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	if m.active.Load() != nil {
		m.mu.Unlock()
		return nil, ErrCallActive
	}
	s := newSession(partner, mode, false, m.clock.Now(), m.devices, m.logger)
	m.active.Store(s)
	m.spawn(s, mode == ModeVideo)
	m.mu.Unlock()

	s.logger.Info().Str("mode", string(mode)).Msg("call started")
	return s, nil
}

// EndCall hangs up the active call and tells the partner. It reports false
// when there was no call.
func (m *Manager) EndCall() (*Session, bool) {
	s := m.end()
	if s == nil {
		return nil, false
	}
	if m.conn.IsOpen() && !m.conn.Send(&protocol.EndCall{Target: s.Partner}) {
		s.logger.Debug().Msg("could not deliver END_CALL")
	}
	s.logger.Info().Msg("call ended locally")
	return s, true
}

// HandleMedia decides what an inbound media packet does.
//
// While idle it opens an incoming call, unless sender is the partner of a call
// that ended less than the grace period ago. While active only the partner's
// media is played.
func (m *Manager) HandleMedia(sender string, kind Kind, data []byte) Admission {
	m.mu.Lock()
	if s := m.active.Load(); s != nil {
		m.mu.Unlock()
		if sender != s.Partner {
			return Ignored
		}
		s.deliver(kind, data)
		return Delivered
	}

	if m.closed || sender == "" || sender == m.conf.Self {
		m.mu.Unlock()
		return Ignored
	}
	if sender == m.lastEndedPartner && m.clock.Since(m.lastEndedAt) < m.conf.GracePeriod {
		m.mu.Unlock()
		m.logger.Debug().
			Str("partner", sender).
			Stringer("kind", kind).
			Msg("dropping media from just-ended call")
		return Suppressed
	}

	s := newSession(sender, kind.Mode(), true, m.clock.Now(), m.devices, m.logger)
	m.active.Store(s)
	m.spawn(s, kind == KindVideo)
	m.mu.Unlock()

	s.logger.Info().Str("mode", string(s.Mode)).Msg("incoming call")
	if !m.conn.Send(&protocol.AcceptCall{Target: sender, Mode: string(s.Mode)}) {
		s.logger.Debug().Msg("could not deliver ACCEPT_CALL")
	}
	s.deliver(kind, data)
	return Started
}

// HandleEndCall ends the call locally when sender is the current partner,
// without sending END_CALL back.
func (m *Manager) HandleEndCall(sender string) (*Session, bool) {
	m.mu.Lock()
	s := m.active.Load()
	if s == nil || s.Partner != sender {
		m.mu.Unlock()
		return nil, false
	}
	m.endLocked(s)
	m.mu.Unlock()

	s.stop()
	s.logger.Info().Msg("call ended by partner")
	return s, true
}

// HandleAccept reports whether sender just accepted our outgoing call. It is
// true at most once per session.
func (m *Manager) HandleAccept(sender string) (*Session, bool) {
	s := m.active.Load()
	if s == nil || s.Incoming || s.Partner != sender {
		return nil, false
	}
	if !s.accepted.CompareAndSwap(false, true) {
		return nil, false
	}
	s.logger.Info().Msg("call accepted")
	return s, true
}

// Teardown ends the call because the connection is gone. Nothing is sent,
// and the manager refuses new calls from then on.
func (m *Manager) Teardown() (*Session, bool) {
	m.mu.Lock()
	m.closed = true
	s := m.active.Load()
	if s == nil {
		m.mu.Unlock()
		return nil, false
	}
	m.endLocked(s)
	m.mu.Unlock()

	s.stop()
	s.logger.Info().Msg("call torn down")
	return s, true
}

// Wait blocks until every producer goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) end() *Session {
	m.mu.Lock()
	s := m.active.Load()
	if s == nil {
		m.mu.Unlock()
		return nil
	}
	m.endLocked(s)
	m.mu.Unlock()

	s.stop()
	return s
}

func (m *Manager) endLocked(s *Session) {
	m.active.Store(nil)
	m.lastEndedPartner = s.Partner
	m.lastEndedAt = m.clock.Now()
}
