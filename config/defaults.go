package config

import (
	"net"
	"strconv"
	"time"

	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/google/uuid"
)

// Default timeout and interval values
const (
	// DefaultMaxIdleTimeout is the default QUIC connection idle timeout
	DefaultMaxIdleTimeout = 5 * time.Minute

	// DefaultKeepAlivePeriod keeps QUIC connections from idling out
	DefaultKeepAlivePeriod = 15 * time.Second

	// DefaultReconnectDelay is the first pause before re-dialing the relay
	DefaultReconnectDelay = 5 * time.Second

	// DefaultMaxReconnectDelay caps the exponential reconnect backoff
	DefaultMaxReconnectDelay = 60 * time.Second

	// DefaultEventsBuffer is the capacity of the client's event channel
	DefaultEventsBuffer = 256

	// DefaultCipherOverlap is how many keys stay valid after a rotation
	DefaultCipherOverlap = 2

	DefaultListenIP    = "0.0.0.0"
	DefaultServerHost  = "127.0.0.1"
	DefaultRoom        = "General"
	DefaultDownloadDir = "downloads"
)

// GenerateUsername returns a random guest name for clients without one.
func GenerateUsername() string {
	return "guest-" + uuid.New().String()[:8]
}

// ApplyDefaults fills zero-valued fields.
func (c *Client) ApplyDefaults() {
	if c.Server == "" {
		c.Server = net.JoinHostPort(DefaultServerHost, strconv.Itoa(protocol.DefaultPort))
	}
	if c.Username == "" {
		c.Username = GenerateUsername()
	}
	if c.Transport == "" {
		c.Transport = "tcp"
	}
	c.Cipher.applyDefaults()
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.Call.GracePeriod == 0 {
		c.Call.GracePeriod = call.DefaultGracePeriod
	}
	if c.Call.VideoInterval == 0 {
		c.Call.VideoInterval = call.DefaultVideoInterval
	}
	if c.Call.MaxSendFailures == 0 {
		c.Call.MaxSendFailures = call.DefaultMaxSendFailures
	}
	if c.Devices.Audio == "" {
		c.Devices.Audio = media.AudioTone
	}
	if c.Devices.Video == "" {
		c.Devices.Video = media.VideoPattern
	}
	if c.EventsBuffer == 0 {
		c.EventsBuffer = DefaultEventsBuffer
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultReconnectDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultMaxReconnectDelay
	}
	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir
	}
}

// ApplyDefaults fills zero-valued fields.
func (s *Server) ApplyDefaults() {
	if s.Listen.IP == "" {
		s.Listen.IP = DefaultListenIP
	}
	if s.Listen.Port == 0 {
		s.Listen.Port = protocol.DefaultPort
	}
	if s.Transport == "" {
		s.Transport = "tcp"
	}
	s.Cipher.applyDefaults()
	if s.MaxFrameSize == 0 {
		s.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if s.DefaultRoom == "" {
		s.DefaultRoom = DefaultRoom
	}
}

func (c *Cipher) applyDefaults() {
	if c.Suite == "" {
		c.Suite = string(protocol.SuiteFernet)
	}
	if c.Overlap == 0 {
		c.Overlap = DefaultCipherOverlap
	}
}
