package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/transport"
)

type Client struct {
	// Server is the relay's host:port.
	Server        string    `yaml:"server"`
	Username      string    `yaml:"username"`
	Transport     string    `yaml:"transport"` // tcp or quic
	TLS           ClientTLS `yaml:"tls"`
	Quic          Quic      `yaml:"quic"`
	Cipher        Cipher    `yaml:"cipher"`
	MaxFrameSize  uint32    `yaml:"max_frame_size"`
	MaxBadPackets int       `yaml:"max_bad_packets"` // 0 never disconnects
	Call          Call      `yaml:"call"`
	Devices       Devices   `yaml:"devices"`
	EventsBuffer  int       `yaml:"events_buffer"`
	Reconnect     Reconnect `yaml:"reconnect"`
	DownloadDir   string    `yaml:"download_dir"`
}

type Call struct {
	GracePeriod     time.Duration `yaml:"grace_period"`
	VideoInterval   time.Duration `yaml:"video_interval"`
	MaxSendFailures int           `yaml:"max_send_failures"`
}

type Devices struct {
	Audio string `yaml:"audio"` // tone, silence or none
	Video string `yaml:"video"` // pattern or none
}

type Reconnect struct {
	Enabled      *bool         `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// IsEnabled defaults to true when unset.
func (r Reconnect) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

type ClientTLS struct {
	// Enabled wraps TCP in TLS. QUIC always uses TLS.
	Enabled            bool   `yaml:"enabled"`
	CACertFile         string `yaml:"ca_cert_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Config builds the client TLS configuration.
func (t ClientTLS) Config() (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
	}
	if t.CACertFile != "" {
		caCertPEM, err := os.ReadFile(t.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCertPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		conf.RootCAs = pool
	}
	return conf, nil
}

// TransportOptions returns the dial options for the configured transport.
func (c *Client) TransportOptions() (transport.Kind, transport.Options, error) {
	kind, err := transport.ParseKind(c.Transport)
	if err != nil {
		return "", transport.Options{}, err
	}
	var opts transport.Options
	if kind == transport.KindQUIC || c.TLS.Enabled {
		if opts.TLS, err = c.TLS.Config(); err != nil {
			return "", transport.Options{}, err
		}
	}
	if kind == transport.KindQUIC {
		opts.Quic = c.Quic.GetConfig()
	}
	return kind, opts, nil
}

// SyntheticDevices returns the device set described by Devices.
func (c *Client) SyntheticDevices(sink *media.Recorder) *media.Synthetic {
	return &media.Synthetic{Audio: c.Devices.Audio, Video: c.Devices.Video, Sink: sink}
}

// Validate checks a client configuration after ApplyDefaults.
func (c *Client) Validate() error {
	if err := ValidateAddress(c.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if c.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if err := validateTransport(c.Transport); err != nil {
		return err
	}
	if err := c.Cipher.Validate(); err != nil {
		return err
	}
	if c.MaxBadPackets < 0 {
		return fmt.Errorf("max_bad_packets must not be negative, got %d", c.MaxBadPackets)
	}
	switch c.Devices.Audio {
	case media.AudioTone, media.AudioSilence, media.AudioNone:
	default:
		return fmt.Errorf("devices.audio: unknown source %q", c.Devices.Audio)
	}
	switch c.Devices.Video {
	case media.VideoPattern, media.VideoNone:
	default:
		return fmt.Errorf("devices.video: unknown source %q", c.Devices.Video)
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay %v is below initial_delay %v", c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	return nil
}
