package config

import (
	"crypto/tls"
	"fmt"

	"github.com/Mmx233/QTalk/transport"
)

type Server struct {
	Listen        Listen    `yaml:"listen"`
	Transport     string    `yaml:"transport"` // tcp or quic
	TLS           ServerTLS `yaml:"tls"`
	Quic          Quic      `yaml:"quic"`
	Cipher        Cipher    `yaml:"cipher"`
	MaxFrameSize  uint32    `yaml:"max_frame_size"`
	MaxBadPackets int       `yaml:"max_bad_packets"`
	// DefaultRoom is where users land after LOGIN.
	DefaultRoom string `yaml:"default_room"`
}

type ServerTLS struct {
	// Enabled wraps TCP in TLS. QUIC always uses TLS.
	Enabled        bool   `yaml:"enabled"`
	ServerCertFile string `yaml:"server_cert_file"`
	ServerKeyFile  string `yaml:"server_key_file"`
}

// Config loads the server certificate.
func (t ServerTLS) Config() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(t.ServerCertFile, t.ServerKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// TransportOptions returns the listen options for the configured transport.
func (s *Server) TransportOptions() (transport.Kind, transport.Options, error) {
	kind, err := transport.ParseKind(s.Transport)
	if err != nil {
		return "", transport.Options{}, err
	}
	var opts transport.Options
	if kind == transport.KindQUIC || s.TLS.Enabled {
		if opts.TLS, err = s.TLS.Config(); err != nil {
			return "", transport.Options{}, err
		}
	}
	if kind == transport.KindQUIC {
		opts.Quic = s.Quic.GetConfig()
	}
	return kind, opts, nil
}

// Validate checks a server configuration after ApplyDefaults.
func (s *Server) Validate() error {
	if _, err := s.Listen.GetIP(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.Listen.Port < 0 || s.Listen.Port > 65535 {
		return fmt.Errorf("listen: port must be between 0 and 65535, got %d", s.Listen.Port)
	}
	if err := validateTransport(s.Transport); err != nil {
		return err
	}
	kind, _ := transport.ParseKind(s.Transport)
	if (kind == transport.KindQUIC || s.TLS.Enabled) && (s.TLS.ServerCertFile == "" || s.TLS.ServerKeyFile == "") {
		return fmt.Errorf("tls: server_cert_file and server_key_file are required")
	}
	if err := s.Cipher.Validate(); err != nil {
		return err
	}
	if s.MaxBadPackets < 0 {
		return fmt.Errorf("max_bad_packets must not be negative, got %d", s.MaxBadPackets)
	}
	return nil
}
