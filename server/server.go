// Package server is the reference relay: it registers users, routes chat
// and files, and forwards call media between clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Mmx233/QTalk/config"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/Mmx233/QTalk/server/roster"
	"github.com/Mmx233/QTalk/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxAcceptDelay = time.Second

// Server represents the QTalk relay
type Server struct {
	config *config.Server
	roster *roster.Roster
	cipher protocol.Cipher
	policy protocol.Policy
	logger zerolog.Logger

	wg sync.WaitGroup
}

// New creates a relay from conf.
func New(conf *config.Server) (*Server, error) {
	conf.ApplyDefaults()

	logger := log.With().Str("com", "server").Logger()

	cipher, policy, err := conf.Cipher.Build()
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	if cipher == nil {
		logger.Warn().Msg("packet encryption disabled")
	} else {
		logger.Info().Str("suite", conf.Cipher.Suite).Msg("packet encryption enabled")
	}

	return &Server{
		config: conf,
		roster: roster.New(conf.DefaultRoom, logger.With().Str("com", "roster").Logger()),
		cipher: cipher,
		policy: policy,
		logger: logger,
	}, nil
}

// Start runs a relay until ctx is cancelled.
func Start(ctx context.Context, conf *config.Server) error {
	srv, err := New(conf)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// ListenAndServe listens on the configured address and serves clients.
func (s *Server) ListenAndServe(ctx context.Context) error {
	kind, opts, err := s.config.TransportOptions()
	if err != nil {
		return err
	}
	ln, err := transport.Listen(kind, s.config.Listen.Addr(), opts)
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Str("transport", string(kind)).
		Msg("relay listening")
	return s.Serve(ctx, ln)
}

// Serve accepts clients from ln until ctx is cancelled or ln fails for good.
// It closes ln and waits for every client handler before returning.
func (s *Server) Serve(ctx context.Context, ln transport.Listener) error {
	defer s.wg.Wait()
	defer ln.Close()

	var delay time.Duration
	for {
		stream, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("server shutting down")
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			// a failed handshake or exhausted descriptors must not stop the relay
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, maxAcceptDelay)
			}
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		delay = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, stream)
		}()
	}
}

// Roster exposes the relay's registry.
func (s *Server) Roster() *roster.Roster {
	return s.roster
}

func (s *Server) handle(ctx context.Context, stream transport.Stream) {
	logger := s.logger.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", stream.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("client connected")

	conn := protocol.NewConn(stream, s.cipher, s.policy, logger, protocol.WithMaxFrameSize(s.config.MaxFrameSize))
	sess := &session{srv: s, conn: conn, logger: logger}

	d := protocol.NewDispatcher(logger)
	d.SetMaxBadPackets(s.config.MaxBadPackets)
	sess.register(d)

	if err := d.Serve(ctx, conn); err != nil {
		logger.Warn().Err(err).Msg("client connection failed")
	}
	sess.leave()
}

// pushList sends the current roster to everyone.
func (s *Server) pushList() {
	if failed := s.roster.Broadcast(s.roster.List()); failed > 0 {
		s.logger.Debug().Int("failed", failed).Msg("roster push incomplete")
	}
}
