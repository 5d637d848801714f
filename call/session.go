package call

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QTalk/media"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one active call. Its fields never change after creation.
type Session struct {
	ID        uuid.UUID
	Partner   string
	Mode      Mode
	StartedAt time.Time
	// Incoming is true when the partner's media opened the call.
	Incoming bool

	done     chan struct{}
	stopOnce sync.Once
	accepted atomic.Bool

	sinkMu       sync.Mutex
	devices      media.Devices
	speaker      media.AudioPlayback
	screen       media.VideoRenderer
	speakerTried bool
	screenTried  bool
	stopped      bool

	logger zerolog.Logger
}

func newSession(partner string, mode Mode, incoming bool, now time.Time, devices media.Devices, logger zerolog.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:        id,
		Partner:   partner,
		Mode:      mode,
		StartedAt: now,
		Incoming:  incoming,
		done:      make(chan struct{}),
		devices:   devices,
		logger: logger.With().
			Str("partner", partner).
			Str("session_id", id.String()).
			Logger(),
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// deliver hands inbound media to the playback side, opening the device on first
// use. A device that fails to open is not retried for this session.
func (s *Session) deliver(kind Kind, data []byte) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	if s.stopped {
		return
	}

	var err error
	switch kind {
	case KindAudio:
		if !s.speakerTried {
			s.speakerTried = true
			if s.speaker, err = s.devices.OpenAudioPlayback(); err != nil {
				s.logger.Warn().Err(err).Msg("audio playback unavailable")
			}
		}
		if s.speaker != nil {
			err = s.speaker.Play(data)
		}
	case KindVideo:
		if !s.screenTried {
			s.screenTried = true
			if s.screen, err = s.devices.OpenVideoRenderer(); err != nil {
				s.logger.Warn().Err(err).Msg("video renderer unavailable")
			}
		}
		if s.screen != nil {
			err = s.screen.Render(data)
		}
	}
	if err != nil {
		s.logger.Debug().Err(err).Stringer("kind", kind).Msg("playback failed")
	}
}

// stop ends the session and releases playback devices.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)

		s.sinkMu.Lock()
		defer s.sinkMu.Unlock()
		s.stopped = true
		if s.speaker != nil {
			_ = s.speaker.Close()
		}
		if s.screen != nil {
			_ = s.screen.Close()
		}
	})
}
