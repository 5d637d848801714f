package call

import (
	"errors"
	"time"

	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/rs/zerolog"
)

func (m *Manager) spawn(s *Session, video bool) {
	m.wg.Add(1)
	go m.produceAudio(s)
	if video {
		m.wg.Add(1)
		go m.produceVideo(s)
	}
}

// running is checked once per producer iteration.
func (m *Manager) running(s *Session) bool {
	return m.active.Load() == s && m.conn.IsOpen()
}

// pause sleeps for d unless the session or connection ends first.
func (m *Manager) pause(s *Session, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.done:
		return false
	case <-m.conn.Done():
		return false
	}
}

// sendLoop tracks consecutive send failures.
type sendLoop struct {
	failures int
	max      int
	logger   zerolog.Logger
}

// sent records a send result and reports whether the producer should go on.
func (l *sendLoop) sent(ok bool) bool {
	if ok {
		l.failures = 0
		return true
	}
	l.failures++
	if l.failures >= l.max {
		l.logger.Warn().Int("failures", l.failures).Msg("giving up after repeated send failures")
		return false
	}
	return true
}

func (m *Manager) produceAudio(s *Session) {
	defer m.wg.Done()
	logger := s.logger.With().Str("modality", "audio").Logger()

	mic, err := m.devices.OpenAudioCapture()
	if err != nil {
		logger.Warn().Err(err).Msg("audio capture unavailable, continuing without it")
		return
	}
	defer mic.Close()

	loop := sendLoop{max: m.conf.MaxSendFailures, logger: logger}
	for m.running(s) {
		chunk, err := mic.Read()
		if err != nil {
			if !errors.Is(err, media.ErrDeviceClosed) {
				logger.Warn().Err(err).Msg("audio capture failed")
			}
			return
		}
		if len(chunk) == 0 {
			if !m.pause(s, idleDelay) {
				return
			}
			continue
		}
		if !m.running(s) {
			return
		}
		if !loop.sent(m.conn.Send(&protocol.AudioChunk{Target: s.Partner, Chunk: chunk})) {
			return
		}
	}
	logger.Debug().Msg("audio producer stopped")
}

func (m *Manager) produceVideo(s *Session) {
	defer m.wg.Done()
	logger := s.logger.With().Str("modality", "video").Logger()

	camera, err := m.devices.OpenVideoCapture()
	if err != nil {
		logger.Warn().Err(err).Msg("video capture unavailable, continuing without it")
		return
	}
	defer camera.Close()

	loop := sendLoop{max: m.conf.MaxSendFailures, logger: logger}
	for m.running(s) {
		frame, err := camera.Capture()
		if err != nil {
			if errors.Is(err, media.ErrDeviceClosed) {
				return
			}
			logger.Debug().Err(err).Msg("capture failed, sending placeholder")
			frame = nil
		}
		if len(frame) == 0 {
			frame = media.Placeholder()
		}
		if !loop.sent(m.conn.Send(&protocol.VideoFrame{Target: s.Partner, Frame: frame})) {
			return
		}
		if !m.pause(s, m.conf.VideoInterval) {
			return
		}
	}
	logger.Debug().Msg("video producer stopped")
}
