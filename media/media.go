// Package media defines the capture and playback devices used during calls.
//
// Devices are opaque byte-chunk producers and consumers: audio is raw PCM and
// video is one JPEG image per frame. The synthetic implementations in this
// package let the client run without hardware.
package media

import (
	"errors"
	"fmt"
	"time"
)

// Audio format carried in AUDIO_CHUNK packets: 16-bit little-endian mono PCM.
const (
	SampleRate     = 44100
	SampleBytes    = 2
	Channels       = 1
	FramesPerChunk = 1024
	ChunkBytes     = FramesPerChunk * SampleBytes * Channels
)

// Video format carried in VIDEO_FRAME packets.
const (
	FrameWidth  = 320
	FrameHeight = 240
	JPEGQuality = 50
)

// ChunkDuration is the playback time of one audio chunk.
const ChunkDuration = time.Second * FramesPerChunk / SampleRate

var (
	// ErrDeviceUnavailable is returned when a device cannot be opened. The call
	// continues without that modality.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrDeviceClosed is returned by reads and writes after Close.
	ErrDeviceClosed = errors.New("device closed")
)

// AudioCapture produces PCM chunks. Read blocks for roughly one chunk duration,
// which paces the audio producer. An empty chunk means no data yet.
type AudioCapture interface {
	Read() ([]byte, error)
	Close() error
}

// VideoCapture produces encoded frames. A nil frame with a nil error means the
// camera had nothing this time.
type VideoCapture interface {
	Capture() ([]byte, error)
	Close() error
}

// AudioPlayback consumes PCM chunks from the call partner.
type AudioPlayback interface {
	Play(chunk []byte) error
	Close() error
}

// VideoRenderer consumes encoded frames from the call partner.
type VideoRenderer interface {
	Render(frame []byte) error
	Close() error
}

// Devices opens devices for one call. Each open may fail independently.
type Devices interface {
	OpenAudioCapture() (AudioCapture, error)
	OpenVideoCapture() (VideoCapture, error)
	OpenAudioPlayback() (AudioPlayback, error)
	OpenVideoRenderer() (VideoRenderer, error)
}

// Audio capture sources.
const (
	AudioTone    = "tone"
	AudioSilence = "silence"
	AudioNone    = "none"
)

// Video capture sources.
const (
	VideoPattern = "pattern"
	VideoNone    = "none"
)

// Synthetic is a Devices implementation backed by generators and counting sinks.
type Synthetic struct {
	Audio string
	Video string
	// Sink receives every played chunk and rendered frame; nil discards them.
	Sink *Recorder
}

var _ Devices = (*Synthetic)(nil)

func (s *Synthetic) OpenAudioCapture() (AudioCapture, error) {
	switch s.Audio {
	case AudioTone, "":
		return NewTone(440), nil
	case AudioSilence:
		return NewSilence(), nil
	case AudioNone:
		return nil, fmt.Errorf("%w: audio capture disabled", ErrDeviceUnavailable)
	default:
		return nil, fmt.Errorf("%w: unknown audio source %q", ErrDeviceUnavailable, s.Audio)
	}
}

func (s *Synthetic) OpenVideoCapture() (VideoCapture, error) {
	switch s.Video {
	case VideoPattern, "":
		return NewPattern(), nil
	case VideoNone:
		return nil, fmt.Errorf("%w: video capture disabled", ErrDeviceUnavailable)
	default:
		return nil, fmt.Errorf("%w: unknown video source %q", ErrDeviceUnavailable, s.Video)
	}
}

func (s *Synthetic) OpenAudioPlayback() (AudioPlayback, error) {
	return s.recorder(), nil
}

func (s *Synthetic) OpenVideoRenderer() (VideoRenderer, error) {
	return s.recorder(), nil
}

func (s *Synthetic) recorder() *sinkHandle {
	if s.Sink == nil {
		return &sinkHandle{r: &Recorder{}}
	}
	return &sinkHandle{r: s.Sink}
}
