package call

import (
	"fmt"
	"time"
)

// Mode is the kind of call.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeVideo Mode = "video"
)

// ParseMode accepts "voice" or "video". Empty means voice.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeVoice:
		return ModeVoice, nil
	case ModeVideo:
		return ModeVideo, nil
	default:
		return "", fmt.Errorf("unknown call mode %q", s)
	}
}

// Kind is the modality of one inbound media packet.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Mode returns the call mode an inbound packet of this kind opens.
func (k Kind) Mode() Mode {
	if k == KindVideo {
		return ModeVideo
	}
	return ModeVoice
}

// Admission is the outcome of HandleMedia.
type Admission int

const (
	// Ignored: the packet came from someone other than the current partner, or
	// from nobody.
	Ignored Admission = iota
	// Started: the packet opened a new incoming call.
	Started
	// Delivered: the packet belongs to the active call and went to playback.
	Delivered
	// Suppressed: the packet came from the partner of a call that just ended and
	// was dropped instead of reopening it.
	Suppressed
)

func (a Admission) String() string {
	switch a {
	case Started:
		return "started"
	case Delivered:
		return "delivered"
	case Suppressed:
		return "suppressed"
	default:
		return "ignored"
	}
}

// Clock supplies the time used for glare suppression.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// SystemClock uses the standard library time functions.
type SystemClock struct{}

func (SystemClock) Now() time.Time                  { return time.Now() }
func (SystemClock) Since(t time.Time) time.Duration { return time.Since(t) }
