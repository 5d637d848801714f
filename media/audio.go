package media

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"
)

// pacer sleeps so that successive reads are spaced one chunk apart, like a
// blocking read on a sound card.
type pacer struct {
	next time.Time
}

func (p *pacer) wait() {
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now.Add(-ChunkDuration)) {
		p.next = now
	}
	p.next = p.next.Add(ChunkDuration)
	time.Sleep(time.Until(p.next))
}

// Tone generates a sine wave at a fixed frequency.
type Tone struct {
	freq   float64
	phase  float64
	pace   pacer
	closed atomic.Bool
}

// NewTone creates a tone generator. The amplitude is a quarter of full scale.
func NewTone(freq float64) *Tone {
	return &Tone{freq: freq}
}

func (t *Tone) Read() ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrDeviceClosed
	}
	t.pace.wait()

	chunk := make([]byte, ChunkBytes)
	step := 2 * math.Pi * t.freq / SampleRate
	for i := 0; i < FramesPerChunk; i++ {
		sample := int16(math.Sin(t.phase) * math.MaxInt16 / 4)
		binary.LittleEndian.PutUint16(chunk[i*SampleBytes:], uint16(sample))
		t.phase += step
	}
	t.phase = math.Mod(t.phase, 2*math.Pi)
	return chunk, nil
}

func (t *Tone) Close() error {
	t.closed.Store(true)
	return nil
}

// Silence produces zeroed chunks.
type Silence struct {
	pace   pacer
	closed atomic.Bool
}

func NewSilence() *Silence {
	return &Silence{}
}

func (s *Silence) Read() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrDeviceClosed
	}
	s.pace.wait()
	return make([]byte, ChunkBytes), nil
}

func (s *Silence) Close() error {
	s.closed.Store(true)
	return nil
}
