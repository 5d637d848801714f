package media

import (
	"bytes"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTone_ChunkFormat(t *testing.T) {
	tone := NewTone(440)
	defer tone.Close()

	chunk, err := tone.Read()
	require.NoError(t, err)
	assert.Len(t, chunk, ChunkBytes)
	assert.NotEqual(t, make([]byte, ChunkBytes), chunk)
}

func TestTone_PacesReads(t *testing.T) {
	tone := NewTone(440)
	defer tone.Close()

	start := time.Now()
	for range 5 {
		_, err := tone.Read()
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 4*ChunkDuration)
}

func TestSilence_IsZero(t *testing.T) {
	s := NewSilence()
	chunk, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, ChunkBytes), chunk)

	require.NoError(t, s.Close())
	_, err = s.Read()
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestPattern_ProducesJPEG(t *testing.T) {
	p := NewPattern()
	first, err := p.Capture()
	require.NoError(t, err)
	second, err := p.Capture()
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "marker moves between frames")

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, FrameWidth, cfg.Width)
	assert.Equal(t, FrameHeight, cfg.Height)

	require.NoError(t, p.Close())
	_, err = p.Capture()
	assert.ErrorIs(t, err, ErrDeviceClosed)
}

func TestPlaceholder_IsStableJPEG(t *testing.T) {
	a, b := Placeholder(), Placeholder()
	assert.Equal(t, a, b)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, FrameWidth, cfg.Width)
	assert.Equal(t, FrameHeight, cfg.Height)
}

func TestSynthetic_DisabledDevices(t *testing.T) {
	d := &Synthetic{Audio: AudioNone, Video: VideoNone}

	_, err := d.OpenAudioCapture()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	_, err = d.OpenVideoCapture()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	d = &Synthetic{Audio: "microphone"}
	_, err = d.OpenAudioCapture()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestSynthetic_SinksShareRecorder(t *testing.T) {
	rec := &Recorder{}
	d := &Synthetic{Sink: rec}

	speaker, err := d.OpenAudioPlayback()
	require.NoError(t, err)
	screen, err := d.OpenVideoRenderer()
	require.NoError(t, err)

	require.NoError(t, speaker.Play(make([]byte, ChunkBytes)))
	require.NoError(t, speaker.Play(make([]byte, ChunkBytes)))
	require.NoError(t, screen.Render([]byte{1, 2, 3}))

	assert.EqualValues(t, 2, rec.Chunks())
	assert.EqualValues(t, 1, rec.Frames())
	assert.EqualValues(t, 2*ChunkBytes+3, rec.Bytes())
	assert.Equal(t, []byte{1, 2, 3}, rec.LastFrame())

	require.NoError(t, speaker.Close())
	assert.ErrorIs(t, speaker.Play([]byte{0}), ErrDeviceClosed)
}

func TestChunkDuration(t *testing.T) {
	assert.InDelta(t, 23.2, float64(ChunkDuration)/float64(time.Millisecond), 0.1)
	assert.Equal(t, 2048, ChunkBytes)
}
