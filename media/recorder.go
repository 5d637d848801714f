package media

import (
	"sync"
	"sync/atomic"
)

// Recorder counts what a call partner sent and keeps the latest video frame.
// It stands in for speakers and a video window.
type Recorder struct {
	chunks atomic.Int64
	frames atomic.Int64
	bytes  atomic.Int64

	mu        sync.Mutex
	lastFrame []byte
}

// Chunks returns the number of audio chunks played.
func (r *Recorder) Chunks() int64 { return r.chunks.Load() }

// Frames returns the number of video frames rendered.
func (r *Recorder) Frames() int64 { return r.frames.Load() }

// Bytes returns the total media bytes received.
func (r *Recorder) Bytes() int64 { return r.bytes.Load() }

// LastFrame returns a copy of the most recent frame.
func (r *Recorder) LastFrame() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.lastFrame...)
}

// sinkHandle is one opened playback or render device sharing a Recorder.
type sinkHandle struct {
	r      *Recorder
	closed atomic.Bool
}

func (h *sinkHandle) Play(chunk []byte) error {
	if h.closed.Load() {
		return ErrDeviceClosed
	}
	h.r.chunks.Add(1)
	h.r.bytes.Add(int64(len(chunk)))
	return nil
}

func (h *sinkHandle) Render(frame []byte) error {
	if h.closed.Load() {
		return ErrDeviceClosed
	}
	h.r.frames.Add(1)
	h.r.bytes.Add(int64(len(frame)))
	h.r.mu.Lock()
	h.r.lastFrame = append(h.r.lastFrame[:0], frame...)
	h.r.mu.Unlock()
	return nil
}

func (h *sinkHandle) Close() error {
	h.closed.Store(true)
	return nil
}
