package call

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
)

// fakeConn records sent packets.
type fakeConn struct {
	mu      sync.Mutex
	packets []protocol.Packet
	fail    atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Send(p protocol.Packet) bool {
	if c.closed.Load() || c.fail.Load() {
		return false
	}
	c.mu.Lock()
	c.packets = append(c.packets, p)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) IsOpen() bool          { return !c.closed.Load() }
func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *fakeConn) sent() []protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Packet(nil), c.packets...)
}

func (c *fakeConn) count(cmd protocol.Command) int {
	n := 0
	for _, p := range c.sent() {
		if p.Command() == cmd {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(cmd protocol.Command) protocol.Packet {
	var found protocol.Packet
	for _, p := range c.sent() {
		if p.Command() == cmd {
			found = p
		}
	}
	return found
}

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// scriptedDevices hands out capture devices that produce data quickly and
// tracks how many are open.
type scriptedDevices struct {
	audioErr error
	videoErr error
	// emptyFrames makes the camera yield no frames.
	emptyFrames bool

	open     atomic.Int32
	recorder media.Recorder
}

var errNoHardware = errors.New("no hardware")

func (d *scriptedDevices) OpenAudioCapture() (media.AudioCapture, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	d.open.Add(1)
	return &scriptedMic{d: d}, nil
}

func (d *scriptedDevices) OpenVideoCapture() (media.VideoCapture, error) {
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	d.open.Add(1)
	return &scriptedCamera{d: d}, nil
}

func (d *scriptedDevices) OpenAudioPlayback() (media.AudioPlayback, error) {
	return (&media.Synthetic{Sink: &d.recorder}).OpenAudioPlayback()
}

func (d *scriptedDevices) OpenVideoRenderer() (media.VideoRenderer, error) {
	return (&media.Synthetic{Sink: &d.recorder}).OpenVideoRenderer()
}

type scriptedMic struct {
	d      *scriptedDevices
	closed atomic.Bool
}

func (m *scriptedMic) Read() ([]byte, error) {
	if m.closed.Load() {
		return nil, media.ErrDeviceClosed
	}
	time.Sleep(time.Millisecond)
	return make([]byte, media.ChunkBytes), nil
}

func (m *scriptedMic) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.d.open.Add(-1)
	}
	return nil
}

type scriptedCamera struct {
	d      *scriptedDevices
	closed atomic.Bool
}

func (c *scriptedCamera) Capture() ([]byte, error) {
	if c.closed.Load() {
		return nil, media.ErrDeviceClosed
	}
	if c.d.emptyFrames {
		return nil, nil
	}
	return []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9}, nil
}

func (c *scriptedCamera) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.d.open.Add(-1)
	}
	return nil
}
