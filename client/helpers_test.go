package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Mmx233/QTalk/call"
	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

// fakeRelay is the far end of a client's stream. It records every packet the
// client sends and lets the test push packets back.
type fakeRelay struct {
	conn *protocol.Conn

	mu   sync.Mutex
	got  []protocol.Packet
	done chan struct{}
}

func newFakeRelay(rw net.Conn, cipher protocol.Cipher) *fakeRelay {
	r := &fakeRelay{
		conn: protocol.NewConn(rw, cipher, protocol.DefaultPolicy(), zerolog.Nop()),
		done: make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *fakeRelay) readLoop() {
	defer close(r.done)
	for {
		p, err := r.conn.ReadPacket()
		if err != nil {
			if protocol.IsDroppable(err) {
				continue
			}
			return
		}
		r.mu.Lock()
		r.got = append(r.got, p)
		r.mu.Unlock()
	}
}

func (r *fakeRelay) send(t testing.TB, p protocol.Packet) {
	t.Helper()
	require.True(t, r.conn.Send(p), "relay could not send %s", p.Command())
}

func (r *fakeRelay) packets(cmd protocol.Command) []protocol.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Packet
	for _, p := range r.got {
		if p.Command() == cmd {
			out = append(out, p)
		}
	}
	return out
}

func (r *fakeRelay) waitPacket(t testing.TB, cmd protocol.Command) protocol.Packet {
	t.Helper()
	var found protocol.Packet
	require.Eventually(t, func() bool {
		if ps := r.packets(cmd); len(ps) > 0 {
			found = ps[0]
			return true
		}
		return false
	}, waitFor, 5*time.Millisecond, "no %s reached the relay", cmd)
	return found
}

func (r *fakeRelay) close() {
	_ = r.conn.Close()
	<-r.done
}

type harness struct {
	client *Client
	relay  *fakeRelay
	sink   *media.Recorder
	runErr chan error
}

func testOptions(username string, sink *media.Recorder) Options {
	nop := zerolog.Nop()
	return Options{
		Username: username,
		Call: call.Config{
			GracePeriod:   time.Second,
			VideoInterval: 10 * time.Millisecond,
		},
		Devices: &media.Synthetic{Audio: media.AudioSilence, Video: media.VideoPattern, Sink: sink},
		Logger:  &nop,
	}
}

// startClient wires a client to a fake relay over an in-memory pipe and runs it.
func startClient(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	clientSide, relaySide := net.Pipe()

	sink := &media.Recorder{}
	opts := testOptions("alice", sink)
	for _, m := range mutate {
		m(&opts)
	}

	h := &harness{
		relay:  newFakeRelay(relaySide, opts.Cipher),
		sink:   sink,
		runErr: make(chan error, 1),
	}
	h.client = New(clientSide, opts)
	require.NoError(t, h.client.Login())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.client.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = h.client.Close()
		h.relay.close()
		select {
		case <-h.runErr:
		case <-time.After(waitFor):
			t.Error("Run did not return")
		}
	})

	requireEvent(t, h.client, EventConnected)
	return h
}

// requireEvent waits for the next event of the given kind, skipping others.
func requireEvent(t *testing.T, c *Client, kind EventKind) Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func waitRun(t *testing.T, h *harness) error {
	t.Helper()
	select {
	case err := <-h.runErr:
		// let the cleanup see a finished run
		h.runErr <- err
		return err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
		return errors.New("unreachable")
	}
}
