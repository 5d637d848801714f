package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mmx233/QTalk/client"
	"github.com/Mmx233/QTalk/cmd/generate/certs"
	"github.com/Mmx233/QTalk/config"
	"github.com/Mmx233/QTalk/media"
	"github.com/Mmx233/QTalk/protocol"
	"github.com/Mmx233/QTalk/server"
	"github.com/Mmx233/QTalk/transport"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 10 * time.Second

// setup describes how the relay and its clients talk to each other.
type setup struct {
	transport string
	tls       bool
	certDir   string
	key       string
}

func newSetup(t *testing.T, kind string, withTLS bool) setup {
	t.Helper()
	key, err := protocol.GenerateKey(protocol.SuiteFernet)
	require.NoError(t, err)

	s := setup{transport: kind, tls: withTLS || kind == string(transport.KindQUIC), key: key}
	if s.tls {
		s.certDir = generateTestCertificates(t)
	}
	return s
}

// generateTestCertificates writes a CA and a localhost server certificate.
func generateTestCertificates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	ca, err := certs.GenerateCA(1)
	require.NoError(t, err)
	srv, err := certs.GenerateServerCert(ca, []string{"localhost", "127.0.0.1"}, 1)
	require.NoError(t, err)

	write := func(name string, data []byte, err error) {
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0600))
	}
	caPEM, err := ca.CertPEM()
	write("ca.crt", caPEM, err)
	certPEM, err := srv.CertPEM()
	write("server.crt", certPEM, err)
	keyPEM, err := srv.KeyPEM()
	write("server.key", keyPEM, err)
	return dir
}

func (s setup) cipher() config.Cipher {
	return config.Cipher{Suite: string(protocol.SuiteFernet), Keys: []string{s.key}}
}

func (s setup) serverConfig() *config.Server {
	conf := &config.Server{
		Listen:    config.Listen{IP: "127.0.0.1"},
		Transport: s.transport,
		Cipher:    s.cipher(),
	}
	if s.tls {
		conf.TLS = config.ServerTLS{
			Enabled:        true,
			ServerCertFile: filepath.Join(s.certDir, "server.crt"),
			ServerKeyFile:  filepath.Join(s.certDir, "server.key"),
		}
	}
	return conf
}

func (s setup) clientConfig(addr, username string) *config.Client {
	conf := &config.Client{
		Server:    addr,
		Username:  username,
		Transport: s.transport,
		Cipher:    s.cipher(),
		Call:      config.Call{VideoInterval: 20 * time.Millisecond},
	}
	if s.tls {
		conf.TLS = config.ClientTLS{
			Enabled:    true,
			CACertFile: filepath.Join(s.certDir, "ca.crt"),
			ServerName: "localhost",
		}
	}
	conf.ApplyDefaults()
	return conf
}

// startRelay serves a relay on an ephemeral port until the test ends.
func startRelay(t *testing.T, s setup) (*server.Server, string) {
	t.Helper()
	conf := s.serverConfig()
	srv, err := server.New(conf)
	require.NoError(t, err)

	kind, opts, err := conf.TransportOptions()
	require.NoError(t, err)
	ln, err := transport.Listen(kind, "127.0.0.1:0", opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("relay: %v", err)
			}
		case <-time.After(eventTimeout):
			t.Error("relay did not stop")
		}
	})
	return srv, ln.Addr().String()
}

// user is a connected client with a running read loop.
type user struct {
	*client.Client
	sink *media.Recorder
	done chan error
}

func connect(t *testing.T, s setup, addr, username string) *user {
	t.Helper()
	conf := s.clientConfig(addr, username)
	sink := &media.Recorder{}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	c, err := client.Connect(ctx, conf, conf.SyntheticDevices(sink))
	require.NoError(t, err)

	u := &user{Client: c, sink: sink, done: make(chan error, 1)}
	go func() { u.done <- c.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = c.Close()
		for range c.Events() {
		}
		select {
		case <-u.done:
		case <-time.After(eventTimeout):
			t.Errorf("%s: Run did not return", username)
		}
	})
	return u
}

// waitEvent reads events until one of kind satisfies match.
func (u *user) waitEvent(t *testing.T, kind client.EventKind, match func(client.Event) bool) client.Event {
	t.Helper()
	timeout := time.After(eventTimeout)
	for {
		select {
		case e, ok := <-u.Events():
			require.True(t, ok, "%s: events closed while waiting for %s", u.Username(), kind)
			if e.Kind == kind && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			t.Fatalf("%s: no %s event", u.Username(), kind)
		}
	}
}

func usersAre(names ...string) func(client.Event) bool {
	return func(e client.Event) bool {
		if len(e.Users) != len(names) {
			return false
		}
		for i := range names {
			if e.Users[i] != names[i] {
				return false
			}
		}
		return true
	}
}
