// Package transport provides the reliable ordered byte streams the chat protocol
// runs over: plain TCP (optionally TLS) or a single bidirectional QUIC stream.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"
)

// Kind selects the stream transport.
type Kind string

const (
	KindTCP  Kind = "tcp"
	KindQUIC Kind = "quic"
)

// ALPN is the application protocol negotiated on TLS and QUIC connections.
const ALPN = "qtalk/1"

// ErrUnsupportedKind is returned for an unknown transport name.
var ErrUnsupportedKind = errors.New("unsupported transport")

// Stream is one client connection as seen by the protocol layer.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts client streams.
type Listener interface {
	Accept(ctx context.Context) (Stream, error)
	Addr() net.Addr
	Close() error
}

// Options configures Dial and Listen.
type Options struct {
	// TLS is required for QUIC and optional for TCP.
	TLS *tls.Config
	// Quic is used for QUIC only; nil selects quic-go defaults.
	Quic *quic.Config
}

// ParseKind validates a transport name. Empty selects TCP.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindTCP:
		return KindTCP, nil
	case KindQUIC:
		return KindQUIC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// Dial opens a stream to addr.
func Dial(ctx context.Context, kind Kind, addr string, opts Options) (Stream, error) {
	switch kind {
	case "", KindTCP:
		return dialTCP(ctx, addr, opts.TLS)
	case KindQUIC:
		return dialQUIC(ctx, addr, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

// Listen starts accepting streams on addr.
func Listen(kind Kind, addr string, opts Options) (Listener, error) {
	switch kind {
	case "", KindTCP:
		return listenTCP(addr, opts.TLS)
	case KindQUIC:
		return listenQUIC(addr, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
}

func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		return nil
	}
	conf = conf.Clone()
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{ALPN}
	}
	return conf
}
