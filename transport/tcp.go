package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// handshakeTimeout bounds a TLS handshake inside Accept.
const handshakeTimeout = 10 * time.Second

func dialTCP(ctx context.Context, addr string, tlsConf *tls.Config) (Stream, error) {
	if tlsConf != nil {
		d := &tls.Dialer{Config: withALPN(tlsConf)}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %w", addr, err)
		}
		return conn, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	return conn, nil
}

type tcpListener struct {
	ln net.Listener
}

func listenTCP(addr string, tlsConf *tls.Config) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, withALPN(tlsConf))
	}
	return &tcpListener{ln: ln}, nil
}

// Accept waits for the next connection. Cancelling ctx does not close the
// listener; it only abandons this call.
func (l *tcpListener) Accept(ctx context.Context) (Stream, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if tc, ok := r.conn.(*tls.Conn); ok {
			hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
			err := tc.HandshakeContext(hctx)
			cancel()
			if err != nil {
				_ = tc.Close()
				return nil, fmt.Errorf("tls handshake with %s: %w", tc.RemoteAddr(), err)
			}
		}
		return r.conn, nil
	case <-ctx.Done():
		// the pending Accept finishes once the listener is closed
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}
