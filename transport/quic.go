package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

const (
	closeCodeNormal quic.ApplicationErrorCode = 0
	closeCodeError  quic.ApplicationErrorCode = 1
)

// quicStream carries the whole chat session on the first bidirectional stream
// of a QUIC connection. Closing it closes the connection.
type quicStream struct {
	conn   *quic.Conn
	stream *quic.Stream
	once   sync.Once
}

func (s *quicStream) Read(p []byte) (int, error) {
	n, err := s.stream.Read(p)
	return n, normalizeQUICError(err)
}

func (s *quicStream) Write(p []byte) (int, error) {
	n, err := s.stream.Write(p)
	return n, normalizeQUICError(err)
}

func (s *quicStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *quicStream) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.stream.Close()
		err = s.conn.CloseWithError(closeCodeNormal, "")
	})
	return err
}

// normalizeQUICError reports a peer's graceful connection close as io.EOF, the
// way a TCP FIN is reported.
func normalizeQUICError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == closeCodeNormal {
		return io.EOF
	}
	return err
}

func dialQUIC(ctx context.Context, addr string, opts Options) (Stream, error) {
	if opts.TLS == nil {
		return nil, errors.New("quic transport requires a TLS configuration")
	}
	conn, err := quic.DialAddr(ctx, addr, withALPN(opts.TLS), opts.Quic)
	if err != nil {
		return nil, fmt.Errorf("dial quic %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(closeCodeError, "open stream failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &quicStream{conn: conn, stream: stream}, nil
}

type quicListener struct {
	ln      *quic.Listener
	streams chan *quicStream
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	errOnce   sync.Once
	acceptErr error
	done      chan struct{}
}

func listenQUIC(addr string, opts Options) (Listener, error) {
	if opts.TLS == nil {
		return nil, errors.New("quic transport requires a TLS configuration")
	}
	ln, err := quic.ListenAddr(addr, withALPN(opts.TLS), opts.Quic)
	if err != nil {
		return nil, fmt.Errorf("listen quic %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:      ln,
		streams: make(chan *quicStream),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.acceptLoop(ctx)
	return l, nil
}

// acceptLoop accepts connections and waits for each one's first stream
// concurrently, so a client that never opens a stream blocks nobody.
func (l *quicListener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			l.fail(err)
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				_ = conn.CloseWithError(closeCodeError, "stream error")
				return
			}
			s := &quicStream{conn: conn, stream: stream}
			select {
			case l.streams <- s:
			case <-ctx.Done():
				_ = s.Close()
			}
		}()
	}
}

func (l *quicListener) fail(err error) {
	l.errOnce.Do(func() {
		l.acceptErr = err
		close(l.done)
	})
}

// Accept returns the next client stream.
func (l *quicListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-l.done:
		return nil, l.acceptErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting and releases the UDP socket, which also ends the
// connections accepted through it.
func (l *quicListener) Close() error {
	l.cancel()
	err := l.ln.Close()
	l.wg.Wait()
	l.fail(net.ErrClosed)
	return err
}
