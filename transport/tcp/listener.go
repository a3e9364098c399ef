// File: transport/tcp/listener.go
// License: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/momentics/hioload-flux/api"
)

// ListenOption customizes Listen.
type ListenOption func(*listenConfig)

type listenConfig struct {
	reusePort  bool
	recvBuffer int
	sendBuffer int
	keepAlive  time.Duration
	streamOpts []StreamOption
}

// WithReusePort sets SO_REUSEPORT on the listening socket where supported.
func WithReusePort(on bool) ListenOption {
	return func(c *listenConfig) { c.reusePort = on }
}

// WithSocketBuffers sets SO_RCVBUF/SO_SNDBUF on the listening socket.
// Zero keeps the kernel default.
func WithSocketBuffers(recv, send int) ListenOption {
	return func(c *listenConfig) {
		c.recvBuffer = recv
		c.sendBuffer = send
	}
}

// WithKeepAlive sets the TCP keep-alive period of accepted connections.
func WithKeepAlive(d time.Duration) ListenOption {
	return func(c *listenConfig) { c.keepAlive = d }
}

// WithStreamOptions applies opts to every accepted Stream.
func WithStreamOptions(opts ...StreamOption) ListenOption {
	return func(c *listenConfig) { c.streamOpts = append(c.streamOpts, opts...) }
}

// Listener accepts TCP connections as Streams.
type Listener struct {
	ln         net.Listener
	streamOpts []StreamOption
}

var _ api.Listener = (*Listener)(nil)

// Listen binds addr.
func Listen(addr string, opts ...ListenOption) (*Listener, error) {
	var cfg listenConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	lc := net.ListenConfig{
		Control:   socketControl(&cfg),
		KeepAlive: cfg.keepAlive,
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, streamOpts: cfg.streamOpts}, nil
}

// NewListener adopts an existing net.Listener.
func NewListener(ln net.Listener, opts ...StreamOption) *Listener {
	return &Listener{ln: ln, streamOpts: opts}
}

// Accept blocks until a connection arrives. It returns api.ErrClosed once
// the listener has been closed.
func (l *Listener) Accept() (api.Stream, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, api.ErrClosed
		}
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return NewStream(conn, l.streamOpts...), nil
}

func (l *Listener) Close() error  { return l.ln.Close() }
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts ...StreamOption) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}
	return NewStream(conn, opts...), nil
}
