// File: transport/tcp/stream.go
// License: Apache-2.0
//
// Stream wraps a net.Conn with deadline semantics: partial data on
// timeout, buffered output pushed by Flush, idempotent Close.

package tcp

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-flux/api"
)

const (
	// DefaultReceiveSize is the high watermark used by Receive.
	DefaultReceiveSize = 16 * 1024
	// DefaultSendBuffer is the output buffered before an implicit push.
	DefaultSendBuffer = 4 * 1024
)

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithReceiveSize sets the high watermark used by Receive.
func WithReceiveSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.recvSize = n
		}
	}
}

// WithSendBuffer sets the size of the output buffer.
func WithSendBuffer(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.sendSize = n
		}
	}
}

// Stream is an api.Stream over a connected socket.
type Stream struct {
	conn     net.Conn
	recvSize int
	sendSize int

	rmu sync.Mutex
	wmu sync.Mutex
	out []byte

	closed    atomic.Bool
	peerGone  atomic.Bool
	closeOnce sync.Once
}

var _ api.Stream = (*Stream)(nil)

// NewStream wraps conn.
func NewStream(conn net.Conn, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:     conn,
		recvSize: DefaultReceiveSize,
		sendSize: DefaultSendBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.out = make([]byte, 0, s.sendSize)
	return s
}

// Conn exposes the underlying connection.
func (s *Stream) Conn() net.Conn { return s.conn }

func (s *Stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Receive returns whatever is available, up to the receive size.
func (s *Stream) Receive(deadline time.Time) ([]byte, error) {
	return s.ReceiveRange(1, s.recvSize, deadline)
}

// ReceiveRange reads until at least low bytes have arrived.
func (s *Stream) ReceiveRange(low, high int, deadline time.Time) ([]byte, error) {
	if low < 1 || high < low {
		return nil, api.ErrInvalidArgument
	}
	if s.closed.Load() || s.peerGone.Load() {
		return nil, io.EOF
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, s.failure("receive", err, nil)
	}
	buf := make([]byte, high)
	got := 0
	for got < low {
		n, err := s.conn.Read(buf[got:])
		got += n
		if err != nil {
			return s.readFailure(buf[:got], err)
		}
	}
	return buf[:got], nil
}

func (s *Stream) readFailure(data []byte, err error) ([]byte, error) {
	if errors.Is(err, io.EOF) && !s.closed.Load() {
		s.peerGone.Store(true)
		if len(data) > 0 {
			return data, nil
		}
		return nil, io.EOF
	}
	return data, s.failure("receive", err, data)
}

// Send buffers p, pushing the buffer to the socket when it fills.
func (s *Stream) Send(p []byte, deadline time.Time) (int, error) {
	if s.closed.Load() {
		return 0, &api.TransportError{Op: "send", Err: api.ErrClosed, Data: p}
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if len(s.out)+len(p) <= s.sendSize {
		s.out = append(s.out, p...)
		return len(p), nil
	}
	if err := s.flushLocked(deadline); err != nil {
		return 0, &api.TransportError{Op: "send", Err: errors.Unwrap(err), Data: p}
	}
	if len(p) < s.sendSize {
		s.out = append(s.out, p...)
		return len(p), nil
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return 0, s.failure("send", err, p)
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, s.failure("send", err, p[n:])
	}
	return n, nil
}

// Flush writes buffered output. On timeout the unwritten tail stays
// buffered and is reported in the error.
func (s *Stream) Flush(deadline time.Time) error {
	if s.closed.Load() {
		return &api.TransportError{Op: "flush", Err: api.ErrClosed}
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.flushLocked(deadline)
}

func (s *Stream) flushLocked(deadline time.Time) error {
	if len(s.out) == 0 {
		return nil
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return s.failure("flush", err, s.out)
	}
	n, err := s.conn.Write(s.out)
	s.out = s.out[:copy(s.out, s.out[n:])]
	if err != nil {
		rest := append([]byte(nil), s.out...)
		return s.failure("flush", err, rest)
	}
	return nil
}

// Close shuts the socket. Buffered output that was never flushed is dropped.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// Closed reports whether the stream was closed locally or by the peer.
func (s *Stream) Closed() bool {
	return s.closed.Load() || s.peerGone.Load()
}

// failure maps socket errors onto the api taxonomy. Resets close the stream.
func (s *Stream) failure(op string, err error, data []byte) error {
	var cause error
	switch {
	case s.closed.Load(), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		cause = api.ErrClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		cause = api.ErrTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		cause = api.ErrReset
		s.Close()
	case errors.Is(err, syscall.ENOBUFS):
		cause = api.ErrNoBufferSpace
	default:
		cause = err
	}
	return &api.TransportError{Op: op, Err: cause, Data: data}
}
