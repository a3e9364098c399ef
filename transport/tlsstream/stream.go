// File: transport/tlsstream/stream.go
// License: Apache-2.0
//
// Stream layers a Session over a raw api.Stream. The handshake runs on
// the first Send or Receive.

package tlsstream

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-flux/api"
)

const (
	defaultReceiveSize = 16 * 1024
	closeNotifyTimeout = 200 * time.Millisecond
)

// Stream is an api.Stream carrying TLS over another api.Stream.
type Stream struct {
	raw     api.Stream
	session *Session

	hsMu sync.Mutex
	rmu  sync.Mutex
	wmu  sync.Mutex

	buf      []byte
	leftover []byte
	backlog  []byte

	eof       atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ api.Stream = (*Stream)(nil)

// NewStream combines raw with an existing session.
func NewStream(raw api.Stream, session *Session) *Stream {
	return &Stream{
		raw:     raw,
		session: session,
		buf:     make([]byte, defaultReceiveSize),
	}
}

// NewServer wraps an accepted raw stream.
func NewServer(raw api.Stream, ctx *Context) *Stream {
	return NewStream(raw, NewSession(ctx, RoleServer))
}

// NewClient wraps a dialed raw stream.
func NewClient(raw api.Stream, ctx *Context) *Stream {
	return NewStream(raw, NewSession(ctx, RoleClient))
}

// Session exposes the underlying session.
func (s *Stream) Session() *Session { return s.session }

func (s *Stream) LocalAddr() net.Addr {
	if a, ok := s.raw.(api.Addressed); ok {
		return a.LocalAddr()
	}
	return nil
}

func (s *Stream) RemoteAddr() net.Addr { return api.RemoteAddrOf(s.raw) }

// Handshake completes the TLS handshake. Each time the engine reports it
// needs input exactly one raw Receive is issued. A timeout leaves the
// handshake resumable; any other failure closes the stream.
func (s *Stream) Handshake(deadline time.Time) error {
	if s.session.State() == StateEstablished {
		return nil
	}
	s.hsMu.Lock()
	defer s.hsMu.Unlock()

	for {
		err := s.session.Handshake()
		if werr := s.pushOutput(deadline, true); werr != nil {
			s.fail()
			return werr
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrWantWrite):
			continue
		case errors.Is(err, ErrWantRead):
			data, rerr := s.raw.Receive(deadline)
			if len(data) > 0 {
				s.session.WriteInput(data)
			}
			if rerr == nil {
				continue
			}
			if api.IsTimeout(rerr) {
				return rerr
			}
			s.fail()
			if rerr == io.EOF {
				return &api.TLSError{Op: "handshake", Err: io.ErrUnexpectedEOF}
			}
			return rerr
		default:
			s.fail()
			return err
		}
	}
}

// Receive returns decrypted bytes, up to the default receive size.
func (s *Stream) Receive(deadline time.Time) ([]byte, error) {
	return s.ReceiveRange(1, defaultReceiveSize, deadline)
}

// ReceiveRange returns between low and high plaintext bytes. Plaintext
// is handed back as soon as low is met; the call does not wait for more.
func (s *Stream) ReceiveRange(low, high int, deadline time.Time) ([]byte, error) {
	if low < 1 || high < low {
		return nil, api.ErrInvalidArgument
	}
	if s.closed.Load() || s.eof.Load() {
		return nil, io.EOF
	}
	if err := s.Handshake(deadline); err != nil {
		return nil, err
	}
	s.rmu.Lock()
	defer s.rmu.Unlock()

	out := s.takeLeftover(high)
	for len(out) < low {
		plain, err := s.decryptAvailable()
		out = append(out, plain...)
		if err == nil {
			continue
		}
		switch {
		case errors.Is(err, ErrWantRead):
			if len(out) >= low {
				continue
			}
			if s.session.PendingOutput() > 0 {
				if werr := s.pushOutput(deadline, true); werr != nil {
					return out, werr
				}
			}
			data, rerr := s.raw.Receive(deadline)
			if len(data) > 0 {
				s.session.WriteInput(data)
			}
			if rerr == nil {
				continue
			}
			if rerr == io.EOF {
				// peer vanished without close_notify
				s.session.CloseInput()
				s.eof.Store(true)
				if len(out) > 0 {
					return s.clip(out, high), nil
				}
				return nil, io.EOF
			}
			if api.IsTimeout(rerr) {
				more, _ := s.decryptAvailable()
				out = append(out, more...)
				if len(out) >= low {
					return s.clip(out, high), nil
				}
				return out, &api.TransportError{Op: "receive", Err: api.ErrTimeout, Data: out}
			}
			s.fail()
			return out, rerr
		case errors.Is(err, io.EOF):
			s.eof.Store(true)
			if len(out) > 0 {
				return s.clip(out, high), nil
			}
			return nil, io.EOF
		default:
			s.fail()
			return out, err
		}
	}
	return s.clip(out, high), nil
}

// decryptAvailable opens every complete record already buffered.
func (s *Stream) decryptAvailable() ([]byte, error) {
	var plain []byte
	for {
		n, err := s.session.Decrypt(s.buf)
		plain = append(plain, s.buf[:n]...)
		if err != nil {
			return plain, err
		}
		if n == 0 {
			return plain, ErrWantRead
		}
	}
}

func (s *Stream) takeLeftover(high int) []byte {
	if len(s.leftover) == 0 {
		return nil
	}
	n := min(len(s.leftover), high)
	out := append([]byte(nil), s.leftover[:n]...)
	s.leftover = s.leftover[n:]
	return out
}

func (s *Stream) clip(out []byte, high int) []byte {
	if len(out) <= high {
		return out
	}
	s.leftover = append(s.leftover, out[high:]...)
	return out[:high]
}

// Send encrypts p. The whole of p is consumed once sealed; on a raw send
// timeout the ciphertext not yet accepted stays queued for the next
// Send or Flush and the returned error wraps api.ErrTimeout.
func (s *Stream) Send(p []byte, deadline time.Time) (int, error) {
	if s.closed.Load() {
		return 0, &api.TransportError{Op: "send", Err: api.ErrClosed, Data: p}
	}
	if err := s.Handshake(deadline); err != nil {
		return 0, err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if err := s.session.Encrypt(p); err != nil {
		s.fail()
		return 0, err
	}
	if err := s.pushLocked(deadline, false); err != nil {
		if api.IsTimeout(err) {
			return len(p), err
		}
		return 0, err
	}
	return len(p), nil
}

// Flush pushes queued ciphertext and flushes the raw stream.
func (s *Stream) Flush(deadline time.Time) error {
	if s.closed.Load() {
		return &api.TransportError{Op: "flush", Err: api.ErrClosed}
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.pushLocked(deadline, true)
}

func (s *Stream) pushOutput(deadline time.Time, flush bool) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.pushLocked(deadline, flush)
}

func (s *Stream) pushLocked(deadline time.Time, flush bool) error {
	if out := s.session.TakeOutput(); len(out) > 0 {
		s.backlog = append(s.backlog, out...)
	}
	for len(s.backlog) > 0 {
		n, err := s.raw.Send(s.backlog, deadline)
		s.backlog = s.backlog[n:]
		if err != nil {
			return err
		}
	}
	s.backlog = nil
	if flush {
		return s.raw.Flush(deadline)
	}
	return nil
}

// Close sends close_notify on a best effort basis and closes the raw
// stream. It is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		established := s.session.State() == StateEstablished
		s.session.Shutdown()
		if established && s.wmu.TryLock() {
			s.pushLocked(api.After(closeNotifyTimeout), true)
			s.wmu.Unlock()
		}
		err = s.raw.Close()
	})
	return err
}

// fail tears the stream down without close_notify.
func (s *Stream) fail() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.session.Shutdown()
		s.raw.Close()
	})
}

// Closed reports whether the stream is closed or the peer finished.
func (s *Stream) Closed() bool {
	return s.closed.Load() || s.eof.Load()
}
