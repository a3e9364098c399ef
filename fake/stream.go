// Package fake
// License: Apache-2.0
//
// Fake implementations for testing. Stream is a scripted api.Stream with
// predictable chunk boundaries, deadlines and failure injection.

package fake

import (
	"io"
	"sync"
	"time"

	"github.com/momentics/hioload-flux/api"
)

// Stream is a fake implementation of api.Stream. Inbound data is queued
// as chunks; a Receive never merges two chunks unless low requires it.
type Stream struct {
	mu        sync.Mutex
	chunks    [][]byte
	eof       bool
	recvError error
	sendError error
	closed    bool

	pending []byte // sent, not yet flushed
	sent    []byte // flushed
	peer    *Stream

	receives int
	flushes  int

	wake    chan struct{}
	closeCh chan struct{}
}

var _ api.Stream = (*Stream)(nil)

// NewStream creates an empty fake stream.
func NewStream() *Stream {
	return &Stream{
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Pipe returns two connected fakes: bytes flushed on one arrive as a
// chunk on the other, and closing one ends the other's input.
func Pipe() (*Stream, *Stream) {
	a, b := NewStream(), NewStream()
	a.peer, b.peer = b, a
	return a, b
}

// Push queues inbound chunks.
func (s *Stream) Push(chunks ...[]byte) {
	s.mu.Lock()
	for _, c := range chunks {
		if len(c) > 0 {
			s.chunks = append(s.chunks, append([]byte(nil), c...))
		}
	}
	s.mu.Unlock()
	s.signal()
}

// PushString queues a single inbound chunk.
func (s *Stream) PushString(chunk string) { s.Push([]byte(chunk)) }

// PushEOF ends the inbound data once the queued chunks are consumed.
func (s *Stream) PushEOF() {
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
	s.signal()
}

// SetRecvError makes the next Receive, once queued data is gone, fail.
func (s *Stream) SetRecvError(err error) {
	s.mu.Lock()
	s.recvError = err
	s.mu.Unlock()
	s.signal()
}

// SetSendError makes Send fail with err.
func (s *Stream) SetSendError(err error) {
	s.mu.Lock()
	s.sendError = err
	s.mu.Unlock()
}

// Sent returns a copy of everything flushed so far.
func (s *Stream) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

// TakeSent returns and forgets everything flushed so far.
func (s *Stream) TakeSent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// Receives counts Receive and ReceiveRange calls.
func (s *Stream) Receives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receives
}

// Flushes counts Flush calls.
func (s *Stream) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *Stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) Receive(deadline time.Time) ([]byte, error) {
	return s.ReceiveRange(1, 1<<20, deadline)
}

func (s *Stream) ReceiveRange(low, high int, deadline time.Time) ([]byte, error) {
	if low < 1 || high < low {
		return nil, api.ErrInvalidArgument
	}
	s.mu.Lock()
	s.receives++
	if s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}

	var got []byte
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return got, &api.TransportError{Op: "receive", Err: api.ErrClosed, Data: got}
		}
		for len(got) < low && len(s.chunks) > 0 {
			c := s.chunks[0]
			n := min(len(c), high-len(got))
			got = append(got, c[:n]...)
			if n == len(c) {
				s.chunks = s.chunks[1:]
			} else {
				s.chunks[0] = c[n:]
			}
		}
		switch {
		case len(got) >= low:
			s.mu.Unlock()
			return got, nil
		case s.recvError != nil:
			err := s.recvError
			s.recvError = nil
			s.mu.Unlock()
			return got, err
		case s.eof:
			s.mu.Unlock()
			if len(got) > 0 {
				return got, nil
			}
			return nil, io.EOF
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.closeCh:
		case <-timer:
			return got, &api.TransportError{Op: "receive", Err: api.ErrTimeout, Data: got}
		}
	}
}

func (s *Stream) Send(p []byte, deadline time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, &api.TransportError{Op: "send", Err: api.ErrClosed, Data: p}
	}
	if s.sendError != nil {
		return 0, &api.TransportError{Op: "send", Err: s.sendError, Data: p}
	}
	s.pending = append(s.pending, p...)
	return len(p), nil
}

func (s *Stream) Flush(deadline time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &api.TransportError{Op: "flush", Err: api.ErrClosed}
	}
	s.flushes++
	out := s.pending
	s.pending = nil
	s.sent = append(s.sent, out...)
	peer := s.peer
	s.mu.Unlock()
	if peer != nil && len(out) > 0 {
		peer.Push(out)
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	peer := s.peer
	s.mu.Unlock()
	if peer != nil {
		peer.PushEOF()
	}
	return nil
}

func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
