// File: transport/tlsstream/session.go
// License: Apache-2.0

package tlsstream

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-flux/api"
)

// ErrHandshakeIncomplete is returned when application data is requested
// before the session is established.
var ErrHandshakeIncomplete = errors.New("tls: handshake not complete")

// State is the lifecycle of a Session.
type State int32

const (
	StateInit State = iota
	StateHandshaking
	StateEstablished
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "shutdown"
	}
}

// inputCloser is implemented by engines that can observe end of input.
type inputCloser interface {
	CloseInput()
}

// Session owns an Engine and the two ciphertext buffers it works on.
// Plaintext is never produced before StateEstablished.
type Session struct {
	engine Engine
	netIn  MemBIO
	netOut MemBIO
	state  atomic.Int32
}

// NewSession creates a crypto/tls backed session.
func NewSession(ctx *Context, role Role) *Session {
	return NewSessionWithEngine(newCryptoEngine(ctx.Config(), role))
}

// NewSessionWithEngine creates a session over a caller supplied engine.
func NewSessionWithEngine(e Engine) *Session {
	s := &Session{engine: e}
	e.SetBuffers(&s.netIn, &s.netOut)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// WriteInput queues ciphertext received from the network.
func (s *Session) WriteInput(p []byte) { s.netIn.Write(p) }

// CloseInput signals that the network delivered end of stream.
func (s *Session) CloseInput() {
	if ic, ok := s.engine.(inputCloser); ok {
		ic.CloseInput()
	}
}

// TakeOutput drains ciphertext waiting to be sent.
func (s *Session) TakeOutput() []byte { return s.netOut.Drain() }

// PendingOutput is the number of ciphertext bytes waiting to be sent.
func (s *Session) PendingOutput() int { return s.netOut.Len() }

// Handshake advances the handshake one step. It returns nil when the
// session is established, ErrWantRead or ErrWantWrite when the caller
// must move bytes, and a *api.TLSError on failure.
func (s *Session) Handshake() error {
	switch s.State() {
	case StateEstablished:
		return nil
	case StateShutDown:
		return api.ErrClosed
	case StateInit:
		s.state.CompareAndSwap(int32(StateInit), int32(StateHandshaking))
	}
	err := s.engine.Handshake()
	switch {
	case err == nil:
		s.state.CompareAndSwap(int32(StateHandshaking), int32(StateEstablished))
		return nil
	case errors.Is(err, ErrWantRead), errors.Is(err, ErrWantWrite):
		return err
	default:
		s.state.Store(int32(StateShutDown))
		return &api.TLSError{Op: "handshake", Err: err}
	}
}

// Encrypt seals p into the output buffer.
func (s *Session) Encrypt(p []byte) error {
	if s.State() != StateEstablished {
		return ErrHandshakeIncomplete
	}
	if err := s.engine.Encrypt(p); err != nil {
		return &api.TLSError{Op: "encrypt", Err: err}
	}
	return nil
}

// Decrypt opens buffered records into p. ErrWantRead and io.EOF pass
// through unchanged.
func (s *Session) Decrypt(p []byte) (int, error) {
	if s.State() != StateEstablished {
		return 0, ErrHandshakeIncomplete
	}
	n, err := s.engine.Decrypt(p)
	if err == nil || errors.Is(err, ErrWantRead) || errors.Is(err, io.EOF) {
		return n, err
	}
	return n, &api.TLSError{Op: "decrypt", Err: err}
}

// Shutdown queues close_notify when established and releases the engine.
func (s *Session) Shutdown() error {
	if State(s.state.Swap(int32(StateShutDown))) == StateShutDown {
		return nil
	}
	return s.engine.Close()
}
