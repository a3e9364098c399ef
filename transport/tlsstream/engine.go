// File: transport/tlsstream/engine.go
// License: Apache-2.0

package tlsstream

import "errors"

// Control signals returned by an Engine. They are not failures.
var (
	// ErrWantRead means the engine needs more ciphertext in its input buffer.
	ErrWantRead = errors.New("tls: need more input")
	// ErrWantWrite means ciphertext is waiting in the output buffer.
	ErrWantWrite = errors.New("tls: need to send")
)

// Engine is a TLS implementation driven without blocking on the network.
// Ciphertext enters through the input MemBIO and leaves through the
// output MemBIO; the caller moves bytes between those buffers and the
// socket.
type Engine interface {
	// SetBuffers attaches the network-side buffers.
	SetBuffers(in, out *MemBIO)
	// Handshake advances the handshake: nil once complete, otherwise
	// ErrWantRead, ErrWantWrite or a fatal error.
	Handshake() error
	// Encrypt seals p into the output buffer.
	Encrypt(p []byte) error
	// Decrypt opens at most len(p) plaintext bytes. It returns
	// ErrWantRead when the input buffer holds no complete record and
	// io.EOF once the peer has sent close_notify.
	Decrypt(p []byte) (int, error)
	// Close sends close_notify when possible and releases the engine.
	Close() error
}

// Role selects the handshake side.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}
