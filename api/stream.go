// File: api/stream.go
// License: Apache-2.0
//
// Stream and Listener describe the byte-stream contract shared by the
// plaintext TCP transport and the TLS transport.

package api

import (
	"net"
	"time"
)

// NoDeadline disables the deadline of a stream operation.
var NoDeadline = time.Time{}

// After returns a deadline d from now, or NoDeadline when d <= 0.
func After(d time.Duration) time.Time {
	if d <= 0 {
		return NoDeadline
	}
	return time.Now().Add(d)
}

// Stream is a bidirectional byte stream. Every blocking call takes an
// absolute deadline; the zero time means wait forever.
//
// On expiry the bytes obtained so far are returned together with a
// *TransportError wrapping ErrTimeout. After Close, Send and Flush fail
// with ErrClosed and Receive returns io.EOF. Close unblocks a goroutine
// suspended in Receive or Send.
type Stream interface {
	// Receive returns at least one byte, or an error.
	Receive(deadline time.Time) ([]byte, error)

	// ReceiveRange returns at least low and at most high bytes.
	ReceiveRange(low, high int, deadline time.Time) ([]byte, error)

	// Send queues p for transmission and returns the number of bytes
	// accepted. A short count is always accompanied by an error.
	Send(p []byte, deadline time.Time) (int, error)

	// Flush pushes buffered output to the peer.
	Flush(deadline time.Time) error

	// Close releases the stream. It is idempotent.
	Close() error

	// Closed reports whether Close has been called or the peer is gone.
	Closed() bool
}

// Addressed is implemented by streams that know their endpoints.
type Addressed interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener yields accepted streams.
type Listener interface {
	Accept() (Stream, error)
	Close() error
	Addr() net.Addr
}

// SendAll sends p completely, resuming after partial sends until the
// deadline, and flushes.
func SendAll(s Stream, p []byte, deadline time.Time) error {
	for len(p) > 0 {
		n, err := s.Send(p, deadline)
		p = p[n:]
		if err != nil {
			return err
		}
	}
	return s.Flush(deadline)
}

// RemoteAddrOf returns the peer address of s, or nil when unknown.
func RemoteAddrOf(s Stream) net.Addr {
	if a, ok := s.(Addressed); ok {
		return a.RemoteAddr()
	}
	return nil
}
