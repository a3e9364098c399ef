// File: api/errors.go
// License: Apache-2.0
//
// Common error types and error handling utilities shared by transports,
// protocol codecs and the HTTP layer.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrClosed          = fmt.Errorf("stream is closed")
	ErrTimeout         = fmt.Errorf("operation timeout")
	ErrReset           = fmt.Errorf("connection reset by peer")
	ErrNoBufferSpace   = fmt.Errorf("no buffer space available")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// TransportError reports a failed stream operation. Data holds the bytes
// received before the failure (receive) or the unsent remainder (send).
type TransportError struct {
	Op   string
	Err  error
	Data []byte
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *TransportError) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// TLSError is a TLS engine failure. It is fatal to the stream.
type TLSError struct {
	Op  string
	Err error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("tls %s: %v", e.Op, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// ProtocolError is a framing or message violation. Code carries the
// WebSocket close status (1002 for protocol errors) when one applies.
type ProtocolError struct {
	Code   int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error %d: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// PartialData extracts bytes carried by a TransportError in err's chain.
func PartialData(err error) []byte {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Data
	}
	return nil
}
