// File: api/prepend.go
// License: Apache-2.0

package api

import (
	"net"
	"time"
)

// prefixed replays bytes read ahead of a protocol switch before handing
// receives to the wrapped stream.
type prefixed struct {
	Stream
	head []byte
}

// Prepend returns a stream that yields head before any data from s.
// It returns s itself when head is empty.
func Prepend(s Stream, head []byte) Stream {
	if len(head) == 0 {
		return s
	}
	return &prefixed{Stream: s, head: append([]byte(nil), head...)}
}

func (p *prefixed) Receive(deadline time.Time) ([]byte, error) {
	if len(p.head) == 0 {
		return p.Stream.Receive(deadline)
	}
	out := p.head
	p.head = nil
	return out, nil
}

func (p *prefixed) ReceiveRange(low, high int, deadline time.Time) ([]byte, error) {
	if len(p.head) == 0 {
		return p.Stream.ReceiveRange(low, high, deadline)
	}
	if low < 1 || high < low {
		return nil, ErrInvalidArgument
	}
	n := min(len(p.head), high)
	out := p.head[:n:n]
	p.head = p.head[n:]
	if len(out) >= low {
		return out, nil
	}
	more, err := p.Stream.ReceiveRange(low-len(out), high-len(out), deadline)
	out = append(out, more...)
	if err != nil {
		if te, ok := err.(*TransportError); ok {
			return out, &TransportError{Op: te.Op, Err: te.Err, Data: out}
		}
		return out, err
	}
	return out, nil
}

func (p *prefixed) LocalAddr() net.Addr {
	if a, ok := p.Stream.(Addressed); ok {
		return a.LocalAddr()
	}
	return nil
}

func (p *prefixed) RemoteAddr() net.Addr { return RemoteAddrOf(p.Stream) }
