// File: transport/tlsstream/crypto_engine.go
// License: Apache-2.0
//
// cryptoEngine drives crypto/tls without letting it block the caller.
// A tls.Conn runs on a helper goroutine over an in-memory net.Conn; when
// that goroutine needs ciphertext it reports starvation and parks until
// the driving task feeds it the next chunk of the input buffer.

package tlsstream

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type engineOp int

const (
	opHandshake engineOp = iota
	opRead
)

type engineEvent struct {
	wantInput bool
	n         int
	err       error
}

// memConn is the transport seen by tls.Conn. Only the engine goroutine
// calls Read; Write may come from either side and lands in out.
type memConn struct {
	out     *MemBIO
	events  chan<- engineEvent
	feed    <-chan []byte
	quit    <-chan struct{}
	pending []byte
	eof     bool
}

func (c *memConn) Read(p []byte) (int, error) {
	if len(c.pending) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		select {
		case c.events <- engineEvent{wantInput: true}:
		case <-c.quit:
			return 0, net.ErrClosed
		}
		select {
		case chunk := <-c.feed:
			if chunk == nil {
				c.eof = true
				return 0, io.EOF
			}
			c.pending = chunk
		case <-c.quit:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *memConn) Write(p []byte) (int, error) { return c.out.Write(p) }

func (c *memConn) Close() error                       { return nil }
func (c *memConn) LocalAddr() net.Addr                { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr               { return memAddr{} }
func (c *memConn) SetDeadline(t time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(t time.Time) error { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "mem" }
func (memAddr) String() string  { return "membio" }

type cryptoEngine struct {
	conn *tls.Conn
	mc   *memConn
	in   *MemBIO
	out  *MemBIO

	ops    chan engineOp
	events chan engineEvent
	feed   chan []byte
	quit   chan struct{}

	readBuf []byte
	plain   []byte

	// owned by the driving task
	started  bool
	inflight bool
	starving bool
	inputEOF bool

	done      atomic.Bool
	closeOnce sync.Once
}

func newCryptoEngine(cfg *tls.Config, role Role) *cryptoEngine {
	e := &cryptoEngine{
		ops:     make(chan engineOp),
		events:  make(chan engineEvent),
		feed:    make(chan []byte),
		quit:    make(chan struct{}),
		readBuf: make([]byte, 16*1024),
	}
	e.mc = &memConn{events: e.events, feed: e.feed, quit: e.quit}
	if role == RoleClient {
		e.conn = tls.Client(e.mc, cfg)
	} else {
		e.conn = tls.Server(e.mc, cfg)
	}
	return e
}

func (e *cryptoEngine) SetBuffers(in, out *MemBIO) {
	e.in = in
	e.out = out
	e.mc.out = out
}

// CloseInput marks the input buffer as finished: once drained the TLS
// layer sees end of file.
func (e *cryptoEngine) CloseInput() { e.inputEOF = true }

func (e *cryptoEngine) worker() {
	for {
		select {
		case op := <-e.ops:
			var ev engineEvent
			switch op {
			case opHandshake:
				ev.err = e.conn.Handshake()
			case opRead:
				ev.n, ev.err = e.conn.Read(e.readBuf)
			}
			select {
			case e.events <- ev:
			case <-e.quit:
				return
			}
		case <-e.quit:
			return
		}
	}
}

// run submits op, or resumes the one in flight, and waits until it
// completes or the engine goroutine runs out of input.
func (e *cryptoEngine) run(op engineOp) (int, error) {
	if !e.started {
		e.started = true
		go e.worker()
	}
	if !e.inflight {
		select {
		case e.ops <- op:
		case <-e.quit:
			return 0, net.ErrClosed
		}
		e.inflight = true
	}
	for {
		if e.starving {
			chunk := e.in.Drain()
			if chunk == nil && !e.inputEOF {
				return 0, ErrWantRead
			}
			select {
			case e.feed <- chunk:
			case <-e.quit:
				return 0, net.ErrClosed
			}
			e.starving = false
		}
		select {
		case ev := <-e.events:
			if ev.wantInput {
				e.starving = true
				continue
			}
			e.inflight = false
			return ev.n, ev.err
		case <-e.quit:
			return 0, net.ErrClosed
		}
	}
}

func (e *cryptoEngine) Handshake() error {
	if e.done.Load() {
		return nil
	}
	_, err := e.run(opHandshake)
	if errors.Is(err, ErrWantRead) {
		if e.out.Len() > 0 {
			return ErrWantWrite
		}
		return ErrWantRead
	}
	if err != nil {
		return err
	}
	e.done.Store(true)
	return nil
}

func (e *cryptoEngine) Encrypt(p []byte) error {
	if !e.done.Load() {
		return ErrHandshakeIncomplete
	}
	_, err := e.conn.Write(p)
	return err
}

func (e *cryptoEngine) Decrypt(p []byte) (int, error) {
	if len(e.plain) > 0 {
		n := copy(p, e.plain)
		e.plain = e.plain[n:]
		return n, nil
	}
	n, err := e.run(opRead)
	if n > 0 {
		c := copy(p, e.readBuf[:n])
		if c < n {
			e.plain = append(e.plain[:0], e.readBuf[c:n]...)
		}
		return c, nil
	}
	return 0, err
}

func (e *cryptoEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.done.Load() {
			err = e.conn.CloseWrite()
		}
		close(e.quit)
	})
	return err
}
