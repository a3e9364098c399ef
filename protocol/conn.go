// File: protocol/conn.go
// License: Apache-2.0
//
// Conn runs one WebSocket session over an api.Stream: it feeds received
// bytes to the decoder, fires application events and drives the close
// handshake.

package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/pool"
)

// CloseState is the close handshake progress of a Conn.
type CloseState int32

const (
	StateOpen CloseState = iota
	// StateCloseSent means a Close frame went out and the peer's is awaited.
	StateCloseSent
	StateClosed
)

func (s CloseState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCloseSent:
		return "close-sent"
	}
	return "closed"
}

// Counter receives connection metrics.
type Counter interface {
	Add(key string, delta int64)
}

// ConnOption customizes a Conn.
type ConnOption func(*Conn)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ConnOption {
	return func(c *Conn) { c.log = l }
}

// WithMetrics counts frames into m.
func WithMetrics(m Counter) ConnOption {
	return func(c *Conn) { c.metrics = m }
}

// WithIdleTimeout closes the session with 1001 when nothing arrives for d.
func WithIdleTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.idle = d }
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.writeTimeout = d }
}

// WithCloseTimeout bounds the wait for the peer's Close after ours.
func WithCloseTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.closeTimeout = d }
}

// WithMaxMessageSize rejects larger messages with 1009.
func WithMaxMessageSize(n int) ConnOption {
	return func(c *Conn) { c.maxMessage = n }
}

// WithAutoPong controls whether pings are answered automatically.
func WithAutoPong(enabled bool) ConnOption {
	return func(c *Conn) { c.autoPong = enabled }
}

// DefaultCloseTimeout is the wait for the peer's Close frame.
const DefaultCloseTimeout = 5 * time.Second

var errStopped = errors.New("protocol: connection closed")

// Conn is a WebSocket session. Event hooks must be registered before Run;
// the send methods may be called from any goroutine.
type Conn struct {
	stream api.Stream
	role   Role
	dec    *Decoder
	log    *zap.Logger

	metrics      Counter
	idle         time.Duration
	writeTimeout time.Duration
	closeTimeout time.Duration
	maxMessage   int
	autoPong     bool

	wmu        sync.Mutex
	state      atomic.Int32
	closed     atomic.Bool
	notified   atomic.Bool
	closeTimer atomic.Pointer[time.Timer]

	onText   func(text string)
	onBinary func(data []byte)
	onPing   func(data []byte)
	onPong   func(data []byte)
	onClose  func(code int, reason string)
}

// NewConn wraps an upgraded stream.
func NewConn(stream api.Stream, role Role, opts ...ConnOption) *Conn {
	c := &Conn{
		stream:       stream,
		role:         role,
		log:          zap.NewNop(),
		closeTimeout: DefaultCloseTimeout,
		autoPong:     true,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dec = NewDecoder(role, c.maxMessage)
	return c
}

// Role returns the local role.
func (c *Conn) Role() Role { return c.role }

// Stream returns the underlying stream.
func (c *Conn) Stream() api.Stream { return c.stream }

// State returns the close handshake state.
func (c *Conn) State() CloseState { return CloseState(c.state.Load()) }

// OnText, OnBinary, OnPing, OnPong and OnClose register event hooks.
func (c *Conn) OnText(fn func(text string)) { c.onText = fn }
func (c *Conn) OnBinary(fn func(data []byte)) { c.onBinary = fn }
func (c *Conn) OnPing(fn func(data []byte)) { c.onPing = fn }
func (c *Conn) OnPong(fn func(data []byte)) { c.onPong = fn }
func (c *Conn) OnClose(fn func(code int, reason string)) { c.onClose = fn }

// SendText sends one text message.
func (c *Conn) SendText(text string) error {
	return c.writeFrame(OpcodeText, []byte(text))
}

// SendBinary sends one binary message.
func (c *Conn) SendBinary(data []byte) error {
	return c.writeFrame(OpcodeBinary, data)
}

// Ping sends a ping with at most 125 bytes of payload.
func (c *Conn) Ping(data []byte) error {
	if len(data) > MaxControlPayloadLen {
		return api.ErrInvalidArgument
	}
	return c.writeFrame(OpcodePing, data)
}

// Pong sends an unsolicited or answering pong.
func (c *Conn) Pong(data []byte) error {
	if len(data) > MaxControlPayloadLen {
		return api.ErrInvalidArgument
	}
	return c.writeFrame(OpcodePong, data)
}

// Close starts the close handshake. The stream is closed once the peer
// answers, or when the close timeout expires.
func (c *Conn) Close(code int, reason string) error {
	payload, err := closePayload(code, reason)
	if err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateCloseSent)) {
		return nil
	}
	if err := c.sendFrame(OpcodeClose, payload); err != nil {
		c.shutdown()
		return err
	}
	c.armCloseTimer()
	return nil
}

// armCloseTimer ends the session with 1006 if the peer's Close does not
// arrive in time. Closing the stream unblocks a pending Receive in Run.
func (c *Conn) armCloseTimer() {
	if c.closeTimeout <= 0 {
		return
	}
	c.closeTimer.Store(time.AfterFunc(c.closeTimeout, func() {
		if c.State() == StateCloseSent {
			c.log.Debug("close handshake timed out")
			c.finish(CloseAbnormalClosure, "close timeout")
		}
	}))
}

func closePayload(code int, reason string) ([]byte, error) {
	if code == 0 || code == CloseNoStatusRcvd {
		return nil, nil
	}
	if code < 1000 || code > 4999 || len(reason) > MaxControlPayloadLen-2 {
		return nil, api.ErrInvalidArgument
	}
	p := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(p, reason...), nil
}

// ParseClosePayload splits a Close payload into code and reason. An empty
// payload yields 1005.
func ParseClosePayload(p []byte) (int, string, error) {
	switch len(p) {
	case 0:
		return CloseNoStatusRcvd, "", nil
	case 1:
		return 0, "", violation("close payload of one byte")
	}
	return int(binary.BigEndian.Uint16(p)), string(p[2:]), nil
}

func (c *Conn) writeFrame(op Opcode, payload []byte) error {
	if c.State() != StateOpen {
		return api.ErrClosed
	}
	return c.sendFrame(op, payload)
}

func (c *Conn) sendFrame(op Opcode, payload []byte) error {
	buf := pool.Get(MaxFrameHeaderLen + len(payload))
	defer pool.Put(buf)
	*buf = AppendFrame(*buf, op, payload, c.role == RoleClient)
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return api.ErrClosed
	}
	if err := api.SendAll(c.stream, *buf, api.After(c.writeTimeout)); err != nil {
		return err
	}
	c.count("ws_frames_out", 1)
	return nil
}

func (c *Conn) count(key string, n int64) {
	if c.metrics != nil && n != 0 {
		c.metrics.Add(key, n)
	}
}

// shutdown closes the stream once.
func (c *Conn) shutdown() {
	c.state.Store(int32(StateClosed))
	if t := c.closeTimer.Load(); t != nil {
		t.Stop()
	}
	if c.closed.CompareAndSwap(false, true) {
		c.stream.Close()
	}
}

// finish closes the stream and fires onClose once.
func (c *Conn) finish(code int, reason string) {
	c.shutdown()
	if c.notified.CompareAndSwap(false, true) && c.onClose != nil {
		c.onClose(code, reason)
	}
}

// fail answers a protocol violation with a Close carrying code.
func (c *Conn) fail(code int, reason string) {
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateCloseSent)) {
		payload, _ := closePayload(code, truncate(reason, MaxControlPayloadLen-2))
		if err := c.sendFrame(OpcodeClose, payload); err != nil {
			c.log.Debug("close frame not sent", zap.Error(err))
		}
	}
	c.finish(code, reason)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (c *Conn) deadline() time.Time {
	if c.State() == StateCloseSent {
		if c.idle > 0 && c.idle < c.closeTimeout {
			return api.After(c.idle)
		}
		return api.After(c.closeTimeout)
	}
	return api.After(c.idle)
}

// Run receives and dispatches until the session ends. It returns nil
// after a clean or timed-out close, the *api.ProtocolError that ended the
// session, or the transport error.
func (c *Conn) Run() error {
	for c.State() != StateClosed {
		data, err := c.stream.Receive(c.deadline())
		if len(data) > 0 {
			if ferr := c.feed(data); ferr != nil {
				return ferr
			}
			if c.State() == StateClosed {
				return nil
			}
		}
		if err == nil {
			continue
		}
		switch {
		case api.IsTimeout(err):
			if c.State() == StateCloseSent {
				c.log.Debug("close handshake timed out")
				c.finish(CloseAbnormalClosure, "close timeout")
				return nil
			}
			c.log.Debug("idle timeout", zap.Duration("idle", c.idle))
			if cerr := c.Close(CloseGoingAway, "idle timeout"); cerr != nil {
				c.finish(CloseAbnormalClosure, "")
				return nil
			}
		case errors.Is(err, io.EOF), errors.Is(err, api.ErrClosed):
			c.finish(CloseAbnormalClosure, "")
			return nil
		default:
			c.finish(CloseAbnormalClosure, "")
			return err
		}
	}
	return nil
}

func (c *Conn) feed(data []byte) error {
	before := c.dec.Frames()
	err := c.dec.Feed(data, c.dispatch)
	c.count("ws_frames_in", c.dec.Frames()-before)
	if err == nil || errors.Is(err, errStopped) {
		return nil
	}
	var pe *api.ProtocolError
	if errors.As(err, &pe) {
		c.log.Warn("websocket protocol violation", zap.Int("code", pe.Code), zap.String("reason", pe.Reason))
		c.fail(pe.Code, pe.Reason)
		return pe
	}
	c.finish(CloseAbnormalClosure, "")
	return err
}

func (c *Conn) dispatch(op Opcode, payload []byte) error {
	switch op {
	case OpcodeText:
		if !utf8.Valid(payload) {
			return &api.ProtocolError{Code: CloseInvalidPayloadData, Reason: "invalid utf-8"}
		}
		if c.onText != nil {
			c.onText(string(payload))
		}
	case OpcodeBinary:
		if c.onBinary != nil {
			c.onBinary(payload)
		}
	case OpcodePing:
		if c.autoPong && c.State() == StateOpen {
			if err := c.sendFrame(OpcodePong, payload); err != nil {
				c.log.Debug("pong not sent", zap.Error(err))
			}
		}
		if c.onPing != nil {
			c.onPing(payload)
		}
	case OpcodePong:
		if c.onPong != nil {
			c.onPong(payload)
		}
	case OpcodeClose:
		return c.peerClose(payload)
	}
	return nil
}

func (c *Conn) peerClose(payload []byte) error {
	code, reason, err := ParseClosePayload(payload)
	if err != nil {
		return err
	}
	if len(payload) > 0 && !ValidCloseCode(code) {
		return violation("invalid close code %d", code)
	}
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateCloseSent)) {
		echo := code
		if echo == CloseNoStatusRcvd {
			echo = CloseNormalClosure
		}
		reply, _ := closePayload(echo, reason)
		if err := c.sendFrame(OpcodeClose, reply); err != nil {
			c.log.Debug("close echo not sent", zap.Error(err))
		}
	}
	c.log.Debug("websocket closed by peer", zap.Int("code", code), zap.String("reason", reason))
	c.finish(code, reason)
	return errStopped
}
