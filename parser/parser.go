// File: parser/parser.go
// License: Apache-2.0
//
// Package parser adapts the callback tokenizer into a pull-style API:
// Feed bytes in, get zero or one completed message out. One parser
// serves one connection and resets itself after every message so
// keep-alive connections reuse it.

package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/internal/httptoken"
	"github.com/momentics/hioload-flux/message"
)

// ErrUpgraded is returned by Feed after a message switched protocols.
var ErrUpgraded = errors.New("parser: connection upgraded")

// DefaultMaxBodyBytes bounds a single message body.
const DefaultMaxBodyBytes = 8 << 20

// Option customizes a parser.
type Option func(*config)

type config struct {
	maxBody   int
	maxHeader int
}

// WithMaxBodyBytes limits the body size; larger messages fail with 413.
func WithMaxBodyBytes(n int) Option {
	return func(c *config) { c.maxBody = n }
}

// WithMaxHeaderBytes limits the start line and header section.
func WithMaxHeaderBytes(n int) Option {
	return func(c *config) { c.maxHeader = n }
}

// context is the per-message accumulation state fed by the callbacks.
type context struct {
	target   []byte
	reason   []byte
	field    []byte
	value    []byte
	inValue  bool
	header   message.Header
	body     []byte
	tooLarge bool
	complete bool
}

func (c *context) reset() {
	c.target = c.target[:0]
	c.reason = c.reason[:0]
	c.field = c.field[:0]
	c.value = c.value[:0]
	c.inValue = false
	c.header = message.Header{}
	c.body = nil
	c.tooLarge = false
	c.complete = false
}

func (c *context) flushField() {
	if len(c.field) == 0 {
		return
	}
	c.header.Add(string(c.field), strings.TrimSpace(string(c.value)))
	c.field = c.field[:0]
	c.value = c.value[:0]
	c.inValue = false
}

// core is shared by the request and response adapters.
type core struct {
	tok      *httptoken.Tokenizer
	ctx      context
	cfg      config
	buf      []byte
	upgraded bool
}

func newCore(kind httptoken.Kind, opts []Option) *core {
	c := &core{cfg: config{maxBody: DefaultMaxBodyBytes}}
	for _, opt := range opts {
		opt(&c.cfg)
	}
	c.tok = httptoken.New(kind, httptoken.Callbacks{
		OnMessageBegin: c.ctx.reset,
		OnURL:          func(b []byte) { c.ctx.target = append(c.ctx.target, b...) },
		OnStatus:       func(b []byte) { c.ctx.reason = append(c.ctx.reason, b...) },
		OnHeaderField: func(b []byte) {
			if c.ctx.inValue {
				c.ctx.flushField()
			}
			c.ctx.field = append(c.ctx.field, b...)
		},
		OnHeaderValue: func(b []byte) {
			c.ctx.inValue = true
			c.ctx.value = append(c.ctx.value, b...)
		},
		OnHeadersComplete: c.ctx.flushField,
		OnBody: func(b []byte) {
			if c.cfg.maxBody > 0 && len(c.ctx.body)+len(b) > c.cfg.maxBody {
				c.ctx.tooLarge = true
				return
			}
			c.ctx.body = append(c.ctx.body, b...)
		},
		OnMessageComplete: func() { c.ctx.complete = true },
	})
	c.tok.MaxHeaderBytes = c.cfg.maxHeader
	return c
}

// step runs the tokenizer over buffered input plus data and reports
// whether a message completed.
func (c *core) step(data []byte) (bool, error) {
	if c.upgraded {
		return false, ErrUpgraded
	}
	c.buf = append(c.buf, data...)
	if len(c.buf) == 0 {
		return false, nil
	}
	c.ctx.complete = false
	n, err := c.tok.Execute(c.buf)
	if err != nil {
		c.buf = c.buf[:0]
		return false, &api.ProtocolError{Code: int(message.StatusBadRequest), Reason: "malformed message", Err: err}
	}
	if c.ctx.tooLarge {
		c.buf = c.buf[:0]
		return false, &api.ProtocolError{Code: int(message.StatusPayloadTooLarge), Reason: "body too large"}
	}
	if c.ctx.complete {
		c.buf = c.buf[:copy(c.buf, c.buf[n:])]
		c.upgraded = c.tok.Upgraded()
		return true, nil
	}
	if n != len(c.buf) {
		c.buf = c.buf[:0]
		return false, &api.ProtocolError{
			Code:   int(message.StatusBadRequest),
			Reason: fmt.Sprintf("tokenizer consumed %d of %d bytes", n, len(c.buf)),
		}
	}
	c.buf = c.buf[:0]
	return false, nil
}

// Buffered reports whether bytes of a further message are waiting;
// Feed(nil) parses them.
func (c *core) Buffered() bool { return len(c.buf) > 0 && !c.upgraded }

// Upgraded reports whether the last message switched protocols.
func (c *core) Upgraded() bool { return c.upgraded }

// Leftover returns bytes that followed an upgrade message.
func (c *core) Leftover() []byte {
	if !c.upgraded {
		return nil
	}
	return bytes.Clone(c.buf)
}

// InProgress reports whether a message has started but not completed.
func (c *core) InProgress() bool { return c.tok.InMessage() }

func (c *core) version() message.Version {
	major, minor := c.tok.Version()
	return message.Version{Major: major, Minor: minor}
}

// RequestParser parses requests from one connection.
type RequestParser struct {
	*core
}

// NewRequestParser creates a request parser.
func NewRequestParser(opts ...Option) *RequestParser {
	return &RequestParser{core: newCore(httptoken.Request, opts)}
}

// Feed consumes data and returns a request once one is complete.
// Malformed input is a *api.ProtocolError carrying the status to answer.
func (p *RequestParser) Feed(data []byte) (*message.Request, error) {
	done, err := p.step(data)
	if !done || err != nil {
		return nil, err
	}
	target := string(p.ctx.target)
	u, err := message.ParseTarget(target)
	if err != nil {
		return nil, &api.ProtocolError{Code: int(message.StatusBadRequest), Reason: "bad request target", Err: err}
	}
	method, _ := message.ParseMethod(p.tok.Method())
	return &message.Request{
		Method:  method,
		Target:  target,
		URI:     u,
		Version: p.version(),
		Header:  p.ctx.header,
		Body:    p.ctx.body,
		Storage: make(map[string]any),
	}, nil
}

// ResponseParser parses responses from one connection.
type ResponseParser struct {
	*core
}

// NewResponseParser creates a response parser.
func NewResponseParser(opts ...Option) *ResponseParser {
	return &ResponseParser{core: newCore(httptoken.Response, opts)}
}

// ExpectNoBody marks the next response as answering a HEAD request.
func (p *ResponseParser) ExpectNoBody() { p.tok.SkipBody = true }

// Feed consumes data and returns a response once one is complete.
func (p *ResponseParser) Feed(data []byte) (*message.Response, error) {
	done, err := p.step(data)
	if !done || err != nil {
		return nil, err
	}
	return p.build(), nil
}

// EOF completes a response whose body is delimited by connection close.
// It returns nil when no message was in progress.
func (p *ResponseParser) EOF() (*message.Response, error) {
	if err := p.tok.Finish(); err != nil {
		return nil, &api.ProtocolError{Code: int(message.StatusBadGateway), Reason: "truncated response", Err: err}
	}
	if !p.ctx.complete {
		return nil, nil
	}
	return p.build(), nil
}

func (p *ResponseParser) build() *message.Response {
	resp := &message.Response{
		Status:  message.Status(p.tok.StatusCode()),
		Reason:  string(p.ctx.reason),
		Version: p.version(),
		Header:  p.ctx.header,
		Body:    p.ctx.body,
		Storage: make(map[string]any),
	}
	p.ctx.complete = false
	return resp
}
