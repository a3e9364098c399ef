// File: client/client.go
// License: Apache-2.0
//
// Package client sends HTTP/1.x requests over api.Streams and dials
// WebSocket connections. Each request runs on its own connection: a
// goroutine performs the exchange and hands the response back to the
// caller through a one-slot channel, so cancelling the caller's context
// never leaves a half-read stream behind.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/control"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/parser"
	"github.com/momentics/hioload-flux/protocol"
	"github.com/momentics/hioload-flux/transport/tcp"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// DefaultTimeout bounds one exchange when the context has no deadline.
const DefaultTimeout = 30 * time.Second

// DialFunc opens a stream to addr.
type DialFunc func(ctx context.Context, addr string) (api.Stream, error)

// Client is an HTTP client bound to one server address.
type Client struct {
	addr       string
	host       string
	dial       DialFunc
	tls        *tlsstream.Context
	timeout    time.Duration
	userAgent  string
	middleware []message.Middleware
	maxBody    int
	log        *zap.Logger
}

// New creates a client for addr ("host:port").
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:      addr,
		host:      addr,
		timeout:   DefaultTimeout,
		userAgent: "hioload-flux",
		maxBody:   parser.DefaultMaxBodyBytes,
		log:       zap.NewNop(),
	}
	c.dial = c.dialTCP
	for _, o := range opts {
		o(c)
	}
	return c
}

// FromConfig creates a client from the file-level configuration.
func FromConfig(cfg control.ClientConfig, opts ...Option) (*Client, error) {
	var pre []Option
	if cfg.Timeout > 0 {
		pre = append(pre, WithTimeout(cfg.Timeout))
	}
	if cfg.TLS {
		ctx, err := tlsstream.NewClientContext(cfg.CAFile, cfg.ServerName)
		if err != nil {
			return nil, err
		}
		if cfg.InsecureSkipVerify {
			ctx = ctx.WithInsecureSkipVerify()
		}
		pre = append(pre, WithTLS(ctx))
	}
	return New(cfg.Addr, append(pre, opts...)...), nil
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

func (c *Client) dialTCP(ctx context.Context, addr string) (api.Stream, error) {
	raw, err := tcp.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	if c.tls == nil {
		return raw, nil
	}
	tctx := c.tls
	if tctx.Config().ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		tctx = tctx.WithServerName(host)
	}
	s := tlsstream.NewClient(raw, tctx)
	if err := s.Handshake(c.deadline(ctx)); err != nil {
		s.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
	}
	return s, nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := api.After(c.timeout)
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

// Respond sends req with a background context so a Client can stand in
// wherever a message.Responder is expected.
func (c *Client) Respond(req *message.Request) (*message.Response, error) {
	return c.Do(context.Background(), req)
}

// Do sends req through the client middleware and returns the response.
func (c *Client) Do(ctx context.Context, req *message.Request) (*message.Response, error) {
	base := message.ResponderFunc(func(r *message.Request) (*message.Response, error) {
		return c.roundTrip(ctx, r)
	})
	return message.Chain(base, c.middleware...).Respond(req)
}

type result struct {
	resp *message.Response
	err  error
}

func (c *Client) roundTrip(ctx context.Context, req *message.Request) (*message.Response, error) {
	if !req.Header.Has("Host") {
		req.Header.Set("Host", c.host)
	}
	if !req.Header.Has("User-Agent") && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Connection", "close")

	stream, err := c.dial(ctx, c.addr)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	deadline := c.deadline(ctx)
	done := make(chan result, 1)
	go func() {
		resp, err := c.exchange(stream, req, deadline)
		done <- result{resp, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			c.log.Debug("request failed", zap.String("method", req.Method.String()), zap.String("path", req.Path()), zap.Error(r.err))
		}
		return r.resp, r.err
	case <-ctx.Done():
		stream.Close()
		<-done
		return nil, ctx.Err()
	}
}

// exchange writes req and reads one final response. Interim 1xx
// responses other than 101 are skipped.
func (c *Client) exchange(stream api.Stream, req *message.Request, deadline time.Time) (*message.Response, error) {
	if err := api.SendAll(stream, req.Bytes(), deadline); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	p := parser.NewResponseParser(parser.WithMaxBodyBytes(c.maxBody))
	if req.Method == message.HEAD {
		p.ExpectNoBody()
	}
	var data []byte
	for {
		resp, err := p.Feed(data)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp != nil {
			if resp.Status >= 100 && resp.Status < 200 && resp.Status != message.StatusSwitchingProtocols {
				data = nil
				continue
			}
			return resp, nil
		}
		var rerr error
		data, rerr = stream.Receive(deadline)
		if rerr == nil {
			continue
		}
		if len(data) > 0 {
			if resp, err := p.Feed(data); resp != nil || err != nil {
				return resp, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			resp, err := p.EOF()
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}
			if resp == nil {
				return nil, fmt.Errorf("read response: %w", io.ErrUnexpectedEOF)
			}
			return resp, nil
		}
		return nil, fmt.Errorf("read response: %w", rerr)
	}
}

// DialWebSocket performs the opening handshake on path and returns a
// client-role connection. The caller registers hooks and calls Run.
func (c *Client) DialWebSocket(ctx context.Context, path string, opts ...protocol.ConnOption) (*protocol.Conn, *message.Response, error) {
	stream, err := c.dial(ctx, c.addr)
	if err != nil {
		return nil, nil, err
	}
	if len(opts) == 0 {
		opts = []protocol.ConnOption{protocol.WithLogger(c.log)}
	}
	conn, resp, err := protocol.ClientHandshake(stream, c.host, path, c.deadline(ctx), opts...)
	if err != nil {
		stream.Close()
		return nil, resp, err
	}
	return conn, resp, nil
}
