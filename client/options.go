// File: client/options.go
// License: Apache-2.0

package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// Option customizes a Client.
type Option func(*Client)

// WithTLS dials TLS streams using ctx. Without a server name in ctx the
// host part of the address is verified.
func WithTLS(ctx *tlsstream.Context) Option {
	return func(c *Client) { c.tls = ctx }
}

// WithTimeout bounds each exchange; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHost overrides the Host header, which defaults to the address.
func WithHost(host string) Option {
	return func(c *Client) { c.host = host }
}

// WithUserAgent sets the User-Agent header; empty omits it.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMiddleware wraps every request, mws[0] outermost.
func WithMiddleware(mws ...message.Middleware) Option {
	return func(c *Client) { c.middleware = append(c.middleware, mws...) }
}

// WithMaxBodyBytes limits response bodies.
func WithMaxBodyBytes(n int) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}
