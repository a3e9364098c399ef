// File: transport/tlsstream/context.go
// License: Apache-2.0

package tlsstream

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/momentics/hioload-flux/api"
)

// Context holds the TLS configuration shared by every session of one
// role. It is read-only once built.
type Context struct {
	cfg *tls.Config
}

// NewContext adopts cfg.
func NewContext(cfg *tls.Config) *Context {
	return &Context{cfg: cfg.Clone()}
}

// NewServerContext loads a PEM certificate chain and private key.
func NewServerContext(certFile, keyFile string) (*Context, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("certfile and keyfile must be specified")
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificates: %w", err)
	}
	return NewServerContextFromCertificate(cert), nil
}

// NewServerContextFromCertificate builds a server context around cert.
func NewServerContextFromCertificate(cert tls.Certificate) *Context {
	return &Context{cfg: &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		NextProtos: []string{"http/1.1"},
	}}
}

// NewClientContext builds a client context. When caFile is empty the
// system roots verify the peer.
func NewClientContext(caFile, serverName string) (*Context, error) {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
		NextProtos: []string{"http/1.1"},
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}
	return &Context{cfg: cfg}, nil
}

// WithInsecureSkipVerify returns a copy that does not verify the peer.
func (c *Context) WithInsecureSkipVerify() *Context {
	cfg := c.cfg.Clone()
	cfg.InsecureSkipVerify = true
	return &Context{cfg: cfg}
}

// WithServerName returns a copy that verifies against name.
func (c *Context) WithServerName(name string) *Context {
	cfg := c.cfg.Clone()
	cfg.ServerName = name
	return &Context{cfg: cfg}
}

// Config returns a copy of the underlying configuration.
func (c *Context) Config() *tls.Config { return c.cfg.Clone() }

// Listener wraps every stream accepted by an inner listener in a server
// side TLS Stream. The handshake happens on the first read of the
// accepted stream, on the connection's own goroutine.
type Listener struct {
	inner api.Listener
	ctx   *Context
}

var _ api.Listener = (*Listener)(nil)

// NewListener wraps inner.
func NewListener(inner api.Listener, ctx *Context) *Listener {
	return &Listener{inner: inner, ctx: ctx}
}

func (l *Listener) Accept() (api.Stream, error) {
	raw, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	return NewServer(raw, l.ctx), nil
}

func (l *Listener) Close() error { return l.inner.Close() }

func (l *Listener) Addr() net.Addr { return l.inner.Addr() }
