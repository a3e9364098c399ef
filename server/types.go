// File: server/types.go
// License: Apache-2.0

package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/control"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// ErrServerClosed is returned by Start and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr        string        // TCP bind address, e.g. ":8080"
	TLSCertFile       string        // PEM certificate; TLS is on when set with TLSKeyFile
	TLSKeyFile        string        // PEM private key
	ReadTimeout       time.Duration // bound on reading one request once it started
	WriteTimeout      time.Duration // bound on writing one response
	IdleTimeout       time.Duration // keep-alive wait for the next request
	ShutdownTimeout   time.Duration // graceful shutdown bound used by Run
	MaxRequestBytes   int           // request body limit, 413 above it
	MaxHeaderBytes    int           // start line and header limit
	ReceiveBufferSize int           // receive high watermark of accepted streams
	ReusePort         bool          // SO_REUSEPORT on the listening socket
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxRequestBytes: 8 << 20,
		MaxHeaderBytes:  64 << 10,
	}
}

// ConfigFrom converts the file-level configuration.
func ConfigFrom(c control.ServerConfig) *Config {
	return &Config{
		ListenAddr:        c.ListenAddr,
		TLSCertFile:       c.TLSCertFile,
		TLSKeyFile:        c.TLSKeyFile,
		ReadTimeout:       c.ReadTimeout,
		WriteTimeout:      c.WriteTimeout,
		IdleTimeout:       c.IdleTimeout,
		ShutdownTimeout:   c.ShutdownTimeout,
		MaxRequestBytes:   c.MaxRequestBytes,
		MaxHeaderBytes:    c.MaxHeaderBytes,
		ReceiveBufferSize: c.ReceiveBufferSize,
		ReusePort:         c.ReusePort,
	}
}

// Server accepts streams and runs the HTTP pipeline on each of them.
type Server struct {
	cfg        *Config
	handler    message.Responder
	middleware []message.Middleware
	log        *zap.Logger
	metrics    *control.MetricsRegistry
	tls        *tlsstream.Context

	mu        sync.Mutex
	listeners map[api.Listener]struct{}
	conns     map[*conn]struct{}
	wg        sync.WaitGroup
	closing   atomic.Bool
}

// conn tracks one accepted stream.
type conn struct {
	stream api.Stream
	idle   atomic.Bool
}
