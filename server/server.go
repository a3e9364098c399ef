// File: server/server.go
// License: Apache-2.0
//
// Package server runs the HTTP/1.x pipeline over api.Streams: one
// goroutine per accepted connection parses requests, dispatches them to
// a message.Responder and writes responses back, handing the stream to
// the response's Upgrade callback after a protocol switch.

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/transport/tcp"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

const (
	maxAcceptBackoff = time.Second
	shutdownPoll     = 20 * time.Millisecond
)

// NewServer builds a server answering with handler.
func NewServer(cfg *Config, handler message.Responder, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:       cfg,
		log:       zap.NewNop(),
		listeners: make(map[api.Listener]struct{}),
		conns:     make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	mws := append([]message.Middleware{Recovery(s.log)}, s.middleware...)
	s.handler = message.Chain(handler, mws...)
	return s
}

// Listen binds Config.ListenAddr. The listener serves TLS when a context
// was given with WithTLS or both certificate files are configured.
func (s *Server) Listen() (api.Listener, error) {
	opts := []tcp.ListenOption{tcp.WithReusePort(s.cfg.ReusePort)}
	if s.cfg.ReceiveBufferSize > 0 {
		opts = append(opts, tcp.WithStreamOptions(tcp.WithReceiveSize(s.cfg.ReceiveBufferSize)))
	}
	ln, err := tcp.Listen(s.cfg.ListenAddr, opts...)
	if err != nil {
		return nil, err
	}
	ctx := s.tls
	if ctx == nil && s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		ctx, err = tlsstream.NewServerContext(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("server tls: %w", err)
		}
	}
	if ctx != nil {
		return tlsstream.NewListener(ln, ctx), nil
	}
	return ln, nil
}

// ListenAndServe binds the configured address and serves it until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Start(ln)
}

// Start accepts streams from ln until it is closed, running each
// connection on its own goroutine. It returns ErrServerClosed after
// Shutdown.
func (s *Server) Start(ln api.Listener) error {
	if !s.trackListener(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)
	s.log.Info("server started", zap.Stringer("addr", ln.Addr()))

	var backoff time.Duration
	for {
		stream, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, api.ErrClosed) {
				return err
			}
			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry", backoff))
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		c := &conn{stream: stream}
		if !s.trackConn(c, true) {
			stream.Close()
			continue
		}
		s.count("connections_accepted", 1)
		s.count("connections_active", 1)
		go s.serve(c)
	}
}

// Shutdown stops accepting, closes idle keep-alive connections and waits
// for in-flight requests until ctx is done. Connections still open at
// that point are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	tick := time.NewTicker(shutdownPoll)
	defer tick.Stop()
	for {
		s.closeConns(true)
		select {
		case <-done:
			s.log.Info("server stopped")
			return nil
		case <-ctx.Done():
			s.closeConns(false)
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (s *Server) closeConns(idleOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if !idleOnly || c.idle.Load() {
			c.stream.Close()
		}
	}
}

func (s *Server) trackListener(ln api.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closing.Load() {
			return false
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
	} else {
		delete(s.conns, c)
		s.wg.Done()
	}
	return true
}

func (s *Server) count(key string, delta int64) {
	if s.metrics != nil {
		s.metrics.Add(key, delta)
	}
}
