// File: server/options.go
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/control"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/transport/tlsstream"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithMiddleware attaches middleware in FIFO order: the first one sees
// the request first.
func WithMiddleware(mw ...message.Middleware) ServerOption {
	return func(s *Server) {
		s.middleware = append(s.middleware, mw...)
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log *zap.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records connection and request counters in mr.
func WithMetrics(mr *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		s.metrics = mr
	}
}

// WithTLS serves TLS from ListenAndServe regardless of the certificate
// files in Config.
func WithTLS(ctx *tlsstream.Context) ServerOption {
	return func(s *Server) {
		s.tls = ctx
	}
}
