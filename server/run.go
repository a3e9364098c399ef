// File: server/run.go
// License: Apache-2.0

package server

import (
	"context"
	"errors"
)

// Run serves the configured address until ctx is cancelled, then shuts
// down gracefully within Config.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx := context.Background()
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	serr := s.Shutdown(sctx)
	if err := <-errc; err != nil && !errors.Is(err, ErrServerClosed) {
		return err
	}
	return serr
}
