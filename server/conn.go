// File: server/conn.go
// License: Apache-2.0

package server

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/parser"
	"github.com/momentics/hioload-flux/pool"
)

// serve runs the request loop of one connection.
func (s *Server) serve(c *conn) {
	stream := c.stream
	defer func() {
		stream.Close()
		s.count("connections_active", -1)
		s.trackConn(c, false)
	}()

	remote := ""
	if addr := api.RemoteAddrOf(stream); addr != nil {
		remote = addr.String()
	}
	log := s.log.With(zap.String("remote", remote))
	p := parser.NewRequestParser(
		parser.WithMaxBodyBytes(s.cfg.MaxRequestBytes),
		parser.WithMaxHeaderBytes(s.cfg.MaxHeaderBytes),
	)

	for {
		req, err := s.readRequest(c, p)
		if err != nil {
			s.readFailed(stream, log, err)
			return
		}
		req.RemoteAddr = remote
		s.count("requests_total", 1)

		resp := s.dispatch(req, log)
		if resp.Status >= 500 {
			s.count("responses_5xx", 1)
		}
		switching := resp.Upgrade != nil && resp.Status == message.StatusSwitchingProtocols
		// a refused upgrade leaves the parser unusable
		keep := switching || (!p.Upgraded() && req.IsKeepAlive() && resp.IsKeepAlive() && !s.closing.Load())
		if !keep {
			resp.Header.Set("Connection", "close")
		}

		buf := pool.Get(len(resp.Body) + 512)
		raw := resp.AppendTo(*buf)
		if req.Method == message.HEAD && resp.Status.HasBody() {
			raw = raw[:len(raw)-len(resp.Body)]
		}
		err = api.SendAll(stream, raw, api.After(s.cfg.WriteTimeout))
		*buf = raw
		pool.Put(buf)
		if err != nil {
			log.Debug("write response", zap.Error(err))
			return
		}

		if switching {
			s.count("upgrades_total", 1)
			err := resp.Upgrade(api.Prepend(stream, p.Leftover()))
			if err != nil {
				log.Warn("upgraded connection", zap.String("path", req.Path()), zap.Error(err))
			}
			return
		}
		if !keep {
			return
		}
	}
}

// readRequest receives until p yields a complete request. The wait for
// the first byte of a request is bounded by IdleTimeout, the rest of it
// by ReadTimeout.
func (s *Server) readRequest(c *conn, p *parser.RequestParser) (*message.Request, error) {
	if p.Buffered() {
		req, err := p.Feed(nil)
		if req != nil || err != nil {
			return req, err
		}
	}
	idleUntil := api.After(s.cfg.IdleTimeout)
	var readUntil time.Time
	for {
		deadline := idleUntil
		if p.InProgress() {
			if readUntil.IsZero() {
				readUntil = api.After(s.cfg.ReadTimeout)
			}
			deadline = readUntil
		}
		c.idle.Store(!p.InProgress())
		if c.idle.Load() && s.closing.Load() {
			return nil, api.ErrClosed
		}
		data, rerr := c.stream.Receive(deadline)
		c.idle.Store(false)
		req, perr := p.Feed(data)
		if perr != nil {
			return nil, perr
		}
		if req != nil {
			return req, nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && p.InProgress() {
				rerr = io.ErrUnexpectedEOF
			}
			return nil, rerr
		}
	}
}

// readFailed answers malformed input and drops the connection quietly
// on timeouts and peer close.
func (s *Server) readFailed(stream api.Stream, log *zap.Logger, err error) {
	var pe *api.ProtocolError
	if errors.As(err, &pe) {
		status := message.Status(pe.Code)
		if status < 400 || status > 599 {
			status = message.StatusBadRequest
		}
		log.Debug("bad request", zap.Int("status", int(status)), zap.Error(err))
		resp := message.Error(status)
		resp.Header.Set("Connection", "close")
		_ = api.SendAll(stream, resp.Bytes(), api.After(s.cfg.WriteTimeout))
		if status >= 500 {
			s.count("responses_5xx", 1)
		}
		return
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, api.ErrClosed):
	case api.IsTimeout(err):
		log.Debug("connection timed out")
	default:
		log.Debug("read request", zap.Error(err))
	}
}

// dispatch runs the handler chain; errors and nil responses become 500.
func (s *Server) dispatch(req *message.Request, log *zap.Logger) *message.Response {
	resp, err := s.handler.Respond(req)
	if err != nil {
		log.Error("handler failed", zap.String("method", req.Method.String()), zap.String("path", req.Path()), zap.Error(err))
		return message.Error(message.StatusInternalServerError)
	}
	if resp == nil {
		log.Error("handler returned no response", zap.String("path", req.Path()))
		return message.Error(message.StatusInternalServerError)
	}
	return resp
}
