// File: server/middleware.go
// License: Apache-2.0

package server

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-flux/message"
)

// Logger logs one line per request with its status and duration.
func Logger(log *zap.Logger) message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
			start := time.Now()
			resp, err := next.Respond(req)
			fields := []zap.Field{
				zap.String("remote", req.RemoteAddr),
				zap.String("method", req.Method.String()),
				zap.String("path", req.Path()),
				zap.Duration("elapsed", time.Since(start)),
			}
			switch {
			case err != nil:
				log.Warn("request failed", append(fields, zap.Error(err))...)
			case resp != nil:
				log.Info("request", append(fields, zap.Int("status", int(resp.Status)), zap.Int("bytes", len(resp.Body)))...)
			}
			return resp, err
		})
	}
}

// Recovery turns a handler panic into an error so the server answers 500
// and keeps the process alive.
func Recovery(log *zap.Logger) message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (resp *message.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic",
						zap.String("path", req.Path()),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
					resp, err = nil, fmt.Errorf("panic: %v", r)
				}
			}()
			return next.Respond(req)
		})
	}
}
