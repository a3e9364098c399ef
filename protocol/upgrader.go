// File: protocol/upgrader.go
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/momentics/hioload-flux/api"
	"github.com/momentics/hioload-flux/message"
	"github.com/momentics/hioload-flux/parser"
)

// Upgrader answers WebSocket upgrade requests. It is a message.Responder,
// so it can be registered on a router like any handler.
type Upgrader struct {
	// Handler registers event hooks on the new connection. Run is called
	// after it returns.
	Handler func(req *message.Request, conn *Conn)

	// CheckOrigin rejects requests with 403 when it returns false.
	CheckOrigin func(req *message.Request) bool

	// Subprotocols lists the supported protocols in preference order.
	Subprotocols []string

	// Options apply to every connection.
	Options []ConnOption
}

// Respond validates the request and returns a 101 response whose Upgrade
// callback runs a server-role Conn on the stream.
func (u *Upgrader) Respond(req *message.Request) (*message.Response, error) {
	accept, err := ValidateUpgrade(req)
	if err != nil {
		resp := message.Text(message.StatusBadRequest, err.Error())
		if errors.Is(err, ErrBadWebSocketVersion) {
			resp.Header.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
		}
		return resp, nil
	}
	if u.CheckOrigin != nil && !u.CheckOrigin(req) {
		return message.Error(message.StatusForbidden), nil
	}

	resp := message.NewResponse(message.StatusSwitchingProtocols)
	resp.Header.Set(HeaderUpgrade, "websocket")
	resp.Header.Set(HeaderConnection, "Upgrade")
	resp.Header.Set(HeaderSecWebSocketAccept, accept)
	if proto := selectSubprotocol(req, u.Subprotocols); proto != "" {
		resp.Header.Set(HeaderSecWebSocketProto, proto)
	}
	resp.Upgrade = func(stream api.Stream) error {
		conn := NewConn(stream, RoleServer, u.Options...)
		if u.Handler != nil {
			u.Handler(req, conn)
		}
		return conn.Run()
	}
	return resp, nil
}

// ClientHandshake upgrades an established stream to a client-role Conn.
// Bytes the server sent after its 101 response are replayed to the Conn.
func ClientHandshake(stream api.Stream, host, path string, deadline time.Time, opts ...ConnOption) (*Conn, *message.Response, error) {
	key, err := NewChallengeKey()
	if err != nil {
		return nil, nil, err
	}
	req, err := NewHandshakeRequest(host, path, key)
	if err != nil {
		return nil, nil, err
	}
	if err := api.SendAll(stream, req.Bytes(), deadline); err != nil {
		return nil, nil, fmt.Errorf("handshake write request: %w", err)
	}

	p := parser.NewResponseParser()
	for {
		data, rerr := stream.Receive(deadline)
		resp, perr := p.Feed(data)
		if perr != nil {
			return nil, nil, fmt.Errorf("handshake read response: %w", perr)
		}
		if resp != nil {
			if err := VerifyHandshakeResponse(resp, key); err != nil {
				return nil, resp, err
			}
			conn := NewConn(api.Prepend(stream, p.Leftover()), RoleClient, opts...)
			return conn, resp, nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				rerr = io.ErrUnexpectedEOF
			}
			return nil, nil, fmt.Errorf("handshake read response: %w", rerr)
		}
	}
}
