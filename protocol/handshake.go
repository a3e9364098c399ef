// File: protocol/handshake.go
// License: Apache-2.0
//
// HTTP Upgrade processing for both sides of the connection:
// Sec-WebSocket-Key/Accept negotiation and request validation.

package protocol

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/momentics/hioload-flux/message"
)

// Constants used for handshake processing.
const (
	WebSocketGUID            = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	HeaderSecWebSocketProto  = "Sec-WebSocket-Protocol"
	RequiredWebSocketVersion = "13"
)

// Errors for handshake validation.
var (
	ErrInvalidUpgradeHeaders = fmt.Errorf("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = fmt.Errorf("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = fmt.Errorf("unsupported WebSocket version; only '13' is supported")
	ErrBadAccept             = fmt.Errorf("Sec-WebSocket-Accept does not match the key")
)

// ComputeAcceptKey returns Base64(SHA1(key + GUID)).
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewChallengeKey returns a random Sec-WebSocket-Key.
func NewChallengeKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("challenge key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// ValidateUpgrade checks a client upgrade request and returns the accept
// value for the response.
func ValidateUpgrade(req *message.Request) (string, error) {
	if req.Method != message.GET ||
		!req.Header.HasToken(HeaderConnection, "upgrade") ||
		!req.Header.HasToken(HeaderUpgrade, "websocket") {
		return "", ErrInvalidUpgradeHeaders
	}
	if req.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return "", ErrBadWebSocketVersion
	}
	key := strings.TrimSpace(req.Header.Get(HeaderSecWebSocketKey))
	if key == "" {
		return "", ErrMissingWebSocketKey
	}
	return ComputeAcceptKey(key), nil
}

// NewHandshakeRequest builds the client upgrade request for path on host.
func NewHandshakeRequest(host, path, key string, subprotocols ...string) (*message.Request, error) {
	req, err := message.NewRequest(message.GET, path)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Host", host)
	req.Header.Set(HeaderUpgrade, "websocket")
	req.Header.Set(HeaderConnection, "Upgrade")
	req.Header.Set(HeaderSecWebSocketKey, key)
	req.Header.Set(HeaderSecWebSocketVer, RequiredWebSocketVersion)
	if len(subprotocols) > 0 {
		req.Header.Set(HeaderSecWebSocketProto, strings.Join(subprotocols, ", "))
	}
	return req, nil
}

// VerifyHandshakeResponse checks the server's answer to a request sent
// with key.
func VerifyHandshakeResponse(resp *message.Response, key string) error {
	if resp.Status != message.StatusSwitchingProtocols {
		return fmt.Errorf("handshake failed: status %d", resp.Status)
	}
	if !resp.Header.HasToken(HeaderUpgrade, "websocket") ||
		!resp.Header.HasToken(HeaderConnection, "upgrade") {
		return ErrInvalidUpgradeHeaders
	}
	if resp.Header.Get(HeaderSecWebSocketAccept) != ComputeAcceptKey(key) {
		return ErrBadAccept
	}
	return nil
}

// selectSubprotocol returns the first offered protocol the server supports.
func selectSubprotocol(req *message.Request, supported []string) string {
	for _, v := range req.Header.Values(HeaderSecWebSocketProto) {
		for _, offered := range strings.Split(v, ",") {
			offered = strings.TrimSpace(offered)
			for _, s := range supported {
				if strings.EqualFold(offered, s) {
					return s
				}
			}
		}
	}
	return ""
}
