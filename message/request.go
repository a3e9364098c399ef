// File: message/request.go
// License: Apache-2.0
//
// Request and Response are the in-memory HTTP/1.x messages exchanged by
// the parser, the router and the server loop.

package message

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Version is an HTTP protocol version.
type Version struct {
	Major, Minor int
}

var (
	HTTP10 = Version{1, 0}
	HTTP11 = Version{1, 1}
)

func (v Version) String() string {
	return "HTTP/" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// PathParameterKey is the storage key holding bound route parameters.
const PathParameterKey = "pathParameter"

// Request is a parsed HTTP request.
type Request struct {
	Method     Method
	Target     string
	URI        *url.URL
	Version    Version
	Header     Header
	Body       []byte
	RemoteAddr string

	// Content is the structured body decoded by content negotiation.
	Content any
	// Storage carries per-request values between middleware and handlers.
	Storage map[string]any
}

// NewRequest builds an HTTP/1.1 request for target.
func NewRequest(method Method, target string) (*Request, error) {
	u, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	return &Request{
		Method:  method,
		Target:  target,
		URI:     u,
		Version: HTTP11,
		Storage: make(map[string]any),
	}, nil
}

// ParseTarget parses a request-target in origin, absolute or asterisk form.
func ParseTarget(target string) (*url.URL, error) {
	if target == "*" {
		return &url.URL{Path: "*"}, nil
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, fmt.Errorf("invalid request target %q: %w", target, err)
	}
	return u, nil
}

// Path returns the decoded path, "/" when empty.
func (r *Request) Path() string {
	if r.URI == nil || r.URI.Path == "" {
		return "/"
	}
	return r.URI.Path
}

// Query returns the parsed query string.
func (r *Request) Query() url.Values {
	if r.URI == nil {
		return url.Values{}
	}
	return r.URI.Query()
}

// ContentType returns the Content-Type header.
func (r *Request) ContentType() string { return r.Header.Get("Content-Type") }

// Accept returns the Accept header.
func (r *Request) Accept() string { return r.Header.Get("Accept") }

// IsKeepAlive reports whether the connection stays open after this
// request: HTTP/1.0 needs "Connection: keep-alive", HTTP/1.1 stays open
// unless "Connection: close".
func (r *Request) IsKeepAlive() bool {
	return keepAlive(r.Version, &r.Header)
}

// IsUpgrade reports whether the request asks for a protocol upgrade.
func (r *Request) IsUpgrade() bool {
	return r.Header.HasToken("Connection", "upgrade") && r.Header.Has("Upgrade")
}

// Store sets a storage value.
func (r *Request) Store(key string, value any) {
	if r.Storage == nil {
		r.Storage = make(map[string]any)
	}
	r.Storage[key] = value
}

// Load reads a storage value.
func (r *Request) Load(key string) (any, bool) {
	v, ok := r.Storage[key]
	return v, ok
}

// PathParameters returns the parameters bound by the router.
func (r *Request) PathParameters() map[string]string {
	if v, ok := r.Storage[PathParameterKey].(map[string]string); ok {
		return v
	}
	return nil
}

// PathParameter returns one bound parameter.
func (r *Request) PathParameter(name string) string {
	return r.PathParameters()[name]
}

// SetPathParameter binds a route parameter.
func (r *Request) SetPathParameter(name, value string) {
	params := r.PathParameters()
	if params == nil {
		params = make(map[string]string)
		r.Store(PathParameterKey, params)
	}
	params[name] = value
}

// AppendTo serializes the request. Content-Length is set when a body is
// present or the method carries one.
func (r *Request) AppendTo(dst []byte) []byte {
	target := r.Target
	if target == "" && r.URI != nil {
		target = r.URI.RequestURI()
	}
	if target == "" {
		target = "/"
	}
	dst = append(dst, r.Method...)
	dst = append(dst, ' ')
	dst = append(dst, target...)
	dst = append(dst, ' ')
	dst = append(dst, r.Version.String()...)
	dst = append(dst, "\r\n"...)
	if (len(r.Body) > 0 || r.Method.AllowsBody()) && !r.Header.Has("Transfer-Encoding") {
		r.Header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	dst = appendHeader(dst, &r.Header)
	return append(dst, r.Body...)
}

// Bytes serializes the request into a new slice.
func (r *Request) Bytes() []byte { return r.AppendTo(nil) }

func keepAlive(v Version, h *Header) bool {
	if v.Major == 1 && v.Minor == 0 {
		return h.HasToken("Connection", "keep-alive")
	}
	return !h.HasToken("Connection", "close")
}

func appendHeader(dst []byte, h *Header) []byte {
	for _, f := range h.fields {
		dst = append(dst, f.Name...)
		dst = append(dst, ": "...)
		dst = append(dst, sanitize(f.Value)...)
		dst = append(dst, "\r\n"...)
	}
	return append(dst, "\r\n"...)
}

// sanitize drops bare CR and LF so values cannot inject header lines.
func sanitize(v string) string {
	if !strings.ContainsAny(v, "\r\n") {
		return v
	}
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
