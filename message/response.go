// File: message/response.go
// License: Apache-2.0

package message

import (
	"strconv"

	"github.com/momentics/hioload-flux/api"
)

// UpgradeFunc takes over the raw stream once a 101 response is written.
type UpgradeFunc func(stream api.Stream) error

// Response is an HTTP response.
type Response struct {
	Status  Status
	Reason  string
	Version Version
	Header  Header
	Body    []byte

	// Content is serialized into Body by content negotiation.
	Content any
	Storage map[string]any

	// Upgrade, when set, receives the stream after the response is sent.
	Upgrade UpgradeFunc
}

// NewResponse creates an empty HTTP/1.1 response.
func NewResponse(status Status) *Response {
	return &Response{Status: status, Version: HTTP11, Storage: make(map[string]any)}
}

// Text creates a text/plain response.
func Text(status Status, body string) *Response {
	r := NewResponse(status)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

// Bytes creates a response with an explicit content type.
func Bytes(status Status, contentType string, body []byte) *Response {
	r := NewResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
	return r
}

// Error creates a plain response carrying the status reason phrase.
func Error(status Status) *Response {
	return Text(status, status.Reason())
}

// ReasonPhrase returns the explicit reason or the standard one.
func (r *Response) ReasonPhrase() string {
	if r.Reason != "" {
		return r.Reason
	}
	return r.Status.Reason()
}

// IsKeepAlive applies the same connection rules as requests.
func (r *Response) IsKeepAlive() bool {
	return keepAlive(r.Version, &r.Header)
}

// AppendTo serializes the response with an automatic Content-Length.
func (r *Response) AppendTo(dst []byte) []byte {
	v := r.Version
	if v.Major == 0 {
		v = HTTP11
	}
	dst = append(dst, v.String()...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, r.ReasonPhrase()...)
	dst = append(dst, "\r\n"...)
	body := r.Body
	if r.Status.HasBody() {
		if !r.Header.Has("Transfer-Encoding") {
			r.Header.Set("Content-Length", strconv.Itoa(len(body)))
		}
	} else {
		body = nil
	}
	dst = appendHeader(dst, &r.Header)
	return append(dst, body...)
}

// Bytes serializes the response into a new slice.
func (r *Response) Bytes() []byte { return r.AppendTo(nil) }
