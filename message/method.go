// File: message/method.go
// License: Apache-2.0

package message

import "strings"

// Method is an HTTP request method.
type Method string

const (
	GET     Method = "GET"
	HEAD    Method = "HEAD"
	POST    Method = "POST"
	PUT     Method = "PUT"
	PATCH   Method = "PATCH"
	DELETE  Method = "DELETE"
	OPTIONS Method = "OPTIONS"
	CONNECT Method = "CONNECT"
	TRACE   Method = "TRACE"

	// WebDAV
	COPY      Method = "COPY"
	LOCK      Method = "LOCK"
	MKCOL     Method = "MKCOL"
	MOVE      Method = "MOVE"
	PROPFIND  Method = "PROPFIND"
	PROPPATCH Method = "PROPPATCH"
	UNLOCK    Method = "UNLOCK"
)

// AllMethods lists the methods matched by a route registered for any method.
var AllMethods = []Method{GET, HEAD, POST, PUT, PATCH, DELETE, OPTIONS, CONNECT, TRACE,
	COPY, LOCK, MKCOL, MOVE, PROPFIND, PROPPATCH, UNLOCK}

// ParseMethod maps a token onto a known method.
func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(s))
	for _, known := range AllMethods {
		if m == known {
			return m, true
		}
	}
	return m, false
}

func (m Method) String() string { return string(m) }

// AllowsBody reports whether requests with this method conventionally
// carry a body.
func (m Method) AllowsBody() bool {
	switch m {
	case POST, PUT, PATCH, PROPFIND, PROPPATCH, LOCK:
		return true
	}
	return false
}
