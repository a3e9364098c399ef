// File: internal/httptoken/tokenizer.go
// License: Apache-2.0
//
// Package httptoken is an incremental HTTP/1.x tokenizer. It walks the
// input one byte at a time, reports spans through callbacks and never
// buffers message data itself: a span cut by the end of the input is
// reported in pieces, one per Execute call.

package httptoken

import (
	"bytes"
	"errors"
	"fmt"
)

// Kind selects request or response grammar.
type Kind int

const (
	Request Kind = iota
	Response
)

// DefaultMaxHeaderBytes bounds the start line plus header section.
const DefaultMaxHeaderBytes = 64 << 10

// ErrUpgraded is returned by Execute once a message switched protocols;
// remaining bytes belong to the new protocol.
var ErrUpgraded = errors.New("httptoken: connection upgraded")

// ParseError reports malformed input at Offset within the Execute call.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("http parse error at offset %d: %s", e.Offset, e.Reason)
}

// Callbacks receive spans of the input. A span may arrive in several
// pieces; OnHeaderValue follows every OnHeaderField, possibly empty.
type Callbacks struct {
	OnMessageBegin    func()
	OnURL             func(b []byte)
	OnStatus          func(b []byte)
	OnHeaderField     func(b []byte)
	OnHeaderValue     func(b []byte)
	OnHeadersComplete func()
	OnBody            func(b []byte)
	OnMessageComplete func()
}

type state uint8

const (
	sStart state = iota
	sMethod
	sURL
	sReqVersion
	sResVersion
	sStatusCode
	sReason
	sLineLF
	sHeaderStart
	sHeaderField
	sHeaderValueStart
	sHeaderValue
	sHeaderLF
	sHeadersLF
	sBodyIdentity
	sBodyEOF
	sChunkSize
	sChunkExt
	sChunkSizeLF
	sChunkData
	sChunkDataCR
	sChunkDataLF
	sTrailer
	sTrailerLine
	sTrailerLineLF
	sTrailerEndLF
	sUpgraded
)

const (
	maxNameTrack  = 32
	maxValueTrack = 256
	maxMethodLen  = 24
)

// Tokenizer parses one connection's worth of messages. Execute pauses
// after every complete message so the caller can act on it before
// feeding the rest.
type Tokenizer struct {
	kind  Kind
	cb    Callbacks
	state state

	// MaxHeaderBytes limits the head of a message; zero means default.
	MaxHeaderBytes int
	// SkipBody marks the next response as having no body (reply to HEAD).
	SkipBody bool

	method       []byte
	version      []byte
	major, minor int
	status       int
	statusDigits int
	urlLen       int

	name     []byte
	value    []byte
	semantic bool

	headerBytes   int
	contentLength int64
	remaining     int64
	chunkDigits   int
	chunked       bool
	connClose     bool
	connKeepAlive bool
	connUpgrade   bool
	upgradeHeader bool
	upgrade       bool
	readToEOF     bool
}

// New creates a tokenizer of the given kind.
func New(kind Kind, cb Callbacks) *Tokenizer {
	return &Tokenizer{kind: kind, cb: cb, contentLength: -1}
}

// Method is the request method of the current or last message.
func (t *Tokenizer) Method() string { return string(t.method) }

// Version is the protocol version of the current or last message.
func (t *Tokenizer) Version() (major, minor int) { return t.major, t.minor }

// StatusCode is the response status of the current or last message.
func (t *Tokenizer) StatusCode() int { return t.status }

// Upgraded reports whether the last message switched protocols.
func (t *Tokenizer) Upgraded() bool { return t.upgrade }

// InMessage reports whether a message has begun but not completed.
func (t *Tokenizer) InMessage() bool { return t.state != sStart && t.state != sUpgraded }

// KeepAlive applies the HTTP/1.0 and HTTP/1.1 connection rules to the
// current or last message.
func (t *Tokenizer) KeepAlive() bool {
	if t.readToEOF {
		return false
	}
	if t.major == 1 && t.minor == 0 {
		return t.connKeepAlive
	}
	return !t.connClose
}

func (t *Tokenizer) begin() {
	t.method = t.method[:0]
	t.version = t.version[:0]
	t.major, t.minor = 0, 0
	t.status, t.statusDigits, t.urlLen = 0, 0, 0
	t.headerBytes = 0
	t.contentLength, t.remaining = -1, 0
	t.chunkDigits = 0
	t.chunked, t.connClose, t.connKeepAlive, t.connUpgrade = false, false, false, false
	t.upgradeHeader, t.upgrade, t.readToEOF = false, false, false
	if t.cb.OnMessageBegin != nil {
		t.cb.OnMessageBegin()
	}
}

func (t *Tokenizer) maxHeader() int {
	if t.MaxHeaderBytes > 0 {
		return t.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

// Execute consumes data and returns the number of bytes used. It stops
// right after a message completes, so n < len(data) means more input is
// waiting for the next call.
func (t *Tokenizer) Execute(data []byte) (int, error) {
	if t.state == sUpgraded {
		return 0, ErrUpgraded
	}
	mark := -1
	switch t.state {
	case sURL, sReason, sHeaderField, sHeaderValue:
		mark = 0
	}
	fail := func(i int, reason string) (int, error) {
		return i, &ParseError{Offset: i, Reason: reason}
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		if t.state > sStart && t.state <= sHeadersLF {
			t.headerBytes++
			if t.headerBytes > t.maxHeader() {
				return fail(i, "header section too large")
			}
		}

		switch t.state {
		case sStart:
			if c == '\r' || c == '\n' {
				continue
			}
			t.begin()
			if t.kind == Request {
				t.state = sMethod
			} else {
				t.state = sResVersion
			}
			i--

		case sMethod:
			switch {
			case c == ' ':
				if len(t.method) == 0 {
					return fail(i, "empty method")
				}
				t.state = sURL
				mark = i + 1
			case isToken(c) && len(t.method) < maxMethodLen:
				t.method = append(t.method, c)
			default:
				return fail(i, "invalid method")
			}

		case sURL:
			switch {
			case c == ' ':
				if t.urlLen+i-mark == 0 {
					return fail(i, "empty request target")
				}
				t.emit(t.cb.OnURL, data[mark:i])
				mark = -1
				t.state = sReqVersion
			case c <= ' ' || c == 0x7f:
				return fail(i, "invalid request target")
			}

		case sReqVersion:
			switch c {
			case '\r', '\n':
				if !t.parseVersion() {
					return fail(i, "invalid version")
				}
				if c == '\r' {
					t.state = sLineLF
				} else {
					t.state = sHeaderStart
				}
			default:
				if len(t.version) >= 8 {
					return fail(i, "invalid version")
				}
				t.version = append(t.version, c)
			}

		case sResVersion:
			if c == ' ' {
				if !t.parseVersion() {
					return fail(i, "invalid version")
				}
				t.state = sStatusCode
				continue
			}
			if len(t.version) >= 8 {
				return fail(i, "invalid version")
			}
			t.version = append(t.version, c)

		case sStatusCode:
			switch {
			case c >= '0' && c <= '9' && t.statusDigits < 3:
				t.status = t.status*10 + int(c-'0')
				t.statusDigits++
			case c == ' ' && t.statusDigits == 3:
				t.state = sReason
				mark = i + 1
			case c == '\r' && t.statusDigits == 3:
				t.state = sLineLF
			default:
				return fail(i, "invalid status code")
			}

		case sReason:
			if c == '\r' || c == '\n' {
				t.emit(t.cb.OnStatus, data[mark:i])
				mark = -1
				if c == '\r' {
					t.state = sLineLF
				} else {
					t.state = sHeaderStart
				}
			}

		case sLineLF, sHeaderLF:
			if c != '\n' {
				return fail(i, "expected LF")
			}
			t.state = sHeaderStart

		case sHeaderStart:
			switch {
			case c == '\r':
				t.state = sHeadersLF
			case c == '\n':
				if n, done, err := t.headersDone(i); done || err != nil {
					return n, err
				}
			case isToken(c):
				t.state = sHeaderField
				mark = i
				t.name = append(t.name[:0], lower(c))
			default:
				return fail(i, "invalid header name")
			}

		case sHeaderField:
			switch {
			case c == ':':
				t.emit(t.cb.OnHeaderField, data[mark:i])
				mark = -1
				t.semantic = isSemantic(t.name)
				t.value = t.value[:0]
				t.state = sHeaderValueStart
			case isToken(c):
				if len(t.name) < maxNameTrack {
					t.name = append(t.name, lower(c))
				}
			default:
				return fail(i, "invalid header name")
			}

		case sHeaderValueStart:
			switch c {
			case ' ', '\t':
			case '\r', '\n':
				t.emitAlways(t.cb.OnHeaderValue, data[i:i])
				if err := t.finishHeader(); err != nil {
					return fail(i, err.Error())
				}
				if c == '\r' {
					t.state = sHeaderLF
				} else {
					t.state = sHeaderStart
				}
			default:
				t.state = sHeaderValue
				mark = i
				i--
			}

		case sHeaderValue:
			switch {
			case c == '\r' || c == '\n':
				t.emit(t.cb.OnHeaderValue, data[mark:i])
				mark = -1
				if err := t.finishHeader(); err != nil {
					return fail(i, err.Error())
				}
				if c == '\r' {
					t.state = sHeaderLF
				} else {
					t.state = sHeaderStart
				}
			case (c < ' ' && c != '\t') || c == 0x7f:
				return fail(i, "invalid header value")
			default:
				if t.semantic && len(t.value) < maxValueTrack {
					t.value = append(t.value, c)
				}
			}

		case sHeadersLF:
			if c != '\n' {
				return fail(i, "expected LF")
			}
			if n, done, err := t.headersDone(i); done || err != nil {
				return n, err
			}

		case sBodyIdentity, sChunkData:
			n := int(min(t.remaining, int64(len(data)-i)))
			t.emit(t.cb.OnBody, data[i:i+n])
			t.remaining -= int64(n)
			i += n - 1
			if t.remaining == 0 {
				if t.state == sBodyIdentity {
					return t.complete(i), nil
				}
				t.state = sChunkDataCR
			}

		case sBodyEOF:
			t.emit(t.cb.OnBody, data[i:])
			return len(data), nil

		case sChunkSize:
			switch v := unhex(c); {
			case v >= 0:
				if t.remaining > 1<<40 {
					return fail(i, "chunk size too large")
				}
				t.remaining = t.remaining*16 + int64(v)
				t.chunkDigits++
			case t.chunkDigits == 0:
				return fail(i, "invalid chunk size")
			case c == ';' || c == ' ' || c == '\t':
				t.state = sChunkExt
			case c == '\r':
				t.state = sChunkSizeLF
			default:
				return fail(i, "invalid chunk size")
			}

		case sChunkExt:
			if c == '\r' {
				t.state = sChunkSizeLF
			}

		case sChunkSizeLF:
			if c != '\n' {
				return fail(i, "expected LF")
			}
			if t.remaining == 0 {
				t.state = sTrailer
			} else {
				t.state = sChunkData
			}

		case sChunkDataCR:
			if c != '\r' {
				return fail(i, "expected CR after chunk")
			}
			t.state = sChunkDataLF

		case sChunkDataLF:
			if c != '\n' {
				return fail(i, "expected LF after chunk")
			}
			t.remaining, t.chunkDigits = 0, 0
			t.state = sChunkSize

		case sTrailer:
			switch c {
			case '\r':
				t.state = sTrailerEndLF
			case '\n':
				return t.complete(i), nil
			default:
				t.state = sTrailerLine
			}

		case sTrailerLine:
			switch c {
			case '\r':
				t.state = sTrailerLineLF
			case '\n':
				t.state = sTrailer
			}

		case sTrailerLineLF:
			if c != '\n' {
				return fail(i, "expected LF")
			}
			t.state = sTrailer

		case sTrailerEndLF:
			if c != '\n' {
				return fail(i, "expected LF")
			}
			return t.complete(i), nil
		}
	}

	if mark >= 0 && mark < len(data) {
		switch t.state {
		case sURL:
			t.emit(t.cb.OnURL, data[mark:])
		case sReason:
			t.emit(t.cb.OnStatus, data[mark:])
		case sHeaderField:
			t.emit(t.cb.OnHeaderField, data[mark:])
		case sHeaderValue:
			t.emit(t.cb.OnHeaderValue, data[mark:])
		}
	}
	return len(data), nil
}

// Finish signals end of input. It completes a response delimited by
// connection close and fails when a message is cut short.
func (t *Tokenizer) Finish() error {
	switch t.state {
	case sStart, sUpgraded:
		return nil
	case sBodyEOF:
		t.complete(0)
		return nil
	default:
		return &ParseError{Reason: "unexpected end of input"}
	}
}

// headersDone runs once the empty line after the headers is consumed at
// offset i and picks the body framing.
func (t *Tokenizer) headersDone(i int) (int, bool, error) {
	if t.cb.OnHeadersComplete != nil {
		t.cb.OnHeadersComplete()
	}
	if t.kind == Request {
		if string(t.method) == "CONNECT" || (t.connUpgrade && t.upgradeHeader) {
			t.upgrade = true
		}
	} else if t.status == 101 {
		t.upgrade = true
	}

	switch {
	case t.upgrade:
		return t.complete(i), true, nil
	case t.kind == Response && (t.SkipBody || t.status/100 == 1 || t.status == 204 || t.status == 304):
		t.SkipBody = false
		return t.complete(i), true, nil
	case t.chunked:
		t.remaining, t.chunkDigits = 0, 0
		t.state = sChunkSize
	case t.contentLength == 0:
		return t.complete(i), true, nil
	case t.contentLength > 0:
		t.remaining = t.contentLength
		t.state = sBodyIdentity
	case t.kind == Request:
		return t.complete(i), true, nil
	default:
		t.readToEOF = true
		t.state = sBodyEOF
	}
	return 0, false, nil
}

// complete ends the message whose last byte sits at offset i.
func (t *Tokenizer) complete(i int) int {
	if t.upgrade {
		t.state = sUpgraded
	} else {
		t.state = sStart
	}
	if t.cb.OnMessageComplete != nil {
		t.cb.OnMessageComplete()
	}
	return i + 1
}

func (t *Tokenizer) finishHeader() error {
	if !t.semantic {
		return nil
	}
	v := bytes.TrimSpace(t.value)
	switch string(t.name) {
	case "content-length":
		n, ok := parseDecimal(v)
		if !ok {
			return errors.New("invalid content-length")
		}
		if t.contentLength >= 0 && t.contentLength != n {
			return errors.New("conflicting content-length")
		}
		t.contentLength = n
	case "transfer-encoding":
		codings := bytes.Split(v, []byte(","))
		last := bytes.TrimSpace(codings[len(codings)-1])
		t.chunked = bytes.EqualFold(last, []byte("chunked"))
	case "connection":
		for _, tok := range bytes.Split(v, []byte(",")) {
			tok = bytes.TrimSpace(tok)
			switch {
			case bytes.EqualFold(tok, []byte("close")):
				t.connClose = true
			case bytes.EqualFold(tok, []byte("keep-alive")):
				t.connKeepAlive = true
			case bytes.EqualFold(tok, []byte("upgrade")):
				t.connUpgrade = true
			}
		}
	case "upgrade":
		t.upgradeHeader = len(v) > 0
	}
	return nil
}

func (t *Tokenizer) parseVersion() bool {
	v := t.version
	if len(v) != 8 || string(v[:5]) != "HTTP/" || v[6] != '.' ||
		v[5] < '0' || v[5] > '9' || v[7] < '0' || v[7] > '9' {
		return false
	}
	t.major, t.minor = int(v[5]-'0'), int(v[7]-'0')
	return t.major == 1
}

func (t *Tokenizer) emit(fn func([]byte), b []byte) {
	if t.state == sURL {
		t.urlLen += len(b)
	}
	if fn != nil && len(b) > 0 {
		fn(b)
	}
}

func (t *Tokenizer) emitAlways(fn func([]byte), b []byte) {
	if fn != nil {
		fn(b)
	}
}

func isSemantic(name []byte) bool {
	switch string(name) {
	case "content-length", "transfer-encoding", "connection", "upgrade":
		return true
	}
	return false
}

func parseDecimal(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// isToken reports whether c is an RFC 9110 tchar.
func isToken(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
