// File: router/router.go
// License: Apache-2.0

package router

import (
	"slices"
	"strings"

	"github.com/momentics/hioload-flux/message"
)

// route holds the responders registered for one pattern.
type route struct {
	pattern  string
	methods  map[message.Method]message.Responder
	fallback message.Responder
}

func (r *route) allow() string {
	names := make([]string, 0, len(r.methods)+1)
	for m := range r.methods {
		names = append(names, string(m))
	}
	if _, ok := r.methods[message.GET]; ok {
		if _, ok := r.methods[message.HEAD]; !ok {
			names = append(names, string(message.HEAD))
		}
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

func (r *route) responder(m message.Method) message.Responder {
	if h, ok := r.methods[m]; ok {
		return h
	}
	if m == message.HEAD {
		if h, ok := r.methods[message.GET]; ok {
			return h
		}
	}
	return r.fallback
}

type mount struct {
	segs   []string
	router *Router
}

// Router dispatches requests to the responder registered for the exact
// path and method. It is immutable once built and safe for concurrent use.
type Router struct {
	matcher  *Matcher[*route]
	mounts   []mount
	notFound message.Responder
	handler  message.Responder
}

// Respond implements message.Responder.
func (r *Router) Respond(req *message.Request) (*message.Response, error) {
	return r.handler.Respond(req)
}

// Patterns lists the registered patterns.
func (r *Router) Patterns() []string { return r.matcher.Patterns() }

func (r *Router) dispatch(req *message.Request) (*message.Response, error) {
	path := req.Path()
	rt, params, ok := r.matcher.Match(path)
	if !ok {
		if sub, stripped, ok := r.mounted(req, path); ok {
			return sub.Respond(stripped)
		}
		return r.notFound.Respond(req)
	}
	h := rt.responder(req.Method)
	if h == nil {
		resp := message.Error(message.StatusMethodNotAllowed)
		resp.Header.Set("Allow", rt.allow())
		return resp, nil
	}
	return withParameters(h, params).Respond(req)
}

// mounted finds the longest mount prefix of path and returns a request
// copy with the prefix removed.
func (r *Router) mounted(req *message.Request, path string) (*Router, *message.Request, bool) {
	segs := Segments(path)
	for _, m := range r.mounts {
		if len(m.segs) > len(segs) || !slices.Equal(m.segs, segs[:len(m.segs)]) {
			continue
		}
		clone := *req
		if req.URI != nil {
			u := *req.URI
			u.Path = "/" + strings.Join(segs[len(m.segs):], "/")
			u.RawPath = ""
			clone.URI = &u
		}
		return m.router, &clone, true
	}
	return nil, nil, false
}

// withParameters binds matched path parameters before calling h.
func withParameters(h message.Responder, params map[string]string) message.Responder {
	if len(params) == 0 {
		return h
	}
	return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
		for k, v := range params {
			req.SetPathParameter(k, v)
		}
		return h.Respond(req)
	})
}

// NotFound is the default fallback responder.
var NotFound message.Responder = message.ResponderFunc(func(*message.Request) (*message.Response, error) {
	return message.Error(message.StatusNotFound), nil
})
