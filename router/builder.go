// File: router/builder.go
// License: Apache-2.0

package router

import (
	"fmt"
	"slices"
	"strings"

	"github.com/momentics/hioload-flux/message"
)

type builderState struct {
	matcherOpts []MatcherOption
	order       []string
	routes      map[string]*route
	mounts      []mount
	notFound    message.Responder
	middleware  []message.Middleware
	built       bool
}

// Builder collects routes and produces an immutable Router. Groups share
// the parent's route table and add a prefix and middleware of their own.
type Builder struct {
	state      *builderState
	prefix     string
	middleware []message.Middleware
	group      bool
}

// NewBuilder starts an empty route table.
func NewBuilder(opts ...MatcherOption) *Builder {
	return &Builder{state: &builderState{
		matcherOpts: opts,
		routes:      make(map[string]*route),
		notFound:    NotFound,
	}}
}

func (b *Builder) join(pattern string) string {
	return cleanPattern(b.prefix + "/" + pattern)
}

func cleanPattern(p string) string {
	segs := Segments(p)
	return "/" + strings.Join(segs, "/")
}

func (b *Builder) wrap(h message.Responder) message.Responder {
	return message.Chain(h, b.middleware...)
}

func (b *Builder) entry(pattern string) *route {
	key := b.join(pattern)
	rt, ok := b.state.routes[key]
	if !ok {
		rt = &route{pattern: key, methods: make(map[message.Method]message.Responder)}
		b.state.routes[key] = rt
		b.state.order = append(b.state.order, key)
	}
	return rt
}

// Methods registers h for pattern under each listed method. The first
// registration of a pattern and method wins.
func (b *Builder) Methods(pattern string, h message.Responder, methods ...message.Method) *Builder {
	rt := b.entry(pattern)
	for _, m := range methods {
		if _, dup := rt.methods[m]; !dup {
			rt.methods[m] = b.wrap(h)
		}
	}
	return b
}

// Any registers h for every method not registered explicitly.
func (b *Builder) Any(pattern string, h message.Responder) *Builder {
	rt := b.entry(pattern)
	if rt.fallback == nil {
		rt.fallback = b.wrap(h)
	}
	return b
}

func (b *Builder) GET(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.GET)
}

func (b *Builder) POST(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.POST)
}

func (b *Builder) PUT(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.PUT)
}

func (b *Builder) PATCH(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.PATCH)
}

func (b *Builder) DELETE(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.DELETE)
}

func (b *Builder) HEAD(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.HEAD)
}

func (b *Builder) OPTIONS(pattern string, h message.ResponderFunc) *Builder {
	return b.Methods(pattern, h, message.OPTIONS)
}

// Group returns a builder whose patterns are prefixed and whose routes
// run the group's middleware inside the parent's.
func (b *Builder) Group(prefix string) *Builder {
	return &Builder{
		state:      b.state,
		prefix:     b.join(prefix),
		middleware: slices.Clone(b.middleware),
		group:      true,
	}
}

// Use adds middleware. On the root builder it wraps the whole router,
// including fallback and 405 answers; on a group it wraps routes
// registered afterwards.
func (b *Builder) Use(mws ...message.Middleware) *Builder {
	if !b.group {
		b.state.middleware = append(b.state.middleware, mws...)
		return b
	}
	b.middleware = append(b.middleware, mws...)
	return b
}

// Fallback replaces the 404 responder.
func (b *Builder) Fallback(h message.Responder) *Builder {
	b.state.notFound = h
	return b
}

// Mount delegates every path below prefix that no route matches to sub,
// with the prefix removed.
func (b *Builder) Mount(prefix string, sub *Router) *Builder {
	b.state.mounts = append(b.state.mounts, mount{segs: Segments(b.join(prefix)), router: sub})
	return b
}

// Build freezes the table. A builder can be built once.
func (b *Builder) Build() (*Router, error) {
	s := b.state
	if s.built {
		return nil, fmt.Errorf("router: builder already built")
	}
	s.built = true
	m := NewMatcher[*route](s.matcherOpts...)
	for _, key := range s.order {
		if !m.Add(key, s.routes[key]) {
			return nil, fmt.Errorf("router: duplicate pattern %s", key)
		}
	}
	mounts := slices.Clone(s.mounts)
	slices.SortStableFunc(mounts, func(a, b mount) int { return len(b.segs) - len(a.segs) })
	r := &Router{matcher: m, mounts: mounts, notFound: s.notFound}
	r.handler = message.Chain(message.ResponderFunc(r.dispatch), s.middleware...)
	return r, nil
}

// MustBuild is Build for static tables.
func (b *Builder) MustBuild() *Router {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
