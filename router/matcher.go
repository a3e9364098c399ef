// File: router/matcher.go
// License: Apache-2.0

package router

import "strings"

// MatcherOption customizes a Matcher.
type MatcherOption func(*matcherConfig)

type matcherConfig struct {
	literalFirst bool
	innerRoutes  bool
}

// WithLiteralPriority makes a literal child win over a parameter child at
// the same position. By default the parameter child wins.
func WithLiteralPriority() MatcherOption {
	return func(c *matcherConfig) { c.literalFirst = true }
}

// WithInnerRoutes lets a route match even when longer routes continue
// below its final segment. By default only leaf routes match, so with
// "/api" and "/api/v1" registered "/api" is not found.
func WithInnerRoutes() MatcherOption {
	return func(c *matcherConfig) { c.innerRoutes = true }
}

// Matcher maps path patterns to payloads. Segments are interned into
// integer ids by a rune trie; literal segments get positive ids and
// ":name" parameters negative ones, so a node's parameter children sort
// before its literal children. Routes are stored in a second trie keyed
// by id sequences.
type Matcher[P any] struct {
	components *Trie[rune, int]
	routes     *Trie[int, P]
	params     map[int]string
	nextLit    int
	nextParam  int
	cfg        matcherConfig
}

// NewMatcher returns an empty matcher.
func NewMatcher[P any](opts ...MatcherOption) *Matcher[P] {
	m := &Matcher[P]{
		components: NewTrie[rune, int](),
		routes:     NewTrie[int, P](),
		params:     make(map[int]string),
		nextLit:    1,
		nextParam:  -1,
	}
	for _, opt := range opts {
		opt(&m.cfg)
	}
	return m
}

// Segments splits a path on '/', dropping empty segments.
func Segments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}

func (m *Matcher[P]) intern(seg string) int {
	key := []rune(seg)
	if id, ok := m.components.FindPayload(key); ok {
		return id
	}
	var id int
	if strings.HasPrefix(seg, ":") {
		id = m.nextParam
		m.nextParam--
		m.params[id] = seg[1:]
	} else {
		id = m.nextLit
		m.nextLit++
	}
	m.components.Insert(key, id)
	return id
}

// Add registers pattern. It reports false when the pattern is already
// present; the first payload is kept.
func (m *Matcher[P]) Add(pattern string, payload P) bool {
	segs := Segments(pattern)
	ids := make([]int, len(segs))
	for i, s := range segs {
		ids[i] = m.intern(s)
	}
	return m.routes.Insert(ids, payload)
}

// Match resolves path. Every segment must be consumed and the final node
// must carry a payload and, unless WithInnerRoutes is set, have no
// children; there is no backtracking.
func (m *Matcher[P]) Match(path string) (P, map[string]string, bool) {
	var zero P
	var bound map[string]string
	node := m.routes
	for _, seg := range Segments(path) {
		var param, literal *Trie[int, P]
		if kids := node.Children(); len(kids) > 0 && kids[0].Key() < 0 {
			param = kids[0]
		}
		if id, ok := m.components.FindPayload([]rune(seg)); ok && id > 0 {
			literal = node.Child(id)
		}
		next := param
		if next == nil || (m.cfg.literalFirst && literal != nil) {
			next = literal
		}
		if next == nil {
			return zero, nil, false
		}
		if next.Key() < 0 {
			if bound == nil {
				bound = make(map[string]string)
			}
			bound[m.params[next.Key()]] = seg
		}
		node = next
	}
	if !m.cfg.innerRoutes && len(node.Children()) > 0 {
		return zero, nil, false
	}
	payload, ok := node.Payload()
	if !ok {
		return zero, nil, false
	}
	return payload, bound, true
}

// Patterns returns the registered patterns in trie order.
func (m *Matcher[P]) Patterns() []string {
	names := make(map[int]string)
	m.components.Walk(func(seq []rune, id int) { names[id] = string(seq) })
	var out []string
	m.routes.Walk(func(ids []int, _ P) {
		segs := make([]string, len(ids))
		for i, id := range ids {
			segs[i] = names[id]
		}
		out = append(out, "/"+strings.Join(segs, "/"))
	})
	return out
}
