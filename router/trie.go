// File: router/trie.go
// License: Apache-2.0
//
// Package router implements exact path routing over a trie of interned
// path segments.

package router

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Trie is a prefix tree keyed by sequences of K. Children are kept sorted
// by key, so lookups are binary searches.
type Trie[K cmp.Ordered, P any] struct {
	key      K
	children []*Trie[K, P]
	payload  P
	ending   bool
}

// NewTrie returns an empty root.
func NewTrie[K cmp.Ordered, P any]() *Trie[K, P] {
	return &Trie[K, P]{}
}

// Key returns the element that leads to this node.
func (t *Trie[K, P]) Key() K { return t.key }

// Children returns the sorted children. The slice must not be modified.
func (t *Trie[K, P]) Children() []*Trie[K, P] { return t.children }

// Payload returns the payload of a terminal node.
func (t *Trie[K, P]) Payload() (P, bool) { return t.payload, t.ending }

// IsEnding reports whether a sequence ends at this node.
func (t *Trie[K, P]) IsEnding() bool { return t.ending }

// Child returns the child reached by k.
func (t *Trie[K, P]) Child(k K) *Trie[K, P] {
	i, ok := t.search(k)
	if !ok {
		return nil
	}
	return t.children[i]
}

func (t *Trie[K, P]) search(k K) (int, bool) {
	return slices.BinarySearchFunc(t.children, k, func(n *Trie[K, P], k K) int {
		return cmp.Compare(n.key, k)
	})
}

// Insert stores payload under seq. An existing sequence keeps its
// original payload and Insert reports false.
func (t *Trie[K, P]) Insert(seq []K, payload P) bool {
	node := t
	for _, k := range seq {
		i, ok := node.search(k)
		if !ok {
			child := &Trie[K, P]{key: k}
			node.children = slices.Insert(node.children, i, child)
		}
		node = node.children[i]
	}
	if node.ending {
		return false
	}
	node.payload = payload
	node.ending = true
	return true
}

// FindLast returns the node reached by seq, terminal or not.
func (t *Trie[K, P]) FindLast(seq []K) *Trie[K, P] {
	node := t
	for _, k := range seq {
		if node = node.Child(k); node == nil {
			return nil
		}
	}
	return node
}

// FindPayload returns the payload stored under seq.
func (t *Trie[K, P]) FindPayload(seq []K) (P, bool) {
	var zero P
	node := t.FindLast(seq)
	if node == nil || !node.ending {
		return zero, false
	}
	return node.payload, true
}

// Contains reports whether seq was inserted.
func (t *Trie[K, P]) Contains(seq []K) bool {
	_, ok := t.FindPayload(seq)
	return ok
}

// Walk calls fn for every stored sequence in key order.
func (t *Trie[K, P]) Walk(fn func(seq []K, payload P)) {
	t.walk(nil, fn)
}

func (t *Trie[K, P]) walk(prefix []K, fn func([]K, P)) {
	if t.ending {
		fn(slices.Clone(prefix), t.payload)
	}
	for _, c := range t.children {
		c.walk(append(prefix, c.key), fn)
	}
}

// String renders the tree, one node per line.
func (t *Trie[K, P]) String() string {
	var b strings.Builder
	t.render(&b, 0)
	return b.String()
}

func (t *Trie[K, P]) render(b *strings.Builder, depth int) {
	for _, c := range t.children {
		b.WriteString(strings.Repeat("  ", depth))
		fmt.Fprintf(b, "%v", c.key)
		if c.ending {
			fmt.Fprintf(b, " => %v", c.payload)
		}
		b.WriteByte('\n')
		c.render(b, depth+1)
	}
}

// FindByPayload returns the first sequence, in key order, that stores
// payload.
func FindByPayload[K cmp.Ordered, P comparable](t *Trie[K, P], payload P) ([]K, bool) {
	var (
		found []K
		ok    bool
	)
	t.Walk(func(seq []K, p P) {
		if !ok && p == payload {
			found, ok = seq, true
		}
	})
	return found, ok
}
