// File: negotiation/registry.go
// License: Apache-2.0

package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuitableParser means no codec handles the body's media type.
	ErrNoSuitableParser = errors.New("negotiation: no suitable parser")
	// ErrNoSuitableSerializer means no codec produces an accepted media type.
	ErrNoSuitableSerializer = errors.New("negotiation: no suitable serializer")
)

// RegistryOption configures a Registry under construction.
type RegistryOption func(*Registry)

// WithCodecs appends codecs used both for parsing and serializing.
func WithCodecs(cs ...Codec) RegistryOption {
	return func(r *Registry) {
		r.parsers = append(r.parsers, cs...)
		r.serializers = append(r.serializers, cs...)
	}
}

// WithParsers appends parse-only codecs.
func WithParsers(cs ...Codec) RegistryOption {
	return func(r *Registry) { r.parsers = append(r.parsers, cs...) }
}

// WithSerializers appends serialize-only codecs.
func WithSerializers(cs ...Codec) RegistryOption {
	return func(r *Registry) { r.serializers = append(r.serializers, cs...) }
}

// WithDefault moves the codecs for mt to the front, so they win when the
// client accepts anything.
func WithDefault(mt MediaType) RegistryOption {
	return func(r *Registry) {
		r.parsers = moveToFront(r.parsers, mt)
		r.serializers = moveToFront(r.serializers, mt)
	}
}

// WithPriority orders codecs so that mts[0] comes first, mts[1] second
// and so on. Unlisted codecs keep their relative order after them.
func WithPriority(mts ...MediaType) RegistryOption {
	return func(r *Registry) {
		for i := len(mts) - 1; i >= 0; i-- {
			WithDefault(mts[i])(r)
		}
	}
}

// Registry holds ordered parsers and serializers. It is immutable once
// NewRegistry returns and safe for concurrent use.
type Registry struct {
	parsers     []Codec
	serializers []Codec
}

// NewRegistry builds a registry from options applied in order.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultRegistry carries JSON, CBOR, protobuf and URL-encoded forms, in
// that order.
func DefaultRegistry() *Registry {
	cb, err := CBOR()
	if err != nil {
		// canonical options are static and always valid
		panic(fmt.Sprintf("negotiation: cbor: %v", err))
	}
	return NewRegistry(WithCodecs(JSON(), cb, Protobuf(), URLEncodedForm()))
}

func moveToFront(cs []Codec, mt MediaType) []Codec {
	front := make([]Codec, 0, len(cs))
	rest := make([]Codec, 0, len(cs))
	for _, c := range cs {
		if c.MediaType().Equal(mt) {
			front = append(front, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(front, rest...)
}

// ParseTypes lists the parseable media types in priority order.
func (r *Registry) ParseTypes() []MediaType {
	out := make([]MediaType, len(r.parsers))
	for i, c := range r.parsers {
		out[i] = c.MediaType()
	}
	return out
}

// ParsersFor returns the parsers matching mt.
func (r *Registry) ParsersFor(mt MediaType) []Codec {
	var out []Codec
	for _, c := range r.parsers {
		if c.MediaType().Matches(mt) {
			out = append(out, c)
		}
	}
	return out
}

// Parse decodes data with the first matching parser that succeeds. When
// all fail the last error is returned.
func (r *Registry) Parse(mt MediaType, data []byte) (any, error) {
	var last error
	for _, c := range r.ParsersFor(mt) {
		v, err := c.Unmarshal(data)
		if err == nil {
			return v, nil
		}
		last = fmt.Errorf("negotiation: parse %s: %w", c.MediaType().Essence(), err)
	}
	if last == nil {
		return nil, ErrNoSuitableParser
	}
	return nil, last
}

// Serialize encodes v for the first accepted media type some serializer
// can produce. It returns the body and the media type actually used.
func (r *Registry) Serialize(accepted []MediaType, v any) ([]byte, MediaType, error) {
	if len(accepted) == 0 {
		accepted = []MediaType{AnyMediaType}
	}
	var last error
	for _, want := range accepted {
		for _, c := range r.serializers {
			if !c.MediaType().Matches(want) {
				continue
			}
			body, err := c.Marshal(v)
			if err == nil {
				return body, c.MediaType(), nil
			}
			last = fmt.Errorf("negotiation: serialize %s: %w", c.MediaType().Essence(), err)
		}
	}
	if last == nil {
		return nil, MediaType{}, ErrNoSuitableSerializer
	}
	return nil, MediaType{}, last
}
