// File: message/header.go
// License: Apache-2.0

package message

import "strings"

// Field is one header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered multimap with case-insensitive names. The zero
// value is ready to use. Serialization keeps insertion order.
type Header struct {
	fields []Field
}

// Get returns the first value for name, or "".
func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value for name in order.
func (h *Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces the first field called name and drops the others. A new
// name is appended.
func (h *Header) Set(name, value string) {
	idx := -1
	kept := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(kept)
			f.Value = value
		}
		kept = append(kept, f)
	}
	h.fields = kept
	if idx < 0 {
		h.fields = append(h.fields, Field{Name: name, Value: value})
	}
}

// Del removes every field called name.
func (h *Header) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Len is the number of fields.
func (h *Header) Len() int { return len(h.fields) }

// Fields returns the fields in insertion order. The slice must not be
// modified.
func (h *Header) Fields() []Field { return h.fields }

// Each calls fn for every field in order.
func (h *Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.Name, f.Value)
	}
}

// Clone returns an independent copy.
func (h *Header) Clone() Header {
	return Header{fields: append([]Field(nil), h.fields...)}
}

// HasToken reports whether any comma separated element of name equals
// token, ignoring case.
func (h *Header) HasToken(name, token string) bool {
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		for _, part := range strings.Split(f.Value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
