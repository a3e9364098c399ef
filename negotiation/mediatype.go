// File: negotiation/mediatype.go
// License: Apache-2.0
//
// Package negotiation selects body codecs by media type. It decodes
// request bodies by Content-Type and encodes response content by Accept.

package negotiation

import (
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"
)

// MediaType is a parsed "type/subtype; k=v" value. Type and Subtype are
// lower case and may be "*".
type MediaType struct {
	Type    string
	Subtype string
	Params  map[string]string
}

var (
	JSONMediaType           = MediaType{Type: "application", Subtype: "json", Params: map[string]string{"charset": "utf-8"}}
	CBORMediaType           = MediaType{Type: "application", Subtype: "cbor"}
	ProtobufMediaType       = MediaType{Type: "application", Subtype: "x-protobuf"}
	URLEncodedFormMediaType = MediaType{Type: "application", Subtype: "x-www-form-urlencoded"}
	MultipartFormMediaType  = MediaType{Type: "multipart", Subtype: "form-data"}
	AnyMediaType            = MediaType{Type: "*", Subtype: "*"}
)

// ParseMediaType parses a Content-Type or Accept element. A lone "*" is
// read as "*/*".
func ParseMediaType(s string) (MediaType, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return AnyMediaType, nil
	}
	full, params, err := mime.ParseMediaType(s)
	if err != nil {
		return MediaType{}, fmt.Errorf("media type %q: %w", s, err)
	}
	typ, sub, ok := strings.Cut(full, "/")
	if !ok || typ == "" || sub == "" {
		return MediaType{}, fmt.Errorf("media type %q: missing subtype", s)
	}
	if typ == "*" && sub != "*" {
		return MediaType{}, fmt.Errorf("media type %q: wildcard type with concrete subtype", s)
	}
	if len(params) == 0 {
		params = nil
	}
	return MediaType{Type: typ, Subtype: sub, Params: params}, nil
}

// MustParseMediaType is ParseMediaType for constants.
func MustParseMediaType(s string) MediaType {
	m, err := ParseMediaType(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Essence returns "type/subtype" without parameters.
func (m MediaType) Essence() string { return m.Type + "/" + m.Subtype }

func (m MediaType) String() string {
	if len(m.Params) == 0 {
		return m.Essence()
	}
	if s := mime.FormatMediaType(m.Essence(), m.Params); s != "" {
		return s
	}
	return m.Essence()
}

// Equal compares type and subtype, ignoring parameters.
func (m MediaType) Equal(o MediaType) bool {
	return m.Type == o.Type && m.Subtype == o.Subtype
}

// Matches reports whether m and o overlap, honoring "*" on either side.
func (m MediaType) Matches(o MediaType) bool {
	if m.Type == "*" || o.Type == "*" {
		return true
	}
	if m.Type != o.Type {
		return false
	}
	return m.Subtype == "*" || o.Subtype == "*" || m.Subtype == o.Subtype
}

// ParseAccept returns the acceptable media types of an Accept header in
// preference order: higher q first, then more specific, then header
// order. Entries with q=0 and malformed entries are dropped. An empty
// header accepts anything.
func ParseAccept(header string) []MediaType {
	if strings.TrimSpace(header) == "" {
		return []MediaType{AnyMediaType}
	}
	type ranked struct {
		mt MediaType
		q  float64
	}
	var list []ranked
	for _, part := range strings.Split(header, ",") {
		mt, err := ParseMediaType(part)
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := mt.Params["q"]; ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				continue
			}
			q = f
			delete(mt.Params, "q")
		}
		if q == 0 {
			continue
		}
		list = append(list, ranked{mt, q})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].q != list[j].q {
			return list[i].q > list[j].q
		}
		return specificity(list[i].mt) > specificity(list[j].mt)
	})
	out := make([]MediaType, len(list))
	for i, r := range list {
		out[i] = r.mt
	}
	return out
}

func specificity(m MediaType) int {
	switch {
	case m.Type == "*":
		return 0
	case m.Subtype == "*":
		return 1
	default:
		return 2
	}
}
