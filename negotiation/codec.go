// File: negotiation/codec.go
// License: Apache-2.0

package negotiation

import (
	"fmt"
	"net/url"
	"reflect"

	cbor "github.com/fxamacker/cbor/v2"
	"github.com/sugawarayuuta/sonnet"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec converts between a body and a structured value for one media type.
// Unmarshal returns a generic value: maps decode as map[string]any.
type Codec interface {
	MediaType() MediaType
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

type jsonCodec struct{}

// JSON returns the application/json codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) MediaType() MediaType          { return JSONMediaType }
func (jsonCodec) Marshal(v any) ([]byte, error) { return sonnet.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := sonnet.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a canonical application/cbor codec.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) MediaType() MediaType          { return CBORMediaType }
func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }

func (c cborCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := c.dec.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Protobuf returns an application/x-protobuf codec. Messages marshal
// as themselves, maps as google.protobuf.Struct. Bodies decode into a
// Struct and are returned as map[string]any.
func Protobuf() Codec {
	return protoCodec{mo: proto.MarshalOptions{Deterministic: true}}
}

func (protoCodec) MediaType() MediaType { return ProtobufMediaType }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case proto.Message:
		return p.mo.Marshal(t)
	case map[string]any:
		s, err := structpb.NewStruct(t)
		if err != nil {
			return nil, err
		}
		return p.mo.Marshal(s)
	default:
		return nil, fmt.Errorf("protobuf: cannot marshal %T", v)
	}
}

func (p protoCodec) Unmarshal(data []byte) (any, error) {
	var s structpb.Struct
	if err := p.uo.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s.AsMap(), nil
}

type formCodec struct{}

// URLEncodedForm returns the application/x-www-form-urlencoded codec.
// Bodies decode into map[string]string keeping the first value of each key.
func URLEncodedForm() Codec { return formCodec{} }

func (formCodec) MediaType() MediaType { return URLEncodedFormMediaType }

func (formCodec) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case url.Values:
		return []byte(t.Encode()), nil
	case map[string]string:
		vals := make(url.Values, len(t))
		for k, s := range t {
			vals.Set(k, s)
		}
		return []byte(vals.Encode()), nil
	default:
		return nil, fmt.Errorf("form: cannot marshal %T", v)
	}
}

func (formCodec) Unmarshal(data []byte) (any, error) {
	vals, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(vals))
	for k, v := range vals {
		out[k] = v[0]
	}
	return out, nil
}
