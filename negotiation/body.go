// File: negotiation/body.go
// License: Apache-2.0

package negotiation

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"

	"github.com/momentics/hioload-flux/message"
)

// Storage keys for parsed bodies.
const (
	URLEncodedBodyKey = "urlEncodedBody"
	MultipartBodyKey  = "multipartBody"
)

// URLEncodedBody parses application/x-www-form-urlencoded bodies into
// request storage. Malformed bodies get 400.
func URLEncodedBody() message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
			mt, err := ParseMediaType(req.ContentType())
			if err == nil && mt.Equal(URLEncodedFormMediaType) {
				vals, err := url.ParseQuery(string(req.Body))
				if err != nil {
					return message.Text(message.StatusBadRequest, err.Error()), nil
				}
				req.Store(URLEncodedBodyKey, vals)
			}
			return next.Respond(req)
		})
	}
}

// FormValues returns the values stored by URLEncodedBody.
func FormValues(req *message.Request) (url.Values, bool) {
	v, ok := req.Load(URLEncodedBodyKey)
	if !ok {
		return nil, false
	}
	vals, ok := v.(url.Values)
	return vals, ok
}

// Part is one multipart/form-data section.
type Part struct {
	Disposition       string
	DispositionParams map[string]string
	ContentType       string
	Body              []byte
}

// Name is the form field name.
func (p Part) Name() string { return p.DispositionParams["name"] }

// FileName is the uploaded file name, if any.
func (p Part) FileName() string { return p.DispositionParams["filename"] }

// MultipartBody parses multipart/form-data bodies into request storage.
// A missing boundary or a malformed body gets 400.
func MultipartBody() message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
			mt, err := ParseMediaType(req.ContentType())
			if err == nil && mt.Equal(MultipartFormMediaType) {
				boundary := mt.Params["boundary"]
				if boundary == "" {
					return message.Text(message.StatusBadRequest, "multipart: missing boundary"), nil
				}
				parts, err := readParts(req.Body, boundary)
				if err != nil {
					return message.Text(message.StatusBadRequest, err.Error()), nil
				}
				req.Store(MultipartBodyKey, parts)
			}
			return next.Respond(req)
		})
	}
}

// Parts returns the sections stored by MultipartBody.
func Parts(req *message.Request) ([]Part, bool) {
	v, ok := req.Load(MultipartBodyKey)
	if !ok {
		return nil, false
	}
	parts, ok := v.([]Part)
	return parts, ok
}

func readParts(body []byte, boundary string) ([]Part, error) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []Part
	for {
		p, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(p)
		p.Close()
		if err != nil {
			return nil, err
		}
		part := Part{ContentType: p.Header.Get("Content-Type"), Body: data}
		if cd := p.Header.Get("Content-Disposition"); cd != "" {
			disp, params, err := mime.ParseMediaType(cd)
			if err != nil {
				return nil, err
			}
			part.Disposition, part.DispositionParams = disp, params
		}
		parts = append(parts, part)
	}
}
