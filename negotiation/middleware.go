// File: negotiation/middleware.go
// License: Apache-2.0

package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-flux/message"
)

// ContentNegotiator decodes a request body into Request.Content by its
// Content-Type and encodes a non-nil Response.Content by the request's
// Accept header. Failures map to 415 and 400 on the way in and to 406
// and 500 on the way out.
func ContentNegotiator(reg *Registry) message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
			if ct := req.ContentType(); ct != "" && len(req.Body) > 0 {
				mt, err := ParseMediaType(ct)
				if err != nil {
					return message.Error(message.StatusUnsupportedMediaType), nil
				}
				content, err := reg.Parse(mt, req.Body)
				switch {
				case errors.Is(err, ErrNoSuitableParser):
					return message.Error(message.StatusUnsupportedMediaType), nil
				case err != nil:
					return message.Text(message.StatusBadRequest, err.Error()), nil
				}
				req.Content = content
			}

			resp, err := next.Respond(req)
			if err != nil || resp == nil || resp.Content == nil {
				return resp, err
			}
			body, mt, err := reg.Serialize(ParseAccept(req.Accept()), resp.Content)
			switch {
			case errors.Is(err, ErrNoSuitableSerializer):
				return message.Error(message.StatusNotAcceptable), nil
			case err != nil:
				return message.Error(message.StatusInternalServerError), nil
			}
			resp.Body = body
			resp.Header.Set("Content-Type", mt.String())
			return resp, nil
		})
	}
}

// ClientContentNegotiator is the client-side counterpart. It advertises
// the registry's parseable types in Accept, encodes Request.Content as
// the first of types a serializer supports, and decodes the response
// body into Response.Content. With no types the registry order decides.
func ClientContentNegotiator(reg *Registry, types ...MediaType) message.Middleware {
	return func(next message.Responder) message.Responder {
		return message.ResponderFunc(func(req *message.Request) (*message.Response, error) {
			if req.Accept() == "" {
				req.Header.Set("Accept", joinTypes(reg.ParseTypes()))
			}
			if req.Content != nil {
				body, mt, err := reg.Serialize(types, req.Content)
				if err != nil {
					return nil, fmt.Errorf("encode request: %w", err)
				}
				req.Body = body
				req.Header.Set("Content-Type", mt.String())
			}

			resp, err := next.Respond(req)
			if err != nil || resp == nil {
				return resp, err
			}
			ct := resp.Header.Get("Content-Type")
			if ct == "" || len(resp.Body) == 0 {
				return resp, nil
			}
			mt, err := ParseMediaType(ct)
			if err != nil {
				return resp, fmt.Errorf("decode response: %w", err)
			}
			content, err := reg.Parse(mt, resp.Body)
			if err != nil {
				return resp, fmt.Errorf("decode response: %w", err)
			}
			resp.Content = content
			return resp, nil
		})
	}
}

func joinTypes(mts []MediaType) string {
	parts := make([]string, len(mts))
	for i, mt := range mts {
		parts[i] = mt.Essence()
	}
	return strings.Join(parts, ", ")
}
