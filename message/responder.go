// File: message/responder.go
// License: Apache-2.0

package message

// Responder turns a request into a response.
type Responder interface {
	Respond(req *Request) (*Response, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(req *Request) (*Response, error)

func (f ResponderFunc) Respond(req *Request) (*Response, error) { return f(req) }

// Middleware wraps a Responder.
type Middleware func(next Responder) Responder

// Chain wraps r so that mws[0] runs first.
func Chain(r Responder, mws ...Middleware) Responder {
	for i := len(mws) - 1; i >= 0; i-- {
		r = mws[i](r)
	}
	return r
}
