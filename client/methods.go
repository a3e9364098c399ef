// File: client/methods.go
// License: Apache-2.0

package client

import (
	"context"

	"github.com/momentics/hioload-flux/message"
)

// Send builds a request for method and target and sends it. An empty
// contentType leaves the header unset.
func (c *Client) Send(ctx context.Context, method message.Method, target, contentType string, body []byte) (*message.Response, error) {
	req, err := message.NewRequest(method, target)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Body = body
	return c.Do(ctx, req)
}

func (c *Client) Get(ctx context.Context, target string) (*message.Response, error) {
	return c.Send(ctx, message.GET, target, "", nil)
}

func (c *Client) Post(ctx context.Context, target, contentType string, body []byte) (*message.Response, error) {
	return c.Send(ctx, message.POST, target, contentType, body)
}

func (c *Client) Put(ctx context.Context, target, contentType string, body []byte) (*message.Response, error) {
	return c.Send(ctx, message.PUT, target, contentType, body)
}

func (c *Client) Patch(ctx context.Context, target, contentType string, body []byte) (*message.Response, error) {
	return c.Send(ctx, message.PATCH, target, contentType, body)
}

func (c *Client) Delete(ctx context.Context, target string) (*message.Response, error) {
	return c.Send(ctx, message.DELETE, target, "", nil)
}
