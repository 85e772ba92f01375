package fedapi

import (
	"context"
	"net/http"
)

type contextKey struct {
	name string
}

var contextValueKey = &contextKey{"fedapi"}

// Context is passed to handlers and interceptors for each call served by a
// Router. It embeds the request's context.Context.
type Context struct {
	context.Context

	meta      *Metadata
	caller    Caller
	requestID string
	request   *http.Request
	writer    http.ResponseWriter
}

// NewContext creates a Context outside a Router, for tests and for
// invoking handlers directly.
func NewContext(parent context.Context, meta *Metadata, caller Caller, requestID string) *Context {
	return newContext(parent, nil, nil, meta, caller, requestID)
}

func newContext(parent context.Context, w http.ResponseWriter, r *http.Request, meta *Metadata, caller Caller, requestID string) *Context {
	ctx := &Context{
		meta:      meta,
		caller:    caller,
		requestID: requestID,
		request:   r,
		writer:    w,
	}
	ctx.Context = context.WithValue(parent, contextValueKey, ctx)
	return ctx
}

// FromContext returns the *Context stored in ctx, if any. It finds the
// Context even after further values have been layered on top of it.
func FromContext(ctx context.Context) (*Context, bool) {
	if c, ok := ctx.(*Context); ok {
		return c, true
	}
	c, ok := ctx.Value(contextValueKey).(*Context)
	return c, ok
}

// Endpoint returns the metadata of the endpoint being served.
func (c *Context) Endpoint() *Metadata {
	return c.meta
}

// Caller returns the credentials extracted from the request.
func (c *Context) Caller() Caller {
	return c.caller
}

// RequestID returns the identifier assigned to this call.
func (c *Context) RequestID() string {
	return c.requestID
}

// HTTPRequest returns the underlying request, or nil outside a Router.
func (c *Context) HTTPRequest() *http.Request {
	return c.request
}

// SetHeader sets a response header. It has no effect outside a Router.
func (c *Context) SetHeader(key, value string) {
	if c.writer != nil {
		c.writer.Header().Set(key, value)
	}
}
