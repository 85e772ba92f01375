package fedapi

import (
	"context"
)

// HandlerFunc is the next step of an interceptor chain.
type HandlerFunc func(ctx context.Context, req any) (res any, err error)

// UnaryInterceptor wraps the execution of an endpoint handler.
//
//	func timing(ctx *fedapi.Context, req any, handler fedapi.HandlerFunc) (any, error) {
//	    start := time.Now()
//	    res, err := handler(ctx, req)
//	    slog.Info("call", "endpoint", ctx.Endpoint().Name, "took", time.Since(start))
//	    return res, err
//	}
//
// An interceptor may inspect or replace the request before calling handler,
// inspect or replace the response afterwards, or return an error without
// calling handler at all. req and res hold the endpoint's Req and Res
// values; replacements must keep those types.
type UnaryInterceptor func(ctx *Context, req any, handler HandlerFunc) (res any, err error)

// chainInterceptors combines interceptors into one. The first interceptor
// is the outermost.
func chainInterceptors(interceptors []UnaryInterceptor) UnaryInterceptor {
	if len(interceptors) == 0 {
		return nil
	}
	if len(interceptors) == 1 {
		return interceptors[0]
	}
	return func(ctx *Context, req any, handler HandlerFunc) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current := interceptors[i]
			next := chain
			chain = func(c context.Context, req any) (any, error) {
				fc, ok := c.(*Context)
				if !ok {
					// An interceptor layered values on top of the Context.
					if fc, ok = FromContext(c); !ok {
						fc = ctx
					}
				}
				return current(fc, req, next)
			}
		}
		return chain(ctx, req)
	}
}
