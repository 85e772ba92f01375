package fedapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RequestIDHeader carries the identifier assigned to each served call.
const RequestIDHeader = "X-Request-Id"

// Router serves a set of endpoints over HTTP. It matches requests against
// the endpoints' path templates, parses them, runs interceptors and the
// handler, and writes the response or a Matrix error.
//
// Configure the Router and Register its routes before serving.
type Router struct {
	mu     sync.RWMutex
	routes []Route
	keys   map[string]string

	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	interceptors       []UnaryInterceptor
	middlewares        []func(http.Handler) http.Handler
	logger             *slog.Logger
	maxRequestBodySize int64
	verifier           Verifier
	limiter            RateLimiter
}

// NewRouter returns an empty Router with a 1MB request body limit.
func NewRouter() *Router {
	return &Router{
		keys:               make(map[string]string),
		maxRequestBodySize: DefaultMaxBodySize,
	}
}

// WithErrorTransformer sets a function that maps handler errors to Matrix
// errors. Returning nil falls back to DefaultErrorTransformer.
func (rt *Router) WithErrorTransformer(fn ErrorTransformer) *Router {
	rt.errorTransformer = fn
	return rt
}

// WithMaskInternalErrors replaces the message of 5xx errors with a generic
// one. Interceptors and logs still see the original error.
func (rt *Router) WithMaskInternalErrors() *Router {
	rt.maskInternalErrors = true
	return rt
}

// WithUnaryInterceptor adds a global interceptor. Global interceptors run
// before route interceptors, in the order they were added.
func (rt *Router) WithUnaryInterceptor(i UnaryInterceptor) *Router {
	rt.interceptors = append(rt.interceptors, i)
	return rt
}

// WithMiddleware adds an HTTP middleware. The first added is outermost.
func (rt *Router) WithMiddleware(mw func(http.Handler) http.Handler) *Router {
	rt.middlewares = append(rt.middlewares, mw)
	return rt
}

// WithLogger sets the logger. If not set, slog.Default() is used.
func (rt *Router) WithLogger(logger *slog.Logger) *Router {
	rt.logger = logger
	return rt
}

// WithMaxRequestBodySize sets the body limit for endpoints that were not
// defined with their own. A value of 0 means no limit.
func (rt *Router) WithMaxRequestBodySize(size int64) *Router {
	rt.maxRequestBodySize = size
	return rt
}

// WithVerifier sets the signature verifier for AuthServerSignature
// endpoints that were not defined with their own.
func (rt *Router) WithVerifier(v Verifier) *Router {
	rt.verifier = v
	return rt
}

// WithRateLimiter sets the limiter consulted for RateLimited endpoints.
// Without one, no limits apply.
func (rt *Router) WithRateLimiter(l RateLimiter) *Router {
	rt.limiter = l
	return rt
}

func (rt *Router) log() *slog.Logger {
	if rt.logger == nil {
		return slog.Default()
	}
	return rt.logger
}

// Route is an endpoint bound to its handler. Routes are created with Handle.
type Route interface {
	Metadata() Metadata
	template() pathTemplate
	serve(rt *Router, w http.ResponseWriter, r *http.Request)
}

// Handler binds an Endpoint to the function that implements it.
type Handler[Req, Res any] struct {
	endpoint     *Endpoint[Req, Res]
	fn           func(context.Context, Req) (Res, error)
	interceptors []UnaryInterceptor
}

// Handle binds fn to e. The context passed to fn is a *Context.
func Handle[Req, Res any](e *Endpoint[Req, Res], fn func(ctx context.Context, req Req) (Res, error)) *Handler[Req, Res] {
	return &Handler[Req, Res]{endpoint: e, fn: fn}
}

// WithUnaryInterceptor adds an interceptor that applies to this route only.
// It runs after the Router's interceptors.
func (h *Handler[Req, Res]) WithUnaryInterceptor(i UnaryInterceptor) *Handler[Req, Res] {
	h.interceptors = append(h.interceptors, i)
	return h
}

// Metadata returns the metadata of the bound endpoint.
func (h *Handler[Req, Res]) Metadata() Metadata {
	return h.endpoint.meta
}

func (h *Handler[Req, Res]) template() pathTemplate {
	return h.endpoint.tmpl
}

// Register adds routes to the Router. It fails without adding any route if
// two routes share a method and path shape.
func (rt *Router) Register(routes ...Route) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	added := make(map[string]string, len(routes))
	for _, r := range routes {
		m := r.Metadata()
		key := m.Method + " " + r.template().routeKey()
		if prev, ok := rt.keys[key]; ok {
			return fmt.Errorf("fedapi: route %s (%s) conflicts with %s", m.Name, m.String(), prev)
		}
		if prev, ok := added[key]; ok {
			return fmt.Errorf("fedapi: route %s (%s) conflicts with %s", m.Name, m.String(), prev)
		}
		added[key] = m.Name
	}

	for _, r := range routes {
		m := r.Metadata()
		rt.keys[m.Method+" "+r.template().routeKey()] = m.Name
		rt.routes = append(rt.routes, r)
		rt.log().Debug("route registered",
			slog.String("endpoint", m.Name),
			slog.String("route", m.String()))
	}
	// Literal segments win over placeholders.
	slices.SortStableFunc(rt.routes, func(a, b Route) int {
		return b.template().literals() - a.template().literals()
	})
	return nil
}

// Routes returns the registered routes' metadata in match order.
func (rt *Router) Routes() []Metadata {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]Metadata, len(rt.routes))
	for i, r := range rt.routes {
		out[i] = r.Metadata()
	}
	return out
}

// Handler returns an http.Handler serving the registered routes, wrapped
// in the configured middleware.
//
//	router := fedapi.NewRouter().WithMiddleware(middleware.CORS(nil))
//	http.ListenAndServe(":8448", router.Handler())
func (rt *Router) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(rt.serveHTTP)
	for i := len(rt.middlewares) - 1; i >= 0; i-- {
		h = rt.middlewares[i](h)
	}
	return h
}

func (rt *Router) serveHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.log().Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())))
			writeError(w, NewError(CodeUnknown, "Internal server error"), rt.logger)
		}
	}()

	rt.mu.RLock()
	routes := rt.routes
	rt.mu.RUnlock()

	escaped := r.URL.EscapedPath()
	var (
		allowed  []string
		fallback Route
	)
	for _, route := range routes {
		if _, ok := route.template().match(escaped); !ok {
			continue
		}
		m := route.Metadata()
		if m.Method == r.Method {
			route.serve(rt, w, r)
			return
		}
		if fallback == nil && methodMatches(m.Method, r.Method) {
			fallback = route
		}
		if !slices.Contains(allowed, m.Method) {
			allowed = append(allowed, m.Method)
		}
		if m.Method == http.MethodGet && !slices.Contains(allowed, http.MethodHead) {
			allowed = append(allowed, http.MethodHead)
		}
	}

	// HEAD is served by the GET route when no HEAD route is registered.
	if fallback != nil {
		fallback.serve(rt, w, r)
		return
	}

	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		rt.handleError(w, nil, &MethodNotAllowedError{Method: r.Method, Expected: strings.Join(allowed, ", ")})
		return
	}
	rt.handleError(w, nil, &MalformedPathError{Path: escaped})
}

func (h *Handler[Req, Res]) serve(rt *Router, w http.ResponseWriter, r *http.Request) {
	e := h.endpoint
	verifier := e.verifier
	if verifier == nil {
		verifier = rt.verifier
	}
	maxBody := e.maxBodySize
	if !e.bodyLimited {
		maxBody = rt.maxRequestBodySize
	}

	requestID := uuid.NewString()
	w.Header().Set(RequestIDHeader, requestID)

	req, caller, err := e.parseRequest(r, verifier, maxBody)
	ctx := newContext(r.Context(), w, r, &e.meta, caller, requestID)
	if err != nil {
		rt.handleError(w, ctx, err)
		return
	}

	if e.meta.RateLimited && rt.limiter != nil {
		if ok, retry := rt.limiter.Allow(callerKey(r, caller)); !ok {
			rt.handleError(w, ctx, &Error{
				ErrCode:      CodeLimitExceeded,
				Message:      "Too many requests",
				RetryAfterMs: max(retry.Milliseconds(), 1),
			})
			return
		}
	}

	final := func(c context.Context, reqAny any) (any, error) {
		typed, ok := reqAny.(Req)
		if !ok {
			return nil, Errorf(CodeUnknown, "interceptor replaced request with %T", reqAny)
		}
		return h.fn(c, typed)
	}

	var resAny any
	all := append(slices.Clone(rt.interceptors), h.interceptors...)
	if chain := chainInterceptors(all); chain != nil {
		resAny, err = chain(ctx, req, final)
	} else {
		resAny, err = final(ctx, req)
	}
	if err != nil {
		rt.handleError(w, ctx, err)
		return
	}

	res, ok := resAny.(Res)
	if !ok {
		rt.handleError(w, ctx, Errorf(CodeUnknown, "interceptor replaced response with %T", resAny))
		return
	}
	m, err := e.EncodeResponse(res)
	if err != nil {
		rt.handleError(w, ctx, err)
		return
	}
	header := w.Header()
	for k, v := range m.Header {
		header[k] = v
	}
	w.WriteHeader(m.StatusCode)
	if _, err := w.Write(m.Body); err != nil {
		rt.log().WarnContext(ctx, "failed to write response",
			slog.String("endpoint", e.meta.Name),
			slog.String("request_id", requestID),
			slog.Any("error", err))
	}
}

// handleError maps err to a Matrix error and writes it. ctx is nil when no
// route matched.
func (rt *Router) handleError(w http.ResponseWriter, ctx *Context, err error) {
	var mxErr *Error
	if rt.errorTransformer != nil {
		mxErr = rt.errorTransformer(err)
	}
	if mxErr == nil {
		mxErr = DefaultErrorTransformer(err)
	}

	if mxErr.HTTPStatus() >= http.StatusInternalServerError {
		attrs := []any{slog.Any("error", err)}
		var logCtx context.Context = context.Background()
		if ctx != nil {
			logCtx = ctx
			attrs = append(attrs,
				slog.String("endpoint", ctx.Endpoint().Name),
				slog.String("request_id", ctx.RequestID()))
		}
		rt.log().ErrorContext(logCtx, "request failed", attrs...)

		if rt.maskInternalErrors {
			masked := *mxErr
			masked.Message = "Internal server error"
			mxErr = &masked
		}
	}
	writeError(w, mxErr, rt.logger)
}
