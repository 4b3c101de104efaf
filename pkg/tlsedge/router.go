package tlsedge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Router implements HTTP request routing with support for parameters, middleware, and groups.
type Router struct {
	routes       map[string]*routeNode
	middlewares  []Middleware
	notFound     Handler
	errorHandler ErrorHandler
}

// ErrorHandler defines a function type for handling errors returned by HTTP handlers.
type ErrorHandler func(ctx *Context, err error) error

type routeNode struct {
	path      string
	handler   Handler
	children  map[string]*routeNode
	isParam   bool
	paramName string
	isWild    bool
}

// paramsPool reuses small maps for route parameters to reduce allocations per request.
var paramsPool = sync.Pool{New: func() any { return make(map[string]string, 4) }}

// NewRouter creates a new Router instance with default not found and error handlers.
func NewRouter() *Router {
	return &Router{
		routes: make(map[string]*routeNode),
		notFound: HandlerFunc(func(ctx *Context) error {
			return ctx.Plain(404, "Not Found")
		}),
		errorHandler: DefaultErrorHandler,
	}
}

// DefaultErrorHandler renders err as plain text, or as JSON when the client
// accepts it. Errors other than *HTTPError become a 500.
func DefaultErrorHandler(ctx *Context, err error) error {
	code, message := 500, "Internal Server Error"
	var details any
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		code, message, details = httpErr.Code, httpErr.Message, httpErr.Details
	}

	ctx.resetResponse()
	if strings.Contains(ctx.Header().Get("accept"), "application/json") {
		body := map[string]any{"error": message, "code": code}
		if details != nil {
			body["details"] = details
		}
		return ctx.JSON(code, body)
	}
	return ctx.Plain(code, message)
}

// HTTPError represents an HTTP error with status code, message, and optional details.
type HTTPError struct {
	Code    int
	Message string
	Details any
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(code int, message string) *HTTPError {
	return &HTTPError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds additional details to the HTTPError and returns the modified error.
func (e *HTTPError) WithDetails(details any) *HTTPError {
	e.Details = details
	return e
}

// Use adds one or more middleware functions to the router's middleware stack.
func (r *Router) Use(middlewares ...Middleware) {
	r.middlewares = append(r.middlewares, middlewares...)
}

// NotFound sets the handler that will be called for routes that do not match any registered path.
func (r *Router) NotFound(handler Handler) {
	r.notFound = handler
}

// ErrorHandler sets the error handler function for the router.
func (r *Router) ErrorHandler(handler ErrorHandler) {
	r.errorHandler = handler
}

// GET registers a handler for GET requests. HEAD requests without a route
// of their own are served by it too.
func (r *Router) GET(path string, handler any) {
	r.addRoute("GET", path, wrapHandler(handler))
}

// POST registers a handler for POST requests.
func (r *Router) POST(path string, handler any) {
	r.addRoute("POST", path, wrapHandler(handler))
}

// PUT registers a handler for PUT requests.
func (r *Router) PUT(path string, handler any) {
	r.addRoute("PUT", path, wrapHandler(handler))
}

// DELETE registers a handler for DELETE requests.
func (r *Router) DELETE(path string, handler any) {
	r.addRoute("DELETE", path, wrapHandler(handler))
}

// PATCH registers a handler for PATCH requests.
func (r *Router) PATCH(path string, handler any) {
	r.addRoute("PATCH", path, wrapHandler(handler))
}

// HEAD registers a handler for HEAD requests.
func (r *Router) HEAD(path string, handler any) {
	r.addRoute("HEAD", path, wrapHandler(handler))
}

// OPTIONS registers a handler for OPTIONS requests.
func (r *Router) OPTIONS(path string, handler any) {
	r.addRoute("OPTIONS", path, wrapHandler(handler))
}

// Handle registers a handler for the specified HTTP method.
func (r *Router) Handle(method, path string, handler any) {
	r.addRoute(method, path, wrapHandler(handler))
}

func wrapHandler(handler any) Handler {
	switch h := handler.(type) {
	case Handler:
		return h
	case func(*Context) error:
		return HandlerFunc(h)
	default:
		panic(fmt.Sprintf("invalid handler type: %T", handler))
	}
}

func (r *Router) addRoute(method, path string, handler Handler) {
	if path == "" || path[0] != '/' {
		panic("path must begin with '/'")
	}

	root, ok := r.routes[method]
	if !ok {
		root = &routeNode{
			path:     "/",
			children: make(map[string]*routeNode),
		}
		r.routes[method] = root
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		root.handler = handler
		return
	}

	current := root
	for _, segment := range segments {
		if segment == "" {
			continue
		}

		isParam := strings.HasPrefix(segment, ":")
		isWild := strings.HasPrefix(segment, "*")

		key := segment
		if isParam || isWild {
			key = segment[0:1]
		}

		child, ok := current.children[key]
		if !ok {
			child = &routeNode{
				path:     segment,
				children: make(map[string]*routeNode),
				isParam:  isParam,
				isWild:   isWild,
			}
			if isParam || isWild {
				child.paramName = segment[1:]
			}
			current.children[key] = child
		}

		current = child
	}

	current.handler = handler
}

// Serve routes ctx to its handler through the router's middleware. A
// handler error is rendered by the error handler into the buffered response.
func (r *Router) Serve(ctx *Context) error {
	handler, params := r.FindRoute(ctx.Method(), ctx.Path())

	for k, v := range params {
		ctx.Set(k, v)
	}
	if params != nil {
		// recycle map for reuse
		for k := range params {
			delete(params, k)
		}
		paramsPool.Put(params)
	}

	if len(r.middlewares) > 0 {
		handler = Chain(r.middlewares...)(handler)
	}

	err := handler.Serve(ctx)
	if err != nil && r.errorHandler != nil {
		return r.errorHandler(ctx, err)
	}
	return err
}

// FindRoute locates the appropriate handler for a given HTTP method and path.
// It returns the handler and any extracted route parameters.
func (r *Router) FindRoute(method, path string) (Handler, map[string]string) {
	handler, params := r.find(method, path)
	if handler == nil && method == "HEAD" {
		handler, params = r.find("GET", path)
	}
	if handler == nil {
		return r.notFound, nil
	}
	return handler, params
}

func (r *Router) find(method, path string) (Handler, map[string]string) {
	root, ok := r.routes[method]
	if !ok {
		return nil, nil
	}

	// Strip query string if present
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	if path == "/" || path == "" {
		return root.handler, nil
	}

	trimmed := strings.Trim(path, "/")
	// Lazy params allocation
	var params map[string]string
	fail := func() (Handler, map[string]string) {
		if params != nil {
			clear(params)
			paramsPool.Put(params)
		}
		return nil, nil
	}

	current := root
	// Iterate segments without creating intermediate slice
	start := 0
	for i := 0; i <= len(trimmed); i++ {
		if i < len(trimmed) && trimmed[i] != '/' {
			continue
		}
		segment := trimmed[start:i]
		segStart := start
		start = i + 1
		if segment == "" {
			continue
		}

		if child, ok := current.children[segment]; ok {
			current = child
			continue
		}

		if child, ok := current.children[":"]; ok {
			if params == nil {
				params = paramsPool.Get().(map[string]string)
			}
			params[child.paramName] = segment
			current = child
			continue
		}

		if child, ok := current.children["*"]; ok {
			// Wildcard consumes the rest of the path without further splitting
			if params == nil {
				params = paramsPool.Get().(map[string]string)
			}
			params[child.paramName] = trimmed[segStart:]
			current = child
			break
		}

		return fail()
	}

	if current.handler == nil {
		return fail()
	}
	return current.handler, params
}

// Group allows organizing routes with a common path prefix and shared middleware stack.
type Group struct {
	router      *Router
	prefix      string
	middlewares []Middleware
}

// Group creates a new route group with the specified path prefix and optional middleware.
func (r *Router) Group(prefix string, middlewares ...Middleware) *Group {
	return &Group{
		router:      r,
		prefix:      prefix,
		middlewares: middlewares,
	}
}

// Use adds one or more middleware functions to the route group's middleware stack.
func (g *Group) Use(middlewares ...Middleware) {
	g.middlewares = append(g.middlewares, middlewares...)
}

// GET registers a handler for GET requests in the group.
func (g *Group) GET(path string, handler any) {
	g.handle("GET", path, wrapHandler(handler))
}

// POST registers a handler for POST requests in the group.
func (g *Group) POST(path string, handler any) {
	g.handle("POST", path, wrapHandler(handler))
}

// PATCH registers a handler for PATCH requests in the group.
func (g *Group) PATCH(path string, handler any) {
	g.handle("PATCH", path, wrapHandler(handler))
}

// Handle registers a handler for the specified HTTP method in the group.
func (g *Group) Handle(method, path string, handler any) {
	g.handle(method, path, wrapHandler(handler))
}

func (g *Group) handle(method, path string, handler Handler) {
	fullPath := g.prefix + path

	if len(g.middlewares) > 0 {
		handler = Chain(g.middlewares...)(handler)
	}

	g.router.addRoute(method, fullPath, handler)
}

// Group creates a nested group with combined prefixes and middleware.
func (g *Group) Group(prefix string, middlewares ...Middleware) *Group {
	combined := make([]Middleware, 0, len(g.middlewares)+len(middlewares))
	combined = append(combined, g.middlewares...)
	return &Group{
		router:      g.router,
		prefix:      g.prefix + prefix,
		middlewares: append(combined, middlewares...),
	}
}
