package tlsedge

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/http/httpguts"

	"github.com/albertbausili/tlsedge/internal/session"
)

// ErrResponseWritten is returned when a response is sent twice for one request.
var ErrResponseWritten = errors.New("tlsedge: response already written")

// Context represents one request and the response being built for it. It
// is only valid until the handler returns.
type Context struct {
	ex              *session.Exchange
	ctx             context.Context
	headers         Headers
	headersLoaded   bool
	method          string
	path            string
	rawQuery        string
	statusCode      int
	responseHeaders Headers
	responseBody    *bytes.Buffer
	values          map[string]any
	written         bool
}

var responseBufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// Headers represents HTTP headers with efficient access. Keys are stored
// lowercase.
type Headers struct {
	headers [][2]string
	index   map[string]int
}

// NewHeaders creates a new Headers instance.
func NewHeaders() Headers {
	return Headers{headers: make([][2]string, 0)}
}

// Set sets a header value, replacing any existing value.
func (h *Headers) Set(key, value string) {
	lowerKey := strings.ToLower(key)
	// Lazily build index on first set if nil
	if h.index == nil {
		h.index = make(map[string]int, len(h.headers)+2)
		for i := range h.headers {
			if _, ok := h.index[h.headers[i][0]]; !ok {
				h.index[h.headers[i][0]] = i
			}
		}
	}
	if idx, ok := h.index[lowerKey]; ok {
		h.headers[idx][1] = value
		return
	}
	h.index[lowerKey] = len(h.headers)
	h.headers = append(h.headers, [2]string{lowerKey, value})
}

// Add appends a header value without replacing existing ones. Get returns
// the first value.
func (h *Headers) Add(key, value string) {
	lowerKey := strings.ToLower(key)
	if h.index != nil {
		if _, ok := h.index[lowerKey]; !ok {
			h.index[lowerKey] = len(h.headers)
		}
	}
	h.headers = append(h.headers, [2]string{lowerKey, value})
}

// Get retrieves a header value by key, case-insensitively.
func (h *Headers) Get(key string) string {
	lowerKey := strings.ToLower(key)
	if h.index != nil {
		if idx, ok := h.index[lowerKey]; ok {
			return h.headers[idx][1]
		}
		return ""
	}
	for i := range h.headers {
		if h.headers[i][0] == lowerKey {
			return h.headers[i][1]
		}
	}
	return ""
}

// Del removes every value of key.
func (h *Headers) Del(key string) {
	lowerKey := strings.ToLower(key)
	kept := h.headers[:0]
	for _, kv := range h.headers {
		if kv[0] != lowerKey {
			kept = append(kept, kv)
		}
	}
	h.headers = kept
	if h.index != nil {
		h.index = nil
	}
}

// All returns all headers as a slice of key-value pairs.
func (h *Headers) All() [][2]string {
	return h.headers
}

// Has checks if a header exists.
func (h *Headers) Has(key string) bool {
	lowerKey := strings.ToLower(key)
	if h.index != nil {
		_, ok := h.index[lowerKey]
		return ok
	}
	for i := range h.headers {
		if h.headers[i][0] == lowerKey {
			return true
		}
	}
	return false
}

func (h *Headers) reset() {
	h.headers = h.headers[:0]
	h.index = nil
}

func newContext(ex *session.Exchange) *Context {
	req, buf := ex.Request(), ex.Buffer()
	buffer := responseBufPool.Get().(*bytes.Buffer)
	buffer.Reset()
	return &Context{
		ex:              ex,
		ctx:             ex.Context(),
		headers:         NewHeaders(),
		method:          req.Method.String(),
		path:            req.Path(buf),
		rawQuery:        req.RawQuery(buf),
		statusCode:      200,
		responseHeaders: NewHeaders(),
		responseBody:    buffer,
	}
}

// release returns pooled buffers. The context must not be used afterwards.
func (c *Context) release() {
	if c.responseBody != nil && c.responseBody.Cap() <= 64<<10 {
		c.responseBody.Reset()
		responseBufPool.Put(c.responseBody)
	}
	c.responseBody = nil
	c.values = nil
}

// Method returns the HTTP request method.
func (c *Context) Method() string { return c.method }

// Path returns the request path without the query.
func (c *Context) Path() string { return c.path }

// RawQuery returns the undecoded query, without the '?'.
func (c *Context) RawQuery() string { return c.rawQuery }

// Host returns the Host header, or "" when it is missing or malformed.
func (c *Context) Host() string {
	host := c.Header().Get("host")
	if !httpguts.ValidHostHeader(host) {
		return ""
	}
	return host
}

// Header returns the request headers.
func (c *Context) Header() *Headers {
	if !c.headersLoaded {
		c.headersLoaded = true
		req, buf := c.ex.Request(), c.ex.Buffer()
		for _, h := range req.Headers {
			c.headers.Add(string(h.Name.Bytes(buf)), string(h.Value.Bytes(buf)))
		}
	}
	return &c.headers
}

// Body returns the request body. It aliases the connection buffer and must
// not be retained after the handler returns.
func (c *Context) Body() []byte { return c.ex.Body() }

// BodyReader returns the request body as a reader.
func (c *Context) BodyReader() io.Reader { return bytes.NewReader(c.ex.Body()) }

// BindJSON parses the request body as JSON into the provided value.
func (c *Context) BindJSON(v any) error {
	return json.Unmarshal(c.ex.Body(), v)
}

// RemoteAddr returns the peer address.
func (c *Context) RemoteAddr() net.Addr { return c.ex.RemoteAddr() }

// ALPN returns the negotiated application protocol.
func (c *Context) ALPN() string { return c.ex.ALPN() }

// SNI returns the server name the client asked for.
func (c *Context) SNI() string { return c.ex.SNI() }

// TLSVersion returns the negotiated TLS version, as tls.VersionTLS13.
func (c *Context) TLSVersion() uint16 { return c.ex.TLSVersion() }

// TLSVersionName returns the negotiated TLS version as "TLS 1.3".
func (c *Context) TLSVersionName() string {
	if v := c.ex.TLSVersion(); v != 0 {
		return tls.VersionName(v)
	}
	return ""
}

// PeerCertificates returns the client certificate chain, if one was sent.
func (c *Context) PeerCertificates() []*x509.Certificate { return c.ex.PeerCertificates() }

// Context returns the request's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// SetContext replaces the request's context.Context.
func (c *Context) SetContext(ctx context.Context) { c.ctx = ctx }

// SetStatus sets the HTTP response status code.
func (c *Context) SetStatus(code int) { c.statusCode = code }

// Status returns the current HTTP response status code.
func (c *Context) Status() int { return c.statusCode }

// SetHeader sets an HTTP response header.
func (c *Context) SetHeader(key, value string) { c.responseHeaders.Set(key, value) }

// ResponseHeader returns the response headers set so far.
func (c *Context) ResponseHeader() *Headers { return &c.responseHeaders }

// ResponseBody returns the buffered response body.
func (c *Context) ResponseBody() []byte { return c.responseBody.Bytes() }

// SetResponseBody replaces the buffered response body.
func (c *Context) SetResponseBody(b []byte) {
	c.responseBody.Reset()
	c.responseBody.Write(b)
}

// Write appends data to the response body.
func (c *Context) Write(data []byte) (int, error) { return c.responseBody.Write(data) }

// WriteString appends a string to the response body.
func (c *Context) WriteString(s string) (int, error) { return c.responseBody.WriteString(s) }

// JSON sets a JSON response with the given status code.
func (c *Context) JSON(status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Data(status, "application/json", data)
}

// String sets a formatted text response with the given status code.
func (c *Context) String(status int, format string, values ...any) error {
	return c.Data(status, "text/plain; charset=utf-8", fmt.Appendf(nil, format, values...))
}

// Plain sets a plain text response without fmt formatting overhead.
func (c *Context) Plain(status int, s string) error {
	c.statusCode = status
	c.responseHeaders.Set("content-type", "text/plain; charset=utf-8")
	c.responseBody.Reset()
	c.responseBody.WriteString(s)
	return nil
}

// HTML sets an HTML response with the given status code.
func (c *Context) HTML(status int, html string) error {
	return c.Data(status, "text/html; charset=utf-8", []byte(html))
}

// Data sets a response with custom content type and data.
func (c *Context) Data(status int, contentType string, data []byte) error {
	c.statusCode = status
	c.responseHeaders.Set("content-type", contentType)
	c.SetResponseBody(data)
	return nil
}

// NoContent sets a response with no body content.
func (c *Context) NoContent(status int) error {
	c.statusCode = status
	c.responseBody.Reset()
	return nil
}

// Redirect sets an HTTP redirect response.
func (c *Context) Redirect(status int, url string) error {
	if status < 300 || status > 308 {
		status = 302
	}
	c.SetHeader("location", url)
	return c.NoContent(status)
}

// resetResponse drops everything buffered for the response.
func (c *Context) resetResponse() {
	c.statusCode = 200
	c.responseHeaders.reset()
	c.responseBody.Reset()
}

// Flush serializes the buffered response. It runs once per request after
// the handler chain returned; calling it earlier commits the response.
func (c *Context) Flush() error {
	if c.written {
		return ErrResponseWritten
	}
	c.written = true
	return c.ex.Writer().WriteResponse(c.statusCode, c.responseHeaders.All(), c.responseBody.Bytes())
}

// Written reports whether the response was flushed.
func (c *Context) Written() bool { return c.written }

// Set stores a key-value pair in the context.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any, 8)
	}
	c.values[key] = value
}

// Get retrieves a value from the context by key.
func (c *Context) Get(key string) (any, bool) {
	if c.values == nil {
		return nil, false
	}
	val, ok := c.values[key]
	return val, ok
}

// MustGet retrieves a value from the context by key, panicking if not found.
func (c *Context) MustGet(key string) any {
	if val, ok := c.Get(key); ok {
		return val
	}
	panic(fmt.Sprintf("key %q not found in context", key))
}

// Query returns the query parameter value for the given key.
func (c *Context) Query(key string) string {
	return parseQuery(c.rawQuery, key)
}

// QueryDefault returns the query parameter value or a default if not found.
func (c *Context) QueryDefault(key, defaultValue string) string {
	if value := c.Query(key); value != "" {
		return value
	}
	return defaultValue
}

// QueryInt returns the query parameter value as an integer.
func (c *Context) QueryInt(key string) (int, error) {
	value := c.Query(key)
	if value == "" {
		return 0, fmt.Errorf("query parameter %q not found", key)
	}
	return strconv.Atoi(value)
}

// QueryBool returns the query parameter value as a boolean.
func (c *Context) QueryBool(key string) bool {
	value := c.Query(key)
	b, _ := strconv.ParseBool(value)
	return b
}

// parseQuery extracts a query parameter value from a query string.
func parseQuery(query, key string) string {
	for len(query) > 0 {
		end := strings.IndexByte(query, '&')
		if end == -1 {
			end = len(query)
		}

		pair := query[:end]
		query = query[end:]
		if len(query) > 0 {
			query = query[1:] // skip &
		}

		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		if name, err := url.QueryUnescape(name); err == nil && name == key {
			value, _ = url.QueryUnescape(value)
			return value
		}
	}
	return ""
}

// Cookie returns the value of the cookie with the given name.
func (c *Context) Cookie(name string) string {
	return parseCookie(c.Header().Get("cookie"), name)
}

// parseCookie returns the unescaped value of name in a Cookie header.
func parseCookie(cookieHeader, name string) string {
	for _, cookie := range strings.Split(cookieHeader, ";") {
		cookie = strings.TrimSpace(cookie)
		parts := strings.SplitN(cookie, "=", 2)
		if len(parts) == 2 && parts[0] == name {
			value, _ := url.QueryUnescape(parts[1])
			return value
		}
	}
	return ""
}

// SetCookie adds a Set-Cookie header to the response.
func (c *Context) SetCookie(cookie *http.Cookie) {
	c.responseHeaders.Add("set-cookie", cookie.String())
}

// Param returns the value of the URL parameter (from router).
func (c *Context) Param(name string) string {
	if val, ok := c.Get(name); ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
