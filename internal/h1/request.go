package h1

import (
	"errors"
	"strconv"

	"golang.org/x/net/http/httpguts"
)

// ErrConflictingContentLength is returned when repeated Content-Length
// fields disagree.
var ErrConflictingContentLength = errors.New("h1: conflicting content-length values")

// Method is the closed set of request methods the parser accepts.
type Method uint8

const (
	MethodGet Method = iota + 1
	MethodHead
	MethodPost
	MethodPut
	MethodDelete
	MethodOptions
	MethodPatch
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodHead:
		return "HEAD"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodOptions:
		return "OPTIONS"
	case MethodPatch:
		return "PATCH"
	default:
		return ""
	}
}

// Span is a half-open [Start, End) byte range into the accumulation buffer.
// Spans are offsets, not slices, so they survive buffer growth.
type Span struct {
	Start int
	End   int
}

// Len returns the span length.
func (s Span) Len() int { return s.End - s.Start }

// Bytes resolves the span against buf. It returns nil when the span does not
// lie within buf.
func (s Span) Bytes(buf []byte) []byte {
	if s.Start < 0 || s.End < s.Start || s.End > len(buf) {
		return nil
	}
	return buf[s.Start:s.End]
}

// Header is a captured header field. Value excludes surrounding whitespace.
type Header struct {
	Name  Span
	Value Span
}

// maxHeaderFields bounds how many header fields one request may carry.
const maxHeaderFields = 128

// Request is assembled progressively from parser callbacks. It holds spans
// only; resolve them against the buffer that was parsed.
type Request struct {
	Method Method
	// Target covers the whole request-target, query included.
	Target   Span
	Segments []Span
	Query    Span
	HasQuery bool
	Headers  []Header
	// HeadersComplete is set once the empty line was seen.
	HeadersComplete bool
}

var _ Callbacks = (*Request)(nil)

// Reset clears the request fields for reuse.
func (r *Request) Reset() {
	r.Method = 0
	r.Target = Span{}
	r.Segments = r.Segments[:0]
	r.Query = Span{}
	r.HasQuery = false
	r.Headers = r.Headers[:0]
	r.HeadersComplete = false
}

func (r *Request) OnMethod(m Method) error {
	r.Method = m
	return nil
}

func (r *Request) OnTargetSegment(segment Span) error {
	if len(r.Segments) == 0 {
		// The leading '/' precedes the first segment.
		r.Target.Start = segment.Start - 1
	}
	r.Segments = append(r.Segments, segment)
	r.Target.End = segment.End
	return nil
}

func (r *Request) OnTargetQuery(query Span) error {
	r.Query = query
	r.HasQuery = true
	r.Target.End = query.End
	return nil
}

func (r *Request) OnTargetFinished() error { return nil }

func (r *Request) OnStatusLineFinished() error { return nil }

func (r *Request) OnHeaderField(name, value Span) error {
	if len(r.Headers) >= maxHeaderFields {
		return parseError(KindRequestHeaderFieldsTooLarge, name.Start)
	}
	r.Headers = append(r.Headers, Header{Name: name, Value: value})
	return nil
}

func (r *Request) OnHeadersFinished() error {
	r.HeadersComplete = true
	return nil
}

// Path returns the request path without the query.
func (r *Request) Path(buf []byte) string {
	p := r.Target
	if r.HasQuery {
		p.End = r.Query.Start - 1
	}
	return string(p.Bytes(buf))
}

// RawQuery returns the undecoded query, without the '?'.
func (r *Request) RawQuery(buf []byte) string {
	if !r.HasQuery {
		return ""
	}
	return string(r.Query.Bytes(buf))
}

// Header returns the value of the first header named name (ASCII
// case-insensitive) and whether it was present.
func (r *Request) Header(buf []byte, name string) ([]byte, bool) {
	for _, h := range r.Headers {
		if asciiEqualFold(h.Name.Bytes(buf), name) {
			return h.Value.Bytes(buf), true
		}
	}
	return nil, false
}

// KeepAlive reports whether the connection may serve another request.
// HTTP/1.1 defaults to persistent connections; a "close" token in any
// Connection field ends it.
func (r *Request) KeepAlive(buf []byte) bool {
	var values []string
	for _, h := range r.Headers {
		if asciiEqualFold(h.Name.Bytes(buf), "Connection") {
			values = append(values, string(h.Value.Bytes(buf)))
		}
	}
	return !httpguts.HeaderValuesContainsToken(values, "close")
}

// ContentLength returns the declared body length, or -1 when absent.
// Repeated fields must all carry the same value.
func (r *Request) ContentLength(buf []byte) (int64, error) {
	length := int64(-1)
	for _, h := range r.Headers {
		if !asciiEqualFold(h.Name.Bytes(buf), "Content-Length") {
			continue
		}
		n, ok := parseInt64Bytes(h.Value.Bytes(buf))
		if !ok {
			return 0, strconv.ErrSyntax
		}
		if length >= 0 && n != length {
			return 0, ErrConflictingContentLength
		}
		length = n
	}
	return length, nil
}

// HasTransferEncoding reports whether the request declares a
// Transfer-Encoding, which this server does not decode.
func (r *Request) HasTransferEncoding(buf []byte) bool {
	_, ok := r.Header(buf, "Transfer-Encoding")
	return ok
}

// asciiEqualFold reports whether b equals s under ASCII case-insensitive comparison
func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		cb := b[i]
		cs := s[i]
		if 'A' <= cb && cb <= 'Z' {
			cb |= 0x20
		}
		if 'A' <= cs && cs <= 'Z' {
			cs |= 0x20
		}
		if cb != cs {
			return false
		}
	}
	return true
}

// parseInt64Bytes parses a base-10 int64 from ASCII bytes, returning ok=false on error
func parseInt64Bytes(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}
