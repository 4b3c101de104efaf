package h1

import (
	"errors"
	"strconv"
	"testing"

	"github.com/albertbausili/tlsedge/internal/cursor"
)

func parseRequest(t *testing.T, raw string) (*Request, []byte) {
	t.Helper()
	buf := []byte(raw)
	req := &Request{}
	p := NewParser()
	done, err := p.Parse(cursor.New(buf), req)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", raw, err)
	}
	if !done {
		t.Fatalf("Parse(%q) incomplete", raw)
	}
	return req, buf
}

func TestRequestAssembly(t *testing.T) {
	req, buf := parseRequest(t, "POST /api/users?id=1&x=/y HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\n")

	if req.Method != MethodPost {
		t.Errorf("Expected method POST, got %s", req.Method)
	}
	if got := string(req.Target.Bytes(buf)); got != "/api/users?id=1&x=/y" {
		t.Errorf("Expected target /api/users?id=1&x=/y, got %s", got)
	}
	if got := req.Path(buf); got != "/api/users" {
		t.Errorf("Expected path /api/users, got %s", got)
	}
	if got := req.RawQuery(buf); got != "id=1&x=/y" {
		t.Errorf("Expected query id=1&x=/y, got %s", got)
	}
	if len(req.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(req.Segments))
	}
	if !req.HeadersComplete {
		t.Error("Expected headers to be complete")
	}
	if v, ok := req.Header(buf, "host"); !ok || string(v) != "example.com" {
		t.Errorf("Expected host example.com, got %q (present %v)", v, ok)
	}
	n, err := req.ContentLength(buf)
	if err != nil || n != 5 {
		t.Errorf("Expected content length 5, got %d (%v)", n, err)
	}
}

func TestRequestRootPath(t *testing.T) {
	req, buf := parseRequest(t, "GET / HTTP/1.1\r\n\r\n")
	if got := req.Path(buf); got != "/" {
		t.Errorf("Expected path /, got %q", got)
	}
	if req.HasQuery || req.RawQuery(buf) != "" {
		t.Error("Expected no query")
	}
	if n, err := req.ContentLength(buf); n != -1 || err != nil {
		t.Errorf("Expected absent content length, got %d (%v)", n, err)
	}
}

func TestRequestEmptyQuery(t *testing.T) {
	req, buf := parseRequest(t, "GET /a? HTTP/1.1\r\n\r\n")
	if !req.HasQuery {
		t.Error("Expected HasQuery for a trailing '?'")
	}
	if got := req.Path(buf); got != "/a" {
		t.Errorf("Expected path /a, got %q", got)
	}
}

func TestRequestKeepAlive(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"default", "", true},
		{"explicit keep-alive", "Connection: keep-alive\r\n", true},
		{"close", "Connection: close\r\n", false},
		{"close mixed case", "connection: Keep-Alive, CLOSE\r\n", false},
		{"close in a later field", "Connection: keep-alive\r\nConnection: close\r\n", false},
		{"token containing close", "Connection: closed, enclose\r\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, buf := parseRequest(t, "GET / HTTP/1.1\r\n"+tt.header+"\r\n")
			if got := req.KeepAlive(buf); got != tt.want {
				t.Errorf("Expected KeepAlive %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRequestContentLengthInvalid(t *testing.T) {
	for _, v := range []string{"abc", "-1", "1 2", "1234567890123456789"} {
		req, buf := parseRequest(t, "POST / HTTP/1.1\r\nContent-Length: "+v+"\r\n\r\n")
		if _, err := req.ContentLength(buf); !errors.Is(err, strconv.ErrSyntax) {
			t.Errorf("Content-Length %q: expected ErrSyntax, got %v", v, err)
		}
	}
}

func TestRequestRepeatedContentLength(t *testing.T) {
	req, buf := parseRequest(t, "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\n")
	if n, err := req.ContentLength(buf); n != 3 || err != nil {
		t.Errorf("Expected matching repeats to give 3, got %d (%v)", n, err)
	}

	req, buf = parseRequest(t, "POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 30\r\n\r\n")
	if _, err := req.ContentLength(buf); !errors.Is(err, ErrConflictingContentLength) {
		t.Errorf("Expected ErrConflictingContentLength, got %v", err)
	}
}

func TestRequestTransferEncoding(t *testing.T) {
	req, buf := parseRequest(t, "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n")
	if !req.HasTransferEncoding(buf) {
		t.Error("Expected transfer encoding to be detected")
	}
}

func TestRequestTooManyHeaders(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n"
	for i := 0; i <= maxHeaderFields; i++ {
		raw += "X-" + strconv.Itoa(i) + ": v\r\n"
	}
	raw += "\r\n"

	req := &Request{}
	_, err := NewParser().Parse(cursor.New([]byte(raw)), req)
	if !errors.Is(err, ErrRequestHeaderFieldsTooLarge) {
		t.Fatalf("Expected ErrRequestHeaderFieldsTooLarge, got %v", err)
	}
	if len(req.Headers) != maxHeaderFields {
		t.Errorf("Expected %d stored headers, got %d", maxHeaderFields, len(req.Headers))
	}
}

func TestRequestReset(t *testing.T) {
	req, _ := parseRequest(t, "GET /a?b HTTP/1.1\r\nHost: h\r\n\r\n")
	req.Reset()
	if req.Method != 0 || req.HasQuery || req.HeadersComplete || len(req.Segments) != 0 || len(req.Headers) != 0 {
		t.Errorf("Expected a zeroed request, got %+v", req)
	}
}

func TestSpanBytesOutOfRange(t *testing.T) {
	buf := []byte("abc")
	if b := (Span{1, 5}).Bytes(buf); b != nil {
		t.Errorf("Expected nil, got %q", b)
	}
	if b := (Span{2, 1}).Bytes(buf); b != nil {
		t.Errorf("Expected nil, got %q", b)
	}
	if b := (Span{1, 3}).Bytes(buf); string(b) != "bc" {
		t.Errorf("Expected bc, got %q", b)
	}
}
