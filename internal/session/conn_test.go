package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/albertbausili/tlsedge/internal/h1"
	"github.com/albertbausili/tlsedge/internal/poll"
	"github.com/albertbausili/tlsedge/internal/tlspump"
	"github.com/albertbausili/tlsedge/internal/tlstest"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	host   string
	body   string
	alpn   string
	sni    string
}

type recordingHandler struct {
	seen []recordedRequest
	err  error
}

func (h *recordingHandler) ServeExchange(ex *Exchange) error {
	req, buf := ex.Request(), ex.Buffer()
	host, _ := req.Header(buf, "Host")
	h.seen = append(h.seen, recordedRequest{
		method: req.Method.String(),
		path:   req.Path(buf),
		query:  req.RawQuery(buf),
		host:   string(host),
		body:   string(ex.Body()),
		alpn:   ex.ALPN(),
		sni:    ex.SNI(),
	})
	if h.err != nil {
		return h.err
	}
	return ex.Writer().WriteResponse(200, [][2]string{{"content-type", "text/plain"}}, []byte("ok:"+req.Path(buf)))
}

type harness struct {
	conn   *Conn
	pipe   *tlstest.Pipe
	client *tls.Conn
	reader *bufio.Reader
}

func newHarness(t *testing.T, handler Handler, config Config) *harness {
	t.Helper()
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	serverCfg, clientCfg := tlstest.Configs(t)
	p := tlstest.NewPipe()
	c := New(context.Background(), p.Server(), nil, tlspump.NewSession(serverCfg), handler, config)
	client := tls.Client(p.Client(), clientCfg)
	t.Cleanup(func() {
		p.Shutdown()
		c.Close()
	})

	h := &harness{conn: c, pipe: p, client: client, reader: bufio.NewReader(client)}
	errc := make(chan error, 1)
	go func() { errc <- client.Handshake() }()
	if err := h.serveUntil(t, c.TLS().HandshakeComplete); err != nil {
		t.Fatalf("Service during handshake: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("client handshake: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client handshake timed out")
	}
	return h
}

// serveUntil calls Service like an event loop until cond holds or Service
// fails.
func (h *harness) serveUntil(t *testing.T, cond func() bool) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out servicing the connection")
		}
		if _, err := h.conn.Service(); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

func (h *harness) send(t *testing.T, raw string) {
	t.Helper()
	if _, err := h.client.Write([]byte(raw)); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func (h *harness) served(n int) func() bool {
	return func() bool { return h.conn.Served() >= n }
}

func (h *harness) response(t *testing.T) (*http.Response, string) {
	t.Helper()
	resp, err := http.ReadResponse(h.reader, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, string(body)
}

func TestServeSingleRequest(t *testing.T) {
	handler := &recordingHandler{}
	h := newHarness(t, handler, Config{})

	h.send(t, "GET /foo/bar?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if err := h.serveUntil(t, h.served(1)); err != nil {
		t.Fatalf("Service: %v", err)
	}
	// Flush the queued response.
	if _, err := h.conn.Service(); err != nil {
		t.Fatalf("Service: %v", err)
	}

	want := recordedRequest{method: "GET", path: "/foo/bar", query: "x=1", host: "example.com", alpn: "http/1.1", sni: tlstest.ServerName}
	if len(handler.seen) != 1 || handler.seen[0] != want {
		t.Fatalf("Expected %+v, got %+v", want, handler.seen)
	}

	resp, body := h.response(t)
	if resp.StatusCode != 200 || body != "ok:/foo/bar" {
		t.Errorf("Expected 200 ok:/foo/bar, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Date") == "" {
		t.Error("Expected a Date header")
	}
	if resp.Close {
		t.Error("Expected a keep-alive response")
	}
}

func TestServePipelined(t *testing.T) {
	handler := &recordingHandler{}
	h := newHarness(t, handler, Config{})

	h.send(t, "GET /one HTTP/1.1\r\nHost: a\r\n\r\nHEAD /two HTTP/1.1\r\nHost: a\r\n\r\nGET /three HTTP/1.1\r\nHost: a\r\n\r\n")
	if err := h.serveUntil(t, h.served(3)); err != nil {
		t.Fatalf("Service: %v", err)
	}

	for i, path := range []string{"/one", "/two", "/three"} {
		if handler.seen[i].path != path {
			t.Errorf("Request %d: expected %s, got %s", i, path, handler.seen[i].path)
		}
	}

	_, body := h.response(t)
	if body != "ok:/one" {
		t.Errorf("Expected ok:/one, got %q", body)
	}
	resp, err := http.ReadResponse(h.reader, &http.Request{Method: "HEAD"})
	if err != nil {
		t.Fatalf("read HEAD response: %v", err)
	}
	if resp.ContentLength != int64(len("ok:/two")) {
		t.Errorf("Expected HEAD content-length %d, got %d", len("ok:/two"), resp.ContentLength)
	}
	_ = resp.Body.Close()
	if _, body := h.response(t); body != "ok:/three" {
		t.Errorf("Expected ok:/three, got %q", body)
	}
}

func TestServeByteAtATime(t *testing.T) {
	handler := &recordingHandler{}
	h := newHarness(t, handler, Config{})

	raw := "POST /upload/x HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(raw); i++ {
		h.send(t, raw[i:i+1])
		if _, err := h.conn.Service(); err != nil {
			t.Fatalf("Service after byte %d: %v", i, err)
		}
		if i < len(raw)-1 && h.conn.Served() != 0 {
			t.Fatalf("Request served early after byte %d", i)
		}
	}
	if err := h.serveUntil(t, h.served(1)); err != nil {
		t.Fatalf("Service: %v", err)
	}
	if got := handler.seen[0]; got.path != "/upload/x" || got.body != "hello" || got.host != "example.com" {
		t.Errorf("Unexpected request %+v", got)
	}
}

func TestServeConnectionClose(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{})

	h.send(t, "GET /bye HTTP/1.1\r\nHost: a\r\nConnection: close\r\n\r\n")
	err := h.serveUntil(t, func() bool { return false })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	resp, body := h.response(t)
	if !resp.Close || body != "ok:/bye" {
		t.Errorf("Expected a closing ok:/bye response, got close=%v %q", resp.Close, body)
	}
	if _, err := h.reader.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected close_notify after the response, got %v", err)
	}
}

func TestServeDisableKeepAlive(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{DisableKeepAlive: true})
	h.send(t, "GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	if err := h.serveUntil(t, func() bool { return false }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if resp, _ := h.response(t); !resp.Close {
		t.Error("Expected connection: close")
	}
}

func TestServeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		status int
		target error
	}{
		{"method", "TRACE / HTTP/1.1\r\n\r\n", 405, h1.ErrMethodNotAllowed},
		{"fragment", "GET /*#frag HTTP/1.1\r\n\r\n", 400, h1.ErrBadRequest},
		{"version", "GET / HTTP/1.0\r\n\r\n", 505, h1.ErrHTTPVersionNotSupported},
		{"long header", "GET / HTTP/1.1\r\n" + strings.Repeat("n", 2000) + ": v\r\n\r\n", 431, h1.ErrRequestHeaderFieldsTooLarge},
		{"chunked", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n", 501, ErrUnsupportedTransferEncoding},
		{"content length", "POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n", 400, ErrInvalidContentLength},
		{"conflicting content length", "POST / HTTP/1.1\r\nContent-Length: 1\r\nContent-Length: 2\r\n\r\nab", 400, ErrInvalidContentLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &recordingHandler{}
			h := newHarness(t, handler, Config{})
			h.send(t, tt.raw)
			err := h.serveUntil(t, func() bool { return false })
			if !errors.Is(err, tt.target) {
				t.Fatalf("Expected %v, got %v", tt.target, err)
			}
			if len(handler.seen) != 0 {
				t.Errorf("Handler called for a malformed request: %+v", handler.seen)
			}
			resp, _ := h.response(t)
			if resp.StatusCode != tt.status || !resp.Close {
				t.Errorf("Expected closing %d, got %d (close=%v)", tt.status, resp.StatusCode, resp.Close)
			}
		})
	}
}

func TestServeBufferLimit(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{MaxBuffer: 4096})

	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 10; i++ {
		b.WriteString("X-Pad: " + strings.Repeat("p", 500) + "\r\n")
	}
	b.WriteString("\r\n")
	h.send(t, b.String())

	err := h.serveUntil(t, func() bool { return false })
	if !errors.Is(err, ErrReadBufferLengthExceeded) {
		t.Fatalf("Expected ErrReadBufferLengthExceeded, got %v", err)
	}
	if resp, _ := h.response(t); resp.StatusCode != 431 {
		t.Errorf("Expected 431, got %d", resp.StatusCode)
	}
}

func TestServeBodyTooLarge(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{MaxBuffer: 4096})
	h.send(t, "POST / HTTP/1.1\r\nContent-Length: 10000\r\n\r\n")
	err := h.serveUntil(t, func() bool { return false })
	if !errors.Is(err, ErrReadBufferLengthExceeded) {
		t.Fatalf("Expected ErrReadBufferLengthExceeded, got %v", err)
	}
	if resp, _ := h.response(t); resp.StatusCode != 413 {
		t.Errorf("Expected 413, got %d", resp.StatusCode)
	}
}

func TestServeHandlerError(t *testing.T) {
	h := newHarness(t, &recordingHandler{err: errors.New("boom")}, Config{})
	h.send(t, "GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	if err := h.serveUntil(t, func() bool { return false }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if resp, _ := h.response(t); resp.StatusCode != 500 || !resp.Close {
		t.Errorf("Expected closing 500, got %d", resp.StatusCode)
	}
}

func TestServeEmptyHandler(t *testing.T) {
	h := newHarness(t, HandlerFunc(func(*Exchange) error { return nil }), Config{})
	h.send(t, "GET / HTTP/1.1\r\nHost: a\r\n\r\n")
	if err := h.serveUntil(t, h.served(1)); err != nil {
		t.Fatalf("Service: %v", err)
	}
	if _, err := h.conn.Service(); err != nil {
		t.Fatalf("Service: %v", err)
	}
	if resp, body := h.response(t); resp.StatusCode != 200 || body != "" {
		t.Errorf("Expected an empty 200, got %d %q", resp.StatusCode, body)
	}
}

func TestServeIdleInterest(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{})
	in, err := h.conn.Service()
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if in != poll.Readable {
		t.Errorf("Expected readable interest on an idle connection, got %v", in)
	}
}

func TestServePeerClosed(t *testing.T) {
	h := newHarness(t, &recordingHandler{}, Config{})
	if err := h.client.Close(); err != nil {
		t.Fatalf("client close: %v", err)
	}
	err := h.serveUntil(t, func() bool { return false })
	if !errors.Is(err, tlspump.ErrEndOfFile) {
		t.Errorf("Expected ErrEndOfFile, got %v", err)
	}
}
