package tlsedge

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

	"github.com/albertbausili/tlsedge/internal/session"
	"github.com/albertbausili/tlsedge/internal/tlspump"
	"github.com/albertbausili/tlsedge/internal/tlstest"
)

// harness serves one in-memory TLS connection through handler without an
// event loop.
type harness struct {
	conn   *session.Conn
	client *tls.Conn
	reader *bufio.Reader
}

func newHarness(t *testing.T, handler Handler) *harness {
	t.Helper()
	serverCfg, clientCfg := tlstest.Configs(t)
	p := tlstest.NewPipe()
	c := session.New(context.Background(), p.Server(), nil, tlspump.NewSession(serverCfg),
		&exchangeHandler{handler: handler}, session.Config{Logger: log.New(io.Discard, "", 0)})
	client := tls.Client(p.Client(), clientCfg)
	t.Cleanup(func() {
		p.Shutdown()
		c.Close()
	})

	h := &harness{conn: c, client: client, reader: bufio.NewReader(client)}
	errc := make(chan error, 1)
	go func() { errc <- client.Handshake() }()
	h.serveUntil(t, c.TLS().HandshakeComplete)
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

func (h *harness) serveUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out servicing the connection")
		}
		if _, err := h.conn.Service(); errors.Is(err, session.ErrClosed) {
			return
		} else if err != nil {
			t.Fatalf("Service: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
}

// do sends raw, serves it and reads one response.
func (h *harness) do(t *testing.T, raw string) (*http.Response, string) {
	t.Helper()
	method, _, _ := strings.Cut(raw, " ")
	served := h.conn.Served()
	if _, err := io.WriteString(h.client, raw); err != nil {
		t.Fatalf("client write: %v", err)
	}
	h.serveUntil(t, func() bool { return h.conn.Served() > served })
	// Flush whatever the handler queued.
	if _, err := h.conn.Service(); err != nil && !errors.Is(err, session.ErrClosed) {
		t.Fatalf("Service: %v", err)
	}

	resp, err := http.ReadResponse(h.reader, &http.Request{Method: method})
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

// serve answers a single raw request with handler.
func serve(t *testing.T, handler Handler, raw string) (*http.Response, string) {
	t.Helper()
	return newHarness(t, handler).do(t, raw)
}

// get builds a GET request for path with extra header lines.
func get(path string, headers ...string) string {
	raw := "GET " + path + " HTTP/1.1\r\nHost: edge.test\r\n"
	for _, h := range headers {
		raw += h + "\r\n"
	}
	return raw + "\r\n"
}
