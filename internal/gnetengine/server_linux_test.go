//go:build linux

package gnetengine

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/albertbausili/tlsedge/internal/session"
	"github.com/albertbausili/tlsedge/internal/tlstest"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// startGnet boots a server on a loopback port and stops it when the test
// ends.
func startGnet(t *testing.T, handler session.Handler) (*Server, string, *tls.Config) {
	t.Helper()
	serverTLS, clientTLS := tlstest.Configs(t)
	addr := freePort(t)
	s, err := NewServer(context.Background(), Config{
		Addr:         addr,
		TLSConfig:    serverTLS,
		Handler:      handler,
		NumEventLoop: 2,
		Multicore:    true,
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run() }()
	select {
	case <-s.Ready():
	case err := <-done:
		t.Fatalf("Run: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("gnet did not boot")
	}
	t.Cleanup(func() {
		if err := s.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after Stop")
		}
	})
	return s, addr, clientTLS
}

func dialGnet(t *testing.T, addr string, config *tls.Config) *tls.Conn {
	t.Helper()
	c, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", addr, config)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	return c
}

func readBody(t *testing.T, r *bufio.Reader) (int, string) {
	t.Helper()
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServeOverGnet(t *testing.T) {
	s, addr, clientTLS := startGnet(t, okHandler)
	c := dialGnet(t, addr, clientTLS)

	r := bufio.NewReader(c)
	for i := 0; i < 3; i++ {
		if _, err := io.WriteString(c, "GET /ping HTTP/1.1\r\nHost: edge.test\r\n\r\n"); err != nil {
			t.Fatal(err)
		}
		if status, body := readBody(t, r); status != 200 || body != "ok" {
			t.Errorf("Expected 200 %q, got %d %q", "ok", status, body)
		}
	}
	if n := s.ActiveConnections(); n != 1 {
		t.Errorf("Expected 1 active connection, got %d", n)
	}
}

// lengthHandler answers with the size of the request body.
var lengthHandler = session.HandlerFunc(func(ex *session.Exchange) error {
	return ex.Writer().WriteResponse(200, nil, []byte(strconv.Itoa(len(ex.Body()))))
})

func TestGnetBodyAcrossRecords(t *testing.T) {
	_, addr, clientTLS := startGnet(t, lengthHandler)
	c := dialGnet(t, addr, clientTLS)

	// Several TLS records and more than one pump read, sent in one write.
	const size = 40000
	req := "POST /upload HTTP/1.1\r\nHost: edge.test\r\nContent-Length: " + strconv.Itoa(size) + "\r\n\r\n" + strings.Repeat("x", size)
	if _, err := io.WriteString(c, req); err != nil {
		t.Fatal(err)
	}
	if status, body := readBody(t, bufio.NewReader(c)); status != 200 || body != strconv.Itoa(size) {
		t.Errorf("Expected 200 %d, got %d %q", size, status, body)
	}
}

func TestGnetPipelinedBurst(t *testing.T) {
	_, addr, clientTLS := startGnet(t, okHandler)
	c := dialGnet(t, addr, clientTLS)

	const n = 600
	burst := strings.Repeat("GET /ping HTTP/1.1\r\nHost: edge.test\r\n\r\n", n)
	errc := make(chan error, 1)
	go func() {
		_, err := io.WriteString(c, burst)
		errc <- err
	}()

	r := bufio.NewReader(c)
	for i := 0; i < n; i++ {
		if status, body := readBody(t, r); status != 200 || body != "ok" {
			t.Fatalf("response %d: expected 200 %q, got %d %q", i, "ok", status, body)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("write burst: %v", err)
	}
}
