//go:build linux

package tlsedge

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

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

func TestServerEngines(t *testing.T) {
	tests := []struct {
		name    string
		engine  Engine
		workers int
	}{
		{"epoll", EngineEpoll, 2},
		{"epoll acceptor only", EngineEpoll, 0},
		{"gnet", EngineGnet, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverTLS, clientTLS := tlstest.Configs(t)
			router := NewRouter()
			router.GET("/hello/:name", func(ctx *Context) error {
				return ctx.String(200, "hello %s over %s", ctx.Param("name"), ctx.ALPN())
			})

			config := DefaultConfig()
			config.Addr = freePort(t)
			config.TLSConfig = serverTLS
			config.Engine = tt.engine
			config.Workers = tt.workers
			config.PollTimeout = 10 * time.Millisecond
			s, err := New(config)
			if err != nil {
				t.Fatal(err)
			}
			s.Handler(router)

			done := make(chan error, 1)
			go func() { done <- s.Run(context.Background()) }()
			select {
			case <-s.Ready():
			case err := <-done:
				t.Fatalf("Run: %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not become ready")
			}

			c, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", s.Addr().String(), clientTLS)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			_ = c.SetDeadline(time.Now().Add(5 * time.Second))

			r := bufio.NewReader(c)
			for _, name := range []string{"ada", "grace"} {
				if _, err := io.WriteString(c, "GET /hello/"+name+" HTTP/1.1\r\nHost: edge.test\r\n\r\n"); err != nil {
					t.Fatal(err)
				}
				resp, err := http.ReadResponse(r, nil)
				if err != nil {
					t.Fatalf("read response: %v", err)
				}
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				want := "hello " + name + " over http/1.1"
				if resp.StatusCode != 200 || string(body) != want {
					t.Errorf("Expected 200 %q, got %d %q", want, resp.StatusCode, body)
				}
			}
			if n := s.ActiveConnections(); n != 1 {
				t.Errorf("Expected 1 active connection, got %d", n)
			}
			_ = c.Close()

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Stop(stopCtx); err != nil {
				t.Errorf("Stop: %v", err)
			}
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("Run did not return after Stop")
			}
			if err := s.Run(context.Background()); err != ErrServerRunning {
				t.Errorf("Expected ErrServerRunning, got %v", err)
			}
		})
	}
}
