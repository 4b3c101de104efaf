package tlsedge

import (
	"context"
	"errors"
	"testing"

	"github.com/albertbausili/tlsedge/internal/tlstest"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected New to reject a config without TLS")
	}
}

func TestRunRequiresHandler(t *testing.T) {
	serverTLS, _ := tlstest.Configs(t)
	s, err := New(Config{TLSConfig: serverTLS})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("Expected Run to fail without a handler")
	}
}

func TestStopBeforeRun(t *testing.T) {
	serverTLS, _ := tlstest.Configs(t)
	s, err := New(Config{TLSConfig: serverTLS})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Expected Stop on an idle server to succeed, got %v", err)
	}
	if n := s.ActiveConnections(); n != 0 {
		t.Errorf("Expected 0 active connections, got %d", n)
	}
}

func TestExchangeHandlerRendersUnhandledErrors(t *testing.T) {
	handler := HandlerFunc(func(ctx *Context) error {
		_, _ = ctx.WriteString("half")
		return NewHTTPError(503, "draining")
	})
	resp, body := serve(t, handler, get("/"))
	if resp.StatusCode != 503 || body != "draining" {
		t.Errorf("Expected 503 draining, got %d %q", resp.StatusCode, body)
	}
}

func TestExchangeHandlerKeepsFlushedResponse(t *testing.T) {
	handler := HandlerFunc(func(ctx *Context) error {
		if err := ctx.Plain(200, "sent"); err != nil {
			return err
		}
		if err := ctx.Flush(); err != nil {
			return err
		}
		return errors.New("late failure")
	})
	h := newHarness(t, handler)
	resp, body := h.do(t, get("/"))
	if resp.StatusCode != 200 || body != "sent" {
		t.Errorf("Expected the flushed response, got %d %q", resp.StatusCode, body)
	}
}
