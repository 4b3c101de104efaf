package tlsedge

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus(t *testing.T) {
	handler := Prometheus()(HandlerFunc(func(ctx *Context) error {
		return ctx.Plain(202, "accepted")
	}))

	requests := httpRequestsTotal.WithLabelValues("GET", "/metered", "202")
	tlsRequests := tlsRequestsTotal.WithLabelValues("TLS 1.3")
	before, beforeTLS := testutil.ToFloat64(requests), testutil.ToFloat64(tlsRequests)

	h := newHarness(t, handler)
	for i := 0; i < 3; i++ {
		if resp, _ := h.do(t, get("/metered")); resp.StatusCode != 202 {
			t.Fatalf("Expected status 202, got %d", resp.StatusCode)
		}
	}

	if got := testutil.ToFloat64(requests) - before; got != 3 {
		t.Errorf("Expected 3 requests counted, got %v", got)
	}
	if got := testutil.ToFloat64(tlsRequests) - beforeTLS; got != 3 {
		t.Errorf("Expected 3 TLS 1.3 requests counted, got %v", got)
	}
	if got := testutil.ToFloat64(httpRequestsInFlight); got != 0 {
		t.Errorf("Expected no requests in flight, got %v", got)
	}
}

func TestPrometheusSkipPaths(t *testing.T) {
	handler := PrometheusWithConfig(PrometheusConfig{SkipPaths: []string{"/metrics"}})(
		HandlerFunc(func(*Context) error { return nil }))

	requests := httpRequestsTotal.WithLabelValues("GET", "/metrics", "200")
	before := testutil.ToFloat64(requests)
	serve(t, handler, get("/metrics"))
	if got := testutil.ToFloat64(requests) - before; got != 0 {
		t.Errorf("Expected skipped path not to be counted, got %v", got)
	}
}
