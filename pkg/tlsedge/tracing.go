package tlsedge

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig defines the configuration options for the OpenTelemetry tracing middleware.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "tlsedge")
	TracerName string
	// TracerProvider creates the tracer (default: the global provider)
	TracerProvider trace.TracerProvider
	// SkipPaths lists paths to skip tracing (e.g., health checks)
	SkipPaths []string
	// Propagator is the propagation format (default: TraceContext)
	Propagator propagation.TextMapPropagator
}

// DefaultTracingConfig returns a TracingConfig with sensible defaults.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		TracerName: "tlsedge",
		SkipPaths:  []string{"/health", "/metrics"},
		Propagator: propagation.TraceContext{},
	}
}

// Tracing returns a middleware that adds OpenTelemetry tracing to HTTP requests.
// It uses default configuration settings and skips tracing for health and metrics endpoints.
func Tracing() Middleware {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig returns a middleware that adds OpenTelemetry tracing with custom configuration.
// It creates a server span per request, continuing a trace propagated in
// the request headers, and records the negotiated TLS parameters on it.
func TracingWithConfig(config TracingConfig) Middleware {
	if config.TracerName == "" {
		config.TracerName = "tlsedge"
	}
	if config.Propagator == nil {
		config.Propagator = propagation.TraceContext{}
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}

	skipMap := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}

	tracer := config.TracerProvider.Tracer(config.TracerName)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			if skipMap[ctx.Path()] {
				return next.Serve(ctx)
			}

			carrier := &headerCarrier{headers: ctx.Header()}
			parentCtx := config.Propagator.Extract(ctx.Context(), carrier)

			spanCtx, span := tracer.Start(
				parentCtx,
				ctx.Method()+" "+ctx.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("http.method", ctx.Method()),
				attribute.String("http.target", ctx.Path()),
				attribute.String("http.scheme", "https"),
				attribute.String("http.host", ctx.Host()),
				attribute.Int("http.request_content_length", len(ctx.Body())),
				attribute.String("tls.next_protocol", ctx.ALPN()),
				attribute.String("tls.client.server_name", ctx.SNI()),
				attribute.String("tls.protocol.version", ctx.TLSVersionName()),
			)
			if addr := ctx.RemoteAddr(); addr != nil {
				span.SetAttributes(attribute.String("net.peer.addr", addr.String()))
			}
			if reqID, ok := ctx.Get("request-id"); ok {
				if reqIDStr, ok := reqID.(string); ok {
					span.SetAttributes(attribute.String("http.request_id", reqIDStr))
				}
			}

			originalCtx := ctx.Context()
			ctx.SetContext(spanCtx)
			err := next.Serve(ctx)
			ctx.SetContext(originalCtx)

			span.SetAttributes(attribute.Int("http.status_code", ctx.Status()))
			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case ctx.Status() >= 500:
				span.SetStatus(codes.Error, "HTTP error")
			default:
				span.SetStatus(codes.Ok, "")
			}

			return err
		})
	}
}

// headerCarrier adapts Headers to propagation.TextMapCarrier.
type headerCarrier struct {
	headers *Headers
}

func (hc *headerCarrier) Get(key string) string {
	return hc.headers.Get(key)
}

func (hc *headerCarrier) Set(key, value string) {
	hc.headers.Set(key, value)
}

func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.headers.headers))
	for _, h := range hc.headers.headers {
		keys = append(keys, h[0])
	}
	return keys
}
