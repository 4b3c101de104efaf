package tlsedge

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
)

// LoggerConfig defines the configuration options for the Logger middleware.
type LoggerConfig struct {
	// Output specifies where logs are written (defaults to os.Stdout)
	Output io.Writer
	// Format specifies the log format: "json" or "text" (default: "text")
	Format string
	// SkipPaths lists paths to skip logging (e.g., health checks)
	SkipPaths []string
	// CustomFields allows adding custom fields to each log entry
	CustomFields func(ctx *Context) map[string]any
}

// DefaultLoggerConfig returns a LoggerConfig with sensible defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Output: os.Stdout,
		Format: "text",
	}
}

// Logger returns a middleware that logs one line per request to stdout.
func Logger() Middleware {
	return LoggerWithConfig(DefaultLoggerConfig())
}

// LoggerWithConfig returns a middleware that logs HTTP requests with custom configuration.
func LoggerWithConfig(config LoggerConfig) Middleware {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "text"
	}

	skipMap := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			if skipMap[ctx.Path()] {
				return next.Serve(ctx)
			}

			start := time.Now()
			err := next.Serve(ctx)
			duration := time.Since(start)

			remote := ""
			if addr := ctx.RemoteAddr(); addr != nil {
				remote = addr.String()
			}
			entry := map[string]any{
				"time":      start.Format(time.RFC3339),
				"method":    ctx.Method(),
				"path":      ctx.Path(),
				"status":    ctx.Status(),
				"duration":  duration.Milliseconds(),
				"remote_ip": remote,
				"tls":       ctx.TLSVersionName(),
			}
			if sni := ctx.SNI(); sni != "" {
				entry["sni"] = sni
			}
			if reqID, ok := ctx.Get("request-id"); ok {
				entry["request_id"] = reqID
			}
			if config.CustomFields != nil {
				for k, v := range config.CustomFields(ctx) {
					entry[k] = v
				}
			}
			if err != nil {
				entry["error"] = err.Error()
			}

			if config.Format == "json" {
				data, _ := json.Marshal(entry)
				_, _ = fmt.Fprintf(config.Output, "%s\n", data)
				return err
			}

			_, _ = fmt.Fprintf(config.Output, "[%s] %s %s %d %dms %s",
				entry["time"],
				entry["method"],
				entry["path"],
				entry["status"],
				entry["duration"],
				remote)
			if reqID, ok := entry["request_id"]; ok {
				_, _ = fmt.Fprintf(config.Output, " req_id=%v", reqID)
			}
			if err != nil {
				_, _ = fmt.Fprintf(config.Output, " error=%q", err.Error())
			}
			_, _ = fmt.Fprintln(config.Output)
			return err
		})
	}
}

// Recovery returns a middleware that turns a handler panic into a 500
// response.
func Recovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					ctx.resetResponse()
					err = ctx.Plain(500, "Internal Server Error")
				}
			}()

			return next.Serve(ctx)
		})
	}
}

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowOrigin      string
	AllowMethods     string
	AllowHeaders     string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns sensible CORS defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigin:  "*",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS, PATCH",
		AllowHeaders: "Accept, Content-Type, Content-Length, Authorization",
		MaxAge:       3600,
	}
}

// CORS returns a middleware that sets Cross-Origin Resource Sharing headers
// and answers preflight OPTIONS requests with 204.
func CORS(config CORSConfig) Middleware {
	defaults := DefaultCORSConfig()
	if config.AllowOrigin == "" {
		config.AllowOrigin = defaults.AllowOrigin
	}
	if config.AllowMethods == "" {
		config.AllowMethods = defaults.AllowMethods
	}
	if config.AllowHeaders == "" {
		config.AllowHeaders = defaults.AllowHeaders
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			ctx.SetHeader("access-control-allow-origin", config.AllowOrigin)
			ctx.SetHeader("access-control-allow-methods", config.AllowMethods)
			ctx.SetHeader("access-control-allow-headers", config.AllowHeaders)
			if config.AllowCredentials {
				ctx.SetHeader("access-control-allow-credentials", "true")
			}
			if config.MaxAge > 0 {
				ctx.SetHeader("access-control-max-age", strconv.Itoa(config.MaxAge))
			}

			if ctx.Method() == "OPTIONS" {
				return ctx.NoContent(204)
			}
			return next.Serve(ctx)
		})
	}
}

// RequestID returns a middleware that adds a unique request ID to each request.
// An incoming X-Request-ID header is kept; otherwise one is generated. The
// ID is stored under "request-id" and echoed in the response.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			requestID := ctx.Header().Get("x-request-id")
			if requestID == "" {
				requestID = generateRequestID()
			}

			ctx.Set("request-id", requestID)
			ctx.SetHeader("x-request-id", requestID)

			return next.Serve(ctx)
		})
	}
}

var requestIDCounter atomic.Uint64

func generateRequestID() string {
	counter := requestIDCounter.Add(1)

	var randomBytes [8]byte
	_, _ = rand.Read(randomBytes[:])
	randomNum := binary.BigEndian.Uint64(randomBytes[:])

	return fmt.Sprintf("%d-%d-%d", time.Now().UnixNano(), counter, randomNum)
}

// CompressConfig holds configuration for the Compress middleware.
type CompressConfig struct {
	// Level specifies the compression level (1-9 for gzip, 0-11 for brotli)
	Level int
	// MinSize specifies the minimum response size to compress (default: 1024 bytes)
	MinSize int
	// ExcludedTypes lists content types to skip compression
	ExcludedTypes []string
}

// DefaultCompressConfig returns a CompressConfig with sensible defaults.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		Level:   6, // balanced compression
		MinSize: 1024,
		ExcludedTypes: []string{
			"image/",
			"video/",
			"audio/",
			"application/zip",
			"application/gzip",
		},
	}
}

// Compress returns a middleware that compresses response bodies with brotli
// or gzip, preferring brotli.
func Compress() Middleware {
	return CompressWithConfig(DefaultCompressConfig())
}

// CompressWithConfig returns a middleware that compresses response bodies with custom configuration.
func CompressWithConfig(config CompressConfig) Middleware {
	if config.MinSize == 0 {
		config.MinSize = 1024
	}
	if config.Level == 0 {
		config.Level = 6
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			acceptEncoding := ctx.Header().Get("accept-encoding")
			supportsBrotli := acceptsEncoding(acceptEncoding, "br")
			supportsGzip := acceptsEncoding(acceptEncoding, "gzip")

			err := next.Serve(ctx)
			if err != nil || (!supportsBrotli && !supportsGzip) {
				return err
			}

			body := ctx.ResponseBody()
			if len(body) < config.MinSize || ctx.ResponseHeader().Has("content-encoding") {
				return nil
			}
			contentType := ctx.ResponseHeader().Get("content-type")
			for _, excluded := range config.ExcludedTypes {
				if strings.HasPrefix(contentType, excluded) {
					return nil
				}
			}

			var compressed bytes.Buffer
			encoding := "gzip"
			if supportsBrotli {
				encoding = "br"
				writer := brotli.NewWriterLevel(&compressed, config.Level)
				if _, werr := writer.Write(body); werr != nil {
					return nil
				}
				if werr := writer.Close(); werr != nil {
					return nil
				}
			} else {
				writer, werr := gzip.NewWriterLevel(&compressed, config.Level)
				if werr != nil {
					return nil
				}
				if _, werr := writer.Write(body); werr != nil {
					return nil
				}
				if werr := writer.Close(); werr != nil {
					return nil
				}
			}

			// Only use compressed version if it's actually smaller
			if compressed.Len() > 0 && compressed.Len() < len(body) {
				ctx.SetHeader("content-encoding", encoding)
				ctx.SetHeader("vary", "Accept-Encoding")
				ctx.SetResponseBody(compressed.Bytes())
			}
			return nil
		})
	}
}

// acceptsEncoding reports whether header lists coding without a zero q-value.
func acceptsEncoding(header, coding string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), coding) {
			continue
		}
		params = strings.ReplaceAll(params, " ", "")
		return params != "q=0" && params != "q=0.0" && params != "q=0.00" && params != "q=0.000"
	}
	return false
}

// RateLimiterConfig holds configuration for the RateLimiter middleware.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate allowed per key
	RequestsPerSecond int
	// BurstSize is the bucket capacity (default: 2x RequestsPerSecond)
	BurstSize int
	// KeyFunc identifies the client (default: TLS peer IP)
	KeyFunc func(ctx *Context) string
	// SkipPaths lists paths that are never limited
	SkipPaths []string
	// ErrorHandler answers a limited request (default: 429)
	ErrorHandler func(ctx *Context) error
	// IdleTTL drops buckets unused for this long (default: 10 minutes)
	IdleTTL time.Duration
}

// DefaultRateLimiterConfig returns a RateLimiterConfig with sensible defaults.
func DefaultRateLimiterConfig(requestsPerSecond int) RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         requestsPerSecond * 2,
		KeyFunc:           peerIP,
		SkipPaths:         []string{"/health", "/metrics"},
		IdleTTL:           10 * time.Minute,
	}
}

// peerIP keys on the address that completed the handshake. Forwarding
// headers are ignored since this server is the TLS edge.
func peerIP(ctx *Context) string {
	addr := ctx.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// RateLimiter returns a middleware that limits each client to
// requestsPerSecond with a token bucket.
func RateLimiter(requestsPerSecond int) Middleware {
	return RateLimiterWithConfig(DefaultRateLimiterConfig(requestsPerSecond))
}

// RateLimiterWithConfig returns a rate limiting middleware with custom
// configuration. It panics if RequestsPerSecond is not positive.
func RateLimiterWithConfig(config RateLimiterConfig) Middleware {
	if config.RequestsPerSecond <= 0 {
		panic("tlsedge: requests per second must be positive")
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerSecond * 2
	}
	if config.KeyFunc == nil {
		config.KeyFunc = peerIP
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = 10 * time.Minute
	}
	limit := strconv.Itoa(config.RequestsPerSecond)
	if config.ErrorHandler == nil {
		config.ErrorHandler = func(ctx *Context) error {
			return ctx.Plain(429, "Too Many Requests")
		}
	}

	skipMap := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}
	buckets := &bucketSet{
		rate:    config.RequestsPerSecond,
		burst:   config.BurstSize,
		ttl:     config.IdleTTL,
		buckets: make(map[string]*tokenBucket),
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			if skipMap[ctx.Path()] {
				return next.Serve(ctx)
			}
			key := config.KeyFunc(ctx)
			if key == "" {
				return next.Serve(ctx)
			}

			now := time.Now()
			allowed, remaining := buckets.take(key, now)
			ctx.SetHeader("x-ratelimit-limit", limit)
			ctx.SetHeader("x-ratelimit-remaining", strconv.Itoa(remaining))
			ctx.SetHeader("x-ratelimit-reset", strconv.FormatInt(now.Add(time.Second).Unix(), 10))
			if !allowed {
				ctx.SetHeader("retry-after", "1")
				return config.ErrorHandler(ctx)
			}
			return next.Serve(ctx)
		})
	}
}

// bucketSet holds one token bucket per client key. Idle buckets are swept
// lazily on access instead of by a background goroutine.
type bucketSet struct {
	rate, burst int
	ttl         time.Duration

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

func (s *bucketSet) take(key string, now time.Time) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.ttl/2 {
		for k, b := range s.buckets {
			if now.Sub(b.lastAccess) > s.ttl {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(s.burst), lastRefill: now}
		s.buckets[key] = b
	}
	return b.allow(now, float64(s.rate), float64(s.burst))
}

// tokenBucket refills continuously at rate tokens per second up to burst.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

func (b *tokenBucket) allow(now time.Time, rate, burst float64) (bool, int) {
	b.lastAccess = now
	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		b.tokens = min(burst, b.tokens+elapsed.Seconds()*rate)
		b.lastRefill = now
	}
	if b.tokens < 1 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

// HealthConfig holds configuration for the Health middleware.
type HealthConfig struct {
	// Path is the endpoint path for health checks (default: "/health")
	Path string
	// Handler is a custom health check handler (optional)
	Handler func(ctx *Context) error
}

var startTime = time.Now()

func defaultHealthHandler(ctx *Context) error {
	return ctx.JSON(200, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
		"tls":       ctx.TLSVersionName(),
	})
}

// Health returns a middleware that answers GET /health.
func Health() Middleware {
	return HealthWithConfig(HealthConfig{})
}

// HealthWithConfig returns a middleware that sets up a health check endpoint with custom configuration.
func HealthWithConfig(config HealthConfig) Middleware {
	if config.Path == "" {
		config.Path = "/health"
	}
	if config.Handler == nil {
		config.Handler = defaultHealthHandler
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx *Context) error {
			if ctx.Path() == config.Path && (ctx.Method() == "GET" || ctx.Method() == "HEAD") {
				return config.Handler(ctx)
			}
			return next.Serve(ctx)
		})
	}
}
