// Package main runs an example TLS-terminating tlsedge server.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/albertbausili/tlsedge/pkg/tlsedge"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := flag.String("addr", envOr("EXAMPLE_ADDR", ":8443"), "TLS listen address")
	certFile := flag.String("cert", envOr("EXAMPLE_CERT", "cert.pem"), "PEM certificate chain")
	keyFile := flag.String("key", envOr("EXAMPLE_KEY", "key.pem"), "PEM private key")
	metricsAddr := flag.String("metrics-addr", envOr("EXAMPLE_METRICS_ADDR", ":9090"), "plain HTTP address for /metrics (empty disables)")
	engineName := flag.String("engine", envOr("EXAMPLE_ENGINE", "epoll"), "event loop: epoll or gnet")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "worker event loops")
	minimal := flag.Bool("minimal", os.Getenv("EXAMPLE_MINIMAL") == "1", "skip logging middleware for benchmarking")
	flag.Parse()

	engine, err := tlsedge.ParseEngine(*engineName)
	if err != nil {
		log.Fatal(err)
	}
	cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
	if err != nil {
		log.Fatalf("Load certificate: %v", err)
	}

	router := tlsedge.NewRouter()
	router.Use(tlsedge.Recovery(), tlsedge.RequestID())
	if !*minimal {
		router.Use(tlsedge.Logger())
	}
	router.Use(
		tlsedge.Prometheus(),
		tlsedge.Tracing(),
		tlsedge.Health(),
		tlsedge.Compress(),
	)

	router.GET("/", homeHandler)
	router.GET("/hello/:name", helloHandler)
	router.GET("/tls", tlsHandler)
	router.POST("/api/data", dataHandler)

	api := router.Group("/api/v1")
	api.GET("/users", usersHandler)
	api.GET("/users/:id", userHandler)

	config := tlsedge.DefaultConfig()
	config.Addr = *addr
	config.Engine = engine
	config.Workers = *workers
	config.TLSConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	config.Logger = log.New(os.Stderr, "tlsedge: ", log.LstdFlags)

	server, err := tlsedge.New(config)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	server.Handler(router)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting %s server on %s (workers: %d)", engine, config.Addr, config.Workers)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Printf("Serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v", err)
	}
}

// homeHandler lists the example endpoints
func homeHandler(ctx *tlsedge.Context) error {
	return ctx.HTML(200, `<!DOCTYPE html>
<html>
<head><title>tlsedge</title></head>
<body>
    <h1>tlsedge</h1>
    <p>An event-driven HTTP/1.1 server terminating TLS on its own event loops.</p>
    <ul>
        <li><code>GET /hello/:name</code></li>
        <li><code>GET /tls</code> - negotiated TLS parameters</li>
        <li><code>POST /api/data</code></li>
        <li><code>GET /api/v1/users</code></li>
        <li><code>GET /health</code></li>
    </ul>
</body>
</html>
`)
}

func helloHandler(ctx *tlsedge.Context) error {
	return ctx.JSON(200, map[string]string{
		"message": "Hello, " + ctx.Param("name") + "!",
		"method":  ctx.Method(),
		"path":    ctx.Path(),
	})
}

// tlsHandler reports what the handshake negotiated
func tlsHandler(ctx *tlsedge.Context) error {
	return ctx.JSON(200, map[string]any{
		"alpn":              ctx.ALPN(),
		"sni":               ctx.SNI(),
		"version":           ctx.TLSVersionName(),
		"peer_certificates": len(ctx.PeerCertificates()),
		"remote":            ctx.RemoteAddr().String(),
	})
}

func dataHandler(ctx *tlsedge.Context) error {
	var data map[string]any
	if err := ctx.BindJSON(&data); err != nil {
		return tlsedge.NewHTTPError(400, "Invalid JSON")
	}
	return ctx.JSON(200, map[string]any{
		"received": data,
		"status":   "success",
	})
}

var users = []map[string]any{
	{"id": "1", "name": "Ada Lovelace"},
	{"id": "2", "name": "Grace Hopper"},
}

func usersHandler(ctx *tlsedge.Context) error {
	return ctx.JSON(200, map[string]any{"users": users, "total": len(users)})
}

func userHandler(ctx *tlsedge.Context) error {
	id := ctx.Param("id")
	for _, u := range users {
		if u["id"] == id {
			return ctx.JSON(200, u)
		}
	}
	return tlsedge.NewHTTPError(404, "user not found").WithDetails(map[string]string{"id": id})
}
