// Package tlsedge provides an event-driven, TLS-terminating HTTP/1.1 server.
package tlsedge

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"runtime"
	"time"
)

// Engine selects the event loop implementation.
type Engine uint8

const (
	// EngineEpoll runs connections on tlsedge's own epoll loops.
	EngineEpoll Engine = iota
	// EngineGnet runs connections on gnet's event loops.
	EngineGnet
)

func (e Engine) String() string {
	switch e {
	case EngineEpoll:
		return "epoll"
	case EngineGnet:
		return "gnet"
	default:
		return fmt.Sprintf("Engine(%d)", uint8(e))
	}
}

// ParseEngine returns the engine named s ("epoll" or "gnet").
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "epoll", "":
		return EngineEpoll, nil
	case "gnet":
		return EngineGnet, nil
	default:
		return 0, fmt.Errorf("tlsedge: unknown engine %q", s)
	}
}

// Read buffer bounds enforced by Validate.
const (
	MinReadBufferSize = 4 << 10
	MaxReadBufferSize = 16 << 20
)

// Config holds the server configuration options.
type Config struct {
	Addr             string        // Server address to bind to
	TLSConfig        *tls.Config   // Certificates and TLS policy; ALPN defaults to http/1.1
	Engine           Engine        // Event loop implementation
	Workers          int           // Worker loops (0 serves on the acceptor loop)
	MaxConnections   int           // Live connection cap (0 for unlimited)
	ReadBufferSize   int           // Maximum request head plus body held per connection
	PollTimeout      time.Duration // Upper bound of a single poller wait
	SocketSendBuffer int           // SO_SNDBUF for accepted sockets (0 for OS default)
	SocketRecvBuffer int           // SO_RCVBUF for accepted sockets (0 for OS default)
	ReusePort        bool          // Enable SO_REUSEPORT
	DisableKeepAlive bool          // Close each connection after one response
	Logger           *log.Logger   // Logger for server events
}

// newSilentLogger creates a silent logger that discards all output
func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DefaultConfig returns a Config with sensible default values. TLSConfig
// must still be set.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8443",
		Engine:         EngineEpoll,
		Workers:        runtime.NumCPU(),
		MaxConnections: 10000,
		ReadBufferSize: 64 << 10,
		PollTimeout:    100 * time.Millisecond,
		Logger:         newSilentLogger(),
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.TLSConfig == nil {
		return errors.New("tlsedge: TLSConfig is required")
	}
	if len(c.TLSConfig.Certificates) == 0 && c.TLSConfig.GetCertificate == nil && c.TLSConfig.GetConfigForClient == nil {
		return errors.New("tlsedge: TLSConfig has no certificate")
	}
	if c.Engine != EngineEpoll && c.Engine != EngineGnet {
		return fmt.Errorf("tlsedge: unknown engine %v", c.Engine)
	}
	if c.Addr == "" {
		c.Addr = ":8443"
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 64 << 10
	}
	if c.ReadBufferSize < MinReadBufferSize {
		c.ReadBufferSize = MinReadBufferSize
	}
	if c.ReadBufferSize > MaxReadBufferSize {
		c.ReadBufferSize = MaxReadBufferSize
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	if c.PollTimeout < time.Millisecond {
		c.PollTimeout = time.Millisecond
	}
	if c.SocketSendBuffer < 0 {
		c.SocketSendBuffer = 0
	}
	if c.SocketRecvBuffer < 0 {
		c.SocketRecvBuffer = 0
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return nil
}
