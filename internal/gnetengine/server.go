// Package gnetengine serves the same TLS connection sessions as package
// engine on top of gnet's event loops.
package gnetengine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
	gerrors "github.com/panjf2000/gnet/v2/pkg/errors"

	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/session"
	"github.com/albertbausili/tlsedge/internal/tlspump"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// verboseLogging controls per-connection log verbosity
const verboseLogging = false

// Config defines the configuration options for the gnet-backed server.
type Config struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   session.Handler

	Multicore        bool
	NumEventLoop     int
	ReusePort        bool
	MaxConnections   int
	ReadBufferSize   int
	SocketSendBuffer int
	SocketRecvBuffer int
	DisableKeepAlive bool
	Logger           *log.Logger
}

// Server implements gnet.EventHandler for TLS-terminated HTTP/1.1.
type Server struct {
	gnet.BuiltinEventEngine
	config Config
	tls    *tls.Config
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	activeConns atomic.Int64
	engine      gnet.Engine
	booted      atomic.Bool
	ready       chan struct{}
}

// connState is stored in gnet.Conn.Context.
type connState struct {
	sess   *session.Conn
	reason string
}

// NewServer creates a server. Nothing is bound until Run.
func NewServer(ctx context.Context, config Config) (*Server, error) {
	if config.TLSConfig == nil {
		return nil, errors.New("gnetengine: TLSConfig is required")
	}
	if config.Handler == nil {
		return nil, errors.New("gnetengine: Handler is required")
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}

	tlsConfig := config.TLSConfig.Clone()
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		config: config,
		tls:    tlsConfig,
		ctx:    serverCtx,
		cancel: cancel,
		logger: config.Logger,
		ready:  make(chan struct{}),
	}, nil
}

func (s *Server) options() []gnet.Option {
	options := []gnet.Option{
		gnet.WithMulticore(s.config.Multicore),
		gnet.WithReusePort(s.config.ReusePort),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithTCPKeepAlive(time.Minute * 30),
		gnet.WithLogger(silentGnetLogger{}),
		gnet.WithLockOSThread(false),
		gnet.WithLoadBalancing(gnet.RoundRobin),
	}
	if s.config.SocketRecvBuffer > 0 {
		options = append(options, gnet.WithSocketRecvBuffer(s.config.SocketRecvBuffer))
	}
	if s.config.SocketSendBuffer > 0 {
		options = append(options, gnet.WithSocketSendBuffer(s.config.SocketSendBuffer))
	}
	if s.config.NumEventLoop > 0 {
		options = append(options, gnet.WithNumEventLoop(s.config.NumEventLoop))
	}
	return options
}

// Run binds the listener and blocks until the server is stopped or the
// context passed to NewServer is done.
func (s *Server) Run() error {
	stopOnCancel := context.AfterFunc(s.ctx, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.stopEngine(stopCtx); err != nil {
			s.logger.Printf("Error stopping gnet engine: %v", err)
		}
	})
	defer stopOnCancel()

	s.logger.Printf("Starting TLS server on %s (gnet)", s.config.Addr)
	if err := gnet.Run(s, "tcp://"+s.config.Addr, s.options()...); err != nil {
		return fmt.Errorf("gnetengine: run on %s: %w", s.config.Addr, err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Println("Initiating graceful shutdown...")
	s.cancel()

	stopCtx, stopCancel := context.WithTimeout(ctx, 2*time.Second)
	defer stopCancel()
	if err := s.stopEngine(stopCtx); err != nil {
		s.logger.Printf("Error stopping gnet engine: %v", err)
		return err
	}
	s.logger.Println("TLS server shutdown complete")
	return nil
}

func (s *Server) stopEngine(ctx context.Context) error {
	if !s.booted.Load() {
		return nil
	}
	err := s.engine.Stop(ctx)
	if errors.Is(err, gerrors.ErrEngineInShutdown) || errors.Is(err, gerrors.ErrEmptyEngine) {
		return nil
	}
	return err
}

// Ready is closed once gnet has booted.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ActiveConnections returns the number of live connections.
func (s *Server) ActiveConnections() int { return int(s.activeConns.Load()) }

// OnBoot is called when the server is ready to accept connections.
func (s *Server) OnBoot(eng gnet.Engine) gnet.Action {
	s.engine = eng
	s.booted.Store(true)
	close(s.ready)
	s.logger.Printf("TLS server is listening on %s (multicore: %v)", s.config.Addr, s.config.Multicore)
	return gnet.None
}

// OnShutdown is called when the server is shutting down.
func (s *Server) OnShutdown(_ gnet.Engine) {
	s.booted.Store(false)
}

// silentGnetLogger is a logger that discards all gnet output
type silentGnetLogger struct{}

func (s silentGnetLogger) Debugf(_ string, _ ...any) {}
func (s silentGnetLogger) Infof(_ string, _ ...any)  {}
func (s silentGnetLogger) Warnf(_ string, _ ...any)  {}
func (s silentGnetLogger) Errorf(_ string, _ ...any) {}
func (s silentGnetLogger) Fatalf(_ string, _ ...any) {}

// acquire reserves a connection slot, refusing once MaxConnections are live.
func (s *Server) acquire() bool {
	for {
		cur := s.activeConns.Load()
		if s.config.MaxConnections > 0 && cur >= int64(s.config.MaxConnections) {
			return false
		}
		if s.activeConns.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// OnOpen is called when a new connection is opened.
func (s *Server) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	// No session exists yet, so a refused client only sees the close.
	if !s.acquire() {
		metrics.ConnectionsRejected.Inc()
		if verboseLogging {
			s.logger.Printf("Connection rejected from %s: too many connections (%d/%d)",
				c.RemoteAddr(), s.ActiveConnections(), s.config.MaxConnections)
		}
		return nil, gnet.Close
	}
	metrics.ConnectionsAccepted.Inc()
	metrics.ConnectionsActive.Inc()

	sess := session.New(s.ctx, gnetTransport{c}, c.RemoteAddr(), tlspump.NewSession(s.tls), s.config.Handler, session.Config{
		MaxBuffer:        s.config.ReadBufferSize,
		DisableKeepAlive: s.config.DisableKeepAlive,
		Logger:           s.logger,
	})
	c.SetContext(&connState{sess: sess})
	if verboseLogging {
		s.logger.Printf("TLS connection from %s", c.RemoteAddr())
	}
	return nil, gnet.None
}

// OnClose is called when a connection is closed.
func (s *Server) OnClose(c gnet.Conn, err error) gnet.Action {
	st, ok := c.Context().(*connState)
	if !ok {
		// Refused in OnOpen; no slot was taken.
		return gnet.None
	}
	c.SetContext(nil)

	reason := st.reason
	switch {
	case reason != "":
	case s.ctx.Err() != nil:
		reason = metrics.ReasonShutdown
	case err != nil:
		reason = metrics.ReasonHangup
	default:
		reason = metrics.ReasonEOF
	}
	if verboseLogging {
		s.logger.Printf("Connection from %s closed (%s): %v", c.RemoteAddr(), reason, err)
	}

	st.sess.Close()
	s.activeConns.Add(-1)
	metrics.ConnectionsActive.Dec()
	metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	return gnet.None
}

// OnTraffic is called when data is received on a connection. gnet owns
// readiness, so the interest returned by Service is not used.
//
// gnet fires again only when new bytes reach the socket, so Service runs
// until the inbound buffer is drained or stops shrinking.
func (s *Server) OnTraffic(c gnet.Conn) gnet.Action {
	st, ok := c.Context().(*connState)
	if !ok {
		s.logger.Printf("Connection context not found for %s", c.RemoteAddr())
		return gnet.Close
	}
	for {
		before := c.InboundBuffered()
		if _, err := st.sess.Service(); err != nil {
			st.reason = st.sess.CloseReason(err)
			if verboseLogging {
				s.logger.Printf("Closing connection from %s: %v", c.RemoteAddr(), err)
			}
			return gnet.Close
		}
		if after := c.InboundBuffered(); after == 0 || after >= before {
			return gnet.None
		}
	}
}

// gnetTransport adapts a gnet connection to transport.Transport. gnet has
// already read the socket; an empty inbound buffer means would-block, and
// writes are queued by gnet and never block.
type gnetTransport struct {
	c gnet.Conn
}

var _ transport.Transport = gnetTransport{}

func (t gnetTransport) Read(p []byte) (int, error) {
	if t.c.InboundBuffered() == 0 {
		return 0, transport.ErrWouldBlock
	}
	return t.c.Read(p)
}

func (t gnetTransport) Writev(bufs [][]byte) (int, error) {
	return t.c.Writev(bufs)
}
