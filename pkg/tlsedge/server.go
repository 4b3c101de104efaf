package tlsedge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/albertbausili/tlsedge/internal/engine"
	"github.com/albertbausili/tlsedge/internal/gnetengine"
	"github.com/albertbausili/tlsedge/internal/session"
)

// ErrServerRunning is returned when Run is called on a server that already ran.
var ErrServerRunning = errors.New("tlsedge: server already started")

// backend is the event loop implementation a Server runs on.
type backend interface {
	Ready() <-chan struct{}
	ActiveConnections() int
}

// Server represents a TLS-terminating HTTP/1.1 server instance.
type Server struct {
	config  Config
	handler Handler

	mu      sync.Mutex
	started bool
	epoll   *engine.Engine
	gnet    *gnetengine.Server
	done    chan struct{}
	ready   chan struct{}
}

// New validates config and creates a server.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		config: config,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}, nil
}

// Handler sets the request handler and returns the server for method chaining.
func (s *Server) Handler(handler Handler) *Server {
	s.handler = handler
	return s
}

// ListenAndServe sets the handler and serves until Stop is called.
func (s *Server) ListenAndServe(handler Handler) error {
	s.handler = handler
	return s.Run(context.Background())
}

// Run binds the configured address and serves until ctx is done or Stop is
// called. Startup failures are returned before any connection is accepted.
func (s *Server) Run(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("tlsedge: handler not set")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.started = true
	s.mu.Unlock()
	defer close(s.done)

	adapter := &exchangeHandler{handler: s.handler}
	switch s.config.Engine {
	case EngineGnet:
		return s.runGnet(ctx, adapter)
	default:
		return s.runEpoll(ctx, adapter)
	}
}

func (s *Server) runEpoll(ctx context.Context, handler session.Handler) error {
	e, err := engine.New(engine.Config{
		Addr:             s.config.Addr,
		TLSConfig:        s.config.TLSConfig,
		Handler:          handler,
		Workers:          s.config.Workers,
		MaxConnections:   s.config.MaxConnections,
		ReadBufferSize:   s.config.ReadBufferSize,
		PollTimeout:      s.config.PollTimeout,
		SocketSendBuffer: s.config.SocketSendBuffer,
		SocketRecvBuffer: s.config.SocketRecvBuffer,
		ReusePort:        s.config.ReusePort,
		DisableKeepAlive: s.config.DisableKeepAlive,
		Logger:           s.config.Logger,
	})
	if err != nil {
		return fmt.Errorf("tlsedge: %w", err)
	}
	s.mu.Lock()
	s.epoll = e
	s.mu.Unlock()

	s.forwardReady(e)
	return e.Run(ctx)
}

func (s *Server) runGnet(ctx context.Context, handler session.Handler) error {
	gs, err := gnetengine.NewServer(ctx, gnetengine.Config{
		Addr:             s.config.Addr,
		TLSConfig:        s.config.TLSConfig,
		Handler:          handler,
		Multicore:        s.config.Workers > 1,
		NumEventLoop:     s.config.Workers,
		ReusePort:        s.config.ReusePort,
		MaxConnections:   s.config.MaxConnections,
		ReadBufferSize:   s.config.ReadBufferSize,
		SocketSendBuffer: s.config.SocketSendBuffer,
		SocketRecvBuffer: s.config.SocketRecvBuffer,
		DisableKeepAlive: s.config.DisableKeepAlive,
		Logger:           s.config.Logger,
	})
	if err != nil {
		return fmt.Errorf("tlsedge: %w", err)
	}
	s.mu.Lock()
	s.gnet = gs
	s.mu.Unlock()

	s.forwardReady(gs)
	return gs.Run()
}

func (s *Server) forwardReady(b backend) {
	go func() {
		select {
		case <-b.Ready():
			close(s.ready)
		case <-s.done:
		}
	}()
}

// Stop shuts the server down and waits for Run to return or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	epoll, gs := s.epoll, s.gnet
	s.mu.Unlock()

	switch {
	case epoll != nil:
		epoll.Stop()
	case gs != nil:
		if err := gs.Stop(ctx); err != nil {
			return err
		}
	default:
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listening address. With the epoll engine it is the bound
// address once Ready is closed.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	epoll := s.epoll
	s.mu.Unlock()
	if epoll != nil {
		if addr := epoll.Addr(); addr != nil {
			return addr
		}
	}
	addr, err := net.ResolveTCPAddr("tcp", s.config.Addr)
	if err != nil {
		return nil
	}
	return addr
}

// ActiveConnections returns the number of live connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.epoll != nil:
		return s.epoll.ActiveConnections()
	case s.gnet != nil:
		return s.gnet.ActiveConnections()
	}
	return 0
}

// exchangeHandler runs a Handler over each session exchange and flushes the
// buffered response once the chain returned.
type exchangeHandler struct {
	handler Handler
}

func (a *exchangeHandler) ServeExchange(ex *session.Exchange) error {
	ctx := newContext(ex)
	defer ctx.release()

	if err := a.handler.Serve(ctx); err != nil {
		if ctx.Written() {
			return err
		}
		if rerr := DefaultErrorHandler(ctx, err); rerr != nil {
			return rerr
		}
	}
	if ctx.Written() {
		return nil
	}
	return ctx.Flush()
}
