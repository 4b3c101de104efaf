// Package engine runs TLS connection sessions on epoll event loops: one
// acceptor loop owning the listener and any number of worker loops.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/poll"
	"github.com/albertbausili/tlsedge/internal/session"
	"github.com/albertbausili/tlsedge/internal/tlspump"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// verboseLogging controls per-connection log verbosity
const verboseLogging = false

// DefaultPollTimeout bounds a single poller wait when Config leaves it unset.
const DefaultPollTimeout = 100 * time.Millisecond

// Config defines the configuration of an Engine.
type Config struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   session.Handler

	// Workers is the number of worker loops. Zero serves connections on the
	// acceptor loop.
	Workers int
	// MaxConnections caps live connections; zero means unlimited.
	MaxConnections int
	// ReadBufferSize bounds the per-connection accumulation buffer.
	ReadBufferSize int
	PollTimeout    time.Duration

	SocketSendBuffer int
	SocketRecvBuffer int
	ReusePort        bool
	DisableKeepAlive bool
	Logger           *log.Logger

	// NewPoller creates each loop's poller. It defaults to epoll.
	NewPoller func() (poll.Poller, error)
}

// Engine accepts TLS connections and serves them on event loops.
type Engine struct {
	config  Config
	tls     *tls.Config
	logger  *log.Logger
	limiter *limiter

	stop  atomic.Bool
	ready chan struct{}

	mu     sync.Mutex
	addr   net.Addr
	loops  []*loop
	closed bool
}

// New validates config and creates an engine. Nothing is bound until Run.
func New(config Config) (*Engine, error) {
	if config.TLSConfig == nil {
		return nil, errors.New("engine: TLSConfig is required")
	}
	if config.Handler == nil {
		return nil, errors.New("engine: Handler is required")
	}
	if config.Workers < 0 {
		config.Workers = 0
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = session.DefaultMaxBuffer
	}
	if config.Logger == nil {
		config.Logger = log.New(io.Discard, "", 0)
	}
	if config.NewPoller == nil {
		config.NewPoller = func() (poll.Poller, error) { return poll.New(128) }
	}

	tlsConfig := config.TLSConfig.Clone()
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	return &Engine{
		config:  config,
		tls:     tlsConfig,
		logger:  config.Logger,
		limiter: newLimiter(config.MaxConnections),
		ready:   make(chan struct{}),
	}, nil
}

// Run binds the listener and serves until Stop is called or ctx is done.
// Failing to create a poller, bind or register the listener is returned
// before any connection is accepted.
func (e *Engine) Run(ctx context.Context) error {
	acceptor, workers, err := e.setup()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	stopWaking := context.AfterFunc(gctx, e.wakeAll)
	defer stopWaking()

	for _, w := range workers {
		g.Go(func() error { return w.run(gctx) })
	}
	g.Go(func() error {
		// Workers must not outlive the acceptor.
		defer e.Stop()
		return acceptor.run(gctx)
	})

	e.logger.Printf("TLS server is listening on %s (workers: %d)", e.Addr(), len(workers))
	close(e.ready)

	err = g.Wait()
	e.close()
	e.logger.Println("TLS server shutdown complete")
	return err
}

// close releases connections still queued for a worker and every poller.
// It runs once all loops have returned.
func (e *Engine) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, l := range e.loops {
		l.drain()
		if err := l.poller.Close(); err != nil {
			e.logger.Printf("Close poller of loop %d: %v", l.id, err)
		}
	}
}

// setup creates the pollers and the listener. On failure everything created
// so far is released.
func (e *Engine) setup() (*loop, []*loop, error) {
	var pollers []poll.Poller
	fail := func(err error) (*loop, []*loop, error) {
		for _, p := range pollers {
			_ = p.Close()
		}
		return nil, nil, err
	}

	loops := make([]*loop, 0, e.config.Workers+1)
	for i := 0; i <= e.config.Workers; i++ {
		p, err := e.config.NewPoller()
		if err != nil {
			return fail(fmt.Errorf("engine: create poller: %w", err))
		}
		pollers = append(pollers, p)
		loops = append(loops, newLoop(i, e, p))
	}
	acceptor, workers := loops[0], loops[1:]

	ln, err := transport.Listen(e.config.Addr, e.socketOptions())
	if err != nil {
		return fail(fmt.Errorf("engine: listen on %s: %w", e.config.Addr, err))
	}
	if err := acceptor.poller.Register(ln, listenerToken, poll.Readable); err != nil {
		_ = ln.Close()
		return fail(fmt.Errorf("engine: register listener: %w", err))
	}
	acceptor.listener = ln
	acceptor.workers = workers

	e.mu.Lock()
	e.addr = ln.Addr()
	e.loops = loops
	e.mu.Unlock()
	return acceptor, workers, nil
}

// Stop asks every loop to finish its current iteration and exit. It does not
// wait; Run returns once they have.
func (e *Engine) Stop() {
	if e.stop.Swap(true) {
		return
	}
	e.wakeAll()
}

func (e *Engine) stopped() bool { return e.stop.Load() }

func (e *Engine) wakeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	for _, l := range e.loops {
		_ = l.poller.Wake()
	}
}

// Ready is closed once the listener is accepting.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Addr returns the bound listener address, nil before Run bound it.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// ActiveConnections returns the number of live connections.
func (e *Engine) ActiveConnections() int { return e.limiter.active() }

func (e *Engine) socketOptions() transport.Options {
	return transport.Options{
		NoDelay:    true,
		SendBuffer: e.config.SocketSendBuffer,
		RecvBuffer: e.config.SocketRecvBuffer,
		ReusePort:  e.config.ReusePort,
	}
}

func (e *Engine) newConn(ctx context.Context, sock *transport.Conn) *conn {
	tlsSession := tlspump.NewSession(e.tls)
	return &conn{
		sock: sock,
		sess: session.New(ctx, sock, sock.RemoteAddr(), tlsSession, e.config.Handler, session.Config{
			MaxBuffer:        e.config.ReadBufferSize,
			DisableKeepAlive: e.config.DisableKeepAlive,
			Logger:           e.logger,
		}),
	}
}

// discard releases everything c holds except its poller registration.
func (e *Engine) discard(c *conn, reason string) {
	c.sess.Close()
	if err := c.sock.Shutdown(); err != nil && verboseLogging {
		e.logger.Printf("Shutdown %v: %v", c.sock.RemoteAddr(), err)
	}
	_ = c.sock.Close()
	e.limiter.release()
	metrics.ConnectionsActive.Dec()
	metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
}
