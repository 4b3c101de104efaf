package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/poll"
	"github.com/albertbausili/tlsedge/internal/session"
	"github.com/albertbausili/tlsedge/internal/slab"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// listenerToken marks the listening socket in the acceptor's poller. Slab
// keys never reach it.
const listenerToken = poll.WakeToken - 1

// handoffQueue is how many accepted connections may wait for a worker.
const handoffQueue = 1024

// conn is the loop-owned state of one accepted connection.
type conn struct {
	sock *transport.Conn
	sess *session.Conn
	reg  registration
}

// loop is one single-threaded event loop. The acceptor loop additionally
// owns the listener and dispatches accepted connections to the workers.
type loop struct {
	id      int
	engine  *Engine
	poller  poll.Poller
	conns   *slab.Slab[*conn]
	handoff chan *conn
	events  []poll.Event

	listener *transport.Listener
	workers  []*loop
	next     int
}

func newLoop(id int, e *Engine, p poll.Poller) *loop {
	return &loop{
		id:      id,
		engine:  e,
		poller:  p,
		conns:   slab.New[*conn](64, e.config.MaxConnections),
		handoff: make(chan *conn, handoffQueue),
		events:  make([]poll.Event, 0, 128),
	}
}

// run services readiness events until the engine stops or ctx is done.
func (l *loop) run(ctx context.Context) error {
	defer l.shutdown()

	for !l.engine.stopped() && ctx.Err() == nil {
		events, err := l.poller.Wait(l.events, l.engine.config.PollTimeout)
		if err != nil {
			return fmt.Errorf("engine: loop %d wait: %w", l.id, err)
		}
		l.events = events[:0]

		l.adopt()
		for _, ev := range events {
			if l.listener != nil && ev.Token == listenerToken {
				l.accept(ctx)
				continue
			}
			l.handle(ev)
		}
	}
	return nil
}

// adopt registers every connection handed to this loop since the last
// iteration.
func (l *loop) adopt() {
	for {
		select {
		case c := <-l.handoff:
			l.add(c)
		default:
			return
		}
	}
}

func (l *loop) add(c *conn) {
	key, err := l.conns.Insert(c)
	if err != nil {
		l.engine.logger.Printf("Loop %d cannot hold connection from %v: %v", l.id, c.sock.RemoteAddr(), err)
		l.engine.discard(c, metrics.ReasonShutdown)
		return
	}
	if err := c.reg.reconcile(l.poller, c.sock, poll.Token(key), poll.Readable); err != nil {
		l.engine.logger.Printf("Loop %d: %v", l.id, err)
		l.destroy(key, c, metrics.ReasonTransport)
	}
}

// accept drains the listener's backlog.
func (l *loop) accept(ctx context.Context) {
	e := l.engine
	for {
		sock, err := l.listener.Accept()
		if errors.Is(err, transport.ErrWouldBlock) {
			return
		}
		if err != nil {
			e.logger.Printf("Accept error: %v", err)
			return
		}

		if !e.limiter.acquire() {
			metrics.ConnectionsRejected.Inc()
			if verboseLogging {
				e.logger.Printf("Connection rejected from %v: too many connections (%d/%d)",
					sock.RemoteAddr(), e.limiter.active(), e.config.MaxConnections)
			}
			_ = sock.Close()
			continue
		}
		if err := sock.Configure(e.socketOptions()); err != nil {
			e.logger.Printf("Configure connection from %v: %v", sock.RemoteAddr(), err)
			metrics.ConnectionsRejected.Inc()
			_ = sock.Close()
			e.limiter.release()
			continue
		}

		metrics.ConnectionsAccepted.Inc()
		metrics.ConnectionsActive.Inc()
		if verboseLogging {
			e.logger.Printf("Connection from %v", sock.RemoteAddr())
		}
		l.dispatch(e.newConn(ctx, sock))
	}
}

// dispatch hands c to the next worker round-robin, or adopts it when the
// acceptor is the only loop.
func (l *loop) dispatch(c *conn) {
	if len(l.workers) == 0 {
		l.add(c)
		return
	}
	w := l.workers[l.next%len(l.workers)]
	l.next++
	select {
	case w.handoff <- c:
		if err := w.poller.Wake(); err != nil {
			l.engine.logger.Printf("Wake loop %d: %v", w.id, err)
		}
	default:
		metrics.ConnectionsRejected.Inc()
		l.engine.discard(c, metrics.ReasonShutdown)
	}
}

// handle services one readiness event.
func (l *loop) handle(ev poll.Event) {
	key := slab.Key(ev.Token)
	c, ok := l.conns.Get(key)
	if !ok {
		// The slot was recycled since the event was queued.
		return
	}
	if ev.Readiness.IsError() {
		l.destroy(key, c, metrics.ReasonHangup)
		return
	}

	want, err := c.sess.Service()
	if err != nil {
		if verboseLogging {
			l.engine.logger.Printf("Closing connection from %v: %v", c.sock.RemoteAddr(), err)
		}
		l.destroy(key, c, c.sess.CloseReason(err))
		return
	}
	// The peer is gone; whatever could be answered has been.
	if ev.Readiness.IsHangup() {
		l.destroy(key, c, metrics.ReasonHangup)
		return
	}
	if err := c.reg.reconcile(l.poller, c.sock, ev.Token, want); err != nil {
		l.engine.logger.Printf("Loop %d: %v", l.id, err)
		l.destroy(key, c, metrics.ReasonTransport)
	}
}

// destroy tears c down. Removing the slot first makes teardown happen once
// per connection.
func (l *loop) destroy(key slab.Key, c *conn, reason string) {
	if _, ok := l.conns.Remove(key); !ok {
		return
	}
	if err := c.reg.deregister(l.poller, c.sock); err != nil && verboseLogging {
		l.engine.logger.Printf("Deregister: %v", err)
	}
	l.engine.discard(c, reason)
}

// shutdown closes every connection the loop still owns and the listener.
func (l *loop) shutdown() {
	l.conns.Range(func(key slab.Key, c *conn) bool {
		l.destroy(key, c, metrics.ReasonShutdown)
		return true
	})
	if l.listener != nil {
		if err := l.poller.Deregister(l.listener); err != nil && verboseLogging {
			l.engine.logger.Printf("Deregister listener: %v", err)
		}
		if err := l.listener.Close(); err != nil {
			l.engine.logger.Printf("Close listener: %v", err)
		}
	}
}

// drain discards connections handed off after the loop stopped.
func (l *loop) drain() {
	for {
		select {
		case c := <-l.handoff:
			l.engine.discard(c, metrics.ReasonShutdown)
		default:
			return
		}
	}
}
