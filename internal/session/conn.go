// Package session binds an accepted connection, its TLS session and its
// parser state, and turns readiness events into served requests.
package session

import (
	"context"
	"errors"
	"log"
	"net"
	"slices"

	"github.com/albertbausili/tlsedge/internal/cursor"
	"github.com/albertbausili/tlsedge/internal/h1"
	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/poll"
	"github.com/albertbausili/tlsedge/internal/tlspump"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// verboseLogging controls hot-path logging; keep false for performance runs.
const verboseLogging = false

// DefaultMaxBuffer is the read-accumulation limit used when Config leaves it
// unset.
const DefaultMaxBuffer = 64 << 10

// Config holds per-connection settings.
type Config struct {
	// MaxBuffer bounds the request head plus body held in memory.
	MaxBuffer        int
	DisableKeepAlive bool
	Logger           *log.Logger
}

// Conn is one connection. Service must not be called concurrently.
type Conn struct {
	ctx     context.Context
	t       transport.Transport
	remote  net.Addr
	tls     *tlspump.Session
	handler Handler
	logger  *log.Logger

	parser *h1.Parser
	req    h1.Request
	writer *h1.ResponseWriter

	// buf holds plaintext not yet consumed by a finished exchange. Request
	// spans index it from 0.
	buf              []byte
	max              int
	disableKeepAlive bool
	closing          bool
	served           int
}

// New creates a connection serving handler over t.
func New(ctx context.Context, t transport.Transport, remote net.Addr, tlsSession *tlspump.Session, handler Handler, config Config) *Conn {
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = DefaultMaxBuffer
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	return &Conn{
		ctx:              ctx,
		t:                t,
		remote:           remote,
		tls:              tlsSession,
		handler:          handler,
		logger:           config.Logger,
		parser:           h1.NewParser(),
		writer:           h1.NewResponseWriter(tlsSession, config.Logger),
		max:              config.MaxBuffer,
		disableKeepAlive: config.DisableKeepAlive,
	}
}

// TLS returns the connection's TLS session.
func (c *Conn) TLS() *tlspump.Session { return c.tls }

// Closing reports whether the connection is only flushing its last response.
func (c *Conn) Closing() bool { return c.closing }

// Served returns how many exchanges were answered.
func (c *Conn) Served() int { return c.served }

// Service moves bytes after a readiness event and serves every request that
// became complete. It returns the interest to poll for next. Any error is
// fatal to the connection.
func (c *Conn) Service() (poll.Interest, error) {
	for {
		in, err := tlspump.ProcessWriteRead(c.tls, c.t, !c.closing)
		if err != nil {
			return 0, err
		}
		if c.closing {
			if c.tls.WantsWrite() {
				return poll.Writable, nil
			}
			return 0, ErrClosed
		}

		if err := c.fill(); err != nil {
			return 0, c.fail(err)
		}
		handled, err := c.advance()
		if err != nil {
			return 0, c.fail(err)
		}
		if !handled {
			return in, nil
		}
		// Flush what the handlers wrote and pick up anything that arrived
		// meanwhile.
	}
}

// Close releases the TLS session. The transport belongs to the caller.
func (c *Conn) Close() {
	c.tls.Close()
	c.buf = nil
}

// fill appends all buffered plaintext to buf.
func (c *Conn) fill() error {
	for n := c.tls.Buffered(); n > 0; n = c.tls.Buffered() {
		if len(c.buf)+n > c.max {
			return ErrReadBufferLengthExceeded
		}
		c.buf = slices.Grow(c.buf, n)
		m, err := c.tls.ReadPlaintext(c.buf[len(c.buf) : len(c.buf)+n])
		c.buf = c.buf[:len(c.buf)+m]
		if err != nil {
			return err
		}
	}
	return nil
}

// advance serves every complete request in buf. It reports whether any was
// served.
func (c *Conn) advance() (bool, error) {
	handled := false
	for !c.closing {
		if !c.parser.Finished() {
			done, err := c.parser.Parse(cursor.New(c.buf), &c.req)
			if err != nil {
				return handled, err
			}
			if !done {
				return handled, nil
			}
		}

		head := c.parser.Consumed()
		if c.req.HasTransferEncoding(c.buf) {
			return handled, ErrUnsupportedTransferEncoding
		}
		length, err := c.req.ContentLength(c.buf)
		if err != nil {
			return handled, ErrInvalidContentLength
		}
		end := head
		if length > 0 {
			if int64(head)+length > int64(c.max) {
				return handled, ErrReadBufferLengthExceeded
			}
			end = head + int(length)
			if len(c.buf) < end {
				return handled, nil
			}
		}

		c.serve(c.buf[head:end])
		handled = true

		c.buf = c.buf[:copy(c.buf, c.buf[end:])]
		c.req.Reset()
		c.parser.Reset(0)
	}
	return handled, nil
}

func (c *Conn) serve(body []byte) {
	if len(body) == 0 {
		body = nil
	}
	keepAlive := !c.disableKeepAlive && c.req.KeepAlive(c.buf)
	c.writer.Reset(keepAlive, c.req.Method == h1.MethodHead)

	ex := Exchange{
		ctx:    c.ctx,
		req:    &c.req,
		buf:    c.buf,
		body:   body,
		tls:    c.tls,
		writer: c.writer,
		remote: c.remote,
	}
	if verboseLogging {
		c.logger.Printf("%s %s from %v", c.req.Method, c.req.Path(c.buf), c.remote)
	}
	if err := c.handler.ServeExchange(&ex); err != nil {
		c.logger.Printf("Handler error: %v", err)
		if !c.writer.HeadersSent() {
			_ = c.writer.WriteError(500)
		}
		c.writer.Reset(false, false)
	} else if !c.writer.HeadersSent() {
		_ = c.writer.WriteResponse(200, nil, nil)
	}
	c.served++

	if !c.writer.ShouldKeepAlive() {
		c.closing = true
		_ = c.tls.SendCloseNotify()
	}
}

// fail answers err with a best-effort error status when the request was
// malformed, flushes once and returns err.
func (c *Conn) fail(err error) error {
	status := 0
	var pe *h1.ParseError
	switch {
	case errors.As(err, &pe):
		metrics.ParseErrors.WithLabelValues(pe.Kind.String()).Inc()
		status = pe.StatusCode()
	case errors.Is(err, ErrReadBufferLengthExceeded):
		status = 431
		if c.parser.Finished() {
			status = 413
		}
	case errors.Is(err, ErrUnsupportedTransferEncoding):
		status = 501
	case errors.Is(err, ErrInvalidContentLength):
		status = 400
	}
	if status == 0 || !c.tls.HandshakeComplete() {
		return err
	}
	if verboseLogging {
		c.logger.Printf("Rejecting request from %v: %v", c.remote, err)
	}
	c.writer.Reset(false, false)
	if werr := c.writer.WriteError(status); werr == nil {
		_ = c.tls.SendCloseNotify()
		_, _ = tlspump.Flush(c.tls, c.t)
	}
	return err
}
