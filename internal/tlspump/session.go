// Package tlspump drives crypto/tls server sessions from a non-blocking event
// loop. Ciphertext moves between the socket and the session through explicit
// read and write calls; the session itself never touches the socket.
package tlspump

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"time"
)

// readChunk fits one maximum-size TLS record with overhead.
const readChunk = 16<<10 + 2048

// Session is a server-side TLS session driven by the caller.
//
// The *tls.Conn runs on its own goroutine over an in-memory conn. That
// goroutine only runs between a resume and the matching yield, so the
// caller and the TLS code never execute at the same time and the session
// behaves like a plain single-threaded state machine. A Session is not
// safe for concurrent use.
type Session struct {
	conn *tls.Conn
	mem  *memConn

	resume chan struct{}
	yield  chan struct{}

	started       bool
	done          bool
	closed        bool
	handshakeDone bool
	handshakeErr  error
	readErr       error
	state         tls.ConnectionState

	plain bytes.Buffer
	rbuf  []byte
}

// NewSession creates a server session for config.
func NewSession(config *tls.Config) *Session {
	s := &Session{
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		rbuf:   make([]byte, readChunk),
	}
	s.mem = &memConn{park: s.park}
	s.conn = tls.Server(s.mem, config)
	return s
}

// run is the TLS goroutine. It parks whenever it needs ciphertext that has
// not been supplied yet.
func (s *Session) run() {
	<-s.resume
	if err := s.conn.Handshake(); err != nil {
		s.handshakeErr = err
		s.finish()
		return
	}
	s.state = s.conn.ConnectionState()
	s.handshakeDone = true

	buf := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(buf)
		s.plain.Write(buf[:n])
		if err != nil {
			s.readErr = err
			break
		}
	}
	s.finish()
}

func (s *Session) finish() {
	s.done = true
	s.yield <- struct{}{}
}

// park hands control back to the caller until more input is supplied.
func (s *Session) park() {
	s.yield <- struct{}{}
	<-s.resume
}

// step lets the TLS goroutine consume everything supplied so far.
func (s *Session) step() {
	if s.done {
		return
	}
	if !s.started {
		s.started = true
		go s.run()
	}
	s.resume <- struct{}{}
	<-s.yield
}

// HandshakeComplete reports whether the handshake finished successfully.
func (s *Session) HandshakeComplete() bool { return s.handshakeDone }

// WantsRead reports whether the session needs more ciphertext: always while
// handshaking, and afterwards whenever no plaintext is buffered.
func (s *Session) WantsRead() bool {
	return !s.done && (!s.handshakeDone || s.plain.Len() == 0)
}

// WantsWrite reports whether ciphertext is waiting to be written.
func (s *Session) WantsWrite() bool { return len(s.mem.out) > 0 }

// ReadTLS performs one read of ciphertext from r into the session.
// Nothing is processed until ProcessNewPackets.
func (s *Session) ReadTLS(r io.Reader) (int, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	n, err := r.Read(s.rbuf)
	if n > 0 {
		s.mem.in.Write(s.rbuf[:n])
	}
	return n, err
}

// WriteTLSv writes pending ciphertext with one vectored write.
func (s *Session) WriteTLSv(w interface {
	Writev(bufs [][]byte) (int, error)
}) (int, error) {
	if len(s.mem.out) == 0 {
		return 0, nil
	}
	n, err := w.Writev(s.mem.out)
	s.mem.consume(n)
	return n, err
}

// ProcessNewPackets decodes the ciphertext read so far, advancing the
// handshake or producing plaintext. A handshake or record failure is
// returned. A received close_notify is not an error; see PeerClosed.
func (s *Session) ProcessNewPackets() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.step()
	if s.handshakeErr != nil {
		return s.handshakeErr
	}
	if s.readErr != nil && !errors.Is(s.readErr, io.EOF) {
		return s.readErr
	}
	return nil
}

// PeerClosed reports whether the peer sent close_notify.
func (s *Session) PeerClosed() bool {
	return s.done && s.handshakeDone && errors.Is(s.readErr, io.EOF)
}

// Buffered returns the number of plaintext bytes ready to be read.
func (s *Session) Buffered() int { return s.plain.Len() }

// ReadPlaintext copies buffered plaintext into p. It returns 0 when nothing
// is buffered.
func (s *Session) ReadPlaintext(p []byte) (int, error) {
	if s.plain.Len() == 0 {
		return 0, nil
	}
	return s.plain.Read(p)
}

// Write queues plaintext for encryption. The ciphertext becomes pending
// output for WriteTLSv.
func (s *Session) Write(p []byte) (int, error) {
	switch {
	case s.closed:
		return 0, ErrSessionClosed
	case !s.handshakeDone:
		return 0, ErrHandshakePending
	}
	return s.conn.Write(p)
}

// SendCloseNotify queues a close_notify alert.
func (s *Session) SendCloseNotify() error {
	if !s.handshakeDone || s.closed {
		return nil
	}
	return s.conn.CloseWrite()
}

// ALPN returns the negotiated application protocol, empty if none.
func (s *Session) ALPN() string {
	if !s.handshakeDone {
		return ""
	}
	return s.state.NegotiatedProtocol
}

// SNI returns the server name the client requested, empty if none.
func (s *Session) SNI() string {
	if !s.handshakeDone {
		return ""
	}
	return s.state.ServerName
}

// PeerCertificates returns the client certificate chain, nil if none.
func (s *Session) PeerCertificates() []*x509.Certificate {
	if !s.handshakeDone {
		return nil
	}
	return s.state.PeerCertificates
}

// Version returns the negotiated TLS version, 0 before the handshake.
func (s *Session) Version() uint16 {
	if !s.handshakeDone {
		return 0
	}
	return s.state.Version
}

// ConnectionState returns the state captured when the handshake completed.
func (s *Session) ConnectionState() tls.ConnectionState { return s.state }

// Close stops the TLS goroutine and drops pending data. It does not send
// close_notify; see SendCloseNotify.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.mem.closed = true
	if s.started && !s.done {
		s.resume <- struct{}{}
		<-s.yield
	}
	s.mem.out = nil
	s.mem.in.Reset()
	s.plain.Reset()
}

// memConn is the net.Conn the TLS goroutine reads from and writes to.
type memConn struct {
	in     bytes.Buffer
	out    [][]byte
	closed bool
	park   func()
}

func (c *memConn) Read(p []byte) (int, error) {
	for {
		if c.closed {
			return 0, net.ErrClosed
		}
		if c.in.Len() > 0 {
			return c.in.Read(p)
		}
		c.park()
	}
}

func (c *memConn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	c.out = append(c.out, append([]byte(nil), p...))
	return len(p), nil
}

// consume drops n written bytes from the front of out.
func (c *memConn) consume(n int) {
	for n > 0 && len(c.out) > 0 {
		if n < len(c.out[0]) {
			c.out[0] = c.out[0][n:]
			return
		}
		n -= len(c.out[0])
		c.out[0] = nil
		c.out = c.out[1:]
	}
}

func (c *memConn) Close() error {
	c.closed = true
	return nil
}

func (c *memConn) LocalAddr() net.Addr              { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr             { return memAddr{} }
func (c *memConn) SetDeadline(time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "memory" }
func (memAddr) String() string  { return "memory" }
