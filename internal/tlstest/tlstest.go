// Package tlstest provides TLS fixtures for tests: a throwaway certificate
// and an in-memory pipe whose server end is a non-blocking transport.
package tlstest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/albertbausili/tlsedge/internal/transport"
)

// ServerName is the DNS name the test certificate is issued for.
const ServerName = "edge.test"

// Certificate returns a self-signed certificate for ServerName and a pool
// that trusts it.
func Certificate(tb testing.TB) (tls.Certificate, *x509.CertPool) {
	tb.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		tb.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: ServerName},
		DNSNames:     []string{ServerName},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		tb.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parse certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

// Configs returns matching server and client configurations negotiating
// http/1.1 over ALPN.
func Configs(tb testing.TB) (server, client *tls.Config) {
	tb.Helper()
	cert, pool := Certificate(tb)
	server = &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{
		RootCAs:    pool,
		ServerName: ServerName,
		NextProtos: []string{"http/1.1"},
	}
	return server, client
}

// Pipe is an in-memory byte pipe. Its server end is non-blocking and reports
// transport.ErrWouldBlock; its client end is a blocking net.Conn.
type Pipe struct {
	mu           sync.Mutex
	cond         *sync.Cond
	toServer     bytes.Buffer
	toClient     bytes.Buffer
	clientClosed bool
	serverClosed bool
	writeBudget  int
	blockWrites  bool
	sent         int
}

// NewPipe creates an open pipe.
func NewPipe() *Pipe {
	p := &Pipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Server returns the non-blocking server end.
func (p *Pipe) Server() *ServerEnd { return &ServerEnd{p: p} }

// Client returns the blocking client end.
func (p *Pipe) Client() net.Conn { return &clientEnd{p: p} }

// CloseClient closes the client side without any TLS alert.
func (p *Pipe) CloseClient() {
	p.mu.Lock()
	p.clientClosed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Shutdown closes both sides and unblocks pending client reads.
func (p *Pipe) Shutdown() {
	p.mu.Lock()
	p.clientClosed = true
	p.serverClosed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// SetBlockWrites makes every server Writev report would-block.
func (p *Pipe) SetBlockWrites(block bool) {
	p.mu.Lock()
	p.blockWrites = block
	p.mu.Unlock()
}

// SetWriteBudget caps how many bytes one server Writev accepts; 0 removes
// the cap.
func (p *Pipe) SetWriteBudget(n int) {
	p.mu.Lock()
	p.writeBudget = n
	p.mu.Unlock()
}

// Sent returns how many bytes the server end wrote in total.
func (p *Pipe) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// ServerEnd is the transport side of a Pipe.
type ServerEnd struct{ p *Pipe }

var _ transport.Transport = (*ServerEnd)(nil)

func (s *ServerEnd) Read(b []byte) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.toServer.Len() > 0 {
		return s.p.toServer.Read(b)
	}
	if s.p.clientClosed {
		return 0, io.EOF
	}
	return 0, transport.ErrWouldBlock
}

func (s *ServerEnd) Writev(bufs [][]byte) (int, error) {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if s.p.serverClosed {
		return 0, net.ErrClosed
	}
	if s.p.blockWrites {
		return 0, transport.ErrWouldBlock
	}
	n := 0
	for _, b := range bufs {
		if s.p.writeBudget > 0 && n+len(b) > s.p.writeBudget {
			b = b[:s.p.writeBudget-n]
		}
		s.p.toClient.Write(b)
		n += len(b)
		if s.p.writeBudget > 0 && n >= s.p.writeBudget {
			break
		}
	}
	s.p.sent += n
	s.p.cond.Broadcast()
	if n == 0 && len(bufs) > 0 {
		return 0, transport.ErrWouldBlock
	}
	return n, nil
}

type clientEnd struct{ p *Pipe }

func (c *clientEnd) Read(b []byte) (int, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	for c.p.toClient.Len() == 0 {
		if c.p.serverClosed || c.p.clientClosed {
			return 0, io.EOF
		}
		c.p.cond.Wait()
	}
	return c.p.toClient.Read(b)
}

func (c *clientEnd) Write(b []byte) (int, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if c.p.clientClosed {
		return 0, net.ErrClosed
	}
	return c.p.toServer.Write(b)
}

func (c *clientEnd) Close() error {
	c.p.CloseClient()
	return nil
}

func (c *clientEnd) LocalAddr() net.Addr              { return pipeAddr{} }
func (c *clientEnd) RemoteAddr() net.Addr             { return pipeAddr{} }
func (c *clientEnd) SetDeadline(time.Time) error      { return nil }
func (c *clientEnd) SetReadDeadline(time.Time) error  { return nil }
func (c *clientEnd) SetWriteDeadline(time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
