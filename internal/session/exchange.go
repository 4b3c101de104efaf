package session

import (
	"context"
	"crypto/x509"
	"net"

	"github.com/albertbausili/tlsedge/internal/h1"
	"github.com/albertbausili/tlsedge/internal/tlspump"
)

// Handler answers one parsed request.
type Handler interface {
	ServeExchange(ex *Exchange) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ex *Exchange) error

// ServeExchange calls f(ex).
func (f HandlerFunc) ServeExchange(ex *Exchange) error {
	return f(ex)
}

// Exchange is one request and the means to answer it. It is only valid for
// the duration of the handler call: the buffer is compacted afterwards.
type Exchange struct {
	ctx    context.Context
	req    *h1.Request
	buf    []byte
	body   []byte
	tls    *tlspump.Session
	writer *h1.ResponseWriter
	remote net.Addr
}

// Context returns the serving context.
func (e *Exchange) Context() context.Context { return e.ctx }

// Request returns the parsed request head. Resolve its spans with Buffer.
func (e *Exchange) Request() *h1.Request { return e.req }

// Buffer returns the bytes the request spans index.
func (e *Exchange) Buffer() []byte { return e.buf }

// Body returns the Content-Length body, nil if none.
func (e *Exchange) Body() []byte { return e.body }

// Writer returns the response writer for this request.
func (e *Exchange) Writer() *h1.ResponseWriter { return e.writer }

// RemoteAddr returns the peer address, nil when unknown.
func (e *Exchange) RemoteAddr() net.Addr { return e.remote }

// ALPN returns the negotiated application protocol.
func (e *Exchange) ALPN() string { return e.tls.ALPN() }

// SNI returns the server name the client requested.
func (e *Exchange) SNI() string { return e.tls.SNI() }

// PeerCertificates returns the client certificate chain, if any.
func (e *Exchange) PeerCertificates() []*x509.Certificate { return e.tls.PeerCertificates() }

// TLSVersion returns the negotiated TLS version.
func (e *Exchange) TLSVersion() uint16 { return e.tls.Version() }
