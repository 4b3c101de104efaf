package session

import (
	"errors"

	"github.com/albertbausili/tlsedge/internal/h1"
	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/tlspump"
)

var (
	// ErrClosed is returned by Service once a non-keep-alive exchange has
	// been answered and its output flushed.
	ErrClosed = errors.New("session: connection closed")

	// ErrReadBufferLengthExceeded is returned when buffered plaintext would
	// exceed the configured maximum.
	ErrReadBufferLengthExceeded = errors.New("session: read buffer length exceeded")

	// ErrUnsupportedTransferEncoding is returned for requests declaring a
	// Transfer-Encoding; only Content-Length bodies are read.
	ErrUnsupportedTransferEncoding = errors.New("session: transfer-encoding not supported")

	// ErrInvalidContentLength is returned for a malformed Content-Length.
	ErrInvalidContentLength = errors.New("session: invalid content-length")
)

// CloseReason classifies the error that ended c for the closed-connections
// metric. A TLS failure before the handshake completed also counts as a
// handshake failure.
func (c *Conn) CloseReason(err error) string {
	var pe *h1.ParseError
	var fe *tlspump.FatalError
	switch {
	case errors.Is(err, ErrClosed):
		return metrics.ReasonDone
	case errors.Is(err, tlspump.ErrEndOfFile), errors.Is(err, tlspump.ErrEndOfFileWhilstHandshaking):
		return metrics.ReasonEOF
	case errors.As(err, &fe):
		if !c.tls.HandshakeComplete() {
			metrics.HandshakeFailures.Inc()
		}
		return metrics.ReasonTLS
	case errors.As(err, &pe),
		errors.Is(err, ErrReadBufferLengthExceeded),
		errors.Is(err, ErrUnsupportedTransferEncoding),
		errors.Is(err, ErrInvalidContentLength):
		return metrics.ReasonParse
	default:
		return metrics.ReasonTransport
	}
}
