// Package transport provides the non-blocking byte streams the TLS pump reads
// ciphertext from and writes ciphertext to.
package transport

import "errors"

// ErrWouldBlock is returned when an operation cannot make progress without
// blocking. It is a suspension signal, not a failure.
var ErrWouldBlock = errors.New("transport: operation would block")

// Transport is a non-blocking duplex byte stream. Read follows io.Reader and
// reports an orderly peer close as io.EOF. Writev writes as much of bufs as
// the stream accepts and returns the byte count; a partial write is not an
// error.
type Transport interface {
	Read(p []byte) (int, error)
	Writev(bufs [][]byte) (int, error)
}

// Options configures accepted sockets. Zero buffer sizes keep the OS default.
type Options struct {
	NoDelay     bool
	SendBuffer  int
	RecvBuffer  int
	ReusePort   bool
	ListenQueue int
}
