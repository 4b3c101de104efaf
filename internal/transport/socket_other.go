//go:build !linux

package transport

import (
	"errors"
	"net"
)

var errUnsupported = errors.New("transport: raw sockets are only supported on linux")

// Listener is unavailable off Linux; use the gnet engine instead.
type Listener struct{}

// Listen reports that raw sockets are unsupported.
func Listen(string, Options) (*Listener, error) { return nil, errUnsupported }

func (*Listener) Fd() int                { return -1 }
func (*Listener) Addr() net.Addr         { return nil }
func (*Listener) Accept() (*Conn, error) { return nil, errUnsupported }
func (*Listener) Close() error           { return nil }

// Conn is unavailable off Linux.
type Conn struct{}

var _ Transport = (*Conn)(nil)

func (*Conn) Fd() int                      { return -1 }
func (*Conn) RemoteAddr() net.Addr         { return nil }
func (*Conn) Configure(Options) error      { return errUnsupported }
func (*Conn) Read([]byte) (int, error)     { return 0, errUnsupported }
func (*Conn) Writev([][]byte) (int, error) { return 0, errUnsupported }
func (*Conn) Shutdown() error              { return nil }
func (*Conn) Close() error                 { return nil }
