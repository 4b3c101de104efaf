// Package poll abstracts OS readiness notification for the event loop.
package poll

import (
	"errors"
	"strings"
	"time"
)

// ErrUnsupported is returned by New on platforms without a native poller.
var ErrUnsupported = errors.New("poll: no native poller on this platform")

// Interest is the set of operations a source is registered for. Error and
// hang-up are always reported and need no interest bit.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i&Readable != 0 {
		parts = append(parts, "readable")
	}
	if i&Writable != 0 {
		parts = append(parts, "writable")
	}
	return strings.Join(parts, "|")
}

// Readiness is what the poller observed for a source.
type Readiness uint8

const (
	ReadReady Readiness = 1 << iota
	WriteReady
	ErrorReady
	HangupReady
)

func (r Readiness) IsReadable() bool { return r&ReadReady != 0 }
func (r Readiness) IsWritable() bool { return r&WriteReady != 0 }
func (r Readiness) IsError() bool    { return r&ErrorReady != 0 }
func (r Readiness) IsHangup() bool   { return r&HangupReady != 0 }

// Token identifies a registered source in the events returned by Wait.
type Token uint64

// WakeToken is reserved for the poller's own wake-up source. Wait never
// returns it.
const WakeToken Token = ^Token(0)

// Event is one readiness notification.
type Event struct {
	Token     Token
	Readiness Readiness
}

// Source is anything backed by a pollable file descriptor.
type Source interface {
	Fd() int
}

// Poller is the readiness capability consumed by the event loop. A Poller is
// used by a single goroutine, except for Wake which may be called from any
// goroutine.
type Poller interface {
	Register(src Source, token Token, interest Interest) error
	Reregister(src Source, token Token, interest Interest) error
	Deregister(src Source) error
	// Wait blocks for at most timeout and appends ready events to events[:0].
	Wait(events []Event, timeout time.Duration) ([]Event, error)
	// Wake interrupts a concurrent or subsequent Wait.
	Wake() error
	Close() error
}
