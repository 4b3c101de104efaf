//go:build !linux

package poll

import "time"

// Epoll is unavailable off Linux; New always fails.
type Epoll struct{}

var _ Poller = (*Epoll)(nil)

// New reports ErrUnsupported.
func New(int) (*Epoll, error) { return nil, ErrUnsupported }

func (*Epoll) Register(Source, Token, Interest) error   { return ErrUnsupported }
func (*Epoll) Reregister(Source, Token, Interest) error { return ErrUnsupported }
func (*Epoll) Deregister(Source) error                  { return ErrUnsupported }
func (*Epoll) Wait(events []Event, _ time.Duration) ([]Event, error) {
	return events[:0], ErrUnsupported
}
func (*Epoll) Wake() error  { return ErrUnsupported }
func (*Epoll) Close() error { return nil }
