//go:build linux

package poll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Epoll is a level-triggered epoll instance with an eventfd for wake-ups.
type Epoll struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent
}

var _ Poller = (*Epoll)(nil)

// New creates an epoll poller returning up to capacity events per Wait.
func New(capacity int) (*Epoll, error) {
	if capacity <= 0 {
		capacity = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	p := &Epoll{epfd: epfd, wakefd: wakefd, raw: make([]unix.EpollEvent, capacity)}
	ev := epollEvent(WakeToken, unix.EPOLLIN)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = p.Close()
		return nil, os.NewSyscallError("epoll_ctl", err)
	}
	return p, nil
}

func epollEvent(token Token, events uint32) unix.EpollEvent {
	return unix.EpollEvent{
		Events: events,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

func tokenOf(ev *unix.EpollEvent) Token {
	return Token(uint32(ev.Fd)) | Token(uint32(ev.Pad))<<32
}

func epollMask(interest Interest) uint32 {
	var m uint32
	if interest&Readable != 0 {
		m |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func readinessOf(events uint32) Readiness {
	var r Readiness
	if events&unix.EPOLLIN != 0 {
		r |= ReadReady
	}
	if events&unix.EPOLLOUT != 0 {
		r |= WriteReady
	}
	if events&unix.EPOLLERR != 0 {
		r |= ErrorReady
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= HangupReady
	}
	return r
}

func (p *Epoll) ctl(op int, src Source, token Token, interest Interest) error {
	if token == WakeToken {
		return fmt.Errorf("poll: token %#x is reserved", token)
	}
	ev := epollEvent(token, epollMask(interest))
	if err := unix.EpollCtl(p.epfd, op, src.Fd(), &ev); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Register adds src with the given interest.
func (p *Epoll) Register(src Source, token Token, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, src, token, interest)
}

// Reregister replaces the interest of an already registered src.
func (p *Epoll) Reregister(src Source, token Token, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, src, token, interest)
}

// Deregister removes src.
func (p *Epoll) Deregister(src Source) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, src.Fd(), nil); err != nil {
		return os.NewSyscallError("epoll_ctl", err)
	}
	return nil
}

// Wait blocks until an event arrives, the poller is woken or timeout
// elapses. A negative timeout blocks indefinitely.
func (p *Epoll) Wait(events []Event, timeout time.Duration) ([]Event, error) {
	events = events[:0]
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	n, err := unix.EpollWait(p.epfd, p.raw, msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return events, nil
		}
		return events, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		ev := &p.raw[i]
		token := tokenOf(ev)
		if token == WakeToken {
			p.drainWake()
			continue
		}
		events = append(events, Event{Token: token, Readiness: readinessOf(ev.Events)})
	}
	return events, nil
}

// Wake makes a pending Wait return.
func (p *Epoll) Wake() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(p.wakefd, one[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return os.NewSyscallError("write", err)
	}
	return nil
}

func (p *Epoll) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

// Close releases the epoll and eventfd descriptors.
func (p *Epoll) Close() error {
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}
