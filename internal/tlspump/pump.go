package tlspump

import (
	"errors"
	"io"

	"github.com/albertbausili/tlsedge/internal/poll"
	"github.com/albertbausili/tlsedge/internal/transport"
)

// ProcessWriteRead moves ciphertext between t and s and returns the interest
// the connection should be polled with next.
//
// While handshaking it alternates flushing and reading until the handshake
// completes or the transport would block. Afterwards it flushes, performs one
// opportunistic read so that records carrying no application data (session
// tickets, key updates) are drained, and, when wantPlaintext is set, keeps
// reading until plaintext is buffered or the transport would block. It loops
// while decoding produced new output.
//
// A peer close is fatal mid-handshake, and afterwards only when wantPlaintext
// is set; an idle connection with nothing to read simply waits.
func ProcessWriteRead(s *Session, t transport.Transport, wantPlaintext bool) (poll.Interest, error) {
	for !s.HandshakeComplete() {
		blocked, err := flush(s, t)
		if err != nil {
			return 0, err
		}
		if blocked || !s.WantsRead() {
			return interest(s, wantPlaintext), nil
		}
		n, err := s.ReadTLS(t)
		switch {
		case errors.Is(err, transport.ErrWouldBlock):
			return interest(s, wantPlaintext), nil
		case errors.Is(err, io.EOF), err == nil && n == 0:
			return 0, ErrEndOfFileWhilstHandshaking
		case err != nil:
			return 0, err
		}
		if err := s.ProcessNewPackets(); err != nil {
			return 0, fatal(s, t, err)
		}
	}

	for {
		blocked, err := flush(s, t)
		if err != nil {
			return 0, err
		}
		if blocked {
			return interest(s, wantPlaintext), nil
		}
		if s.PeerClosed() && s.Buffered() == 0 {
			return 0, ErrEndOfFile
		}

		for s.WantsRead() {
			n, err := s.ReadTLS(t)
			if errors.Is(err, transport.ErrWouldBlock) {
				break
			}
			if errors.Is(err, io.EOF) || (err == nil && n == 0) {
				if wantPlaintext {
					return 0, ErrEndOfFile
				}
				break
			}
			if err != nil {
				return 0, err
			}
			if err := s.ProcessNewPackets(); err != nil {
				return 0, fatal(s, t, err)
			}
			if !wantPlaintext {
				break
			}
		}

		if !s.WantsWrite() {
			break
		}
	}
	if s.PeerClosed() && s.Buffered() == 0 {
		return 0, ErrEndOfFile
	}
	return interest(s, wantPlaintext), nil
}

// Flush writes pending ciphertext until none is left or t would block.
func Flush(s *Session, t transport.Transport) (blocked bool, err error) {
	return flush(s, t)
}

func flush(s *Session, t transport.Transport) (bool, error) {
	for s.WantsWrite() {
		n, err := s.WriteTLSv(t)
		if errors.Is(err, transport.ErrWouldBlock) || (err == nil && n == 0) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

// fatal attempts one final write so a queued alert reaches the peer.
func fatal(s *Session, t transport.Transport, cause error) error {
	var final error
	if s.WantsWrite() {
		_, final = s.WriteTLSv(t)
	}
	return &FatalError{Err: cause, FinalWrite: final}
}

func interest(s *Session, wantPlaintext bool) poll.Interest {
	var i poll.Interest
	if wantPlaintext || s.WantsRead() {
		i |= poll.Readable
	}
	if s.WantsWrite() {
		i |= poll.Writable
	}
	return i
}
