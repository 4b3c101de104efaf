package tlspump

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfFile is returned when the peer closed the connection while
	// plaintext was required, or sent close_notify.
	ErrEndOfFile = errors.New("tlspump: end of file")

	// ErrEndOfFileWhilstHandshaking is returned when the peer closed the
	// connection before the handshake completed.
	ErrEndOfFileWhilstHandshaking = errors.New("tlspump: end of file whilst handshaking")

	// ErrHandshakePending is returned by Session.Write before the handshake
	// completed.
	ErrHandshakePending = errors.New("tlspump: handshake not complete")

	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("tlspump: session closed")
)

// FatalError reports a record-layer or handshake failure. FinalWrite holds
// the outcome of the one best-effort flush attempted before giving up,
// nil when the flush succeeded or nothing was pending.
type FatalError struct {
	Err        error
	FinalWrite error
}

func (e *FatalError) Error() string {
	if e.FinalWrite != nil {
		return fmt.Sprintf("tlspump: %v (final write: %v)", e.Err, e.FinalWrite)
	}
	return fmt.Sprintf("tlspump: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
