package engine

import (
	"fmt"

	"github.com/albertbausili/tlsedge/internal/metrics"
	"github.com/albertbausili/tlsedge/internal/poll"
)

// registration mirrors what the poller currently holds for a connection.
// interest always equals the mask last registered successfully.
type registration struct {
	registered bool
	interest   poll.Interest
}

// reconcile submits want to p unless it is already registered.
func (r *registration) reconcile(p poll.Poller, src poll.Source, token poll.Token, want poll.Interest) error {
	if r.registered && r.interest == want {
		return nil
	}

	op := "register"
	var err error
	if r.registered {
		op = "reregister"
		err = p.Reregister(src, token, want)
	} else {
		err = p.Register(src, token, want)
	}
	if err != nil {
		return fmt.Errorf("engine: %s %v: %w", op, want, err)
	}

	metrics.PollRegistrations.WithLabelValues(op).Inc()
	r.registered = true
	r.interest = want
	return nil
}

// deregister removes src from p if it was registered.
func (r *registration) deregister(p poll.Poller, src poll.Source) error {
	if !r.registered {
		return nil
	}
	r.registered = false
	r.interest = 0
	metrics.PollRegistrations.WithLabelValues("deregister").Inc()
	return p.Deregister(src)
}
