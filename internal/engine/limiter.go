package engine

import "sync/atomic"

// limiter caps the number of live connections across all loops. A max of
// zero or less disables the cap.
type limiter struct {
	max int64
	n   atomic.Int64
}

func newLimiter(limit int) *limiter {
	return &limiter{max: int64(limit)}
}

// acquire reserves a slot. It must be called before any per-connection
// state is allocated.
func (l *limiter) acquire() bool {
	for {
		cur := l.n.Load()
		if l.max > 0 && cur >= l.max {
			return false
		}
		if l.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release frees a slot taken by acquire. Every acquire is released exactly
// once, on every teardown path.
func (l *limiter) release() {
	if l.n.Add(-1) < 0 {
		panic("engine: connection limiter released more often than acquired")
	}
}

func (l *limiter) active() int { return int(l.n.Load()) }
