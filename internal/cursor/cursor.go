// Package cursor provides a position-tracked, suspension-aware view over an
// incoming byte buffer that may be contiguous or split into segments.
package cursor

// Match is the outcome of matching a literal against the cursor.
type Match uint8

const (
	// Matched means every byte of the literal was consumed.
	Matched Match = iota
	// Mismatch means a byte differed; the cursor stops just after it.
	Mismatch
	// Short means the buffer ran out before the literal was fully compared.
	Short
)

func (m Match) String() string {
	switch m {
	case Matched:
		return "matched"
	case Mismatch:
		return "mismatch"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Cursor reads a logically linear buffer one byte at a time. Positions are
// absolute: the first byte of the first segment is at Base().
type Cursor struct {
	segs [][]byte
	// starts[i] is the logical position of segs[i][0].
	starts []int
	base   int
	end    int

	seg  int
	off  int
	pos  int
	prev int
}

// New returns a cursor over a single contiguous buffer starting at position 0.
func New(buf []byte) *Cursor {
	return NewVectored(0, buf)
}

// NewVectored returns a cursor over segs, whose first byte is at position base.
// Empty segments are skipped.
func NewVectored(base int, segs ...[]byte) *Cursor {
	c := &Cursor{base: base, pos: base, prev: base}
	at := base
	for _, s := range segs {
		if len(s) == 0 {
			continue
		}
		c.segs = append(c.segs, s)
		c.starts = append(c.starts, at)
		at += len(s)
	}
	c.end = at
	return c
}

// Base returns the logical position of the first byte.
func (c *Cursor) Base() int { return c.base }

// Len returns the logical end position (one past the last byte).
func (c *Cursor) Len() int { return c.end }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return c.end - c.pos }

// Position returns the position of the next byte to be read.
func (c *Cursor) Position() int { return c.pos }

// PreviousPosition returns the position the cursor held before the last read.
func (c *Cursor) PreviousPosition() int { return c.prev }

// Mark captures the current position for a later Reset.
func (c *Cursor) Mark() int { return c.pos }

// Reset moves the cursor to pos. Positions outside [Base, Len] are clamped.
func (c *Cursor) Reset(pos int) {
	if pos < c.base {
		pos = c.base
	}
	if pos > c.end {
		pos = c.end
	}
	c.pos = pos
	c.prev = pos
	c.locate()
}

// ReadOne returns the next byte and advances. It reports false, without
// moving, when the buffer is exhausted.
func (c *Cursor) ReadOne() (byte, bool) {
	if c.pos >= c.end {
		return 0, false
	}
	for c.off >= len(c.segs[c.seg]) {
		c.seg++
		c.off = 0
	}
	b := c.segs[c.seg][c.off]
	c.off++
	c.prev = c.pos
	c.pos++
	return b, true
}

// MatchLiteral compares lit byte by byte with the upcoming bytes. On Mismatch
// the cursor is left just past the differing byte; on Short every remaining
// byte has been consumed and the caller restarts from its own mark once more
// data is available.
func (c *Cursor) MatchLiteral(lit []byte) Match {
	for _, want := range lit {
		b, ok := c.ReadOne()
		if !ok {
			return Short
		}
		if b != want {
			return Mismatch
		}
	}
	return Matched
}

// Slice returns the bytes in [start, end). When the range lies in a single
// segment the result aliases it; otherwise the bytes are copied.
func (c *Cursor) Slice(start, end int) []byte {
	if start < c.base {
		start = c.base
	}
	if end > c.end {
		end = c.end
	}
	if start >= end {
		return nil
	}
	i := c.segmentOf(start)
	from := start - c.starts[i]
	if to := end - c.starts[i]; to <= len(c.segs[i]) {
		return c.segs[i][from:to]
	}
	out := make([]byte, 0, end-start)
	for at := start; at < end; {
		i = c.segmentOf(at)
		s := c.segs[i][at-c.starts[i]:]
		if n := end - at; n < len(s) {
			s = s[:n]
		}
		out = append(out, s...)
		at += len(s)
	}
	return out
}

func (c *Cursor) locate() {
	if len(c.segs) == 0 {
		c.seg, c.off = 0, 0
		return
	}
	if c.pos == c.end {
		c.seg = len(c.segs) - 1
		c.off = len(c.segs[c.seg])
		return
	}
	c.seg = c.segmentOf(c.pos)
	c.off = c.pos - c.starts[c.seg]
}

// segmentOf returns the index of the segment holding pos, which must lie in
// [base, end).
func (c *Cursor) segmentOf(pos int) int {
	lo, hi := 0, len(c.segs)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.starts[mid] <= pos {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
