// Package slab provides an index-based arena with stable, generation-checked
// keys for per-connection state.
package slab

import "errors"

// ErrFull is returned by Insert when the slab is at capacity.
var ErrFull = errors.New("slab: capacity exhausted")

// Key identifies an occupied slot. A key whose slot was freed and reused no
// longer resolves.
type Key uint64

func makeKey(idx, gen uint32) Key { return Key(uint64(gen)<<32 | uint64(idx)) }

// Index returns the slot index encoded in k.
func (k Key) Index() uint32 { return uint32(k) }

func (k Key) generation() uint32 { return uint32(k >> 32) }

type slot[T any] struct {
	value T
	gen   uint32
	used  bool
}

// Slab stores values in a growable backing slice and recycles freed slots
// through a free-index stack. It is not safe for concurrent use.
type Slab[T any] struct {
	slots []slot[T]
	free  []uint32
	limit int
	n     int
}

// New creates a slab holding at most limit values; limit <= 0 means
// unbounded. capacity preallocates the backing store.
func New[T any](capacity, limit int) *Slab[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Slab[T]{slots: make([]slot[T], 0, capacity), limit: limit}
}

// Len returns the number of occupied slots.
func (s *Slab[T]) Len() int { return s.n }

// Insert stores v and returns its key.
func (s *Slab[T]) Insert(v T) (Key, error) {
	if s.limit > 0 && s.n >= s.limit {
		return 0, ErrFull
	}
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot[T]{gen: 1})
	}
	sl := &s.slots[idx]
	sl.value = v
	sl.used = true
	s.n++
	return makeKey(idx, sl.gen), nil
}

func (s *Slab[T]) lookup(k Key) *slot[T] {
	idx := k.Index()
	if int(idx) >= len(s.slots) {
		return nil
	}
	sl := &s.slots[idx]
	if !sl.used || sl.gen != k.generation() {
		return nil
	}
	return sl
}

// Get returns the value stored under k.
func (s *Slab[T]) Get(k Key) (T, bool) {
	if sl := s.lookup(k); sl != nil {
		return sl.value, true
	}
	var zero T
	return zero, false
}

// Remove frees the slot of k and returns its value. Removing a stale key is
// a no-op.
func (s *Slab[T]) Remove(k Key) (T, bool) {
	var zero T
	sl := s.lookup(k)
	if sl == nil {
		return zero, false
	}
	v := sl.value
	sl.value = zero
	sl.used = false
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	s.free = append(s.free, k.Index())
	s.n--
	return v, true
}

// Range calls fn for every occupied slot until fn returns false. fn may
// remove the slot it is visiting.
func (s *Slab[T]) Range(fn func(Key, T) bool) {
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.used {
			continue
		}
		if !fn(makeKey(uint32(i), sl.gen), sl.value) {
			return
		}
	}
}
