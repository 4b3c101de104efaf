package slab

import (
	"errors"
	"testing"
)

func TestInsertGetRemove(t *testing.T) {
	s := New[string](4, 0)
	a, _ := s.Insert("a")
	b, _ := s.Insert("b")

	if v, ok := s.Get(a); !ok || v != "a" {
		t.Errorf("Expected a, got %q (%v)", v, ok)
	}
	if s.Len() != 2 {
		t.Errorf("Expected len 2, got %d", s.Len())
	}
	if v, ok := s.Remove(a); !ok || v != "a" {
		t.Errorf("Expected to remove a, got %q (%v)", v, ok)
	}
	if _, ok := s.Get(a); ok {
		t.Error("Expected removed key to miss")
	}
	if _, ok := s.Remove(a); ok {
		t.Error("Expected a second Remove to be a no-op")
	}
	if v, ok := s.Get(b); !ok || v != "b" {
		t.Errorf("Expected b to survive, got %q (%v)", v, ok)
	}
}

func TestSlotReuseInvalidatesOldKey(t *testing.T) {
	s := New[int](0, 0)
	old, _ := s.Insert(1)
	s.Remove(old)
	fresh, _ := s.Insert(2)

	if fresh.Index() != old.Index() {
		t.Fatalf("Expected slot %d to be reused, got %d", old.Index(), fresh.Index())
	}
	if fresh == old {
		t.Fatal("Expected a new generation for the reused slot")
	}
	if _, ok := s.Get(old); ok {
		t.Error("Stale key resolved to the new occupant")
	}
	if v, _ := s.Get(fresh); v != 2 {
		t.Errorf("Expected 2, got %d", v)
	}
}

func TestLimit(t *testing.T) {
	s := New[int](0, 2)
	k, _ := s.Insert(1)
	_, _ = s.Insert(2)
	if _, err := s.Insert(3); !errors.Is(err, ErrFull) {
		t.Fatalf("Expected ErrFull, got %v", err)
	}
	s.Remove(k)
	if _, err := s.Insert(3); err != nil {
		t.Errorf("Expected room after Remove, got %v", err)
	}
}

func TestRangeRemoving(t *testing.T) {
	s := New[int](0, 0)
	for i := 0; i < 5; i++ {
		_, _ = s.Insert(i)
	}
	seen := 0
	s.Range(func(k Key, _ int) bool {
		seen++
		s.Remove(k)
		return true
	})
	if seen != 5 || s.Len() != 0 {
		t.Errorf("Expected 5 visited and an empty slab, got %d and %d", seen, s.Len())
	}
}

func TestUnknownKey(t *testing.T) {
	s := New[int](0, 0)
	if _, ok := s.Get(makeKey(7, 1)); ok {
		t.Error("Expected out-of-range key to miss")
	}
}
