package lru

import (
	"reflect"
	"testing"
)

func TestStrategy_Order(t *testing.T) {
	s := New[string, int]()
	s.Add("a", 1)
	s.Add("b", 2)
	s.Add("c", 3)

	if got, want := s.Keys(), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}

	// Get moves "a" to most recent; Peek leaves "b" alone.
	s.Get("a")
	s.Peek("b")

	if got, want := s.Keys(), []string{"b", "c", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() after Get = %v, want %v", got, want)
	}

	key, val, ok := s.RemoveOldest()
	if !ok || key != "b" || val != 2 {
		t.Errorf("RemoveOldest() = %q, %d, %v; want b, 2, true", key, val, ok)
	}
}

func TestStrategy_NeverEvictsOnItsOwn(t *testing.T) {
	s := New[int, int]()
	for i := 0; i < 10000; i++ {
		s.Add(i, i)
	}
	if s.Len() != 10000 {
		t.Errorf("Len() = %d, want 10000", s.Len())
	}
}

func TestStrategy_RemoveAndPurge(t *testing.T) {
	s := New[string, int]()
	s.Add("a", 1)
	s.Add("b", 2)

	if !s.Remove("a") {
		t.Error("Remove(a) = false, want true")
	}
	if s.Remove("a") {
		t.Error("Remove(a) twice = true, want false")
	}

	s.Purge()
	if s.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", s.Len())
	}
	if _, _, ok := s.RemoveOldest(); ok {
		t.Error("RemoveOldest() on empty strategy returned ok")
	}
}
