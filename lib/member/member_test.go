package member

import (
	"testing"
)

func TestNewSetSortsAndDeduplicates(t *testing.T) {
	s := NewSet(
		New("c", "127.0.0.1:3"),
		New("a", "127.0.0.1:1"),
		New("b", "127.0.0.1:2"),
		New("a", "127.0.0.1:9"),
		Member{},
	)

	if s.Len() != 3 {
		t.Fatalf("expected 3 members, got %d: %v", s.Len(), s)
	}
	ids := s.IDs()
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("unexpected order: %v", ids)
	}
	if m, _ := s.Get("a"); m.Addr != "127.0.0.1:1" {
		t.Errorf("first occurrence should win, got %s", m)
	}
}

func TestSetOperations(t *testing.T) {
	a, b, c, d := New("a", "x:1"), New("b", "x:2"), New("c", "x:3"), New("d", "x:4")
	left := NewSet(a, b, c)
	right := NewSet(c, d)

	tests := []struct {
		name     string
		got      Set
		expected Set
	}{
		{"union", left.Union(right), NewSet(a, b, c, d)},
		{"difference", left.Difference(right), NewSet(a, b)},
		{"remove", left.Remove(b), NewSet(a, c)},
		{"add", right.Add(a, a), NewSet(a, c, d)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}

	if !left.Contains(b) || left.Contains(d) {
		t.Error("Contains returned wrong result")
	}
	if left.Len() != 3 {
		t.Error("set operations must not modify the receiver")
	}
}
