package cluster

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"testing"
)

func members(ids ...string) member.Set {
	ms := make([]member.Member, len(ids))
	for i, id := range ids {
		ms[i] = member.New(id, id+":7000")
	}
	return member.NewSet(ms...)
}

func state(master string, commit uint64, ids ...string) State {
	return State{Members: members(append(ids, master)...), Master: member.New(master, master+":7000"), CommitIndex: commit}
}

func TestYields(t *testing.T) {
	tests := []struct {
		name   string
		local  State
		remote State
		want   bool
	}{
		{"smaller yields", state("a", 9, "b"), state("c", 1, "d", "e"), true},
		{"larger wins", state("c", 1, "d", "e"), state("a", 9, "b"), false},
		{"lower commit yields", state("a", 1, "b"), state("c", 2, "d"), true},
		{"higher commit wins", state("c", 2, "d"), state("a", 1, "b"), false},
		{"full tie higher master id yields", state("z", 3), state("y", 3), true},
		{"full tie lower master id wins", state("y", 3), state("z", 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Yields(tt.local, tt.remote); got != tt.want {
				t.Errorf("Yields(%s, %s) = %v, want %v", tt.local, tt.remote, got, tt.want)
			}
		})
	}
}

func TestYieldsExactlyOneSide(t *testing.T) {
	var states []State
	for size := 1; size <= 3; size++ {
		for commit := uint64(0); commit < 3; commit++ {
			for _, master := range []string{"m1", "m2"} {
				ids := make([]string, size-1)
				for i := range ids {
					ids[i] = fmt.Sprintf("%s-%d", master, i)
				}
				states = append(states, state(master, commit, ids...))
			}
		}
	}

	for _, a := range states {
		for _, b := range states {
			if a.SameCluster(b) {
				continue
			}
			if Yields(a, b) == Yields(b, a) {
				t.Fatalf("both or none yield for %s and %s", a, b)
			}
			// the larger cluster always survives
			if a.Size() > b.Size() && Yields(a, b) {
				t.Fatalf("larger cluster %s yields to %s", a, b)
			}
		}
	}
}

func TestClusterAdopt(t *testing.T) {
	self := member.New("a", "a:7000")

	t.Run("new cluster", func(t *testing.T) {
		c := New(self)
		if !c.IsMaster() || c.Snapshot().CommitIndex != 0 || !c.Knows(self) {
			t.Fatalf("unexpected initial state %s", c.Snapshot())
		}
	})

	t.Run("forward", func(t *testing.T) {
		c := New(self)
		var calls int
		c.OnChange(func(prev, next State) {
			calls++
			if prev.CommitIndex != 0 || next.CommitIndex != 4 {
				t.Errorf("unexpected change %s -> %s", prev, next)
			}
		})
		changed, err := c.Adopt(state("b", 4, "a"))
		if err != nil || !changed {
			t.Fatalf("Adopt() = %v, %v", changed, err)
		}
		if c.IsMaster() || calls != 1 {
			t.Fatalf("master=%v calls=%d", c.IsMaster(), calls)
		}

		// same state again is a no-op
		changed, err = c.Adopt(state("b", 4, "a"))
		if err != nil || changed || calls != 1 {
			t.Fatalf("Adopt() again = %v, %v (calls %d)", changed, err, calls)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		c := New(self)
		if _, err := c.Adopt(state("b", 4, "a")); err != nil {
			t.Fatal(err)
		}

		tests := []struct {
			name string
			next State
			want error
		}{
			{"stale", state("b", 3, "a"), ErrStaleState},
			{"conflicting", state("c", 4, "a"), ErrConflictingState},
			{"not a member", state("b", 5, "c"), ErrNotMember},
		}
		for _, tt := range tests {
			if _, err := c.Adopt(tt.next); !errors.Is(err, tt.want) {
				t.Errorf("%s: Adopt() error = %v, want %v", tt.name, err, tt.want)
			}
		}
		if c.Snapshot().CommitIndex != 4 {
			t.Errorf("state changed to %s", c.Snapshot())
		}
	})
}

func TestClusterApply(t *testing.T) {
	self := member.New("a", "a:7000")
	c := New(self)

	next, err := c.Apply(members("b", "c"))
	if err != nil {
		t.Fatal(err)
	}
	if next.CommitIndex != 1 || next.Size() != 3 || !next.Members.Contains(self) {
		t.Fatalf("unexpected state %s", next)
	}

	follower := New(member.New("b", "b:7000"))
	if _, err := follower.Adopt(next); err != nil {
		t.Fatal(err)
	}
	if _, err := follower.Apply(members("d")); !errors.Is(err, ErrNotMaster) {
		t.Fatalf("Apply() on follower error = %v", err)
	}
}
