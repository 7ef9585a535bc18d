package member

import (
	"fmt"
	"golang.org/x/exp/slices"
	"strings"
)

// --------------------------------------------------------------------------
// Member
// --------------------------------------------------------------------------

// Member is the identity and network address of one cluster node.
// A Member is a value type and must not be modified once created.
// Two members are the same node if their IDs match.
type Member struct {
	ID   string `cbor:"i" json:"id"`
	Addr string `cbor:"a" json:"addr"`
}

// New creates a new member
func New(id, addr string) Member {
	return Member{ID: id, Addr: addr}
}

// IsZero reports whether m is the zero Member (no node)
func (m Member) IsZero() bool {
	return m.ID == "" && m.Addr == ""
}

// Equal reports whether m and o identify the same node
func (m Member) Equal(o Member) bool {
	return m.ID == o.ID
}

func (m Member) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Addr)
}

// compare orders members by ID
func compare(a, b Member) int {
	return strings.Compare(a.ID, b.ID)
}

// --------------------------------------------------------------------------
// Set
// --------------------------------------------------------------------------

// Set is a sorted (by ID) list of members without duplicates.
// All methods return new sets and never modify the receiver, so a Set can be
// shared between goroutines once built.
type Set []Member

// NewSet creates a set from the given members, dropping duplicate IDs.
// If a member ID appears more than once the first occurrence wins.
func NewSet(members ...Member) Set {
	s := make(Set, 0, len(members))
	for _, m := range members {
		if !m.IsZero() {
			s = append(s, m)
		}
	}
	slices.SortStableFunc(s, compare)
	return slices.CompactFunc(s, Member.Equal)
}

// Len returns the number of members in the set
func (s Set) Len() int {
	return len(s)
}

// Contains reports whether a member with the same ID is part of the set
func (s Set) Contains(m Member) bool {
	_, found := slices.BinarySearchFunc(s, m, compare)
	return found
}

// Get returns the member with the given ID
func (s Set) Get(id string) (Member, bool) {
	idx := slices.IndexFunc(s, func(m Member) bool { return m.ID == id })
	if idx < 0 {
		return Member{}, false
	}
	return s[idx], true
}

// Add returns a new set containing s and the given members
func (s Set) Add(members ...Member) Set {
	all := make([]Member, 0, len(s)+len(members))
	all = append(all, s...)
	all = append(all, members...)
	return NewSet(all...)
}

// Remove returns a new set without the given members
func (s Set) Remove(members ...Member) Set {
	out := make(Set, 0, len(s))
	for _, m := range s {
		if !slices.ContainsFunc(members, m.Equal) {
			out = append(out, m)
		}
	}
	return out
}

// Union returns all members that are in s or o
func (s Set) Union(o Set) Set {
	return s.Add(o...)
}

// Difference returns all members of s that are not in o
func (s Set) Difference(o Set) Set {
	out := make(Set, 0, len(s))
	for _, m := range s {
		if !o.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// Equal reports whether both sets contain the same member IDs
func (s Set) Equal(o Set) bool {
	return slices.EqualFunc(s, o, Member.Equal)
}

// IDs returns the member IDs in set order
func (s Set) IDs() []string {
	ids := make([]string, len(s))
	for i, m := range s {
		ids[i] = m.ID
	}
	return ids
}

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, m := range s {
		parts[i] = m.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
