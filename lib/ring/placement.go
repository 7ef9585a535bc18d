package ring

import (
	"encoding/binary"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/avl"
)

// point is one virtual position of a member on the placement tree
type point struct {
	value uint64
	owner member.Member
}

func (p *point) Compare(x avl.Item) int {
	o := x.(*point)
	if c := compare(p.value, o.value); c != 0 {
		return c
	}
	switch {
	case p.owner.ID < o.owner.ID:
		return -1
	case p.owner.ID > o.owner.ID:
		return 1
	}
	return 0
}

// search is used to find the successor point of a token
type search uint64

func (s search) Compare(x avl.Item) int {
	return compare(uint64(s), x.(*point).value)
}

func compare(x0, x1 uint64) int {
	if x0 < x1 {
		return -1
	}
	if x0 > x1 {
		return 1
	}
	return 0
}

// digest hashes a member ID together with the index of its virtual node
func digest(id string, i int) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(id)
	var suffix [9]byte
	suffix[0] = '#'
	binary.LittleEndian.PutUint64(suffix[1:], uint64(i))
	_, _ = h.Write(suffix[:])
	return h.Sum64()
}

// buildPlacement places vnodes points for every member on an AVL tree.
// Members are inserted in set order, so the result only depends on the member set.
func buildPlacement(members member.Set, vnodes int) avl.Tree {
	var tree avl.Tree
	for _, m := range members {
		for i := 0; i < vnodes; i++ {
			// equal points can only come from the same member, ignore them
			tree, _ = tree.Insert(&point{value: digest(m.ID, i), owner: m})
		}
	}
	return tree
}

// ownerOf returns the member owning the first point at or after t, wrapping
// around to the smallest point
func ownerOf(tree avl.Tree, t Token) member.Member {
	item := tree.Successor(search(t))
	if item == nil {
		item = tree.Min()
	}
	if item == nil {
		return member.Member{}
	}
	return item.(*point).owner
}
