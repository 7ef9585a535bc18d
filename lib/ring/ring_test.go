package ring

import (
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"math"
	"math/rand"
	"testing"
)

func testMembers(n int) member.Set {
	members := make([]member.Member, n)
	for i := range members {
		members[i] = member.New(fmt.Sprintf("node-%d", i), fmt.Sprintf("127.0.0.1:%d", 9000+i))
	}
	return member.NewSet(members...)
}

// TestIsTokenBetween tests the circular interval test
func TestIsTokenBetween(t *testing.T) {
	tests := []struct {
		name       string
		t          Token
		start, end Token
		want       bool
	}{
		{"start is inclusive", 10, 10, 20, true},
		{"end is exclusive", 20, 10, 20, false},
		{"inside", 15, 10, 20, true},
		{"before", 5, 10, 20, false},
		{"wrapped after start", math.MaxUint64, 100, 10, true},
		{"wrapped before end", 5, 100, 10, true},
		{"wrapped end exclusive", 10, 100, 10, false},
		{"wrapped gap", 50, 100, 10, false},
		{"full ring", 12345, 7, 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenBetween(tt.t, tt.start, tt.end); got != tt.want {
				t.Errorf("IsTokenBetween(%d, %d, %d) = %v, want %v", tt.t, tt.start, tt.end, got, tt.want)
			}
		})
	}
}

// TestTokenRangeCovers tests range containment including wrapping ranges
func TestTokenRangeCovers(t *testing.T) {
	tests := []struct {
		name string
		r, o TokenRange
		want bool
	}{
		{"identical", TokenRange{10, 20}, TokenRange{10, 20}, true},
		{"inner", TokenRange{10, 20}, TokenRange{12, 18}, true},
		{"overhang end", TokenRange{10, 20}, TokenRange{15, 25}, false},
		{"overhang start", TokenRange{10, 20}, TokenRange{5, 15}, false},
		{"disjoint", TokenRange{10, 20}, TokenRange{30, 40}, false},
		{"full covers everything", FullRange(), TokenRange{100, 5}, true},
		{"nothing covers full", TokenRange{10, 9}, FullRange(), false},
		{"wrapped outer", TokenRange{100, 50}, TokenRange{math.MaxUint64 - 5, 10}, true},
		{"wrapped inner outside", TokenRange{100, 50}, TokenRange{40, 60}, false},
		{"wrapping inner in plain outer", TokenRange{10, 20}, TokenRange{15, 12}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Covers(tt.o); got != tt.want {
				t.Errorf("%v.Covers(%v) = %v, want %v", tt.r, tt.o, got, tt.want)
			}
		})
	}
}

// TestTokenRangeOverlaps tests the overlap test
func TestTokenRangeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		r, o TokenRange
		want bool
	}{
		{"partial", TokenRange{10, 20}, TokenRange{15, 25}, true},
		{"touching", TokenRange{10, 20}, TokenRange{20, 30}, false},
		{"disjoint", TokenRange{10, 20}, TokenRange{30, 40}, false},
		{"inner", TokenRange{10, 20}, TokenRange{12, 13}, true},
		{"wrapped", TokenRange{100, 10}, TokenRange{5, 50}, true},
		{"full", FullRange(), TokenRange{5, 6}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Overlaps(tt.o); got != tt.want {
				t.Errorf("%v.Overlaps(%v) = %v, want %v", tt.r, tt.o, got, tt.want)
			}
			if got := tt.o.Overlaps(tt.r); got != tt.want {
				t.Errorf("overlap is not symmetric for %v and %v", tt.r, tt.o)
			}
		})
	}
}

// TestNewEvenSpacing tests that bucket start tokens are evenly spread
func TestNewEvenSpacing(t *testing.T) {
	r, err := New(4, testMembers(2), nil)
	if err != nil {
		t.Fatalf("Failed to create ring: %v", err)
	}

	want := []Token{0, 1 << 62, 1 << 63, 3 << 62}
	if r.BucketCount() != len(want) {
		t.Fatalf("Expected %d buckets, got %d", len(want), r.BucketCount())
	}
	for i, token := range want {
		if got := r.GetBucket(i).Token; got != token {
			t.Errorf("Bucket %d starts at %d, want %d", i, got, token)
		}
	}

	lookups := []struct {
		t    Token
		want int
	}{
		{0, 0},
		{1<<62 - 1, 0},
		{1 << 62, 1},
		{1<<63 + 1, 2},
		{math.MaxUint64, 3},
	}
	for _, l := range lookups {
		if got := r.FindBucketIDFromToken(l.t); got != l.want {
			t.Errorf("FindBucketIDFromToken(%d) = %d, want %d", l.t, got, l.want)
		}
	}
}

// TestNewInvalid tests that invalid rings are rejected
func TestNewInvalid(t *testing.T) {
	if _, err := New(0, testMembers(1), nil); err == nil {
		t.Error("Expected error for zero buckets")
	}
	if _, err := New(8, nil, nil); err == nil {
		t.Error("Expected error for empty member set")
	}
}

// TestCoverage tests that every token is contained in exactly one bucket range
func TestCoverage(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for _, n := range []int{1, 2, 3, 7, 64, 271} {
		t.Run(fmt.Sprintf("buckets=%d", n), func(t *testing.T) {
			r, err := New(n, testMembers(3), nil)
			if err != nil {
				t.Fatalf("Failed to create ring: %v", err)
			}

			samples := []Token{0, math.MaxUint64, r.GetBucket(n - 1).Token}
			for i := 0; i < 500; i++ {
				samples = append(samples, Token(rnd.Uint64()))
			}

			for _, token := range samples {
				count := 0
				for i := 0; i < n; i++ {
					if r.BucketRange(i).Contains(token) {
						count++
					}
				}
				if count != 1 {
					t.Fatalf("Token %d is in %d buckets", token, count)
				}
				if !r.BucketRange(r.FindBucketIDFromToken(token)).Contains(token) {
					t.Fatalf("Lookup for token %d returned a bucket not containing it", token)
				}
			}
		})
	}
}

// TestDeterministicPlacement tests that the ring only depends on the member set
func TestDeterministicPlacement(t *testing.T) {
	members := testMembers(5)
	reversed := make([]member.Member, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		reversed = append(reversed, members[i])
	}

	a, _ := New(64, members, nil)
	b, _ := New(64, member.NewSet(reversed...), nil)

	for i := 0; i < a.BucketCount(); i++ {
		if !a.GetBucket(i).Owner.Equal(b.GetBucket(i).Owner) {
			t.Fatalf("Bucket %d has different owners: %v vs %v", i, a.GetBucket(i).Owner, b.GetBucket(i).Owner)
		}
	}

	owned := 0
	for _, m := range members {
		owned += len(a.OwnedBy(m))
	}
	if owned != a.BucketCount() {
		t.Errorf("Expected %d owned buckets, got %d", a.BucketCount(), owned)
	}
}

// TestMoves tests that adding a member only moves buckets to the new member
func TestMoves(t *testing.T) {
	members := testMembers(4)
	prev, _ := New(128, members[:3], nil)
	next, _ := New(128, members, nil)

	moves, err := Moves(prev, next)
	if err != nil {
		t.Fatalf("Moves failed: %v", err)
	}
	if len(moves) == 0 {
		t.Fatal("Expected at least one bucket to move to the new member")
	}
	for _, mv := range moves {
		if !mv.To.Equal(members[3]) {
			t.Errorf("Bucket %d moved to %v, expected %v", mv.Bucket, mv.To, members[3])
		}
		if mv.Range != next.BucketRange(mv.Bucket) {
			t.Errorf("Move of bucket %d has wrong range %v", mv.Bucket, mv.Range)
		}
	}

	other, _ := New(64, members, nil)
	if _, err := Moves(prev, other); err == nil {
		t.Error("Expected error for different bucket counts")
	}
}
