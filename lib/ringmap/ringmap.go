package ringmap

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRing/lib/member"
	"github.com/ValentinKolb/dRing/lib/ring"
	"github.com/lni/dragonboat/v4/logger"
	"sync"
)

var Logger = logger.GetLogger("ringmap")

// ErrBucketCount is returned by SetRing for a ring with a different bucket count
var ErrBucketCount = errors.New("bucket count mismatch")

// Entries is a raw key value map
type Entries map[string][]byte

// merge copies all entries of src into e
func (e Entries) merge(src Entries) {
	for k, v := range src {
		e[k] = v
	}
}

// clone returns a shallow copy of the map
func (e Entries) clone() Entries {
	out := make(Entries, len(e))
	out.merge(e)
	return out
}

// --------------------------------------------------------------------------
// Bucket
// --------------------------------------------------------------------------

// bucket is one locally owned partition. Its mutex enforces a single writer
// at a time, so a ChangeRing pass never races with a concurrent Set on the
// same bucket.
type bucket struct {
	mu      sync.RWMutex
	rng     ring.TokenRange
	entries Entries
}

func newBucket(rng ring.TokenRange) *bucket {
	return &bucket{rng: rng, entries: make(Entries)}
}

// --------------------------------------------------------------------------
// RingMap
// --------------------------------------------------------------------------

// RingMap is the partitioned store of one node. It holds one map per locally
// owned bucket and a migration buffer for entries whose bucket is not owned
// locally.
//
// Lock order: mu, then bucket.mu, then migrationMu.
type RingMap struct {
	self member.Member

	// mu guards ring and the buckets slice. Key operations hold the read lock,
	// a topology change holds the write lock.
	mu      sync.RWMutex
	ring    *ring.ConsistentHashRing
	buckets []*bucket // nil = bucket not owned locally

	migrationMu sync.Mutex
	migration   map[ring.TokenRange]Entries
}

// New creates the store for self and materializes every bucket self owns in r
func New(self member.Member, r *ring.ConsistentHashRing) *RingMap {
	rm := &RingMap{
		self:      self,
		ring:      r,
		buckets:   make([]*bucket, r.BucketCount()),
		migration: make(map[ring.TokenRange]Entries),
	}
	for _, i := range r.OwnedBy(self) {
		rm.buckets[i] = newBucket(r.BucketRange(i))
	}
	return rm
}

// Self returns the member this store belongs to
func (rm *RingMap) Self() member.Member {
	return rm.self
}

// Ring returns the current ring
func (rm *RingMap) Ring() *ring.ConsistentHashRing {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.ring
}

// GetBucket returns a copy of the entries of bucket i. The boolean is false
// if the bucket is not owned locally.
func (rm *RingMap) GetBucket(i int) (Entries, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if i < 0 || i >= len(rm.buckets) || rm.buckets[i] == nil {
		return nil, false
	}
	b := rm.buckets[i]
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries.clone(), true
}

// DataWaitingForMigration returns a copy of the migration buffer
func (rm *RingMap) DataWaitingForMigration() map[ring.TokenRange]Entries {
	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()

	out := make(map[ring.TokenRange]Entries, len(rm.migration))
	for rng, entries := range rm.migration {
		out[rng] = entries.clone()
	}
	return out
}

// Stats describes the content of the store
type Stats struct {
	OwnedBuckets    int `json:"owned_buckets"`
	Entries         int `json:"entries"`
	BufferedRanges  int `json:"buffered_ranges"`
	BufferedEntries int `json:"buffered_entries"`
}

// Stats counts the entries of the store
func (rm *RingMap) Stats() Stats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var s Stats
	for _, b := range rm.buckets {
		if b == nil {
			continue
		}
		s.OwnedBuckets++
		b.mu.RLock()
		s.Entries += len(b.entries)
		b.mu.RUnlock()
	}

	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()
	s.BufferedRanges = len(rm.migration)
	for _, entries := range rm.migration {
		s.BufferedEntries += len(entries)
	}
	return s
}

// --------------------------------------------------------------------------
// Key Operations (implements store.IStore)
// --------------------------------------------------------------------------

// Set inserts or updates a key. If the bucket of the key is not owned locally
// the entry is stored in the migration buffer.
func (rm *RingMap) Set(key string, value []byte) error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	rm.setLocked(key, value, true)
	return nil
}

// setLocked stores a key in its bucket or the buffer. Without overwrite an
// existing value is kept. Requires rm.mu to be held.
func (rm *RingMap) setLocked(key string, value []byte, overwrite bool) {
	t := ring.HashKey(key)
	id := rm.ring.FindBucketIDFromToken(t)

	if b := rm.buckets[id]; b != nil {
		b.mu.Lock()
		if _, exists := b.entries[key]; overwrite || !exists {
			b.entries[key] = value
		}
		b.mu.Unlock()
		return
	}

	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()
	rng, ok := rm.bufferedRangeOf(t)
	if !ok {
		rng = rm.ring.BucketRange(id)
		rm.migration[rng] = make(Entries)
	}
	if _, exists := rm.migration[rng][key]; overwrite || !exists {
		rm.migration[rng][key] = value
	}
}

// Get returns the value of a key, falling back to the migration buffer
func (rm *RingMap) Get(key string) ([]byte, bool, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	t := ring.HashKey(key)
	if b := rm.buckets[rm.ring.FindBucketIDFromToken(t)]; b != nil {
		b.mu.RLock()
		defer b.mu.RUnlock()
		v, ok := b.entries[key]
		return v, ok, nil
	}

	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()
	if rng, ok := rm.bufferedRangeOf(t); ok {
		v, ok := rm.migration[rng][key]
		return v, ok, nil
	}
	return nil, false, nil
}

// Has reports whether a key exists
func (rm *RingMap) Has(key string) (bool, error) {
	_, ok, err := rm.Get(key)
	return ok, err
}

// Delete removes a key from its bucket or the migration buffer
func (rm *RingMap) Delete(key string) error {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	t := ring.HashKey(key)
	if b := rm.buckets[rm.ring.FindBucketIDFromToken(t)]; b != nil {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil
	}

	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()
	if rng, ok := rm.bufferedRangeOf(t); ok {
		delete(rm.migration[rng], key)
		if len(rm.migration[rng]) == 0 {
			delete(rm.migration, rng)
		}
	}
	return nil
}

// Merge inserts entries moved over from another node. Keys that already
// exist locally were written after the move started and keep their value.
func (rm *RingMap) Merge(entries Entries) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for k, v := range entries {
		rm.setLocked(k, v, false)
	}
}

// TakeBuffered removes and returns the whole migration buffer
func (rm *RingMap) TakeBuffered() Entries {
	rm.migrationMu.Lock()
	defer rm.migrationMu.Unlock()

	out := make(Entries)
	for rng, entries := range rm.migration {
		out.merge(entries)
		delete(rm.migration, rng)
	}
	return out
}

// bufferedRangeOf returns the buffered range containing t.
// Requires rm.migrationMu to be held.
func (rm *RingMap) bufferedRangeOf(t ring.Token) (ring.TokenRange, bool) {
	for rng := range rm.migration {
		if rng.Contains(t) {
			return rng, true
		}
	}
	return ring.TokenRange{}, false
}

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// SetRing swaps the ring and returns the previous one. The bucket count of
// the store is fixed, a ring with another count is rejected with ErrBucketCount.
//
// Buckets that are no longer owned move their entries into the migration
// buffer. Newly owned buckets are created empty and take over every buffered
// entry they cover. No entry is ever held by a bucket and the buffer at once.
func (rm *RingMap) SetRing(next *ring.ConsistentHashRing) (*ring.ConsistentHashRing, error) {
	if next == nil {
		return nil, fmt.Errorf("ring must not be nil")
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	// rm.mu excludes every other writer, bucket and buffer locks are not needed

	prev := rm.ring

	// buffered ranges are bucket ranges, ranges of another count would overlap them
	if prev.BucketCount() != next.BucketCount() {
		return nil, fmt.Errorf("%w: %d buckets, store has %d", ErrBucketCount, next.BucketCount(), prev.BucketCount())
	}

	released, acquired := 0, 0
	for i := range rm.buckets {
		owned := next.GetBucket(i).Owner.Equal(rm.self)
		b := rm.buckets[i]

		switch {
		case b != nil && !owned:
			rm.bufferEntries(b.rng, b.entries)
			rm.buckets[i] = nil
			released++
		case b == nil && owned:
			b = newBucket(next.BucketRange(i))
			rm.drainBuffer(b.rng, b.entries)
			rm.buckets[i] = b
			acquired++
		}
	}

	rm.ring = next
	Logger.Debugf("ring changed: released %d and acquired %d buckets", released, acquired)
	return prev, nil
}

// bufferEntries moves entries of rng into the migration buffer.
// Requires rm.mu to be held for writing.
func (rm *RingMap) bufferEntries(rng ring.TokenRange, entries Entries) {
	if len(entries) == 0 {
		return
	}
	if existing, ok := rm.migration[rng]; ok {
		existing.merge(entries)
		return
	}
	rm.migration[rng] = entries
}

// drainBuffer moves every buffered entry inside rng into dst.
// Requires exclusive access to the buffer.
func (rm *RingMap) drainBuffer(rng ring.TokenRange, dst Entries) int {
	moved := 0
	for buffered, entries := range rm.migration {
		switch {
		case rng.Covers(buffered):
			dst.merge(entries)
			moved += len(entries)
			delete(rm.migration, buffered)
		case rng.Overlaps(buffered):
			for k, v := range entries {
				if rng.Contains(ring.HashKey(k)) {
					dst[k] = v
					delete(entries, k)
					moved++
				}
			}
			if len(entries) == 0 {
				delete(rm.migration, buffered)
			}
		}
	}
	return moved
}

// ChangeRing removes and returns every entry whose token lies in [start, end).
// start == end selects the full ring.
//
// Buckets are visited circularly from the bucket of start to the bucket of end.
// A bucket completely inside the range is moved as a whole, a partially
// covered bucket is filtered entry by entry. If a visited bucket is not owned
// locally the migration buffer is scanned for the range as well.
// Every returned entry is removed from its source, so a second call on the
// same range returns nothing.
func (rm *RingMap) ChangeRing(start, end ring.Token) Entries {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	query := ring.TokenRange{Start: start, End: end}
	n := rm.ring.BucketCount()
	first := rm.ring.FindBucketIDFromToken(start)
	last := rm.ring.FindBucketIDFromToken(end)

	var count int
	switch {
	case query.IsFull():
		count = n
	case first == last && end < start:
		// the range wraps around the whole ring and ends inside its first bucket
		count = n
	default:
		count = (last-first+n)%n + 1
	}

	out := make(Entries)
	missing := false
	for k := 0; k < count; k++ {
		b := rm.buckets[(first+k)%n]
		if b == nil {
			missing = true
			continue
		}
		b.mu.Lock()
		if query.Covers(b.rng) {
			out.merge(b.entries)
			b.entries = make(Entries)
		} else {
			for key, v := range b.entries {
				if query.Contains(ring.HashKey(key)) {
					out[key] = v
					delete(b.entries, key)
				}
			}
		}
		b.mu.Unlock()
	}

	if missing {
		rm.migrationMu.Lock()
		fromBuffer := rm.drainBuffer(query, out)
		rm.migrationMu.Unlock()
		if fromBuffer > 0 {
			Logger.Debugf("moved %d entries of %v out of the migration buffer", fromBuffer, query)
		}
	}

	Logger.Debugf("change ring %v (%d buckets) moved %d entries", query, count, len(out))
	return out
}
