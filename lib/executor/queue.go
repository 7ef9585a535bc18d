package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// queue is a lock-free multi-producer single-consumer queue.
// Producers append to a linked list with atomic operations, a single
// goroutine moves the values to the Recv channel.
//
// Under concurrent Push calls the order is determined by which producer
// completes first, values pushed by one goroutine keep their order.
type queue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool
	length   atomic.Int64

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// newQueue creates a new queue and starts its consumer goroutine
func newQueue[T any]() *queue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &queue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
func (q *queue[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8 = 0

	for {
		tailNode := q.tail.Load()

		// try to atomically append our node to the current tail
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)
				q.signal()
				return true
			}
		} else {
			// help a producer that appended but did not advance the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin at low contention, yield at higher contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// signal wakes up the consumer. Taking the mutex ensures the wakeup is not
// lost between the consumer's emptiness check and its Wait.
func (q *queue[T]) signal() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// consume continuously sends items from the linked list to the output channel
func (q *queue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.length.Add(-1)
			q.out <- value

			// help go gc
			next.value = nil
		}

		// Exit if closed and no more items
		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the queued values are delivered on.
// The channel is closed once the queue is closed and drained.
func (q *queue[T]) Recv() <-chan *T {
	return q.out
}

// Close prevents further pushes. Items already queued are still delivered.
func (q *queue[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed returns true if the queue is closed.
func (q *queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of the items waiting in the queue
func (q *queue[T]) Len() int {
	return int(q.length.Load())
}
