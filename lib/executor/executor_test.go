package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestChildPinning tests that ids map deterministically onto workers
func TestChildPinning(t *testing.T) {
	p := New(4)
	defer p.Close()

	tests := []struct {
		id   uint64
		want int
	}{
		{0, 0},
		{3, 3},
		{4, 0},
		{7, 3},
		{1<<64 - 1, 3},
	}

	for _, tt := range tests {
		if got := p.Child(tt.id).ID(); got != tt.want {
			t.Errorf("Child(%d) = worker %d, want %d", tt.id, got, tt.want)
		}
	}
}

// TestChildOrdering tests that tasks pinned to one worker run in submit order
func TestChildOrdering(t *testing.T) {
	p := New(3)
	defer p.Close()

	const n = 1000
	var mu sync.Mutex
	order := make([]int, 0, n)
	var wg sync.WaitGroup
	wg.Add(n)

	worker := p.Child(42)
	for i := 0; i < n; i++ {
		if !worker.Execute(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}) {
			t.Fatalf("Failed to execute task %d", i)
		}
	}
	wg.Wait()

	for i, v := range order {
		if v != i {
			t.Fatalf("Task %d ran at position %d", v, i)
		}
	}
}

// TestPanicRecovery tests that a panicking task does not kill its worker
func TestPanicRecovery(t *testing.T) {
	p := New(1)
	defer p.Close()

	recovered := make(chan any, 1)
	p.SetPanicHandler(func(worker int, r any) {
		recovered <- r
	})

	p.Execute(func() { panic("boom") })

	select {
	case r := <-recovered:
		if r != "boom" {
			t.Errorf("Unexpected recovered value %v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("Panic handler was not called")
	}

	// the single worker must still be alive
	done := make(chan struct{})
	p.Execute(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Worker died after panic")
	}

	if s := p.Stats(); s.Panics != 1 {
		t.Errorf("Expected 1 panic, got %d", s.Panics)
	}
}

// TestCloseDrains tests that Close runs all queued tasks
func TestCloseDrains(t *testing.T) {
	p := New(2)

	var count atomic.Int64
	for i := 0; i < 500; i++ {
		p.Execute(func() {
			time.Sleep(10 * time.Microsecond)
			count.Add(1)
		})
	}
	p.Close()

	if got := count.Load(); got != 500 {
		t.Errorf("Expected 500 executed tasks, got %d", got)
	}
	if p.Execute(func() {}) {
		t.Error("Execute should fail after Close")
	}
	if s := p.Stats(); s.Executed != 500 {
		t.Errorf("Expected 500 timed tasks, got %d", s.Executed)
	}
}
