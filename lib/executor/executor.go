package executor

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("executor")

// Task is a unit of work executed by a worker
type Task func()

// PanicHandler is called with the recovered value if a task panics
type PanicHandler func(worker int, recovered any)

// Executor runs tasks asynchronously
type Executor interface {
	// Execute schedules the task. Returns false if the executor is closed.
	Execute(task Task) bool
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

// Pool is a fixed-size set of workers. Every worker consumes its own queue,
// so tasks submitted to the same worker run one after another in submit order.
type Pool struct {
	workers []*Worker
	next    atomic.Uint64
	wg      sync.WaitGroup
	closed  atomic.Bool

	onPanic atomic.Pointer[PanicHandler]

	registry gometrics.Registry
	timer    gometrics.Timer
	panics   gometrics.Counter
}

// New creates a pool with size workers (size < 1 = runtime.NumCPU())
func New(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}

	registry := gometrics.NewRegistry()
	p := &Pool{
		workers:  make([]*Worker, size),
		registry: registry,
		timer:    gometrics.GetOrRegisterTimer("executor.task", registry),
		panics:   gometrics.GetOrRegisterCounter("executor.panics", registry),
	}

	for i := range p.workers {
		w := &Worker{id: i, pool: p, queue: newQueue[Task]()}
		p.workers[i] = w
		p.wg.Add(1)
		go w.loop()
	}

	Logger.Debugf("started executor with %d workers", size)
	return p
}

// SetPanicHandler installs a handler called after a task panicked.
// The panic is always recovered and logged, the worker keeps running.
func (p *Pool) SetPanicHandler(h PanicHandler) {
	p.onPanic.Store(&h)
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return len(p.workers)
}

// Child returns the worker for id. The same id always maps to the same worker
// (id % size), which pins all tasks of e.g. one connection to one goroutine.
func (p *Pool) Child(id uint64) *Worker {
	return p.workers[id%uint64(len(p.workers))]
}

// Execute schedules the task on the next worker (round robin)
func (p *Pool) Execute(task Task) bool {
	return p.Child(p.next.Add(1)).Execute(task)
}

// Close stops accepting tasks, runs all queued tasks and waits for the workers
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w.queue.Close()
	}
	p.wg.Wait()
	Logger.Debugf("executor closed")
}

// Registry returns the metrics registry of the pool
func (p *Pool) Registry() gometrics.Registry {
	return p.registry
}

// Stats describes the work done by a pool
type Stats struct {
	Workers  int           `json:"workers"`
	Queued   int           `json:"queued"`
	Executed int64         `json:"executed"`
	Panics   int64         `json:"panics"`
	Mean     time.Duration `json:"mean"`
	P99      time.Duration `json:"p99"`
}

// Stats returns a snapshot of the pool metrics
func (p *Pool) Stats() Stats {
	snapshot := p.timer.Snapshot()
	s := Stats{
		Workers:  len(p.workers),
		Executed: snapshot.Count(),
		Panics:   p.panics.Count(),
		Mean:     time.Duration(snapshot.Mean()),
		P99:      time.Duration(snapshot.Percentile(0.99)),
	}
	for _, w := range p.workers {
		s.Queued += w.queue.Len()
	}
	return s
}

func (s Stats) String() string {
	return fmt.Sprintf("workers=%d queued=%d executed=%d panics=%d mean=%s p99=%s",
		s.Workers, s.Queued, s.Executed, s.Panics, s.Mean, s.P99)
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// Worker is a single goroutine of a pool
type Worker struct {
	id    int
	pool  *Pool
	queue *queue[Task]
}

// ID returns the index of the worker in its pool
func (w *Worker) ID() int {
	return w.id
}

// Execute schedules the task on this worker
func (w *Worker) Execute(task Task) bool {
	if task == nil {
		return false
	}
	return w.queue.Push(&task)
}

func (w *Worker) loop() {
	defer w.pool.wg.Done()
	for task := range w.queue.Recv() {
		w.run(*task)
	}
}

// run executes a single task and recovers a panic
func (w *Worker) run(task Task) {
	start := time.Now()
	defer func() {
		w.pool.timer.UpdateSince(start)
		if r := recover(); r != nil {
			w.pool.panics.Inc(1)
			Logger.Errorf("worker %d recovered from panic: %v", w.id, r)
			if h := w.pool.onPanic.Load(); h != nil {
				(*h)(w.id, r)
			}
		}
	}()
	task()
}
