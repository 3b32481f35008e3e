// Package queue provides the concurrency-bounded, priority-ordered, TTL-aware
// task runner in front of the generative-text backend. Every enqueued task
// resolves to exactly one outcome (ok, dropped, or failed) and is never
// silently lost.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority orders task execution. Higher runs first; ties run in enqueue
// order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// OutcomeKind discriminates the three terminal states of a task.
type OutcomeKind uint8

const (
	OutcomeOK OutcomeKind = iota
	OutcomeDropped
	OutcomeFailed
)

// Outcome is the single resolution of an enqueued task.
type Outcome struct {
	TaskID string
	Kind   OutcomeKind
	Value  any    // set when Kind == OutcomeOK
	Reason string // set when dropped or failed
}

// Task is a unit of work destined for the backend.
type Task struct {
	ID       string
	Priority Priority
	TTL      time.Duration // max queue wait before the task is dropped
	Timeout  time.Duration // max execution time, 0 = no limit
	Run      func(ctx context.Context) (any, error)
}

// BackpressureLevel classifies current load.
type BackpressureLevel string

const (
	BackpressureNormal   BackpressureLevel = "normal"
	BackpressureElevated BackpressureLevel = "elevated"
	BackpressureCritical BackpressureLevel = "critical"
)

// Metrics accumulates over the queue's lifetime.
type Metrics struct {
	Processed uint64 `json:"processed"` // executed to ok or failed
	Dropped   uint64 `json:"dropped"`
	Timeouts  uint64 `json:"timeouts"`
	Failures  uint64 `json:"failures"`

	WaitTotal    time.Duration `json:"wait_total"`    // enqueue → start
	ProcessTotal time.Duration `json:"process_total"` // start → finish
	MaxLoad      int           `json:"max_load"`      // peak queued+pending
}

// Config tunes the queue.
type Config struct {
	Concurrency       int
	ElevatedThreshold int // load at or above ⇒ elevated
	CriticalThreshold int // load at or above ⇒ critical
}

// DefaultConfig serializes execution and classifies load at 4 and 10.
func DefaultConfig() Config {
	return Config{Concurrency: 1, ElevatedThreshold: 4, CriticalThreshold: 10}
}

type item struct {
	task      Task
	done      func(Outcome)
	enqueued  time.Time
	seq       uint64
	heapIndex int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.heapIndex = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return it
}

// Queue runs tasks on a fixed pool of workers.
type Queue struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	heap    itemHeap
	pending int // executing right now
	seq     uint64
	closed  bool
	metrics Metrics
	idle    []chan struct{}
	wg      sync.WaitGroup
}

// New creates a queue and starts its workers.
func New(cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ElevatedThreshold <= 0 {
		cfg.ElevatedThreshold = DefaultConfig().ElevatedThreshold
	}
	if cfg.CriticalThreshold <= cfg.ElevatedThreshold {
		cfg.CriticalThreshold = cfg.ElevatedThreshold * 2
	}

	q := &Queue{cfg: cfg, now: time.Now}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// SetNowFunc overrides the queue's clock. Tests only.
func (q *Queue) SetNowFunc(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Enqueue submits a task. done is invoked exactly once with the task's
// outcome, from a worker goroutine; callers needing single-writer discipline
// must funnel the continuation back onto their own loop.
func (q *Queue) Enqueue(t Task, done func(Outcome)) error {
	if t.Run == nil {
		return fmt.Errorf("enqueue: task has no body")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if done == nil {
		done = func(Outcome) {}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue: queue closed")
	}
	q.seq++
	it := &item{task: t, done: done, enqueued: q.now(), seq: q.seq}
	heap.Push(&q.heap, it)
	if load := len(q.heap) + q.pending; load > q.metrics.MaxLoad {
		q.metrics.MaxLoad = load
	}
	q.mu.Unlock()

	q.cond.Signal()
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.heap) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.heap) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.heap).(*item)

		// Staleness check happens at dequeue: a task that waited past its
		// TTL is dropped without executing.
		now := q.now()
		wait := now.Sub(it.enqueued)
		if it.task.TTL > 0 && wait > it.task.TTL {
			q.metrics.Dropped++
			q.notifyIfIdleLocked()
			q.mu.Unlock()
			it.done(Outcome{TaskID: it.task.ID, Kind: OutcomeDropped,
				Reason: fmt.Sprintf("stale after %s (ttl %s)", wait.Round(time.Millisecond), it.task.TTL)})
			continue
		}

		q.pending++
		q.metrics.WaitTotal += wait
		q.mu.Unlock()

		outcome := q.execute(it)

		q.mu.Lock()
		q.pending--
		q.notifyIfIdleLocked()
		q.mu.Unlock()

		it.done(outcome)
	}
}

// execute runs one task body, converting errors and panics into failed
// outcomes.
func (q *Queue) execute(it *item) (out Outcome) {
	start := q.nowSafe()

	defer func() {
		if r := recover(); r != nil {
			q.recordFinish(start, false, false)
			slog.Error("queue task panicked", "task", it.task.ID, "panic", r)
			out = Outcome{TaskID: it.task.ID, Kind: OutcomeFailed, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()

	ctx := context.Background()
	cancel := func() {}
	if it.task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, it.task.Timeout)
	}
	defer cancel()

	value, err := it.task.Run(ctx)
	if err != nil {
		timedOut := ctx.Err() == context.DeadlineExceeded
		q.recordFinish(start, false, timedOut)
		return Outcome{TaskID: it.task.ID, Kind: OutcomeFailed, Reason: err.Error()}
	}

	q.recordFinish(start, true, false)
	return Outcome{TaskID: it.task.ID, Kind: OutcomeOK, Value: value}
}

func (q *Queue) recordFinish(start time.Time, ok, timedOut bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics.Processed++
	q.metrics.ProcessTotal += q.now().Sub(start)
	if !ok {
		q.metrics.Failures++
	}
	if timedOut {
		q.metrics.Timeouts++
	}
}

func (q *Queue) nowSafe() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now()
}

// Load returns queued plus executing task count.
func (q *Queue) Load() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap) + q.pending
}

// BackpressureLevel classifies current load against the two thresholds.
// Monotonic non-decreasing in load.
func (q *Queue) BackpressureLevel() BackpressureLevel {
	load := q.Load()
	switch {
	case load >= q.cfg.CriticalThreshold:
		return BackpressureCritical
	case load >= q.cfg.ElevatedThreshold:
		return BackpressureElevated
	default:
		return BackpressureNormal
	}
}

// Healthy is false under critical backpressure, or once at least 20 tasks
// have resolved and the cumulative drop rate reaches 0.4.
func (q *Queue) Healthy() bool {
	if q.BackpressureLevel() == BackpressureCritical {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	total := q.metrics.Processed + q.metrics.Dropped
	if total >= 20 {
		if rate := float64(q.metrics.Dropped) / float64(total); rate >= 0.4 {
			return false
		}
	}
	return true
}

// Metrics returns a copy of the accumulated counters.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.metrics
}

// OnIdle returns a channel closed once nothing is queued or running.
func (q *Queue) OnIdle() <-chan struct{} {
	ch := make(chan struct{})
	q.mu.Lock()
	if len(q.heap) == 0 && q.pending == 0 {
		q.mu.Unlock()
		close(ch)
		return ch
	}
	q.idle = append(q.idle, ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) notifyIfIdleLocked() {
	if len(q.heap) == 0 && q.pending == 0 {
		for _, ch := range q.idle {
			close(ch)
		}
		q.idle = nil
	}
}

// Close stops accepting tasks and waits for workers to finish the backlog.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
	q.wg.Wait()
}
