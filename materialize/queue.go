// Package materialize runs the durable side effects of a request (object
// uploads, cache warm-ups, derived renders) after the response has already
// been determined. Tasks are fire-and-forget: a unit captures an immutable
// snapshot of its inputs at schedule time, runs detached from the request
// that scheduled it, and on failure is logged with enough context for manual
// replay but never raised back to a client. Delivery is at-most-once; every
// materialized artifact is re-derivable on the next read, so a dropped task
// costs latency, not correctness.
package materialize

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/voxserve/cache"
)

// Task is one unit of background work. Name and CorrelationID identify the
// unit in logs; Run must not reference request-scoped state that can mutate
// after scheduling.
type Task struct {
	Name          string
	CorrelationID string
	Run           func(ctx context.Context) error
}

// Scheduler is the narrow surface the pipeline depends on, so tests can
// substitute a synchronous implementation.
type Scheduler interface {
	// Submit enqueues t without blocking. It reports false when the task was
	// dropped (queue full or queue closed).
	Submit(t Task) bool
}

// Queue is a bounded in-memory task queue consumed by a fixed worker pool.
// Execution order between independently submitted tasks is not guaranteed.
type Queue struct {
	q       chan Task
	log     cache.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ Scheduler = (*Queue)(nil)

type Options struct {
	Workers     int           // 0 => 4
	QueueLen    int           // 0 => 1024
	TaskTimeout time.Duration // per-task budget; 0 => 2m
	Logger      cache.Logger  // nil => NopLogger
}

func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueLen <= 0 {
		opts.QueueLen = 1024
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = cache.NopLogger{}
	}

	q := &Queue{
		q:       make(chan Task, opts.QueueLen),
		log:     opts.Logger,
		timeout: opts.TaskTimeout,
	}
	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.q {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	// Detached from any request context: client disconnects must not cancel
	// scheduled materialization.
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.log.Error("materialize task panicked", cache.Fields{
				"task":           t.Name,
				"correlation_id": t.CorrelationID,
				"panic":          r,
			})
		}
	}()

	if err := t.Run(ctx); err != nil {
		q.log.Error("materialize task failed", cache.Fields{
			"task":           t.Name,
			"correlation_id": t.CorrelationID,
			"err":            err,
		})
		return
	}
	q.log.Debug("materialize task done", cache.Fields{
		"task":           t.Name,
		"correlation_id": t.CorrelationID,
	})
}

// Submit enqueues t without blocking the caller. Overflow drops the task and
// logs it; the artifact will be rebuilt lazily on the next read.
func (q *Queue) Submit(t Task) bool {
	if t.Run == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.q <- t:
		return true
	default:
		q.log.Warn("materialize queue full, task dropped", cache.Fields{
			"task":           t.Name,
			"correlation_id": t.CorrelationID,
		})
		return false
	}
}

// Close stops intake and waits for in-flight tasks to drain.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.q)
		q.mu.Unlock()
		q.wg.Wait()
	})
}
