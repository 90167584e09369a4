package ingest

import (
	"context"
	"errors"
	"sync"

	"github.com/koopa0/recall/internal/log"
)

var (
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("task queue closed")
	// ErrQueueFull is returned by Submit when the backlog is at
	// capacity, so callers see backpressure instead of blocking.
	ErrQueueFull = errors.New("task queue full")
)

// Task is one unit of background work. Name appears in logs and error
// callbacks.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs background tasks on a fixed pool of workers. Task
// failures never vanish: each one is logged and forwarded to the
// optional error callback.
type Queue struct {
	tasks   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  log.Logger
	onError func(task Task, err error)

	mu     sync.Mutex
	closed bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithErrorHandler registers a callback invoked for every failed task.
func WithErrorHandler(fn func(task Task, err error)) QueueOption {
	return func(q *Queue) { q.onError = fn }
}

// NewQueue starts a queue with the given worker count and backlog
// capacity.
func NewQueue(workers, capacity int, logger log.Logger, opts ...QueueOption) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = log.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:  make(chan Task, capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		if err := task.Run(q.ctx); err != nil {
			q.logger.Error("background task failed", "task", task.Name, "error", err)
			if q.onError != nil {
				q.onError(task, err)
			}
		} else {
			q.logger.Debug("background task done", "task", task.Name)
		}
	}
}

// Submit enqueues a task without blocking.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops intake, waits for queued tasks to finish, then cancels
// the task context. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}
