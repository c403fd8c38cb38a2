package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
)

// Queue runs tasks in FIFO order with configurable concurrency control.
// Finished tasks leave the queue; only their outcome counters are kept.
type Queue struct {
	mu       sync.Mutex
	tasks    []*TaskState
	closed   bool
	firstErr error

	// Concurrency control strategy
	strategy ConcurrencyStrategy

	// Per-task deadline; zero means none
	taskTimeout time.Duration

	completed int
	failed    int
	cancelled int

	// done is closed when no task is pending or running
	done chan struct{}
	// wg tracks running goroutines
	wg sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithTaskTimeout bounds each task's execution. The task's context is
// cancelled with context.DeadlineExceeded when it runs longer.
func WithTaskTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.taskTimeout = d
	}
}

// New creates a new work queue with the given options. The default strategy
// runs one task at a time.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)
	q := &Queue{
		tasks:    make([]*TaskState, 0),
		strategy: NewSerializedStrategy(),
		done:     done,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
// It fails with apperrors.ErrQueueShutdown once the queue stopped accepting
// work.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("queue closed, rejecting task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return apperrors.ErrQueueShutdown
	}

	// Reset done channel if it was closed from a previous batch
	q.resetDoneLocked()

	q.tasks = append(q.tasks, NewTaskState(task))

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.Int("queued", len(q.tasks)))

	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts pending tasks in arrival order while the
// strategy allows it. Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.ctx.Err() != nil {
		return
	}

	for _, ts := range q.tasks {
		if ts.Status() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.markRunning()

		q.logger.Debug("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Duration("waited", ts.Snapshot().Waited))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task and records its outcome. Tasks are not retried:
// each one owns the side effects of its own failure.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	ctx := q.ctx
	if q.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.taskTimeout)
		defer cancel()
	}

	q.completeTask(ts, q.execute(ctx, ts.Task))
}

func (q *Queue) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("task panicked",
				zap.String("task_id", task.ID()),
				zap.String("task_name", task.Name()),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			err = fmt.Errorf("%w: task %s panicked: %v", apperrors.ErrInternal, task.Name(), rec)
		}
	}()
	return task.Execute(ctx)
}

// completeTask records the outcome, removes the task and starts the next.
func (q *Queue) completeTask(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	switch {
	case err == nil:
		ts.markDone(TaskStatusCompleted, nil)
		q.completed++
		q.logger.Debug("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Duration("ran", ts.Snapshot().Ran))
	case errors.Is(err, context.Canceled) && q.ctx.Err() != nil:
		ts.markDone(TaskStatusCancelled, err)
		q.cancelled++
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.markDone(TaskStatusFailed, err)
		q.failed++
		if q.firstErr == nil {
			q.firstErr = err
		}
		q.logger.Warn("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Error(err))
	}

	q.removeLocked(ts)

	if len(q.tasks) == 0 {
		q.closeDoneLocked()
		return
	}

	q.tryStartTasksLocked()
}

func (q *Queue) removeLocked(ts *TaskState) {
	for i, t := range q.tasks {
		if t == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// closeDoneLocked safely closes the done channel.
// Must be called with lock held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
		// Already closed
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed.
// This allows the queue to be reused for multiple batches of work.
// Must be called with lock held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
		q.firstErr = nil
	default:
	}
}

// GetTasks returns a snapshot of the pending and running tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until no task is pending or running, or the context is done.
// Returns the first task error of the batch, or ctx.Err() if the context
// ended first. Unlike Shutdown, an expired context leaves tasks running.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	done := q.done
	q.mu.Unlock()

	select {
	case <-done:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel signals running tasks to stop, drops pending ones and stops
// accepting new tasks. Dropped tasks implementing Dropper are notified.
func (q *Queue) Cancel() {
	q.mu.Lock()
	if q.ctx.Err() != nil {
		q.mu.Unlock()
		return
	}

	q.closed = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")

	q.cancel()

	var dropped []Task
	remaining := q.tasks[:0]
	for _, ts := range q.tasks {
		if ts.Status() == TaskStatusPending {
			ts.markDone(TaskStatusCancelled, nil)
			q.cancelled++
			dropped = append(dropped, ts.Task)
			continue
		}
		remaining = append(remaining, ts)
	}
	q.tasks = remaining

	if len(q.tasks) == 0 {
		q.closeDoneLocked()
	}
	q.mu.Unlock()

	for _, task := range dropped {
		if d, ok := task.(Dropper); ok {
			q.logger.Debug("task dropped",
				zap.String("task_id", task.ID()),
				zap.String("task_name", task.Name()))
			d.Dropped()
		}
	}
}

// Shutdown stops accepting tasks and waits for the queued ones to finish.
// If ctx ends first the queue is cancelled and Shutdown waits for the
// running goroutines to return.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	done := q.done
	q.mu.Unlock()

	q.logger.Info("draining work queue", zap.Int("remaining", q.Progress().Active()))

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		q.Cancel()
	}
	q.wg.Wait()
	return err
}

// IsClosed returns true once the queue stopped accepting tasks.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// IsComplete returns true if no task is pending or running.
func (q *Queue) IsComplete() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// HasFailures returns true if any task failed.
func (q *Queue) HasFailures() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed > 0
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		Completed: q.completed,
		Failed:    q.failed,
		Cancelled: q.cancelled,
		Workers:   q.strategy.Limit(),
	}
	for _, ts := range q.tasks {
		switch ts.Status() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		}
	}
	p.Total = p.Pending + p.Running + p.Completed + p.Failed + p.Cancelled
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Workers   int `json:"workers"`
}

// Active returns the number of tasks still pending or running.
func (p Progress) Active() int {
	return p.Pending + p.Running
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
