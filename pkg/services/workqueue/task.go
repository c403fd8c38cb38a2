package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the task will not run again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task is the interface that all work queue tasks must implement.
type Task interface {
	// ID returns a unique identifier for this task.
	ID() string

	// Name returns a human-readable name for logs.
	Name() string

	// Execute runs the task. ctx is cancelled when the queue is cancelled
	// or the task outlives the queue's task timeout.
	Execute(ctx context.Context) error
}

// Dropper is implemented by tasks that must settle their own state when the
// queue cancels them before they start. Dropped runs once, without the queue
// lock held, before Cancel returns.
type Dropper interface {
	Dropped()
}

// TaskState tracks one task from enqueue to its terminal status.
type TaskState struct {
	Task Task

	mu         sync.RWMutex
	status     TaskStatus
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

// NewTaskState creates a pending TaskState wrapping a task.
func NewTaskState(task Task) *TaskState {
	return &TaskState{
		Task:       task,
		status:     TaskStatusPending,
		enqueuedAt: time.Now(),
	}
}

// Status returns the current status.
func (ts *TaskState) Status() TaskStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.status
}

// markRunning records dequeue time. The queue's task timeout starts here.
func (ts *TaskState) markRunning() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = TaskStatusRunning
	ts.startedAt = time.Now()
}

// markDone moves the task to a terminal status. err is kept only for failures.
func (ts *TaskState) markDone(status TaskStatus, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.finishedAt = time.Now()
	if status == TaskStatusFailed {
		ts.err = err
	}
}

// Snapshot returns an immutable copy of the task state.
func (ts *TaskState) Snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	snap := TaskSnapshot{
		ID:         ts.Task.ID(),
		Name:       ts.Task.Name(),
		Status:     ts.status,
		EnqueuedAt: ts.enqueuedAt,
	}
	if ts.err != nil {
		snap.Error = ts.err.Error()
	}

	switch {
	case ts.startedAt.IsZero():
		// Never dequeued: waited until now or until it was dropped.
		end := ts.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.Waited = end.Sub(ts.enqueuedAt)
	default:
		started := ts.startedAt
		snap.StartedAt = &started
		snap.Waited = ts.startedAt.Sub(ts.enqueuedAt)
		end := ts.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		snap.Ran = end.Sub(ts.startedAt)
	}
	return snap
}

// TaskSnapshot is an immutable view of task state for logs and diagnostics.
type TaskSnapshot struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Status     TaskStatus    `json:"status"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Waited     time.Duration `json:"waited_ns"`
	Ran        time.Duration `json:"ran_ns"`
	Error      string        `json:"error,omitempty"`
}

// BaseTask provides the ID and Name half of Task.
// Embed this in concrete task implementations.
type BaseTask struct {
	id   string
	name string
}

// NewBaseTask creates a new base task. An empty id is replaced by a random one.
func NewBaseTask(id, name string) BaseTask {
	if id == "" {
		id = uuid.New().String()
	}
	return BaseTask{id: id, name: name}
}

func (t BaseTask) ID() string   { return t.id }
func (t BaseTask) Name() string { return t.name }
