package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context) error
}

func newTestTask(name string, fn func(ctx context.Context) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask("", name),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx)
	}
	return nil
}

func mustEnqueue(t *testing.T, q *Queue, task Task) {
	t.Helper()
	if err := q.Enqueue(task); err != nil {
		t.Fatalf("enqueue %s: %v", task.Name(), err)
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	var executed atomic.Bool
	mustEnqueue(t, q, newTestTask("test-task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}))

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !executed.Load() {
		t.Error("task was not executed")
	}

	p := q.Progress()
	if p.Completed != 1 || p.Active() != 0 {
		t.Errorf("expected 1 completed and none active, got %+v", p)
	}
	if len(q.GetTasks()) != 0 {
		t.Error("finished task should leave the queue")
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop())

	expectedErr := errors.New("task failed")
	mustEnqueue(t, q, newTestTask("failing-task", func(ctx context.Context) error {
		return expectedErr
	}))

	err := q.Wait(waitCtx(t))
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if !q.HasFailures() {
		t.Error("expected HasFailures to return true")
	}
}

func TestQueue_FailedTaskDoesNotStopOthers(t *testing.T) {
	q := New(zap.NewNop())

	var ran atomic.Int32
	mustEnqueue(t, q, newTestTask("bad", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	mustEnqueue(t, q, newTestTask("good", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))

	_ = q.Wait(waitCtx(t))

	if ran.Load() != 1 {
		t.Error("second task did not run after the first failed")
	}
	p := q.Progress()
	if p.Failed != 1 || p.Completed != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestQueue_SerializedByDefault(t *testing.T) {
	q := New(zap.NewNop())

	var running, maxConcurrent int32
	var mu sync.Mutex
	var order []int

	for i := 0; i < 3; i++ {
		mustEnqueue(t, q, newTestTask("serial", func(ctx context.Context) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			order = append(order, i)
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if maxConcurrent != 1 {
		t.Errorf("expected max 1 concurrent task, got %d", maxConcurrent)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("tasks ran out of order: %v", order)
		}
	}
}

func TestBoundedStrategy_RespectsLimit(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewBoundedStrategy(3)))

	var running, maxConcurrent int32
	var mu sync.Mutex
	for i := 0; i < 9; i++ {
		mustEnqueue(t, q, newTestTask("bounded", func(ctx context.Context) error {
			current := atomic.AddInt32(&running, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}))
	}

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if maxConcurrent > 3 {
		t.Errorf("expected at most 3 concurrent tasks, got %d", maxConcurrent)
	}
	if maxConcurrent < 2 {
		t.Errorf("expected tasks to overlap, max concurrency was %d", maxConcurrent)
	}
	if got := q.Progress().Workers; got != 3 {
		t.Errorf("expected 3 workers, got %d", got)
	}
}

func TestBoundedStrategy_MinimumOne(t *testing.T) {
	s := NewBoundedStrategy(0)
	if s.Limit() != 1 {
		t.Errorf("expected limit 1, got %d", s.Limit())
	}
	s.OnStart()
	if s.CanStart() {
		t.Error("second task should not start")
	}
	s.OnComplete()
	s.OnComplete()
	if s.Running() != 0 {
		t.Errorf("running count went negative: %d", s.Running())
	}
}

func TestQueue_TaskTimeout(t *testing.T) {
	q := New(zap.NewNop(), WithTaskTimeout(20*time.Millisecond))

	mustEnqueue(t, q, newTestTask("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := q.Wait(waitCtx(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if q.Progress().Failed != 1 {
		t.Error("timed out task should count as failed")
	}
}

func TestQueue_PanicRecovered(t *testing.T) {
	q := New(zap.NewNop())

	mustEnqueue(t, q, newTestTask("panicky", func(ctx context.Context) error {
		panic("unexpected entity")
	}))

	err := q.Wait(waitCtx(t))
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if q.Progress().Failed != 1 {
		t.Error("panicking task should count as failed")
	}

	// The queue keeps working.
	mustEnqueue(t, q, newTestTask("after", nil))
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("unexpected error after panic: %v", err)
	}
}

func TestQueue_CancelRunningAndPending(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	mustEnqueue(t, q, newTestTask("running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	var pendingRan atomic.Bool
	mustEnqueue(t, q, newTestTask("pending", func(ctx context.Context) error {
		pendingRan.Store(true)
		return nil
	}))

	<-started
	q.Cancel()

	if err := q.Wait(waitCtx(t)); err != nil {
		t.Fatalf("cancelled tasks should not report failure, got %v", err)
	}
	if pendingRan.Load() {
		t.Error("pending task ran after cancel")
	}
	p := q.Progress()
	if p.Cancelled != 2 {
		t.Errorf("expected 2 cancelled, got %+v", p)
	}
	if err := q.Enqueue(newTestTask("late", nil)); !errors.Is(err, apperrors.ErrQueueShutdown) {
		t.Errorf("expected ErrQueueShutdown, got %v", err)
	}
}

// droppableTask records whether the queue dropped it.
type droppableTask struct {
	*testTask
	dropped atomic.Int32
}

func (t *droppableTask) Dropped() { t.dropped.Add(1) }

func TestQueue_CancelNotifiesDroppedTasks(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	running := &droppableTask{testTask: newTestTask("running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})}
	queued := &droppableTask{testTask: newTestTask("queued", nil)}
	mustEnqueue(t, q, running)
	mustEnqueue(t, q, queued)

	<-started
	q.Cancel()
	q.Cancel()

	if got := queued.dropped.Load(); got != 1 {
		t.Errorf("queued task dropped %d times, want 1", got)
	}
	if got := running.dropped.Load(); got != 0 {
		t.Errorf("running task should be cancelled through its context, not dropped (%d)", got)
	}
}

func TestQueue_ShutdownTimeoutDropsQueued(t *testing.T) {
	q := New(zap.NewNop())

	mustEnqueue(t, q, newTestTask("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	queued := &droppableTask{testTask: newTestTask("queued", nil)}
	mustEnqueue(t, q, queued)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if queued.dropped.Load() != 1 {
		t.Error("queued task was not notified before Shutdown returned")
	}
}

func TestQueue_ShutdownDrains(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewBoundedStrategy(2)))

	var finished atomic.Int32
	for i := 0; i < 4; i++ {
		mustEnqueue(t, q, newTestTask("drain", func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		}))
	}

	if err := q.Shutdown(waitCtx(t)); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
	if finished.Load() != 4 {
		t.Errorf("expected all 4 tasks to finish, got %d", finished.Load())
	}
	if !q.IsClosed() {
		t.Error("queue should be closed after shutdown")
	}
	if err := q.Enqueue(newTestTask("late", nil)); !errors.Is(err, apperrors.ErrQueueShutdown) {
		t.Errorf("expected ErrQueueShutdown, got %v", err)
	}
}

func TestQueue_ShutdownDeadline(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	mustEnqueue(t, q, newTestTask("stuck", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !q.IsComplete() {
		t.Error("running task should have been cancelled and removed")
	}
	if q.Progress().Cancelled != 1 {
		t.Errorf("expected 1 cancelled, got %+v", q.Progress())
	}
}

func TestQueue_WaitContextExpires(t *testing.T) {
	q := New(zap.NewNop())

	release := make(chan struct{})
	mustEnqueue(t, q, newTestTask("blocked", func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := q.Wait(ctx); err != nil {
		t.Errorf("expected nil for empty queue, got %v", err)
	}
	if !q.IsComplete() {
		t.Error("empty queue should be complete")
	}
}

func TestQueue_MultipleBatchesWait(t *testing.T) {
	q := New(zap.NewNop())

	mustEnqueue(t, q, newTestTask("batch-1", func(ctx context.Context) error {
		return errors.New("first batch failure")
	}))
	if err := q.Wait(waitCtx(t)); err == nil {
		t.Fatal("expected first batch to report its failure")
	}

	mustEnqueue(t, q, newTestTask("batch-2", nil))
	if err := q.Wait(waitCtx(t)); err != nil {
		t.Errorf("second batch should not inherit the first batch's error, got %v", err)
	}

	p := q.Progress()
	if p.Total != 2 || p.Percentage() != 100 {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestTaskState_Lifecycle(t *testing.T) {
	ts := NewTaskState(newTestTask("state", nil))
	if ts.Status() != TaskStatusPending {
		t.Fatalf("expected pending, got %s", ts.Status())
	}
	if snap := ts.Snapshot(); snap.StartedAt != nil || snap.Ran != 0 {
		t.Errorf("pending task should not have run: %+v", snap)
	}

	ts.markRunning()
	if snap := ts.Snapshot(); snap.StartedAt == nil || snap.Waited < 0 {
		t.Errorf("running task should record its start: %+v", snap)
	}

	ts.markDone(TaskStatusFailed, errors.New("bad drawing"))
	snap := ts.Snapshot()
	if snap.Name != "state" || snap.Error != "bad drawing" || !snap.Status.IsTerminal() {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	ran := snap.Ran
	time.Sleep(2 * time.Millisecond)
	if ts.Snapshot().Ran != ran {
		t.Error("run time should stop at completion")
	}
}

func TestTaskState_CancelledKeepsNoError(t *testing.T) {
	ts := NewTaskState(newTestTask("dropped", nil))
	ts.markDone(TaskStatusCancelled, context.Canceled)

	snap := ts.Snapshot()
	if snap.Error != "" || snap.StartedAt != nil {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestNewBaseTask(t *testing.T) {
	named := NewBaseTask("analysis-1", "analyze")
	if named.ID() != "analysis-1" || named.Name() != "analyze" {
		t.Errorf("unexpected base task %+v", named)
	}
	if NewBaseTask("", "x").ID() == NewBaseTask("", "x").ID() {
		t.Error("generated ids should differ")
	}
}

func TestProgress_Percentage(t *testing.T) {
	tests := []struct {
		p    Progress
		want int
	}{
		{Progress{}, 100},
		{Progress{Total: 4, Completed: 1, Running: 3}, 25},
		{Progress{Total: 4, Completed: 2, Failed: 1, Cancelled: 1}, 100},
	}
	for _, tt := range tests {
		if got := tt.p.Percentage(); got != tt.want {
			t.Errorf("%+v: expected %d, got %d", tt.p, tt.want, got)
		}
	}
}
