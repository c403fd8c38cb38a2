package workqueue

import "sync"

// ConcurrencyStrategy controls how many tasks may run at once.
// The strategy tracks running tasks; the queue asks it before starting one.
type ConcurrencyStrategy interface {
	// CanStart returns true if another task may start given current state
	CanStart() bool
	// OnStart is called when a task starts
	OnStart()
	// OnComplete is called when a task finishes, whatever its outcome
	OnComplete()
	// Limit returns the maximum number of concurrent tasks
	Limit() int
}

// BoundedStrategy allows up to maxConcurrent tasks to run in parallel.
type BoundedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
}

// NewBoundedStrategy creates a strategy that allows up to maxConcurrent
// tasks to run in parallel. Values below 1 are treated as 1.
func NewBoundedStrategy(maxConcurrent int) *BoundedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BoundedStrategy{
		maxConcurrent: maxConcurrent,
	}
}

// NewSerializedStrategy creates a strategy that runs one task at a time.
func NewSerializedStrategy() *BoundedStrategy {
	return NewBoundedStrategy(1)
}

func (s *BoundedStrategy) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxConcurrent
}

func (s *BoundedStrategy) OnStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
}

func (s *BoundedStrategy) OnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
}

func (s *BoundedStrategy) Limit() int {
	return s.maxConcurrent
}

// Running returns the number of tasks currently counted as running.
func (s *BoundedStrategy) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
