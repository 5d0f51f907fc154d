package core

import (
	"context"
	"sync"
	"time"
)

// TaskState is the lifecycle state of a submitted task.
type TaskState int

const (
	TaskStatePending TaskState = iota
	TaskStateRunning
	TaskStateSucceeded
	TaskStateFailed
	TaskStateCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskStatePending:
		return "pending"
	case TaskStateRunning:
		return "running"
	case TaskStateSucceeded:
		return "succeeded"
	case TaskStateFailed:
		return "failed"
	case TaskStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s TaskState) IsTerminal() bool {
	return s >= TaskStateSucceeded
}

// Handle observes a submitted task. Asynchronous tiers report completion,
// failure and cancellation through it; Main and Blocking submissions return
// a handle that is already done.
type Handle struct {
	task     PrioritizedTask
	priority TaskPriority
	sequence uint64
	executor string

	ctx    context.Context
	cancel context.CancelFunc

	// index is maintained by the priority heap, -1 when not queued.
	index int

	// unqueue removes the handle from the pending structure it sits in.
	unqueue func(*Handle) bool

	mu         sync.Mutex
	state      TaskState
	err        error
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

func newHandle(task PrioritizedTask, executor string, sequence uint64) *Handle {
	return &Handle{
		task:       task,
		priority:   task.Priority(),
		sequence:   sequence,
		executor:   executor,
		index:      -1,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}
}

// Priority returns the tier the task reported at submission.
func (h *Handle) Priority() TaskPriority { return h.priority }

// Sequence returns the submission sequence number.
func (h *Handle) Sequence() uint64 { return h.sequence }

// Done is closed once the task reached a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() TaskState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure of a finished task: nil on success, ErrCancelled if
// it was cancelled before starting, or a *TaskExecutionError.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel removes a pending task from the queue and reports true. For a task
// that is already running, the task context is cancelled and Cancel reports
// false; the task has to observe ctx.Done() to stop early.
func (h *Handle) Cancel() bool {
	if h.unqueue != nil && h.unqueue(h) {
		h.finish(TaskStateCancelled, ErrCancelled)
		return true
	}
	if h.cancel != nil {
		h.cancel()
	}
	return false
}

// Timings returns when the task was submitted, started and finished. Zero
// values mean the step did not happen yet.
func (h *Handle) Timings() (enqueued, started, finished time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enqueuedAt, h.startedAt, h.finishedAt
}

func (h *Handle) markRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != TaskStatePending {
		return false
	}
	h.state = TaskStateRunning
	h.startedAt = time.Now()
	return true
}

func (h *Handle) finish(state TaskState, err error) bool {
	h.mu.Lock()
	if h.state.IsTerminal() {
		h.mu.Unlock()
		return false
	}
	h.state = state
	h.err = err
	h.finishedAt = time.Now()
	h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	close(h.done)
	return true
}
