package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	Sequence   uint64
	Name       string
	Executor   string
	Priority   TaskPriority
	State      TaskState
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Wait       time.Duration
	Duration   time.Duration
	Attempts   int
	Panicked   bool
}

// ExecutorState is the lifecycle state of an Executor.
type ExecutorState int32

const (
	ExecutorOpen ExecutorState = iota
	ExecutorShuttingDown
	ExecutorTerminated
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorOpen:
		return "open"
	case ExecutorShuttingDown:
		return "shutting_down"
	case ExecutorTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ExecutorStats represents runtime observability state for an executor.
type ExecutorStats struct {
	ID        string
	Workers   int
	State     ExecutorState
	QueueType QueueType
	Queued    int
	Active    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Cancelled uint64
	Rejected  uint64

	// QueuedByPriority counts pending tasks per asynchronous tier.
	QueuedByPriority map[TaskPriority]int
}

// Running reports whether the executor still accepts work.
func (s ExecutorStats) Running() bool { return s.State == ExecutorOpen }
