package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPriority is returned when a task reports a tier outside the
	// closed enumeration. The task is rejected before queueing or execution.
	ErrInvalidPriority = errors.New("chronos: invalid task priority")

	// ErrRejectedSubmission is returned by Submit when the executor is
	// shutting down or terminated.
	ErrRejectedSubmission = errors.New("chronos: submission rejected, executor is not open")

	// ErrQueueFull is returned when a bounded executor cannot accept more
	// pending tasks.
	ErrQueueFull = errors.New("chronos: pending queue is full")

	// ErrNilTask is returned when Submit receives a nil task.
	ErrNilTask = errors.New("chronos: task is nil")

	// ErrCancelled is reported by a handle whose task was removed from the
	// queue before it started.
	ErrCancelled = errors.New("chronos: task cancelled")

	// ErrTerminationTimeout is returned when the executor did not reach the
	// terminated state within the requested time.
	ErrTerminationTimeout = errors.New("chronos: termination timeout")

	// ErrMainFromBlocking is returned when a Blocking task submits a Main
	// task while the Main task that started its batch is waiting for it.
	ErrMainFromBlocking = errors.New("chronos: main task submitted from a blocking batch awaited by the main context")

	// ErrTaskExecution matches every *TaskExecutionError via errors.Is.
	ErrTaskExecution = errors.New("chronos: task execution failed")
)

// TaskExecutionError describes a failure inside a task body: either the
// error it returned or a recovered panic.
type TaskExecutionError struct {
	Executor string
	Priority TaskPriority
	Sequence uint64
	Err      error
	Panic    any
	Stack    []byte
}

func (e *TaskExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("chronos: task #%d (%s) on %q panicked: %v", e.Sequence, e.Priority, e.Executor, e.Panic)
	}
	return fmt.Sprintf("chronos: task #%d (%s) on %q failed: %v", e.Sequence, e.Priority, e.Executor, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

func (e *TaskExecutionError) Is(target error) bool {
	return target == ErrTaskExecution
}

// Panicked reports whether the failure came from a recovered panic.
func (e *TaskExecutionError) Panicked() bool { return e.Panic != nil }
