package chronos

import "github.com/Swind/go-chronos/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the chronos package for most use cases.

// TaskPriority is the tier a task declares
type TaskPriority = core.TaskPriority

// PrioritizedTask is the unit of work accepted by executors
type PrioritizedTask = core.PrioritizedTask

// PriorityTask is embedded into task types to carry a tier
type PriorityTask = core.PriorityTask

// TaskFunc is the body of a task
type TaskFunc = core.TaskFunc

// Executor is the priority-ordered goroutine pool
type Executor = core.Executor

// Handle observes a submitted task
type Handle = core.Handle

// MainThread is a dedicated goroutine for Main-tier work
type MainThread = core.MainThread

// Priority constants
const (
	TaskPriorityBackground = core.TaskPriorityBackground
	TaskPriorityMedium     = core.TaskPriorityMedium
	TaskPriorityHigh       = core.TaskPriorityHigh
	TaskPriorityBlocking   = core.TaskPriorityBlocking
	TaskPriorityMain       = core.TaskPriorityMain
)

// Convenience constructors
var (
	NewTask         = core.NewTask
	NewNamedTask    = core.NewNamedTask
	NewVoidTask     = core.NewVoidTask
	NewPriorityTask = core.NewPriorityTask
	NewExecutor     = core.NewExecutor
	NewMainThread   = core.NewMainThread
)

// Errors
var (
	ErrInvalidPriority    = core.ErrInvalidPriority
	ErrRejectedSubmission = core.ErrRejectedSubmission
	ErrQueueFull          = core.ErrQueueFull
	ErrCancelled          = core.ErrCancelled
	ErrTerminationTimeout = core.ErrTerminationTimeout
	ErrMainFromBlocking   = core.ErrMainFromBlocking
)
