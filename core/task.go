package core

import "context"

// TaskFunc is the body of a unit of work.
type TaskFunc func(ctx context.Context) error

// =============================================================================
// HasTaskPriority: the capability every submitted task exposes
// =============================================================================

// HasTaskPriority is implemented by anything that declares a tier. The
// executor never infers a priority; it only reads this accessor.
type HasTaskPriority interface {
	Priority() TaskPriority
}

// PrioritizedTask is the unit of work accepted by Executor.Submit.
type PrioritizedTask interface {
	HasTaskPriority
	Run(ctx context.Context) error
}

// =============================================================================
// PriorityTask: convenience base to compose into task types
// =============================================================================

// PriorityTask stores a tier fixed at construction. Embed it in a task type
// to satisfy HasTaskPriority without writing the accessor.
//
// Intended for user-driven work only, e.g. fetching local data when a user
// opens a chat ahead of contending busy work in the same pool. Reserve
// High and Blocking for work whose omission causes a visible failure or a
// crash, use Medium for per-event work that may be skipped, and do not use
// it to prioritize work the user is not waiting on.
type PriorityTask struct {
	priority TaskPriority
}

// NewPriorityTask returns a PriorityTask with the given tier, or Medium when
// none is given. Only the first argument is used.
func NewPriorityTask(priority ...TaskPriority) PriorityTask {
	if len(priority) == 0 {
		return PriorityTask{priority: TaskPriorityMedium}
	}
	return PriorityTask{priority: priority[0]}
}

// Priority returns the tier given at construction.
func (t PriorityTask) Priority() TaskPriority {
	return t.priority
}

type funcTask struct {
	PriorityTask
	name string
	fn   TaskFunc
}

func (t *funcTask) Run(ctx context.Context) error {
	return t.fn(ctx)
}

func (t *funcTask) Name() string { return t.name }

// NewTask wraps fn into a PrioritizedTask with the given tier.
func NewTask(priority TaskPriority, fn TaskFunc) PrioritizedTask {
	if fn == nil {
		return nil
	}
	return &funcTask{PriorityTask: NewPriorityTask(priority), name: funcName(fn), fn: fn}
}

// NewNamedTask is NewTask with an explicit name for records and events.
func NewNamedTask(priority TaskPriority, name string, fn TaskFunc) PrioritizedTask {
	if fn == nil {
		return nil
	}
	return &funcTask{PriorityTask: NewPriorityTask(priority), name: name, fn: fn}
}

// NewVoidTask is NewTask for bodies that cannot fail.
func NewVoidTask(priority TaskPriority, fn func(ctx context.Context)) PrioritizedTask {
	if fn == nil {
		return nil
	}
	return &funcTask{
		PriorityTask: NewPriorityTask(priority),
		name:         funcName(fn),
		fn: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	}
}
