package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

// Executor is a goroutine pool whose pending work is ordered by tier.
//
// Main tasks run synchronously, serialized per executor, on the caller or on
// the configured MainThread. Blocking tasks run in parallel and the caller
// waits for its whole batch. High, Medium and Background tasks are queued
// and picked by workers in (tier desc, sequence asc) order.
//
// Lifecycle: Open -> ShuttingDown -> Terminated.
type Executor struct {
	id     string
	cfg    ExecutorConfig
	logger Logger

	scheduler *TaskScheduler
	seq       atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc

	stateMu    sync.RWMutex
	state      ExecutorState
	terminated chan struct{}

	workersWG sync.WaitGroup
	syncWG    sync.WaitGroup // in-flight Main and Blocking submissions
	mainMu    sync.Mutex

	history *executionHistory
	measure measurer

	counters executorCounters
}

type executorCounters struct {
	_         cpu.CacheLinePad
	completed atomic.Uint64
	_         cpu.CacheLinePad
	failed    atomic.Uint64
	_         cpu.CacheLinePad
	cancelled atomic.Uint64
	_         cpu.CacheLinePad
	rejected  atomic.Uint64
	_         cpu.CacheLinePad
}

type mainLockKey struct{ e *Executor }

// mainCtxState is the value stored under mainLockKey.
type mainCtxState int

const (
	// mainHeld marks the goroutine of the running Main task.
	mainHeld mainCtxState = iota + 1
	// mainWaiting marks Blocking tasks of a batch a Main task waits on.
	mainWaiting
)

// NewExecutor creates an executor and starts its workers.
func NewExecutor(opts ...Option) *Executor {
	cfg := &ExecutorConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return NewExecutorWithConfig(cfg)
}

// NewExecutorWithConfig creates an executor from cfg and starts its workers.
// cfg is copied; zero values are filled with defaults.
func NewExecutorWithConfig(cfg *ExecutorConfig) *Executor {
	c := ExecutorConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.FillDefaults()

	e := &Executor{
		id:         c.ID,
		cfg:        c,
		logger:     c.Logger,
		terminated: make(chan struct{}),
		history:    newExecutionHistory(c.HistoryCapacity),
	}
	e.scheduler = NewTaskScheduler(c.QueueType, c.Workers, c.MaxQueueSize, &e.seq)
	e.ctx, e.cancel = context.WithCancel(context.Background())

	for i := 0; i < c.Workers; i++ {
		e.workersWG.Add(1)
		go e.workerLoop(i)
	}

	e.logger.Info("executor started",
		F("executor", e.id),
		F("workers", c.Workers),
		F("queue", c.QueueType.String()),
		F("max_queue", c.MaxQueueSize),
	)
	return e
}

// ID returns the executor name.
func (e *Executor) ID() string { return e.id }

// Workers returns the number of worker goroutines.
func (e *Executor) Workers() int { return e.cfg.Workers }

// Config returns a copy of the effective configuration.
func (e *Executor) Config() ExecutorConfig { return e.cfg }

// State returns the lifecycle state.
func (e *Executor) State() ExecutorState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// IsShutdown reports whether Shutdown or ShutdownNow was called.
func (e *Executor) IsShutdown() bool { return e.State() != ExecutorOpen }

// IsTerminated reports whether the executor reached Terminated.
func (e *Executor) IsTerminated() bool { return e.State() == ExecutorTerminated }

// Terminated is closed once the executor reached Terminated.
func (e *Executor) Terminated() <-chan struct{} { return e.terminated }

// =============================================================================
// Submission
// =============================================================================

// Submit dispatches task according to its tier.
//
// Main and Blocking tasks have finished when Submit returns; a failure is
// returned as *TaskExecutionError together with the finished handle. For
// asynchronous tiers Submit returns as soon as the task is queued and the
// outcome is reported through the handle.
func (e *Executor) Submit(ctx context.Context, task PrioritizedTask) (*Handle, error) {
	if err := e.validate(task); err != nil {
		return nil, err
	}

	switch p := task.Priority(); {
	case p == TaskPriorityMain:
		return e.runMain(ctx, task)
	case p == TaskPriorityBlocking:
		handles, err := e.runBlocking(ctx, []PrioritizedTask{task})
		if len(handles) == 0 {
			return nil, err
		}
		return handles[0], err
	default:
		return e.enqueue(task)
	}
}

// SubmitFunc is Submit for a plain function.
func (e *Executor) SubmitFunc(ctx context.Context, priority TaskPriority, fn TaskFunc) (*Handle, error) {
	task := NewTask(priority, fn)
	if task == nil {
		return nil, e.reject(nil, ErrNilTask)
	}
	return e.Submit(ctx, task)
}

// SubmitBlocking runs tasks as one Blocking batch: all of them start at once
// (bounded by MaxBlockingParallelism) and SubmitBlocking returns after the
// last one finished. A failing task does not stop the others; every failure
// is part of the returned error.
//
// Every task must report TaskPriorityBlocking.
func (e *Executor) SubmitBlocking(ctx context.Context, tasks ...PrioritizedTask) error {
	for _, task := range tasks {
		if err := e.validate(task); err != nil {
			return err
		}
		if task.Priority() != TaskPriorityBlocking {
			return e.reject(task, fmt.Errorf("%w: %s task in a blocking batch", ErrInvalidPriority, task.Priority()))
		}
	}
	if len(tasks) == 0 {
		return nil
	}
	_, err := e.runBlocking(ctx, tasks)
	return err
}

// SubmitAll dispatches tasks as one scheduling wave. Every task is validated
// before anything runs. Main tasks run first in the given order, then the
// Blocking tasks as one batch, then the asynchronous tasks are queued.
//
// The returned handles follow the input order; a task that could not be
// queued has a nil handle and its error is part of the combined error.
func (e *Executor) SubmitAll(ctx context.Context, tasks ...PrioritizedTask) ([]*Handle, error) {
	for _, task := range tasks {
		if err := e.validate(task); err != nil {
			return nil, err
		}
	}
	if e.State() != ExecutorOpen {
		for _, task := range tasks {
			_ = e.reject(task, ErrRejectedSubmission)
		}
		return nil, ErrRejectedSubmission
	}

	handles := make([]*Handle, len(tasks))
	var errs error

	for i, task := range tasks {
		if task.Priority() != TaskPriorityMain {
			continue
		}
		h, err := e.runMain(ctx, task)
		handles[i] = h
		errs = multierr.Append(errs, err)
	}

	var blockingIdx []int
	var blocking []PrioritizedTask
	for i, task := range tasks {
		if task.Priority() == TaskPriorityBlocking {
			blockingIdx = append(blockingIdx, i)
			blocking = append(blocking, task)
		}
	}
	if len(blocking) > 0 {
		hs, err := e.runBlocking(ctx, blocking)
		for j, h := range hs {
			handles[blockingIdx[j]] = h
		}
		errs = multierr.Append(errs, err)
	}

	for i, task := range tasks {
		if !task.Priority().IsAsync() {
			continue
		}
		h, err := e.enqueue(task)
		handles[i] = h
		errs = multierr.Append(errs, err)
	}

	return handles, errs
}

func (e *Executor) validate(task PrioritizedTask) error {
	if task == nil {
		return e.reject(nil, ErrNilTask)
	}
	if err := ValidatePriority(task.Priority()); err != nil {
		return e.reject(task, err)
	}
	return nil
}

// enter registers an in-flight synchronous submission while the executor
// is open, so termination waits for it.
func (e *Executor) enter() bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.state != ExecutorOpen {
		return false
	}
	e.syncWG.Add(1)
	return true
}

func (e *Executor) runMain(ctx context.Context, task PrioritizedTask) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	key := mainLockKey{e}
	if ctx.Value(key) == mainWaiting {
		return nil, e.reject(task, ErrMainFromBlocking)
	}
	if !e.enter() {
		return nil, e.reject(task, ErrRejectedSubmission)
	}
	defer e.syncWG.Done()

	if mt := e.cfg.MainThread; mt != nil {
		// The sequence is drawn on the main goroutine so it follows the
		// order in which Main tasks actually run.
		var h *Handle
		err := mt.run(ctx, func(mctx context.Context) error {
			h = newHandle(task, e.id, e.seq.Add(1))
			return e.execSync(mctx, h, mt.Name())
		})
		if h == nil {
			return nil, e.reject(task, err)
		}
		return h, h.Err()
	}

	if ctx.Value(key) != mainHeld {
		e.mainMu.Lock()
		defer e.mainMu.Unlock()
		ctx = context.WithValue(ctx, key, mainHeld)
	}
	h := newHandle(task, e.id, e.seq.Add(1))
	err := e.execSync(ctx, h, "main")
	return h, err
}

func (e *Executor) runBlocking(ctx context.Context, tasks []PrioritizedTask) ([]*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !e.enter() {
		for _, task := range tasks {
			_ = e.reject(task, ErrRejectedSubmission)
		}
		return nil, ErrRejectedSubmission
	}
	defer e.syncWG.Done()
	ctx = e.blockingContext(ctx)

	handles := make([]*Handle, len(tasks))
	for i, task := range tasks {
		handles[i] = newHandle(task, e.id, e.seq.Add(1))
	}

	var g errgroup.Group
	if e.cfg.MaxBlockingParallelism > 0 {
		g.SetLimit(e.cfg.MaxBlockingParallelism)
	}
	errs := make([]error, len(handles))
	for i, h := range handles {
		g.Go(func() error {
			errs[i] = e.execSync(ctx, h, "blocking")
			return nil
		})
	}
	_ = g.Wait()

	return handles, multierr.Combine(errs...)
}

// blockingContext derives the context of a Blocking batch. Blocking tasks
// run on their own goroutines, so they must not inherit the main context of
// the submitter. When a Main task waits on the batch, a Main submission from
// inside it would deadlock or overlap that task and is rejected instead.
func (e *Executor) blockingContext(ctx context.Context) context.Context {
	key := mainLockKey{e}
	onMain := ctx.Value(key) == mainHeld
	if mt := e.cfg.MainThread; mt != nil && mt.IsCurrent(ctx) {
		onMain = true
	}
	if ctx.Value(mainThreadKey{}) != nil {
		ctx = context.WithValue(ctx, mainThreadKey{}, (*MainThread)(nil))
	}
	if onMain {
		ctx = context.WithValue(ctx, key, mainWaiting)
	}
	return ctx
}

func (e *Executor) enqueue(task PrioritizedTask) (*Handle, error) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.state != ExecutorOpen {
		return nil, e.reject(task, ErrRejectedSubmission)
	}

	h, depth, err := e.scheduler.Enqueue(func(seq uint64) *Handle {
		h := newHandle(task, e.id, seq)
		h.ctx, h.cancel = context.WithCancel(e.ctx)
		h.unqueue = e.unqueue
		return h
	})
	if err != nil {
		return nil, e.reject(task, err)
	}

	e.measure.onEnqueue(depth)
	e.cfg.Metrics.RecordQueueDepth(e.id, depth)
	return h, nil
}

func (e *Executor) unqueue(h *Handle) bool {
	if !e.scheduler.Remove(h) {
		return false
	}
	e.counters.cancelled.Add(1)
	e.cfg.Metrics.RecordQueueDepth(e.id, e.scheduler.QueuedTaskCount())
	return true
}

func (e *Executor) reject(task PrioritizedTask, reason error) error {
	e.counters.rejected.Add(1)
	e.cfg.Metrics.RecordTaskRejected(e.id, rejectionReason(reason))
	if e.cfg.RejectedTaskHandler != nil {
		e.cfg.RejectedTaskHandler.HandleRejectedTask(e.id, task, reason)
	}
	e.logger.Warn("task rejected",
		F("executor", e.id),
		F("task", TaskName(task)),
		F("reason", reason),
	)
	return reason
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ErrRejectedSubmission):
		return "shutting_down"
	case errors.Is(err, ErrInvalidPriority):
		return "invalid_priority"
	case errors.Is(err, ErrNilTask):
		return "nil_task"
	case errors.Is(err, ErrMainFromBlocking):
		return "main_from_blocking"
	default:
		return "other"
	}
}

// =============================================================================
// Execution
// =============================================================================

func (e *Executor) workerLoop(id int) {
	defer e.workersWG.Done()

	worker := fmt.Sprintf("%s-worker-%d", e.id, id)
	if nice := e.cfg.ThreadNice; nice != nil {
		if err := applyThreadNice(*nice); err != nil {
			e.logger.Warn("cannot set worker thread nice",
				F("worker", worker),
				F("nice", *nice),
				F("error", err),
			)
		}
	}

	stopCh := e.ctx.Done()
	for {
		h, ok := e.scheduler.GetWork(stopCh)
		if !ok {
			return
		}
		e.runAsync(id, worker, h)
	}
}

func (e *Executor) runAsync(id int, worker string, h *Handle) {
	if !h.markRunning() {
		return
	}
	active := e.scheduler.OnTaskStart()
	defer e.scheduler.OnTaskEnd()

	enqueued, started, _ := h.Timings()
	wait := started.Sub(enqueued)
	e.measure.onStart(wait)
	e.cfg.Metrics.RecordTaskWait(e.id, h.priority, wait)

	attempts := 0
	err := e.cfg.Retry.run(h.ctx,
		func() error {
			attempts++
			return callRecovering(h.ctx, h.task.Run)
		},
		func(n int, delay time.Duration, err error) {
			e.logger.Debug("retrying task",
				F("executor", e.id),
				F("sequence", h.sequence),
				F("attempt", n),
				F("delay", delay),
				F("error", err),
			)
		},
	)
	e.complete(h.ctx, h, id, worker, err, attempts, active)
}

// execSync runs a Main or Blocking task on the calling goroutine.
func (e *Executor) execSync(ctx context.Context, h *Handle, worker string) error {
	h.markRunning()
	err := callRecovering(ctx, h.task.Run)
	return e.complete(ctx, h, -1, worker, err, 1, e.scheduler.ActiveTaskCount())
}

// complete converts the raw outcome of a task into the handle's terminal
// state and reports it to counters, metrics, history and the event sink.
func (e *Executor) complete(ctx context.Context, h *Handle, workerID int, worker string, raw error, attempts, active int) error {
	var execErr error
	panicked := false
	if raw != nil {
		te := &TaskExecutionError{
			Executor: e.id,
			Priority: h.priority,
			Sequence: h.sequence,
			Err:      raw,
		}
		if pe, ok := raw.(*panicError); ok {
			panicked = true
			te.Panic = pe.value
			te.Stack = pe.stack
			e.cfg.PanicHandler.HandlePanic(ctx, e.id, workerID, pe.value, pe.stack)
		}
		execErr = te
	}

	state := TaskStateSucceeded
	switch {
	case raw == nil:
	case h.ctx != nil && h.ctx.Err() != nil && errors.Is(raw, context.Canceled):
		state = TaskStateCancelled
	default:
		state = TaskStateFailed
	}
	h.finish(state, execErr)

	enqueued, started, finished := h.Timings()
	duration := finished.Sub(started)

	switch state {
	case TaskStateSucceeded:
		e.counters.completed.Add(1)
	case TaskStateCancelled:
		e.counters.cancelled.Add(1)
	default:
		e.counters.failed.Add(1)
		e.cfg.Metrics.RecordTaskFailure(e.id, h.priority, panicked)
		e.logger.Error("task failed",
			F("executor", e.id),
			F("task", TaskName(h.task)),
			F("priority", h.priority),
			F("sequence", h.sequence),
			F("attempts", attempts),
			F("error", execErr),
		)
	}
	e.cfg.Metrics.RecordTaskDuration(e.id, h.priority, duration)

	name := TaskName(h.task)
	e.history.Add(TaskExecutionRecord{
		Sequence:   h.sequence,
		Name:       name,
		Executor:   e.id,
		Priority:   h.priority,
		State:      state,
		EnqueuedAt: enqueued,
		StartedAt:  started,
		FinishedAt: finished,
		Wait:       started.Sub(enqueued),
		Duration:   duration,
		Attempts:   attempts,
		Panicked:   panicked,
	})

	snapshot := e.measure.onFinish(duration, active)
	if sink := e.cfg.EventSink; sink != nil {
		sink.Post(&ExecutionMeasureEvent{
			Executor:  e.id,
			Task:      name,
			Worker:    worker,
			Priority:  h.priority,
			Sequence:  h.sequence,
			StartedAt: started,
			Queued:    started.Sub(enqueued),
			Execution: duration,
			Failed:    state != TaskStateSucceeded,
		})
		sink.Post(&ExecutorMeasureEvent{
			Executor:     e.id,
			Measurements: snapshot,
		})
	}
	return execErr
}

// =============================================================================
// Lifecycle
// =============================================================================

// Shutdown stops accepting new tasks. Queued tasks still run; in-flight Main
// and Blocking submissions finish. Calling it again has no effect.
func (e *Executor) Shutdown() {
	e.stateMu.Lock()
	if e.state != ExecutorOpen {
		e.stateMu.Unlock()
		return
	}
	e.state = ExecutorShuttingDown
	e.stateMu.Unlock()

	e.scheduler.Close()
	e.logger.Info("executor shutting down",
		F("executor", e.id),
		F("queued", e.scheduler.QueuedTaskCount()),
	)
	go e.awaitWorkers()
}

// ShutdownNow is Shutdown that also cancels every queued task and the
// context of running asynchronous tasks. Main and Blocking work is never
// interrupted. It returns the tasks that never started.
func (e *Executor) ShutdownNow() []PrioritizedTask {
	e.Shutdown()

	drained := e.scheduler.Drain()
	out := make([]PrioritizedTask, 0, len(drained))
	for _, h := range drained {
		if h.finish(TaskStateCancelled, ErrCancelled) {
			e.counters.cancelled.Add(1)
			out = append(out, h.task)
		}
	}
	e.cancel()

	if len(out) > 0 {
		e.logger.Info("executor cancelled queued tasks",
			F("executor", e.id),
			F("cancelled", len(out)),
		)
	}
	e.cfg.Metrics.RecordQueueDepth(e.id, 0)
	return out
}

// AwaitTermination blocks until the executor terminated or timeout elapsed
// and reports whether it terminated.
func (e *Executor) AwaitTermination(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-e.terminated:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.terminated:
		return true
	case <-timer.C:
		return false
	}
}

// ShutdownGraceful shuts down and waits up to timeout for queued work to
// drain. On timeout it falls back to ShutdownNow and returns
// ErrTerminationTimeout.
func (e *Executor) ShutdownGraceful(timeout time.Duration) error {
	e.Shutdown()
	if e.AwaitTermination(timeout) {
		return nil
	}
	e.ShutdownNow()
	return fmt.Errorf("%w after %v, queued tasks cancelled", ErrTerminationTimeout, timeout)
}

func (e *Executor) awaitWorkers() {
	e.workersWG.Wait()
	e.syncWG.Wait()

	e.stateMu.Lock()
	e.state = ExecutorTerminated
	e.stateMu.Unlock()

	e.cancel()
	e.logger.Info("executor terminated", F("executor", e.id))
	close(e.terminated)
}

// =============================================================================
// Observability
// =============================================================================

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		ID:               e.id,
		Workers:          e.cfg.Workers,
		State:            e.State(),
		QueueType:        e.cfg.QueueType,
		Queued:           e.scheduler.QueuedTaskCount(),
		Active:           e.scheduler.ActiveTaskCount(),
		Submitted:        e.seq.Load(),
		Completed:        e.counters.completed.Load(),
		Failed:           e.counters.failed.Load(),
		Cancelled:        e.counters.cancelled.Load(),
		Rejected:         e.counters.rejected.Load(),
		QueuedByPriority: e.scheduler.QueuedByPriority(),
	}
}

// RecentTasks returns up to limit execution records, newest first.
func (e *Executor) RecentTasks(limit int) []TaskExecutionRecord {
	return e.history.Recent(limit)
}

// LastTask returns the most recent execution record.
func (e *Executor) LastTask() (TaskExecutionRecord, bool) {
	return e.history.Last()
}

// Measurements returns the running averages and maxima of the executor.
func (e *Executor) Measurements() Measurements {
	return e.measure.snapshot()
}
