package core

import (
	"context"
	"runtime"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution. The panic is
// always converted into a *TaskExecutionError afterwards; the handler only
// adds a side channel for reporting.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context the task ran with
	// - executorName: The executor the task was submitted to
	// - workerID: The ID of the worker, -1 for Main and Blocking tasks
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, executorName string, workerID int, panicInfo any, stackTrace []byte)
}

// LoggingPanicHandler reports panics to a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic with its stack.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, executorName string, workerID int, panicInfo any, stackTrace []byte) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error("task panicked",
		F("executor", executorName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting task execution performance.
type Metrics interface {
	// RecordTaskDuration records how long a task body ran.
	RecordTaskDuration(executorName string, priority TaskPriority, duration time.Duration)

	// RecordTaskWait records how long an asynchronous task sat in the queue.
	RecordTaskWait(executorName string, priority TaskPriority, wait time.Duration)

	// RecordTaskFailure records a task that returned an error or panicked.
	RecordTaskFailure(executorName string, priority TaskPriority, panicked bool)

	// RecordQueueDepth records the current number of pending tasks.
	RecordQueueDepth(executorName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(executorName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(executorName string, priority TaskPriority, duration time.Duration) {}
func (m *NilMetrics) RecordTaskWait(executorName string, priority TaskPriority, wait time.Duration)         {}
func (m *NilMetrics) RecordTaskFailure(executorName string, priority TaskPriority, panicked bool)           {}
func (m *NilMetrics) RecordQueueDepth(executorName string, depth int)                                       {}
func (m *NilMetrics) RecordTaskRejected(executorName string, reason string)                                 {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a submission is rejected, in addition to
// the error returned to the submitter. This happens when:
// - The executor is shutting down or terminated
// - The bounded pending queue is full
// - The task reports an invalid priority
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(executorName string, task PrioritizedTask, reason error)
}

// RejectedTaskHandlerFunc adapts a function to RejectedTaskHandler.
type RejectedTaskHandlerFunc func(executorName string, task PrioritizedTask, reason error)

func (f RejectedTaskHandlerFunc) HandleRejectedTask(executorName string, task PrioritizedTask, reason error) {
	f(executorName, task, reason)
}

// =============================================================================
// EventSink: receiver of measure events
// =============================================================================

// EventSink receives measure events emitted by an executor. Post must not
// block; implementations drop events they cannot buffer.
type EventSink interface {
	Post(event MeasureEvent)
}

// =============================================================================
// ExecutorConfig: Configuration for Executor
// =============================================================================

// DefaultWorkers mirrors the usual core pool size of CPU count + 1.
var DefaultWorkers = runtime.NumCPU() + 1

// ExecutorConfig holds configuration options for Executor.
// All zero values are replaced with defaults in FillDefaults.
type ExecutorConfig struct {
	// ID names the executor in logs, metrics and events.
	ID string

	// Workers is the number of worker goroutines for asynchronous tiers.
	Workers int

	// QueueType selects the pending-work structure.
	QueueType QueueType

	// MaxQueueSize bounds the pending queue; 0 means unbounded.
	MaxQueueSize int

	// MaxBlockingParallelism bounds the concurrency inside one Blocking
	// batch; 0 means every task of the batch runs at once.
	MaxBlockingParallelism int

	// ThreadNice, when non-nil, locks every worker to an OS thread and sets
	// its nice value (Linux only).
	ThreadNice *int

	// Retry applies to asynchronous tiers.
	Retry RetryPolicy

	// HistoryCapacity is the number of execution records kept for RecentTasks.
	HistoryCapacity int

	// MainThread, when set, is the designated main context for Main tasks.
	MainThread *MainThread

	Logger              Logger
	Metrics             Metrics
	PanicHandler        PanicHandler
	RejectedTaskHandler RejectedTaskHandler
	EventSink           EventSink
}

// DefaultExecutorConfig returns a config with default handlers.
func DefaultExecutorConfig() *ExecutorConfig {
	c := &ExecutorConfig{}
	c.FillDefaults()
	return c
}

// FillDefaults replaces zero values with defaults.
func (c *ExecutorConfig) FillDefaults() {
	if c.ID == "" {
		c.ID = "executor"
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxQueueSize < 0 {
		c.MaxQueueSize = 0
	}
	if c.MaxBlockingParallelism < 0 {
		c.MaxBlockingParallelism = 0
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = defaultTaskHistoryCapacity
	}
	if c.Logger == nil {
		c.Logger = NewNoOpLogger()
	}
	if c.Metrics == nil {
		c.Metrics = &NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &LoggingPanicHandler{Logger: c.Logger}
	}
}

// Option configures an ExecutorConfig.
type Option func(*ExecutorConfig)

func WithID(id string) Option                { return func(c *ExecutorConfig) { c.ID = id } }
func WithWorkers(n int) Option               { return func(c *ExecutorConfig) { c.Workers = n } }
func WithQueueType(qt QueueType) Option      { return func(c *ExecutorConfig) { c.QueueType = qt } }
func WithMaxQueueSize(n int) Option          { return func(c *ExecutorConfig) { c.MaxQueueSize = n } }
func WithRetryPolicy(p RetryPolicy) Option   { return func(c *ExecutorConfig) { c.Retry = p } }
func WithLogger(l Logger) Option             { return func(c *ExecutorConfig) { c.Logger = l } }
func WithMetrics(m Metrics) Option           { return func(c *ExecutorConfig) { c.Metrics = m } }
func WithPanicHandler(h PanicHandler) Option { return func(c *ExecutorConfig) { c.PanicHandler = h } }
func WithEventSink(s EventSink) Option       { return func(c *ExecutorConfig) { c.EventSink = s } }
func WithMainThread(m *MainThread) Option    { return func(c *ExecutorConfig) { c.MainThread = m } }
func WithHistoryCapacity(n int) Option       { return func(c *ExecutorConfig) { c.HistoryCapacity = n } }

// WithMaxBlockingParallelism bounds concurrency inside one Blocking batch.
func WithMaxBlockingParallelism(n int) Option {
	return func(c *ExecutorConfig) { c.MaxBlockingParallelism = n }
}

// WithThreadNice pins workers to OS threads and sets their nice value.
func WithThreadNice(nice int) Option {
	return func(c *ExecutorConfig) { c.ThreadNice = &nice }
}

// WithRejectedTaskHandler sets the handler notified on every rejection.
func WithRejectedTaskHandler(h RejectedTaskHandler) Option {
	return func(c *ExecutorConfig) { c.RejectedTaskHandler = h }
}
