package core

import (
	"fmt"
	"sync"
	"time"
)

// Event kinds, used by stream configuration to select a per-kind pipeline.
const (
	KindExecutionMeasure = "ExecutionMeasureEvent"
	KindExecutorMeasure  = "ExecutorMeasureEvent"
)

// MeasureEvent is emitted by a measured executor.
type MeasureEvent interface {
	// Kind names the event type, one of the Kind* constants.
	Kind() string
	// Source is the executor or caller the event belongs to.
	Source() string
}

// ExecutionMeasureEvent is emitted once per finished task.
type ExecutionMeasureEvent struct {
	Executor  string
	Task      string
	Worker    string
	Priority  TaskPriority
	Sequence  uint64
	StartedAt time.Time

	// Queued is the wall time between submission and start.
	Queued time.Duration
	// Execution is the wall time between start and completion.
	Execution time.Duration

	Failed bool
	Tags   []string
	Meta   map[string]any
}

func (e *ExecutionMeasureEvent) Kind() string   { return KindExecutionMeasure }
func (e *ExecutionMeasureEvent) Source() string { return e.Executor }

func (e *ExecutionMeasureEvent) String() string {
	return fmt.Sprintf("executor:%s, task:%s, worker:%s, priority:%s, queued:%v, execution:%v, failed:%t",
		e.Executor, e.Task, e.Worker, e.Priority, e.Queued, e.Execution, e.Failed)
}

// ExecutorMeasureEvent carries the running measurements of an executor
// after a task finished. Averages and maxima cover the executor lifetime.
type ExecutorMeasureEvent struct {
	Executor string
	Measurements
	Meta map[string]any
}

func (e *ExecutorMeasureEvent) Kind() string   { return KindExecutorMeasure }
func (e *ExecutorMeasureEvent) Source() string { return e.Executor }

func (e *ExecutorMeasureEvent) String() string {
	return fmt.Sprintf("executor:%s, avgWait:%v, maxWait:%v, avgExecution:%v, maxExecution:%v, avgActive:%.2f, avgQueue:%.2f, maxQueue:%d",
		e.Executor, e.AverageWait, e.MaximumWait, e.AverageExecution, e.MaximumExecution,
		e.AverageActiveWorkers, e.AverageQueueSize, e.MaximumQueueSize)
}

// Measurements is a snapshot of the running metrics of an executor.
type Measurements struct {
	AverageWait          time.Duration
	MaximumWait          time.Duration
	AverageExecution     time.Duration
	MaximumExecution     time.Duration
	AverageActiveWorkers float64
	AverageQueueSize     float64
	MaximumQueueSize     int
	Samples              int
}

// runningAverage is the cumulative mean of every sample seen so far.
type runningAverage struct {
	value float64
	count int
}

func (a *runningAverage) update(v float64) {
	a.count++
	a.value += (v - a.value) / float64(a.count)
}

type runningMaximum struct {
	value float64
}

func (m *runningMaximum) update(v float64) {
	if v > m.value {
		m.value = v
	}
}

// measurer accumulates the running metrics of one executor.
type measurer struct {
	mu sync.Mutex

	avgWait      runningAverage
	maxWait      runningMaximum
	avgExecution runningAverage
	maxExecution runningMaximum
	avgActive    runningAverage
	avgQueue     runningAverage
	maxQueue     runningMaximum
}

// onEnqueue samples the queue size seen by a new asynchronous submission.
func (m *measurer) onEnqueue(queueSize int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgQueue.update(float64(queueSize))
	m.maxQueue.update(float64(queueSize))
}

func (m *measurer) onStart(wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgWait.update(float64(wait))
	m.maxWait.update(float64(wait))
}

// onFinish records the execution and returns the updated snapshot.
func (m *measurer) onFinish(execution time.Duration, active int) Measurements {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgExecution.update(float64(execution))
	m.maxExecution.update(float64(execution))
	m.avgActive.update(float64(active))
	return m.snapshotLocked()
}

func (m *measurer) snapshot() Measurements {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *measurer) snapshotLocked() Measurements {
	return Measurements{
		AverageWait:          time.Duration(m.avgWait.value),
		MaximumWait:          time.Duration(m.maxWait.value),
		AverageExecution:     time.Duration(m.avgExecution.value),
		MaximumExecution:     time.Duration(m.maxExecution.value),
		AverageActiveWorkers: m.avgActive.value,
		AverageQueueSize:     m.avgQueue.value,
		MaximumQueueSize:     int(m.maxQueue.value),
		Samples:              m.avgExecution.count,
	}
}
