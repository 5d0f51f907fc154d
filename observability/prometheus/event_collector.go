package prometheus

import (
	"context"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-chronos/core"
	"github.com/Swind/go-chronos/stream"
)

// EventCollector exports measure events from a stream.Stream.
//
// ExecutorMeasureEvent updates the per-executor running gauges and
// ExecutionMeasureEvent feeds an execution histogram labelled by executor,
// priority and failure.
type EventCollector struct {
	maxWait      *prom.GaugeVec
	maxExecution *prom.GaugeVec
	avgActive    *prom.GaugeVec
	avgQueue     *prom.GaugeVec
	maxQueue     *prom.GaugeVec
	executions   *prom.HistogramVec
}

var _ stream.Collector = (*EventCollector)(nil)

// NewEventCollector creates and registers the collectors.
func NewEventCollector(namespace string, reg prom.Registerer) (*EventCollector, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Subsystem: "measure",
			Name:      name,
			Help:      help,
		}, []string{"executor"})
	}

	c := &EventCollector{
		maxWait:      gauge("maximum_wait_seconds", "Maximum queue wait seen by the executor."),
		maxExecution: gauge("maximum_execution_seconds", "Maximum execution time seen by the executor."),
		avgActive:    gauge("average_active_workers", "Running average of busy workers."),
		avgQueue:     gauge("average_queue_size", "Running average of the queue size at submission."),
		maxQueue:     gauge("maximum_queue_size", "Maximum queue size at submission."),
		executions: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Subsystem: "measure",
			Name:      "execution_seconds",
			Help:      "Execution wall time reported by execution measure events.",
			Buckets:   prom.DefBuckets,
		}, []string{"executor", "priority", "failed"}),
	}

	var err error
	for _, g := range []**prom.GaugeVec{&c.maxWait, &c.maxExecution, &c.avgActive, &c.avgQueue, &c.maxQueue} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	if c.executions, err = registerCollector(reg, c.executions); err != nil {
		return nil, err
	}
	return c, nil
}

// Register attaches c to both measure event kinds of s.
func (c *EventCollector) Register(s *stream.Stream) {
	s.RegisterCollector(core.KindExecutorMeasure, c)
	s.RegisterCollector(core.KindExecutionMeasure, c)
}

// Collect implements stream.Collector.
func (c *EventCollector) Collect(ctx context.Context, event core.MeasureEvent) {
	switch ev := event.(type) {
	case *core.ExecutorMeasureEvent:
		name := normalizeLabel(ev.Executor, "unknown")
		c.maxWait.WithLabelValues(name).Set(ev.MaximumWait.Seconds())
		c.maxExecution.WithLabelValues(name).Set(ev.MaximumExecution.Seconds())
		c.avgActive.WithLabelValues(name).Set(ev.AverageActiveWorkers)
		c.avgQueue.WithLabelValues(name).Set(ev.AverageQueueSize)
		c.maxQueue.WithLabelValues(name).Set(float64(ev.MaximumQueueSize))
	case *core.ExecutionMeasureEvent:
		failed := "false"
		if ev.Failed {
			failed = "true"
		}
		c.executions.WithLabelValues(normalizeLabel(ev.Executor, "unknown"), priorityLabel(ev.Priority), failed).Observe(ev.Execution.Seconds())
	}
}
