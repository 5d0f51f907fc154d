package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/Swind/go-chronos/core"
)

// ExecutorSnapshotProvider provides current executor stats snapshots.
// *core.Executor implements it.
type ExecutorSnapshotProvider interface {
	Stats() core.ExecutorStats
	Measurements() core.Measurements
}

// SnapshotPoller periodically exports executor Stats() and Measurements()
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	executorsMu sync.RWMutex
	executors   map[string]ExecutorSnapshotProvider

	queued           *prom.GaugeVec
	queuedByPriority *prom.GaugeVec
	active           *prom.GaugeVec
	workers          *prom.GaugeVec
	open             *prom.GaugeVec
	tasks            *prom.GaugeVec
	avgWait          *prom.GaugeVec
	avgExecution     *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_queued",
		Help:      "Queued tasks per executor.",
	}, []string{"executor"})
	queuedByPriority := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_queued_by_priority",
		Help:      "Queued tasks per executor and tier.",
	}, []string{"executor", "priority"})
	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_active",
		Help:      "Tasks running on workers per executor.",
	}, []string{"executor"})
	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_workers",
		Help:      "Worker count per executor.",
	}, []string{"executor"})
	open := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_open",
		Help:      "Executor accepting work (1=open, 0=shutting down or terminated).",
	}, []string{"executor"})
	tasks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_tasks",
		Help:      "Executor task counters snapshot by outcome.",
	}, []string{"executor", "outcome"})
	avgWait := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_average_wait_seconds",
		Help:      "Running average of queue wait per executor.",
	}, []string{"executor"})
	avgExecution := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: defaultNamespace,
		Name:      "executor_average_execution_seconds",
		Help:      "Running average of execution time per executor.",
	}, []string{"executor"})

	var err error
	if queued, err = registerCollector(reg, queued); err != nil {
		return nil, err
	}
	if queuedByPriority, err = registerCollector(reg, queuedByPriority); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if workers, err = registerCollector(reg, workers); err != nil {
		return nil, err
	}
	if open, err = registerCollector(reg, open); err != nil {
		return nil, err
	}
	if tasks, err = registerCollector(reg, tasks); err != nil {
		return nil, err
	}
	if avgWait, err = registerCollector(reg, avgWait); err != nil {
		return nil, err
	}
	if avgExecution, err = registerCollector(reg, avgExecution); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:         interval,
		executors:        make(map[string]ExecutorSnapshotProvider),
		queued:           queued,
		queuedByPriority: queuedByPriority,
		active:           active,
		workers:          workers,
		open:             open,
		tasks:            tasks,
		avgWait:          avgWait,
		avgExecution:     avgExecution,
	}, nil
}

// AddExecutor adds or replaces an executor snapshot provider by name.
func (p *SnapshotPoller) AddExecutor(name string, provider ExecutorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "executor")
	p.executorsMu.Lock()
	p.executors[name] = provider
	p.executorsMu.Unlock()
}

// RemoveExecutor stops polling name.
func (p *SnapshotPoller) RemoveExecutor(name string) {
	if p == nil {
		return
	}
	p.executorsMu.Lock()
	delete(p.executors, normalizeLabel(name, "executor"))
	p.executorsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.executorsMu.RLock()
	defer p.executorsMu.RUnlock()

	for name, provider := range p.executors {
		stats := provider.Stats()
		p.queued.WithLabelValues(name).Set(float64(stats.Queued))
		p.active.WithLabelValues(name).Set(float64(stats.Active))
		p.workers.WithLabelValues(name).Set(float64(stats.Workers))
		if stats.Running() {
			p.open.WithLabelValues(name).Set(1)
		} else {
			p.open.WithLabelValues(name).Set(0)
		}
		for _, prio := range core.AllPriorities() {
			if !prio.IsAsync() {
				continue
			}
			p.queuedByPriority.WithLabelValues(name, priorityLabel(prio)).Set(float64(stats.QueuedByPriority[prio]))
		}
		p.tasks.WithLabelValues(name, "submitted").Set(float64(stats.Submitted))
		p.tasks.WithLabelValues(name, "completed").Set(float64(stats.Completed))
		p.tasks.WithLabelValues(name, "failed").Set(float64(stats.Failed))
		p.tasks.WithLabelValues(name, "cancelled").Set(float64(stats.Cancelled))
		p.tasks.WithLabelValues(name, "rejected").Set(float64(stats.Rejected))

		m := provider.Measurements()
		p.avgWait.WithLabelValues(name).Set(m.AverageWait.Seconds())
		p.avgExecution.WithLabelValues(name).Set(m.AverageExecution.Seconds())
	}
}
