package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/go-chronos/core"
)

type executorStub struct {
	stats core.ExecutorStats
	m     core.Measurements
}

func (s executorStub) Stats() core.ExecutorStats       { return s.stats }
func (s executorStub) Measurements() core.Measurements { return s.m }

func TestSnapshotPoller_CollectsExecutorStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddExecutor("exec-a", executorStub{
		stats: core.ExecutorStats{
			Workers:   8,
			State:     core.ExecutorShuttingDown,
			Queued:    4,
			Active:    2,
			Rejected:  3,
			Completed: 10,
			QueuedByPriority: map[core.TaskPriority]int{
				core.TaskPriorityHigh:       3,
				core.TaskPriorityBackground: 1,
			},
		},
		m: core.Measurements{AverageWait: 500 * time.Millisecond},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		queued := testutil.ToFloat64(poller.queued.WithLabelValues("exec-a"))
		active := testutil.ToFloat64(poller.active.WithLabelValues("exec-a"))
		return queued == 4 && active == 2
	})

	if got := testutil.ToFloat64(poller.open.WithLabelValues("exec-a")); got != 0 {
		t.Fatalf("open gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.queuedByPriority.WithLabelValues("exec-a", "high")); got != 3 {
		t.Fatalf("queued high = %v, want 3", got)
	}
	if got := testutil.ToFloat64(poller.queuedByPriority.WithLabelValues("exec-a", "medium")); got != 0 {
		t.Fatalf("queued medium = %v, want 0", got)
	}
	if got := testutil.ToFloat64(poller.tasks.WithLabelValues("exec-a", "rejected")); got != 3 {
		t.Fatalf("rejected = %v, want 3", got)
	}
	if got := testutil.ToFloat64(poller.avgWait.WithLabelValues("exec-a")); got != 0.5 {
		t.Fatalf("average wait = %v, want 0.5", got)
	}
}

func TestSnapshotPoller_RealExecutor(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	exec := core.NewExecutor(core.WithID("real"), core.WithWorkers(2))
	defer exec.ShutdownNow()
	poller.AddExecutor(exec.ID(), exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		return testutil.ToFloat64(poller.workers.WithLabelValues("real")) == 2 &&
			testutil.ToFloat64(poller.open.WithLabelValues("real")) == 1
	})
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
