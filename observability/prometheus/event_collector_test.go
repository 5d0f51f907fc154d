package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Swind/go-chronos/core"
	"github.com/Swind/go-chronos/stream"
)

func TestEventCollector_ExecutorMeasure(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := NewEventCollector("", reg)
	if err != nil {
		t.Fatalf("NewEventCollector failed: %v", err)
	}

	c.Collect(context.Background(), &core.ExecutorMeasureEvent{
		Executor: "exec-a",
		Measurements: core.Measurements{
			MaximumWait:          2 * time.Second,
			AverageActiveWorkers: 1.5,
			MaximumQueueSize:     9,
		},
	})

	if got := testutil.ToFloat64(c.maxWait.WithLabelValues("exec-a")); got != 2 {
		t.Fatalf("max wait = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.avgActive.WithLabelValues("exec-a")); got != 1.5 {
		t.Fatalf("avg active = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(c.maxQueue.WithLabelValues("exec-a")); got != 9 {
		t.Fatalf("max queue = %v, want 9", got)
	}
}

func TestEventCollector_ThroughStream(t *testing.T) {
	reg := prom.NewRegistry()
	c, err := NewEventCollector("", reg)
	if err != nil {
		t.Fatalf("NewEventCollector failed: %v", err)
	}

	s := stream.New(nil, nil)
	defer s.Close()
	c.Register(s)

	exec := core.NewExecutor(core.WithID("streamed"), core.WithWorkers(1), core.WithEventSink(s))
	defer exec.ShutdownNow()

	h, err := exec.SubmitFunc(context.Background(), core.TaskPriorityHigh, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	assertEventually(t, 2*time.Second, func() bool {
		n, err := histogramSampleCount(c.executions.WithLabelValues("streamed", "high", "false"))
		return err == nil && n == 1
	})
}
