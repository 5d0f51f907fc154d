package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/Swind/go-chronos/core"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("chronos", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exporter.RecordTaskDuration("exec-a", core.TaskPriorityHigh, 250*time.Millisecond)
	exporter.RecordTaskWait("exec-a", core.TaskPriorityMedium, 10*time.Millisecond)
	exporter.RecordTaskFailure("exec-a", core.TaskPriorityHigh, true)
	exporter.RecordQueueDepth("exec-a", 7)
	exporter.RecordTaskRejected("exec-a", "shutting_down")

	failed := testutil.ToFloat64(exporter.taskFailedTotal.WithLabelValues("exec-a", "high", "true"))
	if failed != 1 {
		t.Fatalf("failed total = %v, want 1", failed)
	}

	queueDepth := testutil.ToFloat64(exporter.queueDepth.WithLabelValues("exec-a"))
	if queueDepth != 7 {
		t.Fatalf("queue depth = %v, want 7", queueDepth)
	}

	rejected := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("exec-a", "shutting_down"))
	if rejected != 1 {
		t.Fatalf("rejected total = %v, want 1", rejected)
	}

	histCount, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("exec-a", "high"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if histCount != 1 {
		t.Fatalf("duration sample count = %d, want 1", histCount)
	}

	waitCount, err := histogramSampleCount(exporter.taskWaitSeconds.WithLabelValues("exec-a", "medium"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if waitCount != 1 {
		t.Fatalf("wait sample count = %d, want 1", waitCount)
	}
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("chronos", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("first NewMetricsExporter failed: %v", err)
	}
	second, err := NewMetricsExporter("chronos", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("second NewMetricsExporter failed: %v", err)
	}

	first.RecordTaskRejected("exec-a", "queue_full")
	second.RecordTaskRejected("exec-a", "queue_full")

	got := testutil.ToFloat64(first.taskRejectedTotal.WithLabelValues("exec-a", "queue_full"))
	if got != 2 {
		t.Fatalf("shared rejected counter = %v, want 2", got)
	}
}

func TestMetricsExporter_WiredIntoExecutor(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg, ExporterOptions{})
	if err != nil {
		t.Fatalf("NewMetricsExporter failed: %v", err)
	}

	exec := core.NewExecutor(core.WithID("wired"), core.WithWorkers(1), core.WithMetrics(exporter))
	defer exec.ShutdownNow()

	if _, err := exec.SubmitFunc(t.Context(), core.TaskPriorityMain, func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	exec.Shutdown()
	if _, err := exec.SubmitFunc(t.Context(), core.TaskPriorityHigh, func(ctx context.Context) error {
		return nil
	}); err == nil {
		t.Fatal("expected rejection after shutdown")
	}

	count, err := histogramSampleCount(exporter.taskDurationSeconds.WithLabelValues("wired", "main"))
	if err != nil {
		t.Fatalf("histogramSampleCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("main duration samples = %d, want 1", count)
	}
	if got := testutil.ToFloat64(exporter.taskRejectedTotal.WithLabelValues("wired", "shutting_down")); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
}

func histogramSampleCount(observer prom.Observer) (uint64, error) {
	collector, ok := observer.(prom.Collector)
	if !ok {
		return 0, nil
	}

	metricCh := make(chan prom.Metric, 1)
	collector.Collect(metricCh)
	close(metricCh)
	for metric := range metricCh {
		msg := &dto.Metric{}
		if err := metric.Write(msg); err != nil {
			return 0, err
		}
		if msg.Histogram != nil {
			return msg.Histogram.GetSampleCount(), nil
		}
	}
	return 0, nil
}
