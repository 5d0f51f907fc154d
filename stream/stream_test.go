package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-chronos/core"
)

type collected struct {
	mu     sync.Mutex
	events []core.MeasureEvent
}

func (c *collected) Collect(ctx context.Context, event core.MeasureEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collected) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collected) get() []core.MeasureEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.MeasureEvent(nil), c.events...)
}

func execution(executor string, d time.Duration) *core.ExecutionMeasureEvent {
	return &core.ExecutionMeasureEvent{Executor: executor, Execution: d}
}

// TestStream_TransformAndCollect verifies the pipeline of one kind
// Given: A transformer that drops fast executions and tags the rest
// When: Events are posted
// Then: The collector receives only the tagged slow ones, in order
func TestStream_TransformAndCollect(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	s.RegisterTransformer(core.KindExecutionMeasure, TransformerFunc(func(ev core.MeasureEvent) core.MeasureEvent {
		e := ev.(*core.ExecutionMeasureEvent)
		if e.Execution < 10*time.Millisecond {
			return nil
		}
		e.Tags = append(e.Tags, "slow")
		return e
	}))
	c := &collected{}
	s.RegisterCollector(core.KindExecutionMeasure, c)

	s.Post(execution("a", time.Millisecond))
	s.Post(execution("b", 20*time.Millisecond))
	s.Post(execution("c", 30*time.Millisecond))

	require.Eventually(t, func() bool { return c.len() == 2 }, time.Second, time.Millisecond)
	got := c.get()
	assert.Equal(t, "b", got[0].Source())
	assert.Equal(t, "c", got[1].Source())
	assert.Equal(t, []string{"slow"}, got[1].(*core.ExecutionMeasureEvent).Tags)
	assert.Equal(t, uint64(3), s.Posted())
}

func TestStream_KindsAreSeparate(t *testing.T) {
	s := New(DefaultConfigs(), nil)
	defer s.Close()

	execs, executors := &collected{}, &collected{}
	s.RegisterCollector(core.KindExecutionMeasure, execs)
	s.RegisterCollector(core.KindExecutorMeasure, executors)

	s.Post(execution("a", 0))
	s.Post(&core.ExecutorMeasureEvent{Executor: "a"})
	s.Post(&core.ExecutorMeasureEvent{Executor: "a"})

	require.Eventually(t, func() bool { return execs.len() == 1 && executors.len() == 2 }, time.Second, time.Millisecond)
}

func TestStream_FanOut(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	first, second := &collected{}, &collected{}
	s.RegisterCollector(core.KindExecutorMeasure, first)
	s.RegisterCollector(core.KindExecutorMeasure, CollectorFunc(second.Collect))

	s.Post(&core.ExecutorMeasureEvent{Executor: "x"})
	require.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, time.Millisecond)
}

func TestStream_Disabled(t *testing.T) {
	s := New(map[string]Config{core.KindExecutionMeasure: {Enabled: false}}, nil)
	defer s.Close()

	c := &collected{}
	s.RegisterCollector(core.KindExecutionMeasure, c)
	s.Post(execution("a", 0))
	s.Post(nil)

	assert.Equal(t, uint64(0), s.Posted())
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, 0, c.len())
}

// TestStream_Debounce verifies at most one event per interval reaches a collector
func TestStream_Debounce(t *testing.T) {
	s := New(map[string]Config{
		core.KindExecutorMeasure: {Enabled: true, Debounce: time.Hour},
	}, nil)
	defer s.Close()

	c := &collected{}
	s.RegisterCollector(core.KindExecutorMeasure, c)
	for range 10 {
		s.Post(&core.ExecutorMeasureEvent{Executor: "x"})
	}

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestStream_FullBufferDrops(t *testing.T) {
	s := New(map[string]Config{
		core.KindExecutorMeasure: {Enabled: true, BufferCapacity: 1},
	}, nil)
	defer s.Close()

	gate := make(chan struct{})
	var got int
	var mu sync.Mutex
	s.RegisterCollector(core.KindExecutorMeasure, CollectorFunc(func(ctx context.Context, ev core.MeasureEvent) {
		<-gate
		mu.Lock()
		got++
		mu.Unlock()
	}))

	// One event is being collected, one fits the buffer, the rest are dropped.
	s.Post(&core.ExecutorMeasureEvent{})
	time.Sleep(20 * time.Millisecond)
	for range 5 {
		s.Post(&core.ExecutorMeasureEvent{})
	}
	assert.Equal(t, uint64(4), s.Dropped())
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 2
	}, time.Second, time.Millisecond)
}

func TestStream_CollectorPanicIsContained(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()

	c := &collected{}
	calls := 0
	s.RegisterCollector(core.KindExecutorMeasure, CollectorFunc(func(ctx context.Context, ev core.MeasureEvent) {
		calls++
		if calls == 1 {
			panic("collector bug")
		}
		c.Collect(ctx, ev)
	}))

	s.Post(&core.ExecutorMeasureEvent{})
	s.Post(&core.ExecutorMeasureEvent{})
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, time.Millisecond)
}

func TestStream_Close(t *testing.T) {
	s := New(nil, nil)
	c := &collected{}
	s.RegisterCollector(core.KindExecutorMeasure, c)

	s.Close()
	s.Close()

	s.Post(&core.ExecutorMeasureEvent{})
	s.RegisterCollector(core.KindExecutorMeasure, &collected{})
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, 0, c.len())
}

// TestStream_AsExecutorSink verifies executors feed the stream
// Given: An executor whose event sink is a stream
// When: Tasks complete
// Then: Collectors see one execution event and one executor event per task
func TestStream_AsExecutorSink(t *testing.T) {
	s := New(nil, nil)
	defer s.Close()
	execs, executors := &collected{}, &collected{}
	s.RegisterCollector(core.KindExecutionMeasure, execs)
	s.RegisterCollector(core.KindExecutorMeasure, executors)

	e := core.NewExecutor(core.WithID("streamed"), core.WithWorkers(2), core.WithEventSink(s))
	for range 4 {
		_, err := e.Submit(context.Background(), core.NewNamedTask(core.TaskPriorityMedium, "work", func(ctx context.Context) error {
			return nil
		}))
		require.NoError(t, err)
	}
	require.NoError(t, e.ShutdownGraceful(5*time.Second))

	require.Eventually(t, func() bool { return execs.len() == 4 && executors.len() == 4 }, time.Second, time.Millisecond)
	ev := execs.get()[0].(*core.ExecutionMeasureEvent)
	assert.Equal(t, "streamed", ev.Executor)
	assert.Equal(t, "work", ev.Task)
	assert.Equal(t, core.TaskPriorityMedium, ev.Priority)
	assert.False(t, ev.Failed)
}
