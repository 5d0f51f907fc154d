package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bradenaw/juniper/container/deque"
)

type mainThreadKey struct{}

// MainThread binds a dedicated goroutine that executes posted work strictly
// in FIFO order. It plays the role of the application main context for
// Main-tier tasks: an Executor configured WithMainThread marshals Main tasks
// onto it and blocks the submitter until they finish.
//
// Work posted to a MainThread runs with a context that identifies the
// runner, so code already running on it can call RunSync without deadlocking.
type MainThread struct {
	name   string
	logger Logger

	mu      sync.Mutex
	items   deque.Deque[func(ctx context.Context)]
	closed  bool
	signal  chan struct{}
	stopped chan struct{}
	once    sync.Once

	delays  *DelayManager
	sink    EventSink
	measure measurer
}

// NewMainThread creates and starts a MainThread.
func NewMainThread(name string, logger Logger) *MainThread {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	m := &MainThread{
		name:    name,
		logger:  logger,
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	m.delays = NewDelayManager(m, logger)
	go m.runLoop()
	return m
}

// SetEventSink makes the runner post an ExecutorMeasureEvent, named after
// the runner, after every item it executes.
func (m *MainThread) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Name returns the name given at construction.
func (m *MainThread) Name() string { return m.name }

// Post queues fn for execution. It returns ErrRejectedSubmission once the
// runner has been stopped.
func (m *MainThread) Post(fn func(ctx context.Context)) error {
	if fn == nil {
		return ErrNilTask
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrRejectedSubmission
	}
	m.items.PushBack(fn)
	select {
	case m.signal <- struct{}{}:
	default:
	}
	m.mu.Unlock()
	return nil
}

// PostDelayed queues fn once delay has elapsed. Work that is not due when
// the runner shuts down is dropped.
func (m *MainThread) PostDelayed(fn func(ctx context.Context), delay time.Duration) error {
	if m.IsClosed() {
		return ErrRejectedSubmission
	}
	return m.delays.Add(fn, delay)
}

// RunSync executes fn on the main goroutine and waits for it. When ctx
// already belongs to this runner, fn runs inline. A panic in fn is returned
// as a *TaskExecutionError.
//
// RunSync does not abandon fn when ctx is cancelled: once posted, the caller
// waits for the result.
func (m *MainThread) RunSync(ctx context.Context, fn func(ctx context.Context) error) error {
	err := m.run(ctx, fn)
	if pe, ok := err.(*panicError); ok {
		return &TaskExecutionError{
			Executor: m.name,
			Priority: TaskPriorityMain,
			Err:      pe,
			Panic:    pe.value,
			Stack:    pe.stack,
		}
	}
	return err
}

func (m *MainThread) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilTask
	}
	if m.IsCurrent(ctx) {
		return callRecovering(ctx, fn)
	}

	done := make(chan error, 1)
	err := m.Post(func(runCtx context.Context) {
		done <- callRecovering(runCtx, fn)
	})
	if err != nil {
		return err
	}
	return <-done
}

// IsCurrent reports whether ctx was handed out by this runner.
func (m *MainThread) IsCurrent(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	cur, _ := ctx.Value(mainThreadKey{}).(*MainThread)
	return cur == m
}

// Measurements returns the running execution averages of the runner.
func (m *MainThread) Measurements() Measurements { return m.measure.snapshot() }

// Pending returns the number of queued, not yet started items.
func (m *MainThread) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Len()
}

// Shutdown rejects new work without waiting. Already posted items still
// run. Unlike Stop it may be called from the main goroutine itself.
func (m *MainThread) Shutdown() {
	m.once.Do(func() {
		if dropped := m.delays.Stop(); dropped > 0 {
			m.logger.Debug("main thread dropped delayed work", F("runner", m.name), F("dropped", dropped))
		}
		m.mu.Lock()
		m.closed = true
		close(m.signal)
		m.mu.Unlock()
	})
}

// Stop rejects new work, runs what was already posted and waits for the
// goroutine to exit. It must not be called from the main goroutine.
func (m *MainThread) Stop() {
	m.Shutdown()
	<-m.stopped
}

// IsClosed reports whether Shutdown or Stop was called.
func (m *MainThread) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Stopped is closed when the goroutine exited.
func (m *MainThread) Stopped() <-chan struct{} { return m.stopped }

func (m *MainThread) runLoop() {
	defer close(m.stopped)

	ctx := context.WithValue(context.Background(), mainThreadKey{}, m)
	for {
		m.mu.Lock()
		if m.items.Len() > 0 {
			fn := m.items.PopFront()
			sink := m.sink
			m.mu.Unlock()
			m.runItem(ctx, fn, sink)
			continue
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return
		}
		// Shutdown closes signal, which wakes the loop for the final drain.
		<-m.signal
	}
}

func (m *MainThread) runItem(ctx context.Context, fn func(ctx context.Context), sink EventSink) {
	start := time.Now()
	defer func() {
		snapshot := m.measure.onFinish(time.Since(start), 1)
		if sink != nil {
			sink.Post(&ExecutorMeasureEvent{Executor: m.name, Measurements: snapshot})
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("main thread item panicked",
				F("runner", m.name),
				F("panic", rec),
				F("stack", string(debug.Stack())),
			)
		}
	}()
	fn(ctx)
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// callRecovering runs fn and converts a panic into a *panicError.
func callRecovering(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec, stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
