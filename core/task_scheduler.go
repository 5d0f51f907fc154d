package core

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// TaskScheduler owns the pending-work structure of an executor and hands
// tasks to its workers. Sequence numbers are drawn under the same lock as
// the push, so sequence order equals insertion order.
type TaskScheduler struct {
	mu       sync.Mutex
	queue    TaskQueue
	maxQueue int
	closed   bool
	closedCh chan struct{}

	signal chan struct{}

	seq *atomic.Uint64

	_            cpu.CacheLinePad
	metricQueued atomic.Int64 // Waiting in the pending structure
	_            cpu.CacheLinePad
	metricActive atomic.Int64 // Executing in a worker
	_            cpu.CacheLinePad
}

// NewTaskScheduler creates a scheduler over a queue of type qt. seq is the
// executor-wide submission counter; maxQueue 0 means unbounded.
func NewTaskScheduler(qt QueueType, workerCount, maxQueue int, seq *atomic.Uint64) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	if seq == nil {
		seq = new(atomic.Uint64)
	}
	return &TaskScheduler{
		queue:    NewTaskQueue(qt),
		maxQueue: maxQueue,
		closedCh: make(chan struct{}),
		signal:   make(chan struct{}, workerCount*2),
		seq:      seq,
	}
}

// Enqueue draws the next sequence number, builds the handle with it and
// pushes it. It fails with ErrRejectedSubmission after Close and with
// ErrQueueFull when the bound is reached.
func (s *TaskScheduler) Enqueue(build func(seq uint64) *Handle) (*Handle, int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, 0, ErrRejectedSubmission
	}
	depth := s.queue.Len()
	if s.maxQueue > 0 && depth >= s.maxQueue {
		s.mu.Unlock()
		return nil, depth, ErrQueueFull
	}
	h := build(s.seq.Add(1))
	s.queue.Push(h)
	s.metricQueued.Add(1)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
		// This is not an error, just a optimization hint
	}
	return h, depth + 1, nil
}

// Remove takes h out of the pending structure if it is still there.
func (s *TaskScheduler) Remove(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.queue.Remove(h) {
		return false
	}
	s.metricQueued.Add(-1)
	return true
}

// GetWork blocks until a task is available or there is nothing left to do:
// stopCh is closed, or the scheduler is closed and the queue is empty.
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (*Handle, bool) {
	for {
		select {
		case <-stopCh:
			return nil, false
		default:
		}

		// Try to pop one task
		s.mu.Lock()
		h, ok := s.queue.Pop()
		closed := s.closed
		if ok {
			s.metricQueued.Add(-1) // Left queue
		}
		s.mu.Unlock()
		if ok {
			return h, true
		}
		if closed {
			return nil, false
		}

		select {
		case <-s.signal:
			continue
		case <-s.closedCh:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Close stops accepting tasks. Workers keep draining what is queued.
func (s *TaskScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closedCh)
}

// Drain closes the scheduler and returns every queued task in dequeue order.
func (s *TaskScheduler) Drain() []*Handle {
	s.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.queue.Drain()
	s.metricQueued.Add(-int64(len(drained)))
	return drained
}

// QueuedByPriority counts pending tasks per tier.
func (s *TaskScheduler) QueuedByPriority() map[TaskPriority]int {
	out := make(map[TaskPriority]int)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue.Each(func(h *Handle) { out[h.priority]++ })
	return out
}

// Metrics
func (s *TaskScheduler) QueuedTaskCount() int { return int(s.metricQueued.Load()) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(s.metricActive.Load()) }

func (s *TaskScheduler) OnTaskStart() int { return int(s.metricActive.Add(1)) }
func (s *TaskScheduler) OnTaskEnd()       { s.metricActive.Add(-1) }
