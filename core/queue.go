package core

import (
	"container/heap"
	"fmt"
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// QueueType selects the pending-work structure of an executor.
type QueueType int

const (
	// QueuePriority orders pending tasks by tier, then by submission order.
	QueuePriority QueueType = iota
	// QueueFIFO ignores tiers and runs asynchronous tasks in submission order.
	QueueFIFO
)

func (qt QueueType) String() string {
	switch qt {
	case QueuePriority:
		return "priority"
	case QueueFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

func (qt QueueType) MarshalText() ([]byte, error) { return []byte(qt.String()), nil }

func (qt *QueueType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "priority", "":
		*qt = QueuePriority
	case "fifo":
		*qt = QueueFIFO
	default:
		return fmt.Errorf("chronos: unknown queue type %q", string(b))
	}
	return nil
}

// TaskQueue defines the interface for different queue implementations
type TaskQueue interface {
	Push(h *Handle)
	Pop() (*Handle, bool)
	Remove(h *Handle) bool
	PeekPriority() (TaskPriority, bool)
	Len() int
	IsEmpty() bool
	MaybeCompact()
	Drain() []*Handle // Remove and return every pending task
	Each(fn func(h *Handle))
}

// NewTaskQueue returns the queue implementation for qt.
func NewTaskQueue(qt QueueType) TaskQueue {
	if qt == QueueFIFO {
		return NewFIFOTaskQueue()
	}
	return NewPriorityTaskQueue()
}

// =============================================================================
// FIFOTaskQueue: submission order, tiers ignored
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []*Handle
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]*Handle, 0, defaultQueueCap),
	}
}

func (q *FIFOTaskQueue) Push(h *Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, h)
}

func (q *FIFOTaskQueue) Pop() (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}

	h := q.tasks[0]
	// Zero out the element in the underlying array to prevent memory leak
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()

	return h, true
}

func (q *FIFOTaskQueue) Remove(h *Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t != h {
			continue
		}
		copy(q.tasks[i:], q.tasks[i+1:])
		q.tasks[len(q.tasks)-1] = nil
		q.tasks = q.tasks[:len(q.tasks)-1]
		q.maybeCompactLocked()
		return true
	}
	return false
}

func (q *FIFOTaskQueue) MaybeCompact() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeCompactLocked()
}

func (q *FIFOTaskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*Handle, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*Handle, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *FIFOTaskQueue) PeekPriority() (TaskPriority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return 0, false
	}
	return q.tasks[0].priority, true
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

func (q *FIFOTaskQueue) Each(fn func(h *Handle)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range q.tasks {
		fn(h)
	}
}

func (q *FIFOTaskQueue) Drain() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.tasks
	q.tasks = make([]*Handle, 0, defaultQueueCap)
	return drained
}

// =============================================================================
// PriorityTaskQueue: heap ordered by (tier desc, sequence asc)
// =============================================================================

// priorityHeap implements heap.Interface
type priorityHeap []*Handle

func (h priorityHeap) Len() int { return len(h) }

// Less implements priority logic: higher tier first, then smaller sequence first (FIFO)
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*Handle)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

type PriorityTaskQueue struct {
	mu sync.Mutex
	pq priorityHeap
}

func NewPriorityTaskQueue() *PriorityTaskQueue {
	return &PriorityTaskQueue{
		pq: make(priorityHeap, 0, defaultQueueCap),
	}
}

func (q *PriorityTaskQueue) Push(h *Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.pq, h)
}

func (q *PriorityTaskQueue) Pop() (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return nil, false
	}
	return heap.Pop(&q.pq).(*Handle), true
}

func (q *PriorityTaskQueue) Remove(h *Handle) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.index < 0 || h.index >= len(q.pq) || q.pq[h.index] != h {
		return false
	}
	heap.Remove(&q.pq, h.index)
	return true
}

func (q *PriorityTaskQueue) PeekPriority() (TaskPriority, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return 0, false
	}
	// 0 is the most urgent item because Less puts the highest tier at the top
	return q.pq[0].priority, true
}

func (q *PriorityTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

func (q *PriorityTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// MaybeCompact is a no-op: container/heap manages the backing slice.
func (q *PriorityTaskQueue) MaybeCompact() {}

// Each visits the pending tasks in heap order, not dequeue order.
func (q *PriorityTaskQueue) Each(fn func(h *Handle)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, h := range q.pq {
		fn(h)
	}
}

// Drain returns the pending tasks in dequeue order and empties the queue.
func (q *PriorityTaskQueue) Drain() []*Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := make([]*Handle, 0, len(q.pq))
	for len(q.pq) > 0 {
		drained = append(drained, heap.Pop(&q.pq).(*Handle))
	}
	q.pq = make(priorityHeap, 0, defaultQueueCap)
	return drained
}
