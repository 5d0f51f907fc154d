package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// poster is the target a DelayManager hands due work to.
type poster interface {
	Post(fn func(ctx context.Context)) error
}

// delayedItem is work scheduled for the future.
type delayedItem struct {
	runAt time.Time
	seq   uint64
	fn    func(ctx context.Context)
	index int // for heap interface
}

// delayedHeap orders items by due time, then by posting order.
type delayedHeap []*delayedItem

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if h[i].runAt.Equal(h[j].runAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].runAt.Before(h[j].runAt)
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayedHeap) Push(x any) {
	item := x.(*delayedItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h delayedHeap) peek() *delayedItem {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// DelayManager holds work until it is due and then posts it to its target.
// One goroutine sleeps until the earliest due time.
type DelayManager struct {
	target poster
	logger Logger

	mu     sync.Mutex
	pq     delayedHeap
	seq    uint64
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDelayManager starts a DelayManager posting to target.
func NewDelayManager(target poster, logger Logger) *DelayManager {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		target: target,
		logger: logger,
		pq:     make(delayedHeap, 0),
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	heap.Init(&dm.pq)
	go dm.loop()
	return dm
}

// Add schedules fn to be posted after delay. It returns ErrRejectedSubmission
// after Stop.
func (dm *DelayManager) Add(fn func(ctx context.Context), delay time.Duration) error {
	if fn == nil {
		return ErrNilTask
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.ctx.Err() != nil {
		return ErrRejectedSubmission
	}

	dm.seq++
	item := &delayedItem{
		runAt: time.Now().Add(delay),
		seq:   dm.seq,
		fn:    fn,
	}
	heap.Push(&dm.pq, item)

	if item.index == 0 {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		nextRun, ok := dm.nextRun()
		if !ok {
			// No items, wait for a wakeup.
			nextRun = 1000 * time.Hour
		}
		timer.Reset(nextRun)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.postExpired()
		case <-dm.wakeup:
			// New earliest item, recalculate.
			timer.Stop()
		}
	}
}

// nextRun returns how long to wait for the earliest item, and false when
// there is none.
func (dm *DelayManager) nextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	item := dm.pq.peek()
	if item == nil {
		return 0, false
	}
	return max(time.Until(item.runAt), 0), true
}

// postExpired posts every due item in due order, outside the lock.
func (dm *DelayManager) postExpired() {
	dm.mu.Lock()
	now := time.Now()
	var expired []*delayedItem
	for dm.pq.Len() > 0 {
		item := dm.pq.peek()
		if item.runAt.After(now) {
			break
		}
		heap.Pop(&dm.pq)
		expired = append(expired, item)
	}
	dm.mu.Unlock()

	for _, item := range expired {
		if err := dm.target.Post(item.fn); err != nil {
			dm.logger.Warn("dropping delayed work", F("error", err))
		}
	}
}

// Stop drops everything not yet due and stops the timer goroutine.
func (dm *DelayManager) Stop() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.cancel()
	dropped := len(dm.pq)
	dm.pq = make(delayedHeap, 0)
	return dropped
}

// TaskCount returns the number of items not yet due.
func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
