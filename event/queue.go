package event

import (
	"container/heap"
	"sync"
)

// queueItem pairs an event with its insertion sequence so that equal
// priorities dequeue in FIFO order.
type queueItem struct {
	event *Event
	seq   uint64
}

// eventHeap orders items by (priority, seq).
type eventHeap []queueItem

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority < h[j].event.Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// priorityQueue is an unbounded priority queue of events, safe for
// concurrent use. A buffered notify channel wakes the consumer without
// blocking producers.
type priorityQueue struct {
	mu     sync.Mutex
	items  eventHeap
	seq    uint64
	notify chan struct{}
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{
		notify: make(chan struct{}, 1),
	}
}

// push inserts an event and signals the consumer.
func (q *priorityQueue) push(e *Event) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queueItem{event: e, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the highest-priority event, or nil if empty.
func (q *priorityQueue) pop() *Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(queueItem).event
}

// len returns the number of queued events.
func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wake returns the channel signaled on push.
func (q *priorityQueue) wake() <-chan struct{} {
	return q.notify
}
