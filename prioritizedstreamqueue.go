package moqtransport

import (
	"container/heap"
	"sync"
)

// streamQueueEntry is a single candidate awaiting admission to an outgoing
// unidirectional stream slot, ordered by sendOrder.
type streamQueueEntry struct {
	order          sendOrder
	subscriptionID uint64
	seq            uint64 // admission sequence, breaks ties FIFO
	index          int
}

// prioritizedStreamQueueHeap is a max-heap ordered by (order, seq): the
// highest sendOrder, and within equal sendOrder the earliest-enqueued entry,
// is scheduled first, matching the ordered set's "max element is head"
// invariant.
type prioritizedStreamQueueHeap []*streamQueueEntry

func (h prioritizedStreamQueueHeap) Len() int { return len(h) }

func (h prioritizedStreamQueueHeap) Less(i, j int) bool {
	if h[i].order != h[j].order {
		return h[i].order > h[j].order
	}
	return h[i].seq < h[j].seq
}

func (h prioritizedStreamQueueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *prioritizedStreamQueueHeap) Push(x any) {
	e := x.(*streamQueueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *prioritizedStreamQueueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

// PrioritizedStreamQueue is the session-wide ordered set of
// (send_order, subscription_id) candidates waiting for an outgoing
// unidirectional stream slot (spec.md §2/§4.3), realized with
// container/heap the way gomoqt's trackPriorityHeap.go orders subscribers
// by TrackPriority. Its methods lock internally since, unlike most of this
// module's state, it is reached both from the session's actor goroutine
// (on subscribe/unsubscribe) and directly from whatever goroutine a
// publishing application delivers objects on (on stream admission).
type PrioritizedStreamQueue struct {
	mu      sync.Mutex
	h       prioritizedStreamQueueHeap
	bySubID map[uint64]*streamQueueEntry
	nextSeq uint64
}

func NewPrioritizedStreamQueue() *PrioritizedStreamQueue {
	return &PrioritizedStreamQueue{
		bySubID: make(map[uint64]*streamQueueEntry),
	}
}

// Enqueue registers subscriptionID as a candidate at order, or re-prioritizes
// it in place if already queued.
func (q *PrioritizedStreamQueue) Enqueue(subscriptionID uint64, order sendOrder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.bySubID[subscriptionID]; ok {
		e.order = order
		heap.Fix(&q.h, e.index)
		return
	}
	e := &streamQueueEntry{order: order, subscriptionID: subscriptionID, seq: q.nextSeq}
	q.nextSeq++
	q.bySubID[subscriptionID] = e
	heap.Push(&q.h, e)
}

// Remove drops subscriptionID from the queue, if present.
func (q *PrioritizedStreamQueue) Remove(subscriptionID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.bySubID[subscriptionID]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.bySubID, subscriptionID)
}

// Len reports the number of candidates currently queued.
func (q *PrioritizedStreamQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Pop removes and returns the candidate with the largest sendOrder. ok is
// false if the queue is empty.
func (q *PrioritizedStreamQueue) Pop() (subscriptionID uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	e := heap.Pop(&q.h).(*streamQueueEntry)
	delete(q.bySubID, e.subscriptionID)
	return e.subscriptionID, true
}

// Peek returns the candidate with the largest sendOrder without removing it.
func (q *PrioritizedStreamQueue) Peek() (subscriptionID uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].subscriptionID, true
}

// Contains reports whether subscriptionID currently has an entry queued.
func (q *PrioritizedStreamQueue) Contains(subscriptionID uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.bySubID[subscriptionID]
	return ok
}
