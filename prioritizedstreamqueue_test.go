package moqtransport

import (
	"testing"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/stretchr/testify/assert"
)

func TestPrioritizedStreamQueuePopsHighestOrderFirst(t *testing.T) {
	q := NewPrioritizedStreamQueue()
	q.Enqueue(1, sendOrder(30))
	q.Enqueue(2, sendOrder(10))
	q.Enqueue(3, sendOrder(20))

	var order []uint64
	for {
		id, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []uint64{1, 3, 2}, order)
}

func TestPrioritizedStreamQueueBreaksTiesFIFO(t *testing.T) {
	q := NewPrioritizedStreamQueue()
	q.Enqueue(1, sendOrder(5))
	q.Enqueue(2, sendOrder(5))
	q.Enqueue(3, sendOrder(5))

	id, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), id)

	id, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	id, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(3), id)
}

func TestPrioritizedStreamQueueReprioritizeMovesEntry(t *testing.T) {
	q := NewPrioritizedStreamQueue()
	q.Enqueue(1, sendOrder(30))
	q.Enqueue(2, sendOrder(20))

	// re-enqueue 1 at a lower order than 2; it should now pop last.
	q.Enqueue(1, sendOrder(5))

	id, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	id, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint64(1), id)

	assert.Equal(t, 0, q.Len())

	_, ok = q.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestPrioritizedStreamQueueRemove(t *testing.T) {
	q := NewPrioritizedStreamQueue()
	q.Enqueue(1, sendOrder(10))
	q.Enqueue(2, sendOrder(20))

	q.Remove(1)
	assert.False(t, q.Contains(1))
	assert.True(t, q.Contains(2))
	assert.Equal(t, 1, q.Len())

	id, ok := q.Peek()
	assert.True(t, ok)
	assert.Equal(t, uint64(2), id)

	// Remove is a no-op for an unknown subscription ID.
	q.Remove(999)
	assert.Equal(t, 1, q.Len())
}

func TestPrioritizedStreamQueueEmpty(t *testing.T) {
	q := NewPrioritizedStreamQueue()
	_, ok := q.Pop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestSendOrderForStreamOrdersBySubscriberThenPublisherPriority(t *testing.T) {
	// Numerically smaller priority values are more urgent and must produce
	// a larger composite sendOrder, since the queue schedules the largest
	// sendOrder first.
	moreUrgentSubscriber := SendOrderForStream(10, 128, 0, 0, wire.GroupOrderAscending)
	lessUrgentSubscriber := SendOrderForStream(20, 128, 0, 0, wire.GroupOrderAscending)
	assert.Greater(t, uint64(moreUrgentSubscriber), uint64(lessUrgentSubscriber))

	moreUrgentPublisher := SendOrderForStream(128, 10, 0, 0, wire.GroupOrderAscending)
	lessUrgentPublisher := SendOrderForStream(128, 20, 0, 0, wire.GroupOrderAscending)
	assert.Greater(t, uint64(moreUrgentPublisher), uint64(lessUrgentPublisher))
}

func TestSendOrderForStreamGroupOrderDirection(t *testing.T) {
	// Ascending order delivers the lower-numbered group first, so it must
	// carry the larger composite sendOrder.
	ascendingEarly := SendOrderForStream(128, 128, 1, 0, wire.GroupOrderAscending)
	ascendingLate := SendOrderForStream(128, 128, 5, 0, wire.GroupOrderAscending)
	assert.Greater(t, uint64(ascendingEarly), uint64(ascendingLate))

	// Descending order delivers the higher-numbered group first.
	descendingEarly := SendOrderForStream(128, 128, 1, 0, wire.GroupOrderDescending)
	descendingLate := SendOrderForStream(128, 128, 5, 0, wire.GroupOrderDescending)
	assert.Less(t, uint64(descendingEarly), uint64(descendingLate))
}

func TestApplySubscriberPriorityReplacesTopByte(t *testing.T) {
	o := SendOrderForStream(200, 128, 3, 0, wire.GroupOrderAscending)
	stripped := stripSubscriberPriority(o)
	assert.Equal(t, sendOrder(0), stripped>>56)

	reapplied := applySubscriberPriority(stripped, 50)
	assert.Equal(t, SendOrderForStream(50, 128, 3, 0, wire.GroupOrderAscending), reapplied)
}
