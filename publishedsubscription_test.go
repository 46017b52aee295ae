package moqtransport

import (
	"testing"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublishedSubscription(t *testing.T, track PublishedTrack) (*PublishedSubscription, *fakeConn) {
	t.Helper()
	conn := newFakeConn(PerspectiveServer)
	sub := newPublishedSubscription(conn, 1, 10, FullTrackName{TrackName: "t"}, newOpenEndedWindow(FullSequence{}), wire.GroupOrderAscending, 128, track, nil)
	return sub, conn
}

// TestPublishedSubscriptionSetSubscriberPriorityReordersPending exercises
// the O(1) re-sort scheme that SetSubscriberPriority applies to every
// queued admission request, instead of waiting for the next delivery to
// recompute it.
func TestPublishedSubscriptionSetSubscriberPriorityReordersPending(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, _ := newTestPublishedSubscription(t, track)

	lowOrder := SendOrderForStream(128, 128, 0, 0, wire.GroupOrderAscending)
	sub.pending = []pendingOpen{
		{order: lowOrder, start: FullSequence{Group: 0, Object: 0}},
	}

	sub.SetSubscriberPriority(10)

	want := applySubscriberPriority(lowOrder, 10)
	require.Len(t, sub.pending, 1)
	assert.Equal(t, want, sub.pending[0].order)
}

func TestPublishedSubscriptionSetSubscriberPrioritySameValueNoops(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, _ := newTestPublishedSubscription(t, track)

	order := SendOrderForStream(200, 128, 0, 0, wire.GroupOrderAscending)
	sub.pending = []pendingOpen{{order: order, start: FullSequence{}}}

	sub.SetSubscriberPriority(sub.subscriberPriority)
	assert.Equal(t, order, sub.pending[0].order)
}

// TestPublishedSubscriptionAbandonGroupDropsPendingForGroup checks that a
// queued admission request for an abandoned group is dropped along with
// any open stream carrying it.
func TestPublishedSubscriptionAbandonGroupDropsPendingForGroup(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, _ := newTestPublishedSubscription(t, track)

	sub.pending = []pendingOpen{
		{order: 1, start: FullSequence{Group: 3, Object: 0}},
		{order: 2, start: FullSequence{Group: 4, Object: 0}},
	}

	sub.AbandonGroup(3)

	require.Len(t, sub.pending, 1)
	assert.Equal(t, uint64(4), sub.pending[0].start.Group)
}

// TestPublishedSubscriptionOnTrackPublisherGoneInvokesCallback confirms the
// thin wrapper actually reaches the session-supplied callback, the way
// handleSubscribe wires it to track.OnStatusChange.
func TestPublishedSubscriptionOnTrackPublisherGoneInvokesCallback(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, _ := newTestPublishedSubscription(t, track)

	var called bool
	sub.notifyPublisherGone = func() { called = true }

	sub.OnTrackPublisherGone()
	assert.True(t, called)
}

func TestPublishedSubscriptionOnTrackPublisherGoneNilCallbackIsNoop(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, _ := newTestPublishedSubscription(t, track)

	assert.NotPanics(t, func() { sub.OnTrackPublisherGone() })
}

func TestPublishedSubscriptionTerminateUsesSubscriptionGoneCode(t *testing.T) {
	track := newLocalTrack(FullTrackName{TrackName: "t"}, ForwardingPreferenceSubgroup, 128)
	sub, conn := newTestPublishedSubscription(t, track)

	qs, err := conn.OpenOutgoingUnidirectionalStream()
	require.NoError(t, err)
	stream := NewOutgoingDataStream(qs, sub.requestID, sub.trackAlias, FullSequence{}, track, sub.inWindow, sub.recordSent, nil)
	sub.streams.put(0, 0, stream)

	sub.Terminate()

	assert.True(t, sub.SubscribeIsDone())
	fs := qs.(*fakeStream)
	fs.mu.Lock()
	resetCode := fs.resetCode
	fs.mu.Unlock()
	require.NotNil(t, resetCode)
	assert.Equal(t, uint64(StreamResetCodeSubscriptionGone), *resetCode)
	// Terminate must not reuse a SUBSCRIBE_DONE status code for the
	// stream reset: the two code spaces are distinct (spec.md §6).
	assert.NotEqual(t, ErrorCodeSubscribeDoneSubscriptionEnded, StreamResetCodeSubscriptionGone)
}
