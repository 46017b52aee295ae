package moqtransport

import (
	"log/slog"
	"sync"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/qlog"
)

// pendingOpen is a stream-admission request queued on a subscription after
// the transport refused to open a new outgoing stream; it records only the
// sequence the stream would start pulling from, since the pull model means
// no payload needs to be held onto while it waits (spec.md §4.3).
type pendingOpen struct {
	order sendOrder
	start FullSequence
}

// PublishedSubscription is the publisher-side handle for one accepted
// SUBSCRIBE: it owns the subscription's sendStreamMap, tracks the window
// it must still deliver, and is the unit registered in the session's
// PrioritizedStreamQueue. Generalizes the teacher's SendSubscription
// (send_subscription.go) from a single-stream-per-call API into an
// object-driven one fed by LocalTrack.PublishObject via ObjectListener.
type PublishedSubscription struct {
	logger *slog.Logger

	mu sync.Mutex

	requestID, trackAlias uint64
	fullTrack             FullTrackName
	window                subscribeWindow
	groupOrder            wire.GroupOrder
	subscriberPriority    uint8
	forward               bool

	conn    Connection
	track   PublishedTrack
	streams *sendStreamMap

	qlogger *qlog.Logger

	// admit is consulted before opening a new outgoing stream; it reports
	// whether the connection currently has room, queuing this subscription
	// by order otherwise. Set by the session after construction.
	admit func(order sendOrder) bool

	pending []pendingOpen

	largestSent    FullSequence
	hasLargestSent bool

	// notifyPublisherGone is called once when the track this subscription
	// watches ends, so the session can tear the subscription down; set by
	// the session after construction, mirroring admit.
	notifyPublisherGone func()

	unsubscribeListener  func()
	trackStatusCancel    func()
	groupAbandonedCancel func()
	done                 bool
}

func newPublishedSubscription(
	conn Connection,
	requestID, trackAlias uint64,
	name FullTrackName,
	window subscribeWindow,
	groupOrder wire.GroupOrder,
	subscriberPriority uint8,
	track PublishedTrack,
	qlogger *qlog.Logger,
) *PublishedSubscription {
	return &PublishedSubscription{
		logger:             defaultLogger.WithGroup("MOQ_PUBLISHED_SUBSCRIPTION").With("request_id", requestID),
		requestID:          requestID,
		trackAlias:         trackAlias,
		fullTrack:          name,
		window:             window,
		groupOrder:         groupOrder,
		subscriberPriority: subscriberPriority,
		forward:            true,
		conn:               conn,
		track:              track,
		streams:            newSendStreamMap(track.ForwardingPreference()),
		qlogger:            qlogger,
	}
}

// Window reports the subscription's current delivery window, so a caller
// applying a SUBSCRIBE_UPDATE can reject one that would move the start
// backward before calling UpdateWindow.
func (s *PublishedSubscription) Window() subscribeWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

func (s *PublishedSubscription) inWindow(seq FullSequence) bool {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	return w.contains(seq)
}

func (s *PublishedSubscription) recordSent(seq FullSequence) {
	s.mu.Lock()
	if !s.hasLargestSent || s.largestSent.Less(seq) {
		s.largestSent = seq
		s.hasLargestSent = true
	}
	s.mu.Unlock()
}

// LargestSent reports the largest sequence actually written to a stream so
// far, ok=false if nothing has been sent yet; SUBSCRIBE_DONE's final_id is
// derived from it (spec.md §4.8).
func (s *PublishedSubscription) LargestSent() (FullSequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.largestSent, s.hasLargestSent
}

// deliver is the ObjectListener registered with the track's PublishObject
// fan-out (spec.md §4.4's OnNewObjectAvailable); it is called synchronously
// on the publishing application's goroutine and must not block, matching
// spec.md §5's no-blocking-the-producer requirement. Under datagram
// forwarding it sends o directly as a datagram. Otherwise it never writes o
// itself: a live stream is told to pull via OnCanWrite, and a newly opened
// one starts its pull cursor at o's sequence, so every stream write goes
// through the track's cache.
func (s *PublishedSubscription) deliver(o PublishedObject) {
	s.mu.Lock()
	forward := s.forward
	done := s.done
	w := s.window
	s.mu.Unlock()
	if done || !forward || !w.contains(o.FullSequence) {
		return
	}

	if s.streams.forwardingPreference() == ForwardingPreferenceDatagram {
		s.sendDatagram(o)
		return
	}

	if stream, ok := s.streams.get(o.Group, o.Subgroup); ok {
		stream.OnCanWrite()
		return
	}

	order := SendOrderForStream(s.subscriberPriority, o.Priority, o.Group, o.Subgroup, s.groupOrder)
	if s.admit != nil && !s.admit(order) {
		s.mu.Lock()
		s.pending = append(s.pending, pendingOpen{order: order, start: o.FullSequence})
		s.mu.Unlock()
		return
	}
	s.openStream(o.FullSequence, order)
}

func (s *PublishedSubscription) openStream(start FullSequence, order sendOrder) {
	qs, err := s.conn.OpenOutgoingUnidirectionalStream()
	if err != nil {
		s.logger.Warn("failed to open outgoing data stream", "error", err)
		return
	}
	qs.SetPriority(int(order))
	stream := NewOutgoingDataStream(qs, s.requestID, s.trackAlias, start, s.track, s.inWindow, s.recordSent, s.qlogger)
	s.streams.put(start.Group, start.Subgroup, stream)
	stream.OnCanWrite()
}

func (s *PublishedSubscription) sendDatagram(o PublishedObject) {
	m := &wire.DatagramObjectMessage{
		SubscribeID:   s.requestID,
		TrackAlias:    s.trackAlias,
		GroupID:       o.Group,
		ObjectID:      o.Object,
		Priority:      o.Priority,
		ObjectStatus:  wire.ObjectStatus(o.Status),
		ObjectPayload: o.Payload,
	}
	if err := s.conn.SendOrQueueDatagram(m.Append(make([]byte, 0, 32+len(o.Payload)))); err != nil {
		s.logger.Warn("failed to send datagram object", "error", err, "sequence", o.FullSequence)
		return
	}
	s.recordSent(o.FullSequence)
}

// openNextQueued opens a stream for this subscription's highest-order
// pending admission request, the way the session's drain loop resumes a
// subscription whose stream-open was previously refused (spec.md §4.3). It
// reports whether more requests remain queued afterward.
func (s *PublishedSubscription) openNextQueued() bool {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return false
	}
	best := 0
	for i := 1; i < len(s.pending); i++ {
		if s.pending[i].order > s.pending[best].order {
			best = i
		}
	}
	p := s.pending[best]
	s.pending = append(s.pending[:best], s.pending[best+1:]...)
	more := len(s.pending) > 0
	s.mu.Unlock()

	s.openStream(p.start, p.order)
	return more
}

// peekPendingOrder reports the send-order this subscription would
// re-enqueue at if it still had queued admission requests.
func (s *PublishedSubscription) peekPendingOrder() (sendOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return 0, false
	}
	best := s.pending[0].order
	for _, p := range s.pending[1:] {
		if p.order > best {
			best = p.order
		}
	}
	return best, true
}

// SetSubscriberPriority changes the priority used to derive this
// subscription's send-order, re-deriving the order of every currently
// queued admission request in place (spec.md §4.3's "changing
// subscriber_priority on a non-empty queue" case) instead of waiting for
// the next delivery to recompute it, grounded on the teacher's
// PublishedSubscription::set_subscriber_priority.
func (s *PublishedSubscription) SetSubscriberPriority(priority uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priority == s.subscriberPriority {
		return
	}
	s.subscriberPriority = priority
	for i := range s.pending {
		s.pending[i].order = applySubscriberPriority(s.pending[i].order, priority)
	}
}

// AbandonGroup resets every open stream carrying group with TimedOut and
// drops any queued admission request for it, for a publisher that will
// never finish producing that group (spec.md §4.4's OnGroupAbandoned).
func (s *PublishedSubscription) AbandonGroup(group uint64) {
	removed := s.streams.removeGroup(group)

	s.mu.Lock()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.start.Group != group {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	s.mu.Unlock()

	for _, st := range removed {
		st.Reset(StreamResetCodeTimedOut)
	}
}

// OnTrackPublisherGone tears the subscription down when the track it
// watches has ended (spec.md §4.4's OnTrackPublisherGone).
func (s *PublishedSubscription) OnTrackPublisherGone() {
	if s.notifyPublisherGone != nil {
		s.notifyPublisherGone()
	}
}

// SetForward toggles delivery without tearing down the subscription,
// mirroring a SUBSCRIBE_UPDATE with forward=false.
func (s *PublishedSubscription) SetForward(forward bool) {
	s.mu.Lock()
	s.forward = forward
	s.mu.Unlock()
}

// UpdateWindow narrows the delivery window; callers are responsible for
// rejecting windows that would move the start backward (spec.md §4.1).
func (s *PublishedSubscription) UpdateWindow(w subscribeWindow) {
	s.mu.Lock()
	s.window = w
	s.mu.Unlock()
}

// Terminate closes every open stream belonging to the subscription with
// SubscriptionGone and marks it done; SubscribeIsDone is idempotent per
// spec.md §4.8/§7.
func (s *PublishedSubscription) Terminate() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	unsub := s.unsubscribeListener
	statusCancel := s.trackStatusCancel
	groupCancel := s.groupAbandonedCancel
	s.mu.Unlock()

	for _, st := range s.streams.all() {
		st.Reset(StreamResetCodeSubscriptionGone)
	}
	if unsub != nil {
		unsub()
	}
	if statusCancel != nil {
		statusCancel()
	}
	if groupCancel != nil {
		groupCancel()
	}
}

func (s *PublishedSubscription) SubscribeIsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
