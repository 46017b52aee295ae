package moqtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/qlog"
)

// Session is the per-connection facade spec.md §4.1 describes: it owns the
// control stream, the prioritized stream queue, every subscription and
// fetch index, and drives them all from a single actor goroutine so that
// no two operations ever touch session state concurrently (SPEC_FULL.md
// §5). Generalizes the teacher's old session.go field vocabulary
// (Subscribe/Fetch/Announce, subscription maps) onto that model.
type Session struct {
	logger  *slog.Logger
	qlogger *qlog.Logger

	conn   Connection
	config *SessionConfig

	ctrl *controlStream

	actions chan func()
	closed  chan struct{}

	// closeOnce makes Close idempotent: concurrent or repeated calls (two
	// Error/Close calls must produce exactly one session-close, spec.md
	// §3/§7/§8) all block on the same teardown and observe the same result.
	closeOnce sync.Once
	closeErr  error

	requestIDSeq  atomic.Uint64
	trackAliasSeq atomic.Uint64

	// peerRole is learned from the peer's setup parameters; it gates which
	// direction of SUBSCRIBE is legal (spec.md §4.1).
	peerRole Role

	// localMaxSubscribeID/nextIncomingSubscribeID bound and track the
	// window of subscribe IDs this side accepts from the peer;
	// peerMaxSubscribeID is the mirror the peer has granted us.
	localMaxSubscribeID     uint64
	nextIncomingSubscribeID uint64
	peerMaxSubscribeID      uint64

	// outgoing subscribes this side issued
	subscribeByRequestID map[uint64]*SubscribeRemoteTrack
	subscribeByAlias     map[uint64]*SubscribeRemoteTrack
	subscribeByName      map[string]*SubscribeRemoteTrack

	// subscribes the peer issued against tracks we publish
	publishedSubscriptions map[uint64]*PublishedSubscription

	// outgoing fetches this side issued
	fetchByRequestID       map[uint64]*FetchRemoteTrack
	pendingFetchResponses  map[uint64]chan error

	// fetches the peer issued against tracks we publish
	publishedFetches map[uint64]*PublishedFetch

	streamQueue *PrioritizedStreamQueue
	announces   *announceTracker

	negotiatedVersion wire.Version
}

// NewSession constructs a Session over conn and begins the setup
// handshake; opts follow the functional-options pattern of the teacher's
// TransportOption.
func NewSession(conn Connection, opts ...SessionOption) (*Session, error) {
	cfg := defaultSessionConfig(conn.Perspective())
	for _, o := range opts {
		o(cfg)
	}

	s := &Session{
		logger:                  cfg.logger.WithGroup("MOQ_SESSION"),
		qlogger:                 cfg.qlogger,
		conn:                    conn,
		config:                  cfg,
		actions:                 make(chan func(), 64),
		closed:                  make(chan struct{}),
		peerRole:               RolePubSub,
		localMaxSubscribeID:    cfg.localMaxRequestID,
		subscribeByRequestID:   make(map[uint64]*SubscribeRemoteTrack),
		subscribeByAlias:       make(map[uint64]*SubscribeRemoteTrack),
		subscribeByName:        make(map[string]*SubscribeRemoteTrack),
		publishedSubscriptions: make(map[uint64]*PublishedSubscription),
		fetchByRequestID:       make(map[uint64]*FetchRemoteTrack),
		pendingFetchResponses:  make(map[uint64]chan error),
		publishedFetches:       make(map[uint64]*PublishedFetch),
		streamQueue:            NewPrioritizedStreamQueue(),
		announces:              newAnnounceTracker(),
	}

	bidi, err := s.openOrAcceptControlStream()
	if err != nil {
		return nil, err
	}
	s.ctrl = newControlStream(bidi, s.dispatchControlMessage, s.onControlStreamState)
	conn.SetOnOutgoingUnidirectionalStreamAvailable(func() { s.do(s.drainStreamQueue) })

	go s.run()
	go s.acceptUniStreams()
	go s.readDatagrams()

	if cfg.perspective == PerspectiveClient {
		s.sendClientSetup()
	}

	return s, nil
}

func (s *Session) openOrAcceptControlStream() (Stream, error) {
	if s.config.perspective == PerspectiveClient {
		return s.conn.OpenOutgoingBidirectionalStream()
	}
	return s.conn.AcceptIncomingBidiStream(s.conn.Context())
}

// run is the session's single actor goroutine; every other goroutine
// mutates session state exclusively by sending a closure here.
func (s *Session) run() {
	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.actions:
			fn()
		}
	}
}

// do schedules fn on the run goroutine and blocks until it has executed.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.actions <- func() { fn(); close(done) }:
		<-done
	case <-s.closed:
	}
}

func (s *Session) nextRequestID() uint64 {
	return s.requestIDSeq.Add(1) - 1
}

func (s *Session) nextTrackAlias() uint64 {
	return s.trackAliasSeq.Add(1) - 1
}

func (s *Session) sendClientSetup() {
	versions := s.config.supportedVersions
	m := &wire.ClientSetupMessage{SupportedVersions: versions}
	m.Parameters = append(m.Parameters,
		wire.KeyValuePair{Type: wire.RoleParameterKey, ValueVarInt: uint64(s.config.role)},
		wire.KeyValuePair{Type: wire.MaxRequestIDParameterKey, ValueVarInt: s.localMaxSubscribeID},
	)
	if s.config.path != "" {
		m.Parameters = append(m.Parameters, wire.KeyValuePair{Type: wire.PathParameterKey, ValueBytes: []byte(s.config.path)})
	}
	s.ctrl.enqueue(m)
}

// readSetupParameters extracts the peer's advertised role and max subscribe
// ID from a CLIENT_SETUP/SERVER_SETUP parameter list (spec.md §4.1's
// handshake). Both parameters are optional on the wire; a missing role
// defaults to RolePubSub, a missing max subscribe ID leaves the peer unable
// to receive any SUBSCRIBE until MAX_SUBSCRIBE_ID arrives.
func readSetupParameters(pp wire.KVPList) (role Role, maxSubscribeID uint64) {
	role = RolePubSub
	if p, ok := pp.Get(wire.RoleParameterKey); ok {
		role = Role(p.ValueVarInt)
	}
	if p, ok := pp.Get(wire.MaxRequestIDParameterKey); ok {
		maxSubscribeID = p.ValueVarInt
	}
	return role, maxSubscribeID
}

// dispatchControlMessage routes a parsed control message onto the run
// goroutine, matching it against the ControlStream state machine's legal
// transitions (spec.md §4.2), and returns any session-fatal error. Every
// error a handler returns here — version mismatch, a non-monotonic or
// duplicate subscribe ID, a MAX_SUBSCRIBE_ID regression, a setup message
// sent in the wrong direction, a reference to an unknown request ID, and so
// on — is session-fatal per spec.md §7, so it closes the session with the
// error's code rather than leaving it to merely be returned and logged.
func (s *Session) dispatchControlMessage(msg wire.ControlMessage) error {
	var outErr error
	s.do(func() {
		outErr = s.handleControlMessage(msg)
	})
	if outErr != nil {
		s.closeOnControlError(outErr)
	}
	return outErr
}

// closeOnControlError closes the session using a ProtocolError's wire code
// and message when present, falling back to a generic internal error for
// anything else (spec.md §7).
func (s *Session) closeOnControlError(err error) {
	code, reason := ErrorCodeInternal, err.Error()
	var pe ProtocolError
	if errors.As(err, &pe) {
		code, reason = pe.Code(), pe.Error()
	}
	s.Close(code, reason)
}

// onControlStreamState closes the session once the control stream reports
// itself terminated — whether because the peer closed it, a parse error
// made it unusable, or a handler error already routed through
// closeOnControlError above. Close is idempotent, so whichever path gets
// there first wins and this is a no-op otherwise.
func (s *Session) onControlStreamState(st controlStreamState) {
	if st != controlStreamTerminated {
		return
	}
	s.Close(ErrorCodeNoError, "control stream terminated")
}

func (s *Session) handleControlMessage(msg wire.ControlMessage) error {
	switch m := msg.(type) {
	case *wire.ClientSetupMessage:
		return s.handleClientSetup(m)
	case *wire.ServerSetupMessage:
		return s.handleServerSetup(m)
	case *wire.GoAwayMessage:
		s.logger.Info("received GOAWAY", "new_session_uri", m.NewSessionURI)
		return nil
	case *wire.SubscribeMessage:
		return s.handleSubscribe(m)
	case *wire.SubscribeOkMessage:
		return s.handleSubscribeOk(m)
	case *wire.SubscribeErrorMessage:
		return s.handleSubscribeError(m)
	case *wire.SubscribeDoneMessage:
		return s.handleSubscribeDone(m)
	case *wire.UnsubscribeMessage:
		return s.handleUnsubscribe(m)
	case *wire.SubscribeUpdateMessage:
		return s.handleSubscribeUpdate(m)
	case *wire.MaxRequestIDMessage:
		return s.handleMaxSubscribeID(m)
	case *wire.FetchMessage:
		return s.handleFetch(m)
	case *wire.FetchOkMessage:
		return s.handleFetchOk(m)
	case *wire.FetchErrorMessage:
		return s.handleFetchError(m)
	case *wire.FetchCancelMessage:
		return s.handleFetchCancel(m)
	case *wire.AnnounceMessage:
		return s.handleAnnounce(m)
	case *wire.AnnounceOkMessage:
		s.announces.resolve(m.TrackNamespace, nil)
		return nil
	case *wire.AnnounceErrorMessage:
		s.announces.resolve(m.TrackNamespace, ProtocolError{code: m.ErrorCode, message: m.ReasonPhrase})
		return nil
	case *wire.UnannounceMessage:
		s.announces.withdraw(m.TrackNamespace)
		return nil
	default:
		s.logger.Warn("ignoring unhandled control message", "type", fmt.Sprintf("%T", m))
		return nil
	}
}

func (s *Session) handleClientSetup(m *wire.ClientSetupMessage) error {
	if s.config.perspective != PerspectiveServer {
		return errUnexpectedMessage
	}
	v, ok := negotiateVersion(m.SupportedVersions, s.config.supportedVersions)
	if !ok {
		return errUnsupportedVersion
	}
	s.negotiatedVersion = v
	s.peerRole, s.peerMaxSubscribeID = readSetupParameters(m.Parameters)
	s.ctrl.enqueue(&wire.ServerSetupMessage{
		SelectedVersion: v,
		Parameters: wire.KVPList{
			{Type: wire.RoleParameterKey, ValueVarInt: uint64(s.config.role)},
			{Type: wire.MaxRequestIDParameterKey, ValueVarInt: s.localMaxSubscribeID},
		},
	})
	s.config.callbacks.sessionEstablished()
	return nil
}

func (s *Session) handleServerSetup(m *wire.ServerSetupMessage) error {
	if s.config.perspective != PerspectiveClient {
		return errUnexpectedMessage
	}
	s.negotiatedVersion = m.SelectedVersion
	s.peerRole, s.peerMaxSubscribeID = readSetupParameters(m.Parameters)
	s.config.callbacks.sessionEstablished()
	return nil
}

func negotiateVersion(offered, supported []wire.Version) (wire.Version, bool) {
	for _, o := range offered {
		for _, v := range supported {
			if o == v {
				return v, true
			}
		}
	}
	return 0, false
}

var errUnexpectedMessage = ProtocolError{code: ErrorCodeProtocolViolation, message: "unexpected message for this session's role or state"}

// subscribe sends a SUBSCRIBE for name with the given filter and returns the
// new handle immediately; it does not wait for SUBSCRIBE_OK, since
// spec.md §4.1 describes every check Subscribe* performs as local and
// synchronous. It reports ok=false, sending nothing, if the peer's role
// forbids subscribing to it, if name already has a live subscription, or
// if the next request ID would exceed the window the peer has granted.
func (s *Session) subscribe(name FullTrackName, filter wire.FilterType, start wire.Location, endGroup uint64) (*SubscribeRemoteTrack, bool) {
	if s.peerRole == RoleSubscriber {
		return nil, false
	}
	var track *SubscribeRemoteTrack
	ok := true
	s.do(func() {
		if _, exists := s.subscribeByName[name.key()]; exists {
			ok = false
			return
		}
		if s.requestIDSeq.Load() >= s.peerMaxSubscribeID {
			ok = false
			return
		}
		requestID := s.nextRequestID()
		alias := s.nextTrackAlias()
		track = newSubscribeRemoteTrack(requestID, alias, name, s)
		msg := &wire.SubscribeMessage{
			RequestID:          requestID,
			TrackAlias:         alias,
			TrackNamespace:     name.TrackNamespace,
			TrackName:          name.TrackName,
			SubscriberPriority: defaultSubscriberPriority,
			GroupOrder:         wire.GroupOrderAscending,
			Forward:            true,
			FilterType:         filter,
			StartLocation:      start,
			EndGroup:           endGroup,
		}
		track.lastSubscribe = msg
		s.subscribeByRequestID[requestID] = track
		s.subscribeByAlias[alias] = track
		s.subscribeByName[name.key()] = track
		s.ctrl.enqueue(msg)
	})
	if !ok {
		return nil, false
	}
	return track, true
}

// SubscribeCurrentObject subscribes to name starting at whatever object the
// publisher currently considers latest (wire.FilterLatestObject).
func (s *Session) SubscribeCurrentObject(name FullTrackName) (*SubscribeRemoteTrack, bool) {
	return s.subscribe(name, wire.FilterLatestObject, wire.Location{}, 0)
}

// SubscribeCurrentGroup subscribes to name starting at the first object of
// the publisher's next group (wire.FilterNextGroupStart).
func (s *Session) SubscribeCurrentGroup(name FullTrackName) (*SubscribeRemoteTrack, bool) {
	return s.subscribe(name, wire.FilterNextGroupStart, wire.Location{}, 0)
}

// SubscribeAbsolute subscribes to every object of name from
// (startGroup, startObject) onward, open-ended.
func (s *Session) SubscribeAbsolute(name FullTrackName, startGroup, startObject uint64) (*SubscribeRemoteTrack, bool) {
	return s.subscribe(name, wire.FilterAbsoluteStart, wire.Location{Group: startGroup, Object: startObject}, 0)
}

// SubscribeAbsoluteEndGroup subscribes to name from (startGroup, startObject)
// through the end of endGroup inclusive. Returns ok=false without sending
// anything if endGroup precedes startGroup.
func (s *Session) SubscribeAbsoluteEndGroup(name FullTrackName, startGroup, startObject, endGroup uint64) (*SubscribeRemoteTrack, bool) {
	if endGroup < startGroup {
		return nil, false
	}
	return s.subscribe(name, wire.FilterAbsoluteRange, wire.Location{Group: startGroup, Object: startObject}, endGroup)
}

// SubscribeAbsoluteEndObject subscribes to name from (startGroup, startObject)
// through (endGroup, endObject) inclusive. The wire SUBSCRIBE message can
// only express an end-group bound, so endObject is checked here only to
// reject an end that precedes the start; it is not encoded on the wire.
func (s *Session) SubscribeAbsoluteEndObject(name FullTrackName, startGroup, startObject, endGroup, endObject uint64) (*SubscribeRemoteTrack, bool) {
	if endGroup < startGroup || (endGroup == startGroup && endObject < startObject) {
		return nil, false
	}
	return s.subscribe(name, wire.FilterAbsoluteRange, wire.Location{Group: startGroup, Object: startObject}, endGroup)
}

// Unsubscribe sends UNSUBSCRIBE for the subscription currently open under
// name, if any.
func (s *Session) Unsubscribe(name FullTrackName) {
	var track *SubscribeRemoteTrack
	s.do(func() {
		track = s.subscribeByName[name.key()]
	})
	if track != nil {
		track.Close()
	}
}

// GrantMoreSubscribes raises the window of subscribe IDs the peer may use
// by n and announces it with MAX_SUBSCRIBE_ID (spec.md §4.1).
func (s *Session) GrantMoreSubscribes(n uint64) {
	s.do(func() {
		s.localMaxSubscribeID += n
		s.ctrl.enqueue(&wire.MaxRequestIDMessage{RequestID: s.localMaxSubscribeID})
	})
}

// validateSubscribeID enforces the subscribe-ID window and monotonicity
// rules a received SUBSCRIBE's request ID must satisfy before the
// subscription is accepted (spec.md §4.1): the peer must not be
// publisher-only, the ID must still be within the window this side has
// granted, and it must be larger than every ID accepted before it. On
// success it advances next_incoming_subscribe_id past id.
func (s *Session) validateSubscribeID(id uint64) error {
	if s.peerRole == RolePublisher {
		return errUnexpectedMessage
	}
	if id >= s.localMaxSubscribeID {
		return errTooManySubscribes
	}
	if id < s.nextIncomingSubscribeID {
		return errDuplicateRequestID
	}
	s.nextIncomingSubscribeID = id + 1
	return nil
}

// handleMaxSubscribeID applies a peer-advertised raise of the window of
// subscribe IDs this side may use to issue outgoing SUBSCRIBEs. The peer
// must not be subscriber-only, and the new value must not regress a
// previously advertised one (spec.md §4.1).
func (s *Session) handleMaxSubscribeID(m *wire.MaxRequestIDMessage) error {
	if s.peerRole == RoleSubscriber {
		return errUnexpectedMessage
	}
	if m.RequestID < s.peerMaxSubscribeID {
		return errMaxRequestIDDecreased
	}
	s.peerMaxSubscribeID = m.RequestID
	return nil
}

func (s *Session) handleSubscribe(m *wire.SubscribeMessage) error {
	if err := s.validateSubscribeID(m.RequestID); err != nil {
		return err
	}
	name := FullTrackName{TrackNamespace: m.TrackNamespace, TrackName: m.TrackName}
	track, ok := s.config.registry.GetTrack(name)
	if !ok {
		s.ctrl.enqueue(&wire.SubscribeErrorMessage{
			RequestID:    m.RequestID,
			ErrorCode:    ErrorCodeSubscribeTrackDoesNotExist,
			ReasonPhrase: "no such track",
			TrackAlias:   m.TrackAlias,
		})
		return nil
	}

	largest, hasObjects := track.LargestLocation()
	window, err := resolveSubscribeWindow(m, largest, hasObjects)
	if err != nil {
		var pe ProtocolError
		if errors.As(err, &pe) {
			s.ctrl.enqueue(&wire.SubscribeErrorMessage{RequestID: m.RequestID, ErrorCode: pe.Code(), ReasonPhrase: pe.Error(), TrackAlias: m.TrackAlias})
			return nil
		}
		return err
	}

	sub := newPublishedSubscription(s.conn, m.RequestID, m.TrackAlias, name, window, m.GroupOrder, m.SubscriberPriority, track, s.qlogger)
	sub.admit = func(order sendOrder) bool { return s.admitStreamOpen(m.RequestID, order) }
	backlog, cancel := track.Subscribe(window.start, sub.deliver)
	sub.unsubscribeListener = cancel
	sub.notifyPublisherGone = func() {
		s.do(func() { s.subscribeIsDone(m.RequestID, ErrorCodeSubscribeDoneGoingAway, "Publisher is gone") })
	}
	sub.trackStatusCancel = track.OnStatusChange(func(uint64, string) { sub.OnTrackPublisherGone() })
	sub.groupAbandonedCancel = track.OnGroupAbandoned(sub.AbandonGroup)
	s.publishedSubscriptions[m.RequestID] = sub

	for _, o := range backlog {
		sub.deliver(o)
	}

	ok2 := &wire.SubscribeOkMessage{RequestID: m.RequestID, GroupOrder: m.GroupOrder}
	if hasObjects {
		ok2.ContentExists = true
		ok2.LargestLocation = wire.Location{Group: largest.Group, Object: largest.Object}
	}
	s.ctrl.enqueue(ok2)
	return nil
}

func (s *Session) handleSubscribeOk(m *wire.SubscribeOkMessage) error {
	if _, ok := s.subscribeByRequestID[m.RequestID]; !ok {
		return errUnknownRequestID
	}
	return nil
}

// handleSubscribeError resolves a rejected outgoing SUBSCRIBE. A
// RetryTrackAlias rejection is not a terminal failure: the peer is telling
// this side which track alias to use, so the same SUBSCRIBE is re-issued
// with a new request ID and that alias instead (spec.md §4.1's Retry alias
// scenario). Any other error code marks the track done and drops its
// state.
func (s *Session) handleSubscribeError(m *wire.SubscribeErrorMessage) error {
	track, ok := s.subscribeByRequestID[m.RequestID]
	if !ok {
		return errUnknownRequestID
	}
	delete(s.subscribeByRequestID, m.RequestID)
	delete(s.subscribeByAlias, track.trackAlias)

	if m.ErrorCode == ErrorCodeSubscribeRetryTrackAlias {
		newID := s.nextRequestID()
		msg := track.lastSubscribe
		msg.RequestID = newID
		msg.TrackAlias = m.TrackAlias
		track.requestID = newID
		track.trackAlias = m.TrackAlias
		s.subscribeByRequestID[newID] = track
		s.subscribeByAlias[m.TrackAlias] = track
		s.subscribeByName[track.fullTrack.key()] = track
		s.ctrl.enqueue(msg)
		return nil
	}

	delete(s.subscribeByName, track.fullTrack.key())
	track.done(m.ErrorCode, m.ReasonPhrase)
	return nil
}

func (s *Session) handleSubscribeDone(m *wire.SubscribeDoneMessage) error {
	track, ok := s.subscribeByRequestID[m.RequestID]
	if !ok {
		return errUnknownRequestID
	}
	delete(s.subscribeByRequestID, m.RequestID)
	delete(s.subscribeByAlias, track.trackAlias)
	track.done(m.StatusCode, m.ReasonPhrase)
	return nil
}

// handleSubscribeUpdate applies a narrowed window, forward flag, and
// subscriber priority to an open published subscription (spec.md §4.2's
// dispatch table entry for SUBSCRIBE_UPDATE). A start that moves backward
// is a protocol violation, matching UpdateWindow's own documented
// precondition that callers reject that case themselves. The wire message
// carries EndGroup without a presence flag, so 0 is read the same way
// SubscribeMessage treats an absent upper bound: open-ended.
func (s *Session) handleSubscribeUpdate(m *wire.SubscribeUpdateMessage) error {
	sub, ok := s.publishedSubscriptions[m.RequestID]
	if !ok {
		return errUnknownRequestID
	}

	start := FullSequence{Group: m.StartLocation.Group, Object: m.StartLocation.Object}
	if start.Less(sub.Window().start) {
		return ProtocolError{code: ErrorCodeProtocolViolation, message: "subscribe update moved window start backward"}
	}
	end := FullSequence{Group: unboundedGroup}
	if m.EndGroup > 0 {
		end = FullSequence{Group: m.EndGroup, Object: unboundedGroup}
	}
	sub.UpdateWindow(subscribeWindow{start: start, end: end})
	sub.SetForward(m.Forward)
	sub.SetSubscriberPriority(m.SubscriberPriority)

	if order, ok := sub.peekPendingOrder(); ok && s.streamQueue.Contains(m.RequestID) {
		s.streamQueue.Enqueue(m.RequestID, order)
	}
	return nil
}

func (s *Session) handleUnsubscribe(m *wire.UnsubscribeMessage) error {
	s.subscribeIsDone(m.RequestID, ErrorCodeSubscribeDoneSubscriptionEnded, "")
	return nil
}

// subscribeIsDone tears down published subscription id and notifies the
// subscriber with SUBSCRIBE_DONE, its final_id set to the largest sequence
// actually written to a stream for it (spec.md §4.8). It is idempotent:
// once id has been removed from publishedSubscriptions, a later call
// reports false and sends nothing.
func (s *Session) subscribeIsDone(id uint64, code uint64, reason string) bool {
	sub, ok := s.publishedSubscriptions[id]
	if !ok {
		return false
	}
	delete(s.publishedSubscriptions, id)
	s.streamQueue.Remove(id)

	final, _ := sub.LargestSent()
	sub.Terminate()
	s.ctrl.enqueue(&wire.SubscribeDoneMessage{
		RequestID:    id,
		StatusCode:   code,
		ReasonPhrase: reason,
		FinalID:      wire.Location{Group: final.Group, Object: final.Object},
	})
	return true
}

// admitStreamOpen decides whether subscriptionID may open a new outgoing
// unidirectional stream right now. When the connection is already at its
// concurrent-stream limit the candidate is queued by order instead; it is
// resumed by drainStreamQueue once the connection reports room again
// (spec.md §4.3), rather than dropped. Called directly, not via do, since
// it may run on the session's own actor goroutine (subscribe backlog
// replay) as well as on a publishing application's goroutine, and a
// nested do() call from the former would deadlock against itself.
func (s *Session) admitStreamOpen(subscriptionID uint64, order sendOrder) bool {
	if s.conn.CanOpenNextOutgoingUnidirectionalStream() {
		s.streamQueue.Remove(subscriptionID)
		return true
	}
	s.streamQueue.Enqueue(subscriptionID, order)
	return false
}

// drainStreamQueue opens outgoing streams for subscriptions queued on
// streamQueue while the connection has room, highest send-order first; it
// runs whenever the connection reports a newly available outgoing
// unidirectional stream slot (spec.md §4.3's admission drain loop). A
// queue entry whose subscription no longer exists is simply dropped.
func (s *Session) drainStreamQueue() {
	for s.conn.CanOpenNextOutgoingUnidirectionalStream() {
		subID, ok := s.streamQueue.Pop()
		if !ok {
			return
		}
		sub, ok := s.publishedSubscriptions[subID]
		if !ok {
			continue
		}
		if sub.openNextQueued() {
			if order, ok := sub.peekPendingOrder(); ok {
				s.streamQueue.Enqueue(subID, order)
			}
		}
	}
}

// unsubscribe implements the unsubscriber interface RemoteTrack.Close uses.
func (s *Session) unsubscribe(requestID uint64) error {
	s.do(func() {
		if track, ok := s.subscribeByRequestID[requestID]; ok {
			delete(s.subscribeByRequestID, requestID)
			delete(s.subscribeByAlias, track.trackAlias)
			delete(s.subscribeByName, track.fullTrack.key())
		}
		s.ctrl.enqueue(&wire.UnsubscribeMessage{RequestID: requestID})
	})
	return nil
}

// Fetch issues a standalone FETCH for the range [start, end] of name.
func (s *Session) Fetch(ctx context.Context, name FullTrackName, start, end wire.Location) (*FetchRemoteTrack, error) {
	requestID := s.nextRequestID()
	track := newFetchRemoteTrack(requestID, name, s)

	respCh := make(chan error, 1)
	s.do(func() {
		s.fetchByRequestID[requestID] = track
		s.pendingFetchResponses[requestID] = respCh
		s.ctrl.enqueue(&wire.FetchMessage{
			RequestID:          requestID,
			SubscriberPriority: defaultSubscriberPriority,
			GroupOrder:         wire.GroupOrderAscending,
			FetchType:          wire.FetchTypeStandalone,
			TrackNamespace:     name.TrackNamespace,
			TrackName:          name.TrackName,
			StartLocation:      start,
			EndLocation:        end,
		})
	})

	select {
	case err := <-respCh:
		if err != nil {
			return nil, err
		}
		return track, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, errSessionClosed
	}
}

func (s *Session) handleFetch(m *wire.FetchMessage) error {
	if m.FetchType != wire.FetchTypeStandalone {
		s.ctrl.enqueue(&wire.FetchErrorMessage{RequestID: m.RequestID, ErrorCode: ErrorCodeFetchNotSupported, ReasonPhrase: "joining fetch not supported"})
		return nil
	}
	name := FullTrackName{TrackNamespace: m.TrackNamespace, TrackName: m.TrackName}
	track, ok := s.config.registry.GetTrack(name)
	if !ok {
		s.ctrl.enqueue(&wire.FetchErrorMessage{RequestID: m.RequestID, ErrorCode: ErrorCodeFetchTrackDoesNotExist, ReasonPhrase: "no such track"})
		return nil
	}

	window := subscribeWindow{
		start: FullSequence{Group: m.StartLocation.Group, Object: m.StartLocation.Object},
		end:   FullSequence{Group: m.EndLocation.Group, Object: unboundedGroup},
	}
	backlog, cancel := track.Subscribe(window.start, func(PublishedObject) {})
	cancel()

	stream, err := s.conn.OpenOutgoingUnidirectionalStream()
	if err != nil {
		s.ctrl.enqueue(&wire.FetchErrorMessage{RequestID: m.RequestID, ErrorCode: ErrorCodeFetchInternal, ReasonPhrase: err.Error()})
		return nil
	}

	pf := newPublishedFetch(m.RequestID, stream, track, window, m.GroupOrder, s.qlogger)
	s.publishedFetches[m.RequestID] = pf

	largest, hasObjects := track.LargestLocation()
	ok2 := &wire.FetchOkMessage{RequestID: m.RequestID, GroupOrder: m.GroupOrder, EndOfTrack: !hasObjects}
	if hasObjects {
		ok2.LargestLocation = wire.Location{Group: largest.Group, Object: largest.Object}
	}
	s.ctrl.enqueue(ok2)

	go func() {
		if err := pf.Run(backlog); err != nil {
			s.logger.Warn("fetch pull loop ended with error", "error", err, "request_id", m.RequestID)
		}
		s.do(func() { delete(s.publishedFetches, m.RequestID) })
	}()
	return nil
}

func (s *Session) handleFetchOk(m *wire.FetchOkMessage) error {
	ch, ok := s.pendingFetchResponses[m.RequestID]
	if !ok {
		return errUnknownRequestID
	}
	delete(s.pendingFetchResponses, m.RequestID)
	ch <- nil
	return nil
}

func (s *Session) handleFetchError(m *wire.FetchErrorMessage) error {
	ch, ok := s.pendingFetchResponses[m.RequestID]
	if !ok {
		return errUnknownRequestID
	}
	delete(s.pendingFetchResponses, m.RequestID)
	delete(s.fetchByRequestID, m.RequestID)
	ch <- ProtocolError{code: m.ErrorCode, message: m.ReasonPhrase}
	return nil
}

func (s *Session) handleFetchCancel(m *wire.FetchCancelMessage) error {
	pf, ok := s.publishedFetches[m.RequestID]
	if !ok {
		return nil
	}
	delete(s.publishedFetches, m.RequestID)
	pf.Cancel()
	return nil
}

// cancelFetch implements the interface FetchRemoteTrack.Close uses.
func (s *Session) cancelFetch(requestID uint64) error {
	s.do(func() {
		delete(s.fetchByRequestID, requestID)
		s.ctrl.enqueue(&wire.FetchCancelMessage{RequestID: requestID})
	})
	return nil
}

// Announce advertises namespace to the peer and blocks until
// ANNOUNCE_OK/ANNOUNCE_ERROR arrives.
func (s *Session) Announce(ctx context.Context, namespace []string) error {
	p := s.announces.add(namespace)
	s.do(func() {
		s.ctrl.enqueue(&wire.AnnounceMessage{TrackNamespace: namespace})
	})
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return errSessionClosed
	}
}

func (s *Session) handleAnnounce(m *wire.AnnounceMessage) error {
	accept, code, reason := s.config.callbacks.incomingAnnounce(m.TrackNamespace)
	if !accept {
		s.ctrl.enqueue(&wire.AnnounceErrorMessage{TrackNamespace: m.TrackNamespace, ErrorCode: code, ReasonPhrase: reason})
		return nil
	}
	s.ctrl.enqueue(&wire.AnnounceOkMessage{TrackNamespace: m.TrackNamespace})
	return nil
}

// acceptUniStreams accepts every peer-opened unidirectional stream and
// routes its objects to the matching SubscribeRemoteTrack/FetchRemoteTrack,
// generalizing the teacher's handleUniStream dispatch.
func (s *Session) acceptUniStreams() {
	for {
		stream, err := s.conn.AcceptIncomingUniStream(s.conn.Context())
		if err != nil {
			return
		}
		go s.handleIncomingDataStream(stream)
	}
}

func (s *Session) handleIncomingDataStream(stream Stream) {
	ids := NewIncomingDataStream(stream, s.qlogger)
	var trackAlias uint64
	var fetchID uint64
	var isFetch bool
	err := ids.Run(
		func(hdr wire.SubgroupHeaderMessage) {
			trackAlias = hdr.TrackAlias
		},
		func(group, subgroup uint64, priority uint8, o *wire.SubgroupObjectMessage) {
			s.do(func() {
				track, ok := s.subscribeByAlias[trackAlias]
				if !ok {
					return
				}
				track.push(&Object{
					FullSequence:      FullSequence{Group: group, Subgroup: subgroup, Object: o.ObjectID},
					PublisherPriority: priority,
					ObjectStatus:      uint64(o.ObjectStatus),
					Payload:           o.ObjectPayload,
				})
			})
		},
		func(hdr wire.FetchHeaderMessage) {
			fetchID, isFetch = hdr.RequestID, true
		},
		func(requestID uint64, o *wire.FetchObject) {
			s.do(func() {
				track, ok := s.fetchByRequestID[requestID]
				if !ok {
					return
				}
				track.push(&Object{
					FullSequence:      FullSequence{Group: o.GroupID, Subgroup: o.SubgroupID, Object: o.Object.ObjectID},
					PublisherPriority: o.Priority,
					ObjectStatus:      uint64(o.Object.ObjectStatus),
					Payload:           o.Object.ObjectPayload,
				})
			})
		},
	)
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("incoming data stream ended with error", "error", err)
		return
	}
	if isFetch {
		s.do(func() {
			if track, ok := s.fetchByRequestID[fetchID]; ok {
				track.complete()
			}
		})
	}
}

func (s *Session) readDatagrams() {
	for {
		b, err := s.conn.ReceiveDatagram(s.conn.Context())
		if err != nil {
			return
		}
		s.handleDatagram(b)
	}
}

func (s *Session) handleDatagram(b []byte) {
	var m wire.DatagramObjectMessage
	if _, err := m.Parse(b); err != nil {
		s.logger.Warn("dropping malformed datagram", "error", err)
		return
	}
	s.do(func() {
		track, ok := s.subscribeByAlias[m.TrackAlias]
		if !ok {
			return
		}
		track.push(&Object{
			FullSequence:      FullSequence{Group: m.GroupID, Object: m.ObjectID},
			PublisherPriority: m.Priority,
			ObjectStatus:      uint64(m.ObjectStatus),
			Payload:           m.ObjectPayload,
		})
	})
}

// Close tears down the session: every published subscription and fetch is
// terminated, the control stream is closed, and the underlying connection
// is closed with code/reason. Idempotent — the first call wins and performs
// the teardown; every later or concurrent call blocks until that teardown
// finishes and then returns its result, rather than running teardown twice
// or racing to close s.closed (spec.md §3/§7/§8).
func (s *Session) Close(code uint64, reason string) error {
	s.closeOnce.Do(func() {
		s.do(func() {
			for _, sub := range s.publishedSubscriptions {
				sub.Terminate()
			}
			for _, pf := range s.publishedFetches {
				pf.Cancel()
			}
			for _, t := range s.subscribeByRequestID {
				t.done(ErrorCodeSubscribeDoneGoingAway, reason)
			}
		})
		s.ctrl.close()
		close(s.closed)
		s.config.callbacks.sessionClosed(code, reason)
		s.closeErr = s.conn.CloseSession(code, reason)
	})
	return s.closeErr
}
