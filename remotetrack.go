package moqtransport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mengelbart/moqtransport/internal/wire"
)

// Object is a single delivered payload together with its position and the
// priority it arrived at, handed to the application via RemoteTrack.ReadObject.
type Object struct {
	FullSequence
	PublisherPriority uint8
	ObjectStatus      uint64
	Payload           []byte
}

// ErrSubscribeDone is delivered as the cause of RemoteTrack's done context
// once the publisher has sent SUBSCRIBE_DONE.
type ErrSubscribeDone struct {
	Status uint64
	Reason string
}

func (e ErrSubscribeDone) Error() string {
	return fmt.Sprintf("moqtransport: subscribe done: status=%v reason=%q", e.Status, e.Reason)
}

type unsubscriber interface {
	unsubscribe(requestID uint64) error
}

// RemoteTrack is the base type shared by SubscribeRemoteTrack and
// FetchRemoteTrack: a bounded, dropping object buffer fed by the session's
// incoming-data-stream handlers and drained by the application via
// ReadObject, generalizing the teacher's RemoteTrack (remote_track.go).
type RemoteTrack struct {
	logger *slog.Logger

	buffer chan *Object

	doneCtx       context.Context
	doneCtxCancel context.CancelCauseFunc
}

func newRemoteTrack() *RemoteTrack {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &RemoteTrack{
		logger:        defaultLogger.WithGroup("MOQ_REMOTE_TRACK"),
		buffer:        make(chan *Object, 100),
		doneCtx:       ctx,
		doneCtxCancel: cancel,
	}
}

// ReadObject blocks until an object is available, ctx is done, or the
// track is marked done (subscription ended, fetch completed/cancelled).
func (t *RemoteTrack) ReadObject(ctx context.Context) (*Object, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case obj, ok := <-t.buffer:
		if !ok {
			return nil, t.doneCtx.Err()
		}
		return obj, nil
	case <-t.doneCtx.Done():
		select {
		case obj := <-t.buffer:
			return obj, nil
		default:
			return nil, context.Cause(t.doneCtx)
		}
	}
}

func (t *RemoteTrack) push(o *Object) {
	select {
	case t.buffer <- o:
	default:
		t.logger.Warn("remote track buffer full, dropping object", "sequence", o.FullSequence)
	}
}

func (t *RemoteTrack) markDone(cause error) {
	t.doneCtxCancel(cause)
}

// SubscribeRemoteTrack is the subscriber-side handle for a live SUBSCRIBE:
// it is kept in the session's subscribe_by_alias index and fed by every
// IncomingDataStream carrying that track's alias.
type SubscribeRemoteTrack struct {
	*RemoteTrack

	requestID  uint64
	trackAlias uint64
	fullTrack  FullTrackName
	session    unsubscriber

	// lastSubscribe is the SUBSCRIBE message this track was last issued
	// with, kept so a RetryTrackAlias rejection can be resent with the
	// peer-supplied alias and a new request ID.
	lastSubscribe *wire.SubscribeMessage
}

func newSubscribeRemoteTrack(requestID, trackAlias uint64, name FullTrackName, session unsubscriber) *SubscribeRemoteTrack {
	return &SubscribeRemoteTrack{
		RemoteTrack: newRemoteTrack(),
		requestID:   requestID,
		trackAlias:  trackAlias,
		fullTrack:   name,
		session:     session,
	}
}

// Close sends UNSUBSCRIBE and stops delivering further objects.
func (t *SubscribeRemoteTrack) Close() error {
	return t.session.unsubscribe(t.requestID)
}

func (t *SubscribeRemoteTrack) done(status uint64, reason string) {
	t.markDone(ErrSubscribeDone{Status: status, Reason: reason})
}

// FetchRemoteTrack is the subscriber-side handle for an outbound FETCH: it
// has no track alias (fetch streams carry their request id instead) and
// completes on its own once the publisher closes the fetch stream.
type FetchRemoteTrack struct {
	*RemoteTrack

	requestID           uint64
	fullTrack            FullTrackName
	hasReceivedResponse  bool
	session              interface {
		cancelFetch(requestID uint64) error
	}
}

func newFetchRemoteTrack(requestID uint64, name FullTrackName, session interface {
	cancelFetch(requestID uint64) error
}) *FetchRemoteTrack {
	return &FetchRemoteTrack{
		RemoteTrack: newRemoteTrack(),
		requestID:   requestID,
		fullTrack:   name,
		session:     session,
	}
}

// Close sends FETCH_CANCEL and stops delivering further objects; it sends
// the cancel whether or not the fetch has already completed.
func (t *FetchRemoteTrack) Close() error {
	return t.session.cancelFetch(t.requestID)
}

func (t *FetchRemoteTrack) complete() {
	t.markDone(nil)
}
