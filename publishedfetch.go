package moqtransport

import (
	"log/slog"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/qlog"
	qlogmoqt "github.com/mengelbart/qlog/moqt"
	"github.com/quic-go/quic-go/quicvarint"
)

// PublishedFetch is the publisher-side handle for one accepted FETCH: a
// single pull loop that walks a track's cached objects in [start, end] and
// writes them to one dedicated stream, generalizing the teacher's
// FetchStream (fetch_stream.go) with qlog instrumented writes.
type PublishedFetch struct {
	logger  *slog.Logger
	qlogger *qlog.Logger

	requestID uint64
	stream    Stream
	track     PublishedTrack
	window    subscribeWindow
	order     wire.GroupOrder

	cancelCh chan struct{}
}

func newPublishedFetch(requestID uint64, stream Stream, track PublishedTrack, window subscribeWindow, order wire.GroupOrder, qlogger *qlog.Logger) *PublishedFetch {
	return &PublishedFetch{
		logger:    defaultLogger.WithGroup("MOQ_PUBLISHED_FETCH").With("request_id", requestID),
		qlogger:   qlogger,
		requestID: requestID,
		stream:    stream,
		track:     track,
		window:    window,
		order:     order,
		cancelCh:  make(chan struct{}),
	}
}

// Run writes the fetch header then every cached object in the fetch's
// window, in ascending or descending group order per order, then closes
// the stream. It is meant to run on its own goroutine (spec.md §4.7); it
// never touches session state.
func (f *PublishedFetch) Run(backlog []PublishedObject) error {
	fh := &wire.FetchHeaderMessage{RequestID: f.requestID}
	if _, err := f.stream.Writev(fh.Append(make([]byte, 0, 16))); err != nil {
		return err
	}
	if f.qlogger != nil {
		f.qlogger.Log(qlogmoqt.StreamTypeSetEvent{
			Owner:      qlogmoqt.GetOwner(qlogmoqt.OwnerLocal),
			StreamID:   f.stream.GetStreamID(),
			StreamType: qlogmoqt.StreamTypeFetchHeader,
		})
	}

	objects := make([]PublishedObject, 0, len(backlog))
	for _, o := range backlog {
		if f.window.contains(o.FullSequence) {
			objects = append(objects, o)
		}
	}
	if f.order == wire.GroupOrderDescending {
		for i, j := 0, len(objects)-1; i < j; i, j = i+1, j-1 {
			objects[i], objects[j] = objects[j], objects[i]
		}
	}

	for _, o := range objects {
		select {
		case <-f.cancelCh:
			return f.stream.SendFin()
		default:
		}
		if err := f.writeObject(o); err != nil {
			return err
		}
	}
	return f.stream.SendFin()
}

func (f *PublishedFetch) writeObject(o PublishedObject) error {
	buf := make([]byte, 0, 1400)
	buf = quicvarint.Append(buf, o.Group)
	buf = quicvarint.Append(buf, o.Subgroup)
	buf = append(buf, o.Priority)
	om := &wire.SubgroupObjectMessage{ObjectID: o.Object, ObjectPayload: o.Payload, ObjectStatus: wire.ObjectStatus(o.Status)}
	buf = om.Append(buf)
	_, err := f.stream.Writev(buf)
	if err != nil {
		return err
	}
	if f.qlogger != nil {
		f.qlogger.Log(qlogmoqt.FetchObjectEvent{
			EventName:           qlogmoqt.FetchObjectEventCreated,
			StreamID:            f.stream.GetStreamID(),
			GroupID:             o.Group,
			SubgroupID:          o.Subgroup,
			ObjectID:            o.Object,
			PublisherPriority:   o.Priority,
			ObjectPayloadLength: uint64(len(o.Payload)),
			ObjectStatus:        o.Status,
			ObjectPayload: qlog.RawInfo{
				Length:        uint64(len(o.Payload)),
				PayloadLength: uint64(len(o.Payload)),
				Data:          o.Payload,
			},
		})
	}
	return nil
}

// Cancel aborts the fetch's pull loop on its next iteration and resets the
// stream, used when FETCH_CANCEL arrives.
func (f *PublishedFetch) Cancel() {
	select {
	case <-f.cancelCh:
	default:
		close(f.cancelCh)
	}
	f.stream.ResetWithUserCode(ErrorCodeFetchInternal)
}
