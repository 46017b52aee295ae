package moqtransport

import (
	"errors"
	"io"
	"log/slog"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/mengelbart/qlog"
	qlogmoqt "github.com/mengelbart/qlog/moqt"
)

// cachedObjectSource is the pull-side collaborator an OutgoingDataStream
// asks for its next object, instead of being handed one directly;
// satisfied by PublishedTrack.
type cachedObjectSource interface {
	GetCachedObject(seq FullSequence) (PublishedObject, bool)
}

// OutgoingDataStream owns one unidirectional stream used to deliver a
// single subgroup's objects to a subscriber, generalizing the teacher's
// Subgroup/localTrackSender pair (subgroup.go, local_track_sender.go) to
// the pull model spec.md §4.5 mandates: on OnCanWrite, it asks source for
// the object at its next cursor, stops if none is cached yet, sends FIN if
// the cursor has run out of the subscription's window, and otherwise
// writes and advances.
type OutgoingDataStream struct {
	logger  *slog.Logger
	qlogger *qlog.Logger

	stream Stream
	source cachedObjectSource

	inWindow func(FullSequence) bool
	onSent   func(FullSequence)

	subscribeID, trackAlias uint64
	groupID, subgroupID     uint64
	headerWritten           bool

	next FullSequence
	done bool
}

// NewOutgoingDataStream constructs a stream that delivers start and every
// object source caches after it within the same (group, subgroup) unit,
// in sequence. inWindow is consulted before every write so a narrowing
// SUBSCRIBE_UPDATE is honored; onSent is called after every successful
// write so the owning subscription can track largest_sent.
func NewOutgoingDataStream(stream Stream, subscribeID, trackAlias uint64, start FullSequence, source cachedObjectSource, inWindow func(FullSequence) bool, onSent func(FullSequence), qlogger *qlog.Logger) *OutgoingDataStream {
	s := &OutgoingDataStream{
		logger:      defaultLogger.WithGroup("MOQ_OUTGOING_DATA_STREAM"),
		qlogger:     qlogger,
		stream:      stream,
		source:      source,
		inWindow:    inWindow,
		onSent:      onSent,
		subscribeID: subscribeID,
		trackAlias:  trackAlias,
		groupID:     start.Group,
		subgroupID:  start.Subgroup,
		next:        start,
	}
	stream.SetVisitor(s)
	return s
}

func (s *OutgoingDataStream) writeHeader() error {
	if s.headerWritten {
		return nil
	}
	h := &wire.SubgroupHeaderMessage{
		SubscribeID: s.subscribeID,
		TrackAlias:  s.trackAlias,
		GroupID:     s.groupID,
		SubgroupID:  s.subgroupID,
	}
	buf := h.Append(make([]byte, 0, 40))
	if _, err := s.stream.Writev(buf); err != nil {
		return err
	}
	s.headerWritten = true
	if s.qlogger != nil {
		s.qlogger.Log(qlogmoqt.StreamTypeSetEvent{
			Owner:      qlogmoqt.GetOwner(qlogmoqt.OwnerLocal),
			StreamID:   s.stream.GetStreamID(),
			StreamType: qlogmoqt.StreamTypeSubgroupHeader,
		})
	}
	return nil
}

func (s *OutgoingDataStream) writeObject(o PublishedObject) error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	om := &wire.SubgroupObjectMessage{ObjectID: o.Object, ObjectPayload: o.Payload, ObjectStatus: wire.ObjectStatus(o.Status)}
	buf := om.Append(make([]byte, 0, 24+len(o.Payload)))
	_, err := s.stream.Writev(buf)
	if err != nil {
		return err
	}
	if s.qlogger != nil {
		gid, sid := s.groupID, s.subgroupID
		s.qlogger.Log(qlogmoqt.SubgroupObjectEvent{
			EventName:           qlogmoqt.SubgroupObjectEventCreated,
			StreamID:            s.stream.GetStreamID(),
			GroupID:             &gid,
			SubgroupID:          &sid,
			ObjectID:            o.Object,
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

// Close sends the stream FIN, indicating no more objects in this subgroup.
func (s *OutgoingDataStream) Close() error {
	s.done = true
	return s.stream.SendFin()
}

// Reset aborts the stream with code, used when the underlying subscription
// is terminated mid-group.
func (s *OutgoingDataStream) Reset(code uint64) error {
	s.done = true
	return s.stream.ResetWithUserCode(code)
}

// OnCanWrite pulls and writes every object source has cached starting at
// the stream's cursor, stopping when the cache doesn't (yet) have the next
// object, the cursor has left the subscription's window (FIN and stop), or
// the stream itself reports no more write capacity. Called both to deliver
// a just-arrived object and to resume after backpressure.
func (s *OutgoingDataStream) OnCanWrite() {
	for !s.done && s.stream.CanWrite() {
		if s.inWindow != nil && !s.inWindow(s.next) {
			s.Close()
			return
		}
		o, ok := s.source.GetCachedObject(s.next)
		if !ok {
			return
		}
		if err := s.writeObject(o); err != nil {
			s.logger.Error("failed to write object", "error", err, "sequence", o.FullSequence)
			return
		}
		if s.onSent != nil {
			s.onSent(o.FullSequence)
		}
		s.next.Object++
		if o.Status == uint64(wire.ObjectStatusEndOfGroup) || o.Status == uint64(wire.ObjectStatusEndOfTrack) {
			s.Close()
			return
		}
	}
}

func (s *OutgoingDataStream) OnStreamClosed(err error) {
	if err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("outgoing data stream closed with error", "error", err)
	}
}

// IncomingDataStream parses a peer-opened unidirectional data stream
// (subgroup or fetch response) and delivers each object to handle,
// generalizing the teacher's object_stream_parser.go dispatch loop.
type IncomingDataStream struct {
	logger  *slog.Logger
	qlogger *qlog.Logger
	stream  Stream
	parser  *wire.ObjectStreamParser

	handleSubgroupObject func(group, subgroup uint64, priority uint8, o *wire.SubgroupObjectMessage)
	handleFetchObject    func(requestID uint64, o *wire.FetchObject)
}

func NewIncomingDataStream(stream Stream, qlogger *qlog.Logger) *IncomingDataStream {
	return &IncomingDataStream{
		logger:  defaultLogger.WithGroup("MOQ_INCOMING_DATA_STREAM"),
		qlogger: qlogger,
		stream:  stream,
	}
}

// Run parses the stream header then reads objects until EOF or error,
// invoking the appropriate handler for every object seen. It blocks the
// calling goroutine (intended to run on its own per-stream reader
// goroutine, per SPEC_FULL.md §5) and never touches session state
// directly.
func (s *IncomingDataStream) Run(
	onSubgroupHeader func(sub wire.SubgroupHeaderMessage),
	onSubgroupObject func(group, subgroup uint64, priority uint8, o *wire.SubgroupObjectMessage),
	onFetchHeader func(fetch wire.FetchHeaderMessage),
	onFetchObject func(requestID uint64, o *wire.FetchObject),
) error {
	parser, err := wire.NewObjectStreamParser(s.stream)
	if err != nil {
		return err
	}
	s.parser = parser

	switch parser.Type {
	case wire.StreamTypeSubgroupHeader:
		if onSubgroupHeader != nil {
			onSubgroupHeader(parser.Subgroup)
		}
		for {
			obj, err := parser.ParseObjectOnSubgroupStream()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if onSubgroupObject != nil {
				onSubgroupObject(parser.Subgroup.GroupID, parser.Subgroup.SubgroupID, parser.Subgroup.Priority, obj)
			}
		}
	case wire.StreamTypeFetchHeader:
		if onFetchHeader != nil {
			onFetchHeader(parser.Fetch)
		}
		for {
			obj, err := parser.ParseObjectOnFetchStream()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if onFetchObject != nil {
				onFetchObject(parser.Fetch.RequestID, obj)
			}
		}
	default:
		return errInvalidStreamType
	}
}

var errInvalidStreamType = errors.New("moqtransport: invalid data stream type")
