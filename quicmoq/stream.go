package quicmoq

import (
	"errors"
	"sync"

	"github.com/mengelbart/moqtransport"
	"github.com/mengelbart/moqtransport/internal/asyncstream"
	"github.com/quic-go/quic-go"
)

var errWriteOnReceiveStream = errors.New("quicmoq: write on receive-only stream")

// bidiStream adapts a quic.Stream (the control stream, opened or accepted
// bidirectionally) to moqtransport.Stream.
type bidiStream struct {
	qs     quic.Stream
	writer *asyncstream.Writer
}

func newBidiStream(qs quic.Stream) *bidiStream {
	return &bidiStream{qs: qs, writer: asyncstream.New(qs)}
}

func (s *bidiStream) Read(p []byte) (int, error) { return s.qs.Read(p) }
func (s *bidiStream) Writev(buf []byte) (int, error) { return s.writer.Writev(buf) }
func (s *bidiStream) CanWrite() bool                 { return s.writer.CanWrite() }

func (s *bidiStream) SetVisitor(v moqtransport.StreamVisitor) {
	setVisitor(s.writer, v)
}

// SetPriority is a no-op: the pinned quic-go revision this module targets
// does not expose per-stream send priority, so scheduling order is decided
// entirely by PrioritizedStreamQueue before a stream is ever opened.
func (s *bidiStream) SetPriority(priority int) {}

func (s *bidiStream) SendFin() error { return s.qs.Close() }

func (s *bidiStream) ResetWithUserCode(code uint64) error {
	s.qs.CancelWrite(quic.StreamErrorCode(code))
	return nil
}

func (s *bidiStream) SendStopSending(code uint64) error {
	s.qs.CancelRead(quic.StreamErrorCode(code))
	return nil
}

func (s *bidiStream) GetStreamID() uint64 { return uint64(s.qs.StreamID()) }

// uniSendStream adapts an outgoing quic.SendStream (one per subgroup or
// fetch response) to moqtransport.Stream. release, if set, is called
// exactly once when the stream is finished (via SendFin or
// ResetWithUserCode) to return its slot to the connection's admission
// semaphore.
type uniSendStream struct {
	qs      quic.SendStream
	writer  *asyncstream.Writer
	release func()
	once    sync.Once
}

func newUniSendStream(qs quic.SendStream, release func()) *uniSendStream {
	return &uniSendStream{qs: qs, writer: asyncstream.New(qs), release: release}
}

func (s *uniSendStream) Read(p []byte) (int, error) { return 0, errReadOnSendStream }
func (s *uniSendStream) Writev(buf []byte) (int, error) { return s.writer.Writev(buf) }
func (s *uniSendStream) CanWrite() bool                 { return s.writer.CanWrite() }

func (s *uniSendStream) SetVisitor(v moqtransport.StreamVisitor) {
	setVisitor(s.writer, v)
}

func (s *uniSendStream) SetPriority(priority int) {}

func (s *uniSendStream) releaseOnce() {
	if s.release != nil {
		s.once.Do(s.release)
	}
}

func (s *uniSendStream) SendFin() error {
	err := s.qs.Close()
	s.releaseOnce()
	return err
}

func (s *uniSendStream) ResetWithUserCode(code uint64) error {
	s.qs.CancelWrite(quic.StreamErrorCode(code))
	s.releaseOnce()
	return nil
}

func (s *uniSendStream) SendStopSending(code uint64) error { return nil }

func (s *uniSendStream) GetStreamID() uint64 { return uint64(s.qs.StreamID()) }

var errReadOnSendStream = errors.New("quicmoq: read on send-only stream")

// uniReceiveStream adapts an incoming quic.ReceiveStream to
// moqtransport.Stream; the session core only reads from these.
type uniReceiveStream struct {
	rs quic.ReceiveStream
}

func newUniReceiveStream(rs quic.ReceiveStream) *uniReceiveStream {
	return &uniReceiveStream{rs: rs}
}

func (s *uniReceiveStream) Read(p []byte) (int, error) { return s.rs.Read(p) }
func (s *uniReceiveStream) Writev(buf []byte) (int, error) { return 0, errWriteOnReceiveStream }
func (s *uniReceiveStream) CanWrite() bool                 { return false }
func (s *uniReceiveStream) SetVisitor(v moqtransport.StreamVisitor) {}
func (s *uniReceiveStream) SetPriority(priority int)                {}
func (s *uniReceiveStream) SendFin() error                          { return nil }

func (s *uniReceiveStream) ResetWithUserCode(code uint64) error { return nil }

func (s *uniReceiveStream) SendStopSending(code uint64) error {
	s.rs.CancelRead(quic.StreamErrorCode(code))
	return nil
}

func (s *uniReceiveStream) GetStreamID() uint64 { return uint64(s.rs.StreamID()) }

type visitorAdapter struct {
	v moqtransport.StreamVisitor
}

func (a visitorAdapter) OnCanWrite()            { a.v.OnCanWrite() }
func (a visitorAdapter) OnStreamClosed(e error) { a.v.OnStreamClosed(e) }

func setVisitor(w *asyncstream.Writer, v moqtransport.StreamVisitor) {
	if v == nil {
		w.SetVisitor(nil)
		return
	}
	w.SetVisitor(visitorAdapter{v})
}
