package webtransportmoq

import (
	"errors"
	"sync"

	"github.com/mengelbart/moqtransport"
	"github.com/mengelbart/moqtransport/internal/asyncstream"
	"github.com/quic-go/webtransport-go"
)

var (
	errWriteOnReceiveStream = errors.New("webtransportmoq: write on receive-only stream")
	errReadOnSendStream     = errors.New("webtransportmoq: read on send-only stream")
)

// bidiStream adapts a webtransport.Stream (the control stream) to
// moqtransport.Stream.
type bidiStream struct {
	qs     webtransport.Stream
	writer *asyncstream.Writer
}

func newBidiStream(qs webtransport.Stream) *bidiStream {
	return &bidiStream{qs: qs, writer: asyncstream.New(qs)}
}

func (s *bidiStream) Read(p []byte) (int, error)     { return s.qs.Read(p) }
func (s *bidiStream) Writev(buf []byte) (int, error) { return s.writer.Writev(buf) }
func (s *bidiStream) CanWrite() bool                 { return s.writer.CanWrite() }

func (s *bidiStream) SetVisitor(v moqtransport.StreamVisitor) {
	setVisitor(s.writer, v)
}

// SetPriority is a no-op: the pinned webtransport-go revision this module
// targets does not expose per-stream send priority.
func (s *bidiStream) SetPriority(priority int) {}

func (s *bidiStream) SendFin() error { return s.qs.Close() }

func (s *bidiStream) ResetWithUserCode(code uint64) error {
	s.qs.CancelWrite(webtransport.StreamErrorCode(code))
	return nil
}

func (s *bidiStream) SendStopSending(code uint64) error {
	s.qs.CancelRead(webtransport.StreamErrorCode(code))
	return nil
}

func (s *bidiStream) GetStreamID() uint64 { return uint64(s.qs.StreamID()) }

// uniSendStream adapts an outgoing webtransport.SendStream to
// moqtransport.Stream, releasing its admission slot on close.
type uniSendStream struct {
	qs      webtransport.SendStream
	writer  *asyncstream.Writer
	release func()
	once    sync.Once
}

func newUniSendStream(qs webtransport.SendStream, release func()) *uniSendStream {
	return &uniSendStream{qs: qs, writer: asyncstream.New(qs), release: release}
}

func (s *uniSendStream) Read(p []byte) (int, error)     { return 0, errReadOnSendStream }
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
	s.qs.CancelWrite(webtransport.StreamErrorCode(code))
	s.releaseOnce()
	return nil
}

func (s *uniSendStream) SendStopSending(code uint64) error { return nil }

func (s *uniSendStream) GetStreamID() uint64 { return uint64(s.qs.StreamID()) }

// uniReceiveStream adapts an incoming webtransport.ReceiveStream to
// moqtransport.Stream.
type uniReceiveStream struct {
	rs webtransport.ReceiveStream
}

func newUniReceiveStream(rs webtransport.ReceiveStream) *uniReceiveStream {
	return &uniReceiveStream{rs: rs}
}

func (s *uniReceiveStream) Read(p []byte) (int, error)     { return s.rs.Read(p) }
func (s *uniReceiveStream) Writev(buf []byte) (int, error) { return 0, errWriteOnReceiveStream }
func (s *uniReceiveStream) CanWrite() bool                 { return false }
func (s *uniReceiveStream) SetVisitor(v moqtransport.StreamVisitor) {}
func (s *uniReceiveStream) SetPriority(priority int)                {}
func (s *uniReceiveStream) SendFin() error                          { return nil }

func (s *uniReceiveStream) ResetWithUserCode(code uint64) error { return nil }

func (s *uniReceiveStream) SendStopSending(code uint64) error {
	s.rs.CancelRead(webtransport.StreamErrorCode(code))
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
