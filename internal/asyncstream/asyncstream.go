// Package asyncstream bridges a blocking io.Writer (as exposed by quic-go
// and webtransport-go streams) to moqtransport.Stream's non-blocking
// Writev/CanWrite/SetVisitor contract. Both quicmoq and webtransportmoq
// wrap their native stream's writer half with a Writer so callers never
// block on flow control.
package asyncstream

import (
	"io"
	"sync"
)

// bufferLimit is how much unsent data a Writer queues before CanWrite
// starts reporting false and callers are expected to wait for OnCanWrite.
const bufferLimit = 1 << 20

// Visitor mirrors moqtransport.StreamVisitor without importing it, so this
// package stays dependency-free of the root package.
type Visitor interface {
	OnCanWrite()
	OnStreamClosed(err error)
}

// Writer serializes writes to w on a single goroutine so queued buffers are
// flushed in order, while letting Writev return immediately.
type Writer struct {
	w io.Writer

	mu      sync.Mutex
	visitor Visitor
	queue   [][]byte
	queued  int
	closed  bool

	notify chan struct{}
}

func New(w io.Writer) *Writer {
	s := &Writer{
		w:      w,
		notify: make(chan struct{}, 1),
	}
	go s.run()
	return s
}

func (s *Writer) Writev(buf []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	s.queue = append(s.queue, buf)
	s.queued += len(buf)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return len(buf), nil
}

func (s *Writer) CanWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued < bufferLimit
}

func (s *Writer) SetVisitor(v Visitor) {
	s.mu.Lock()
	s.visitor = v
	s.mu.Unlock()
}

func (s *Writer) run() {
	for range s.notify {
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			buf := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			_, err := s.w.Write(buf)

			s.mu.Lock()
			s.queued -= len(buf)
			wasBlocked := s.queued+len(buf) >= bufferLimit
			isNowOpen := s.queued < bufferLimit
			v := s.visitor
			if err != nil {
				s.closed = true
			}
			s.mu.Unlock()

			if err != nil {
				if v != nil {
					v.OnStreamClosed(err)
				}
				return
			}
			if wasBlocked && isNowOpen && v != nil {
				v.OnCanWrite()
			}
		}
	}
}
