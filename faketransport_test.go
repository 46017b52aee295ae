package moqtransport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// fakeStream is a hand-written, in-memory moqtransport.Stream used across
// this package's tests in place of a real quicmoq/webtransportmoq
// transport. Writev normally completes immediately; blockWrites/
// unblockWrites let a test stall it to exercise backpressure. CanWrite
// always reports true, since nothing here queues at the Stream level.
type fakeStream struct {
	mu        sync.Mutex
	cond      *sync.Cond
	id        uint64
	readBuf   *bytes.Buffer
	written   [][]byte
	visitor   StreamVisitor
	closed    bool
	resetErr  error
	resetCode *uint64       // code of the last ResetWithUserCode, nil if never reset
	writeGate chan struct{} // non-nil while Writev should block
}

func newFakeStream(id uint64) *fakeStream {
	s := &fakeStream{id: id, readBuf: &bytes.Buffer{}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// feed appends b to the stream's read buffer, as if the peer had written
// it; readLoop goroutines blocked in Read wake up to consume it.
func (s *fakeStream) feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readBuf.Write(b)
	s.cond.Broadcast()
}

// closeForReading marks the stream as closed by the peer, so a pending or
// future Read returns io.EOF once the buffer is drained, instead of
// blocking forever.
func (s *fakeStream) closeForReading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Read blocks while the buffer is empty and the stream hasn't been closed,
// matching a real stream where "no data yet" is not the same as EOF.
func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.readBuf.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return s.readBuf.Read(p)
}

func (s *fakeStream) Writev(buf []byte) (int, error) {
	s.mu.Lock()
	gate := s.writeGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), buf...)
	s.written = append(s.written, cp)
	return len(buf), nil
}

// blockWrites makes every subsequent Writev call block until unblockWrites
// is called, simulating a stream whose peer isn't reading, for tests that
// need to exercise backpressure.
func (s *fakeStream) blockWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeGate = make(chan struct{})
}

func (s *fakeStream) unblockWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeGate != nil {
		close(s.writeGate)
		s.writeGate = nil
	}
}

func (s *fakeStream) writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

func (s *fakeStream) CanWrite() bool { return true }

func (s *fakeStream) SetVisitor(v StreamVisitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visitor = v
}

func (s *fakeStream) SetPriority(priority int) {}

func (s *fakeStream) SendFin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

func (s *fakeStream) ResetWithUserCode(code uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCode = &code
	s.closed = true
	s.cond.Broadcast()
	return s.resetErr
}

func (s *fakeStream) SendStopSending(code uint64) error { return nil }

func (s *fakeStream) GetStreamID() uint64 { return s.id }

// fakeConn is a hand-written moqtransport.Connection backed by fakeStream
// pairs, used to drive Session tests without a real QUIC connection.
type fakeConn struct {
	mu          sync.Mutex
	perspective Perspective
	protocol    Protocol
	ctx         context.Context
	cancel      context.CancelFunc

	bidi chan Stream
	uni  chan Stream

	nextStreamID uint64

	// openedBidi records the stream returned by the first call to
	// OpenOutgoingBidirectionalStream (the control stream a client
	// session opens at construction time), so tests can inspect what
	// was written to it without threading it through separately.
	openedBidi *fakeStream

	// vended tracks every stream this connection has handed out, whether
	// self-opened or test-injected via pushBidiStream/pushUniStream, so
	// CloseSession can unblock any reader still parked in Read.
	vended []*fakeStream

	openUnidirectionalErr error
	canOpenUni            bool
	closeErr              error
	onUniAvail            func()
}

// pushBidiStream delivers s to the next AcceptIncomingBidiStream call, as
// if the peer had just opened it, and tracks it for teardown.
func (c *fakeConn) pushBidiStream(s *fakeStream) {
	c.mu.Lock()
	c.vended = append(c.vended, s)
	c.mu.Unlock()
	c.bidi <- s
}

// pushUniStream delivers s to the next AcceptIncomingUniStream call and
// tracks it for teardown.
func (c *fakeConn) pushUniStream(s *fakeStream) {
	c.mu.Lock()
	c.vended = append(c.vended, s)
	c.mu.Unlock()
	c.uni <- s
}

// atomicBool is a tiny test helper for recording whether a callback fired,
// safe to read from a different goroutine than the one that set it.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.v = v
}

func (b *atomicBool) get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

func newFakeConn(p Perspective) *fakeConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeConn{
		perspective: p,
		protocol:    ProtocolQUIC,
		ctx:         ctx,
		cancel:      cancel,
		bidi:        make(chan Stream, 1),
		uni:         make(chan Stream, 16),
		canOpenUni:  true,
	}
}

func (c *fakeConn) OpenOutgoingBidirectionalStream() (Stream, error) {
	c.mu.Lock()
	c.nextStreamID++
	id := c.nextStreamID
	s := newFakeStream(id)
	if c.openedBidi == nil {
		c.openedBidi = s
	}
	c.vended = append(c.vended, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeConn) OpenOutgoingUnidirectionalStream() (Stream, error) {
	if c.openUnidirectionalErr != nil {
		return nil, c.openUnidirectionalErr
	}
	c.mu.Lock()
	c.nextStreamID++
	id := c.nextStreamID
	s := newFakeStream(id)
	c.vended = append(c.vended, s)
	c.mu.Unlock()
	return s, nil
}

func (c *fakeConn) CanOpenNextOutgoingUnidirectionalStream() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canOpenUni
}

func (c *fakeConn) SetOnOutgoingUnidirectionalStreamAvailable(fn func()) {
	c.mu.Lock()
	c.onUniAvail = fn
	c.mu.Unlock()
}

// setCanOpenUni flips whether the connection reports room for another
// outgoing unidirectional stream, firing the registered availability
// callback (if any) when flipping from false to true, the way a real
// transport's semaphore release would.
func (c *fakeConn) setCanOpenUni(v bool) {
	c.mu.Lock()
	was := c.canOpenUni
	c.canOpenUni = v
	fn := c.onUniAvail
	c.mu.Unlock()
	if v && !was && fn != nil {
		fn()
	}
}

func (c *fakeConn) AcceptIncomingBidiStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.bidi:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errConnectionClosed
	}
}

func (c *fakeConn) AcceptIncomingUniStream(ctx context.Context) (Stream, error) {
	select {
	case s := <-c.uni:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, errConnectionClosed
	}
}

func (c *fakeConn) SendOrQueueDatagram(b []byte) error { return nil }

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) GetStreamByID(id uint64) (Stream, bool) { return nil, false }

// CloseSession cancels the connection context (unblocking anything parked
// in AcceptIncomingBidiStream/AcceptIncomingUniStream/ReceiveDatagram) and
// closes every vended stream for reading, the way a real transport's
// blocked stream Reads would all fail once the connection itself closes.
func (c *fakeConn) CloseSession(code uint64, reason string) error {
	c.mu.Lock()
	vended := append([]*fakeStream(nil), c.vended...)
	c.mu.Unlock()
	for _, s := range vended {
		s.closeForReading()
	}
	c.cancel()
	return c.closeErr
}

func (c *fakeConn) Context() context.Context { return c.ctx }

func (c *fakeConn) Protocol() Protocol { return c.protocol }

func (c *fakeConn) Perspective() Perspective { return c.perspective }

var errConnectionClosed = errors.New("fakeConn: connection closed")
