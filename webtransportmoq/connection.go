// Package webtransportmoq adapts a github.com/quic-go/webtransport-go
// session to the moqtransport.Connection/Stream interfaces, grounded on the
// teacher's own webtransportmoq package of the same purpose.
package webtransportmoq

import (
	"context"
	"sync"

	"github.com/mengelbart/moqtransport"
	"github.com/quic-go/webtransport-go"
)

// maxConcurrentUniStreams mirrors quicmoq's admission bound; WebTransport
// layers its streams over the same underlying QUIC connection, so the same
// reasoning applies.
const maxConcurrentUniStreams = 256

type connection struct {
	session     *webtransport.Session
	perspective moqtransport.Perspective
	sem         chan struct{}

	mu      sync.Mutex
	onAvail func()
}

func NewServer(session *webtransport.Session) moqtransport.Connection {
	return New(session, moqtransport.PerspectiveServer)
}

func NewClient(session *webtransport.Session) moqtransport.Connection {
	return New(session, moqtransport.PerspectiveClient)
}

func New(session *webtransport.Session, perspective moqtransport.Perspective) moqtransport.Connection {
	sem := make(chan struct{}, maxConcurrentUniStreams)
	for i := 0; i < maxConcurrentUniStreams; i++ {
		sem <- struct{}{}
	}
	return &connection{session: session, perspective: perspective, sem: sem}
}

func (c *connection) OpenOutgoingBidirectionalStream() (moqtransport.Stream, error) {
	s, err := c.session.OpenStreamSync(c.session.Context())
	if err != nil {
		return nil, err
	}
	return newBidiStream(s), nil
}

func (c *connection) OpenOutgoingUnidirectionalStream() (moqtransport.Stream, error) {
	select {
	case <-c.sem:
	default:
	}
	s, err := c.session.OpenUniStream()
	if err != nil {
		c.releaseSlot()
		return nil, err
	}
	return newUniSendStream(s, c.releaseSlot), nil
}

func (c *connection) CanOpenNextOutgoingUnidirectionalStream() bool {
	return len(c.sem) > 0
}

// SetOnOutgoingUnidirectionalStreamAvailable registers fn to run whenever a
// uniSendStream releases its semaphore slot back to the pool.
func (c *connection) SetOnOutgoingUnidirectionalStreamAvailable(fn func()) {
	c.mu.Lock()
	c.onAvail = fn
	c.mu.Unlock()
}

func (c *connection) releaseSlot() {
	select {
	case c.sem <- struct{}{}:
	default:
	}
	c.mu.Lock()
	fn := c.onAvail
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *connection) AcceptIncomingBidiStream(ctx context.Context) (moqtransport.Stream, error) {
	s, err := c.session.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return newBidiStream(s), nil
}

func (c *connection) AcceptIncomingUniStream(ctx context.Context) (moqtransport.Stream, error) {
	s, err := c.session.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return newUniReceiveStream(s), nil
}

func (c *connection) SendOrQueueDatagram(b []byte) error {
	return c.session.SendDatagram(b)
}

func (c *connection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.session.ReceiveDatagram(ctx)
}

// GetStreamByID is not exposed by webtransport-go's public API.
func (c *connection) GetStreamByID(id uint64) (moqtransport.Stream, bool) {
	return nil, false
}

func (c *connection) CloseSession(code uint64, reason string) error {
	return c.session.CloseWithError(webtransport.SessionErrorCode(code), reason)
}

func (c *connection) Context() context.Context {
	return c.session.Context()
}

func (c *connection) Protocol() moqtransport.Protocol {
	return moqtransport.ProtocolWebTransport
}

func (c *connection) Perspective() moqtransport.Perspective {
	return c.perspective
}
