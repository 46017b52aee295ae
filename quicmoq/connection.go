// Package quicmoq adapts a github.com/quic-go/quic-go connection to the
// moqtransport.Connection/Stream interfaces, grounded on the teacher's own
// quicmoq package of the same purpose.
package quicmoq

import (
	"context"
	"sync"

	"github.com/mengelbart/moqtransport"
	"github.com/quic-go/quic-go"
)

// maxConcurrentUniStreams bounds how many outgoing unidirectional data
// streams quicmoq will have open at once; CanOpenNextOutgoingUnidirectionalStream
// reports false once this many are outstanding, which is what drives
// PrioritizedStreamQueue admission in the session core.
const maxConcurrentUniStreams = 256

type connection struct {
	conn        quic.Connection
	perspective moqtransport.Perspective
	sem         chan struct{}

	mu      sync.Mutex
	onAvail func()
}

// NewServer wraps conn for the server side of a session.
func NewServer(conn quic.Connection) moqtransport.Connection {
	return New(conn, moqtransport.PerspectiveServer)
}

// NewClient wraps conn for the client side of a session.
func NewClient(conn quic.Connection) moqtransport.Connection {
	return New(conn, moqtransport.PerspectiveClient)
}

func New(conn quic.Connection, perspective moqtransport.Perspective) moqtransport.Connection {
	sem := make(chan struct{}, maxConcurrentUniStreams)
	for i := 0; i < maxConcurrentUniStreams; i++ {
		sem <- struct{}{}
	}
	return &connection{conn: conn, perspective: perspective, sem: sem}
}

func (c *connection) OpenOutgoingBidirectionalStream() (moqtransport.Stream, error) {
	s, err := c.conn.OpenStreamSync(c.conn.Context())
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
	s, err := c.conn.OpenUniStream()
	if err != nil {
		c.releaseSlot()
		return nil, err
	}
	return newUniSendStream(s, c.releaseSlot), nil
}

// CanOpenNextOutgoingUnidirectionalStream reports whether this connection's
// admission semaphore currently has room; quic-go itself has no equivalent
// introspection, so capacity is tracked here instead.
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
	s, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return newBidiStream(s), nil
}

func (c *connection) AcceptIncomingUniStream(ctx context.Context) (moqtransport.Stream, error) {
	s, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return newUniReceiveStream(s), nil
}

func (c *connection) SendOrQueueDatagram(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c *connection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

// GetStreamByID is not supported by quic-go's public API; this module's
// session core never calls it, so returning false is safe.
func (c *connection) GetStreamByID(id uint64) (moqtransport.Stream, bool) {
	return nil, false
}

func (c *connection) CloseSession(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *connection) Context() context.Context {
	return c.conn.Context()
}

func (c *connection) Protocol() moqtransport.Protocol {
	return moqtransport.ProtocolQUIC
}

func (c *connection) Perspective() moqtransport.Perspective {
	return c.perspective
}
