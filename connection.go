package moqtransport

import (
	"context"
	"io"
)

// Perspective distinguishes which side of a session this process is.
type Perspective uint8

const (
	PerspectiveServer Perspective = iota
	PerspectiveClient
)

// StreamVisitor receives notifications about a Stream becoming writable or
// being closed, so the owning component can resume without blocking the
// transport's own goroutines.
type StreamVisitor interface {
	OnCanWrite()
	OnStreamClosed(err error)
}

// Stream is a bidirectional or outgoing-unidirectional data or control
// stream as seen by the session core. Concrete transports (quicmoq,
// webtransportmoq) adapt their native stream type to this interface.
type Stream interface {
	io.Reader

	// Writev queues buf for sending; it never blocks the caller and may
	// coalesce with previously queued writes.
	Writev(buf []byte) (int, error)

	// CanWrite reports whether the stream's send buffer currently has
	// room; if not, the visitor's OnCanWrite is invoked once it does.
	CanWrite() bool

	SetVisitor(v StreamVisitor)
	SetPriority(priority int)

	SendFin() error
	ResetWithUserCode(code uint64) error
	SendStopSending(code uint64) error

	GetStreamID() uint64
}

// Connection is the transport collaborator the session core consumes: it
// never constructs one itself. See SPEC_FULL.md §6.
type Connection interface {
	OpenOutgoingBidirectionalStream() (Stream, error)
	OpenOutgoingUnidirectionalStream() (Stream, error)
	CanOpenNextOutgoingUnidirectionalStream() bool

	// SetOnOutgoingUnidirectionalStreamAvailable registers fn to be called
	// whenever a previously exhausted outgoing-unidirectional-stream budget
	// frees up a slot, so the session's admission drain loop can react
	// instead of polling CanOpenNextOutgoingUnidirectionalStream. fn may be
	// called from any goroutine and must not block.
	SetOnOutgoingUnidirectionalStreamAvailable(fn func())

	AcceptIncomingBidiStream(ctx context.Context) (Stream, error)
	AcceptIncomingUniStream(ctx context.Context) (Stream, error)

	SendOrQueueDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	GetStreamByID(id uint64) (Stream, bool)

	CloseSession(code uint64, reason string) error
	Context() context.Context

	Protocol() Protocol
	Perspective() Perspective
}

// Protocol names the underlying transport a Connection is backed by.
type Protocol uint8

const (
	ProtocolQUIC Protocol = iota
	ProtocolWebTransport
)

func (p Protocol) String() string {
	switch p {
	case ProtocolQUIC:
		return "QUIC"
	case ProtocolWebTransport:
		return "WebTransport"
	default:
		return "unknown"
	}
}
