package moqtransport

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mengelbart/moqtransport/internal/wire"
)

// controlStreamState is the ControlStream state machine named in spec.md
// §4.2; the teacher's control_stream.go has no explicit state enum, so
// this is added to make the handshake's legal-message set explicit.
type controlStreamState uint8

const (
	controlStreamInitial controlStreamState = iota
	controlStreamAwaitingPeerSetup
	controlStreamEstablished
	controlStreamTerminated
)

func (s controlStreamState) String() string {
	switch s {
	case controlStreamInitial:
		return "Initial"
	case controlStreamAwaitingPeerSetup:
		return "AwaitingPeerSetup"
	case controlStreamEstablished:
		return "Established"
	case controlStreamTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

type controlMessageParser interface {
	Parse() (wire.ControlMessage, error)
}

// controlMessageHandler processes one parsed control message against
// session state; it always runs on the session's run goroutine.
type controlMessageHandler func(wire.ControlMessage) error

// controlStream owns the session's single bidirectional control stream:
// one goroutine parses incoming messages and forwards them to handle, a
// second drains an outgoing queue, generalizing the teacher's
// controlStream (control_stream.go) with the explicit state machine above.
type controlStream struct {
	logger *slog.Logger

	stream  Stream
	parser  controlMessageParser
	handle  controlMessageHandler
	onState func(controlStreamState)

	state controlStreamState

	// sendMu/sendQueue/notify implement an unbounded send buffer: enqueue
	// never blocks and never drops, mirroring internal/asyncstream.Writer's
	// queue-plus-notify-channel shape so that replying to a SUBSCRIBE with
	// SUBSCRIBE_OK, or an ANNOUNCE with ANNOUNCE_OK, can never be lost to a
	// momentarily-full buffer (spec.md §4.2/§5: control-stream sends buffer
	// unconditionally to preserve ordering).
	sendMu    sync.Mutex
	sendQueue []wire.ControlMessage
	notify    chan struct{}

	closeCh chan struct{}
}

func newControlStream(s Stream, handle controlMessageHandler, onState func(controlStreamState)) *controlStream {
	cs := &controlStream{
		logger:  defaultLogger.WithGroup("MOQ_CONTROL_STREAM"),
		stream:  s,
		parser:  wire.NewControlMessageParser(s),
		handle:  handle,
		onState: onState,
		state:   controlStreamInitial,
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go cs.readLoop()
	go cs.writeLoop()
	return cs
}

func (s *controlStream) setState(st controlStreamState) {
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *controlStream) readLoop() {
	for {
		msg, err := s.parser.Parse()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("control stream closed by peer")
			} else {
				s.logger.Error("failed to parse control message", "error", err)
			}
			s.setState(controlStreamTerminated)
			return
		}
		if err := s.handle(msg); err != nil {
			s.logger.Error("failed to handle control message", "error", err, "message", fmt.Sprintf("%T", msg))
			s.setState(controlStreamTerminated)
			return
		}
	}
}

func (s *controlStream) writeLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.notify:
		}
		for {
			s.sendMu.Lock()
			if len(s.sendQueue) == 0 {
				s.sendMu.Unlock()
				break
			}
			msg := s.sendQueue[0]
			s.sendQueue = s.sendQueue[1:]
			s.sendMu.Unlock()

			buf := msg.Append(make([]byte, 0, 1500))
			if _, err := s.stream.Writev(buf); err != nil {
				if err == io.EOF {
					return
				}
				s.logger.Error("failed to write control message", "error", err)
			}
		}
	}
}

// enqueue queues m for sending. The queue grows without bound rather than
// drop or block: control-stream ordering correctness outweighs the memory
// cost (spec.md §4.2/§5). A future refinement may impose a buffered-bytes
// ceiling and terminate the session on overflow instead.
func (s *controlStream) enqueue(m wire.ControlMessage) {
	s.sendMu.Lock()
	s.sendQueue = append(s.sendQueue, m)
	s.sendMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *controlStream) close() {
	select {
	case <-s.closeCh:
	default:
		close(s.closeCh)
	}
}
