package moqtransport

import (
	"errors"
	"testing"
	"time"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestControlStreamEnqueueWritesThroughWriteLoop(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newFakeStream(1)
	defer s.closeForReading()
	cs := newControlStream(s, func(wire.ControlMessage) error { return nil }, nil)
	defer cs.close()

	cs.enqueue(&wire.GoAwayMessage{NewSessionURI: "https://example.com/next"})

	waitFor(t, func() bool { return len(s.writes()) > 0 })
	msg := parseOne(t, s.writes())
	goAway, ok := msg.(*wire.GoAwayMessage)
	require.True(t, ok, "expected *wire.GoAwayMessage, got %T", msg)
	assert.Equal(t, "https://example.com/next", goAway.NewSessionURI)
}

func TestControlStreamEnqueueNeverBlocksOrDropsWhenStalled(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newFakeStream(1)
	s.blockWrites() // writeLoop stalls on the first Writev, so the queue grows behind it
	defer s.closeForReading()
	cs := newControlStream(s, func(wire.ControlMessage) error { return nil }, nil)
	defer func() { s.unblockWrites(); cs.close() }()

	// Nothing is draining the queue; every enqueue must still return
	// immediately and nothing may be dropped once writes resume.
	const n = 100
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			cs.enqueue(&wire.GoAwayMessage{NewSessionURI: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked instead of buffering unconditionally")
	}

	s.unblockWrites()
	waitFor(t, func() bool { return len(s.writes()) == n })
}

func TestControlStreamReadLoopDispatchesParsedMessages(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newFakeStream(1)
	defer s.closeForReading()
	received := make(chan wire.ControlMessage, 1)
	cs := newControlStream(s, func(m wire.ControlMessage) error {
		received <- m
		return nil
	}, nil)
	defer cs.close()

	s.feed((&wire.ClientSetupMessage{SupportedVersions: []wire.Version{wire.CurrentVersion}}).Append(nil))

	select {
	case m := <-received:
		_, ok := m.(*wire.ClientSetupMessage)
		assert.True(t, ok, "expected *wire.ClientSetupMessage, got %T", m)
	case <-time.After(time.Second):
		t.Fatal("readLoop never dispatched the fed message")
	}
}

func TestControlStreamReadLoopTerminatesOnHandlerError(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newFakeStream(1)
	var gotState controlStreamState
	stateCh := make(chan controlStreamState, 4)
	cs := newControlStream(s, func(wire.ControlMessage) error {
		return errors.New("boom")
	}, func(st controlStreamState) { stateCh <- st })
	defer cs.close()

	s.feed((&wire.ClientSetupMessage{SupportedVersions: []wire.Version{wire.CurrentVersion}}).Append(nil))

	select {
	case gotState = <-stateCh:
	case <-time.After(time.Second):
		t.Fatal("readLoop never reported a terminal state after a handler error")
	}
	assert.Equal(t, controlStreamTerminated, gotState)
}

func TestControlStreamReadLoopTerminatesOnEOF(t *testing.T) {
	defer goleak.VerifyNone(t)
	s := newFakeStream(1)
	stateCh := make(chan controlStreamState, 4)
	cs := newControlStream(s, func(wire.ControlMessage) error { return nil }, func(st controlStreamState) { stateCh <- st })
	defer cs.close()

	s.closeForReading()

	select {
	case st := <-stateCh:
		assert.Equal(t, controlStreamTerminated, st)
	case <-time.After(time.Second):
		t.Fatal("readLoop never terminated after the peer closed the stream")
	}
}

func TestControlStreamStateStringer(t *testing.T) {
	assert.Equal(t, "Initial", controlStreamInitial.String())
	assert.Equal(t, "AwaitingPeerSetup", controlStreamAwaitingPeerSetup.String())
	assert.Equal(t, "Established", controlStreamEstablished.String())
	assert.Equal(t, "Terminated", controlStreamTerminated.String())
	assert.Equal(t, "Unknown", controlStreamState(0xff).String())
}
