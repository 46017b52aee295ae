package moqtransport

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mengelbart/moqtransport/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// waitFor polls cond until it returns true or the deadline passes, failing
// the test otherwise. Session state transitions happen on goroutines the
// test doesn't otherwise synchronize with, so assertions need to wait
// rather than check once.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func parseOne(t *testing.T, raw [][]byte) wire.ControlMessage {
	t.Helper()
	buf := bytes.Join(raw, nil)
	msg, err := wire.NewControlMessageParser(bytes.NewReader(buf)).Parse()
	require.NoError(t, err)
	return msg
}

func TestSessionClientSendsClientSetup(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveClient)
	sess, err := NewSession(conn)
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	require.NotNil(t, conn.openedBidi)
	waitFor(t, func() bool { return len(conn.openedBidi.writes()) > 0 })

	msg := parseOne(t, conn.openedBidi.writes())
	setup, ok := msg.(*wire.ClientSetupMessage)
	require.True(t, ok, "expected *wire.ClientSetupMessage, got %T", msg)
	assert.Equal(t, []wire.Version{wire.CurrentVersion}, setup.SupportedVersions)
}

func TestSessionServerRespondsToClientSetup(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	var established atomicBool
	cb := SessionCallbacks{OnSessionEstablished: func() { established.set(true) }}
	sess, err := NewSession(conn, WithSessionCallbacks(cb))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.ClientSetupMessage{SupportedVersions: []wire.Version{wire.CurrentVersion}}).Append(nil))

	waitFor(t, func() bool { return len(pre.writes()) > 0 })
	msg := parseOne(t, pre.writes())
	reply, ok := msg.(*wire.ServerSetupMessage)
	require.True(t, ok, "expected *wire.ServerSetupMessage, got %T", msg)
	assert.Equal(t, wire.CurrentVersion, reply.SelectedVersion)
	waitFor(t, established.get)
}

func TestSessionServerRejectsUnsupportedVersion(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	var closed atomicBool
	var closeCode uint64
	cb := SessionCallbacks{OnSessionClosed: func(code uint64, reason string) {
		closeCode = code
		closed.set(true)
	}}
	sess, err := NewSession(conn, WithSessionCallbacks(cb))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.ClientSetupMessage{SupportedVersions: []wire.Version{wire.Version(0x1)}}).Append(nil))

	// no ServerSetupMessage should ever be written back, and the version
	// mismatch must close the session rather than merely dropping the
	// message.
	waitFor(t, closed.get)
	assert.Empty(t, pre.writes())
	assert.Equal(t, ErrorCodeVersionNegotiationFailed, closeCode)
}

func TestSessionHandleSubscribeTrackDoesNotExist(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	sess, err := NewSession(conn)
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.SubscribeMessage{
		RequestID:      7,
		TrackAlias:     70,
		TrackNamespace: []string{"missing"},
		TrackName:      "track",
		FilterType:     wire.FilterLatestObject,
	}).Append(nil))

	waitFor(t, func() bool { return len(pre.writes()) > 0 })
	msg := parseOne(t, pre.writes())
	errMsg, ok := msg.(*wire.SubscribeErrorMessage)
	require.True(t, ok, "expected *wire.SubscribeErrorMessage, got %T", msg)
	assert.Equal(t, uint64(7), errMsg.RequestID)
	assert.Equal(t, ErrorCodeSubscribeTrackDoesNotExist, errMsg.ErrorCode)
}

func TestSessionHandleSubscribeEmptyTrackRespondsOk(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	registry := NewLocalTrackRegistry()
	registry.AddTrack(FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"}, ForwardingPreferenceSubgroup, 128)

	sess, err := NewSession(conn, WithTrackPublisher(registry))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.SubscribeMessage{
		RequestID:      3,
		TrackAlias:     30,
		TrackNamespace: []string{"demo"},
		TrackName:      "clock",
		FilterType:     wire.FilterLatestObject,
	}).Append(nil))

	waitFor(t, func() bool { return len(pre.writes()) > 0 })
	msg := parseOne(t, pre.writes())
	ok2, ok := msg.(*wire.SubscribeOkMessage)
	require.True(t, ok, "expected *wire.SubscribeOkMessage, got %T", msg)
	assert.Equal(t, uint64(3), ok2.RequestID)
	assert.False(t, ok2.ContentExists)
}

func TestSessionHandleSubscribeUpdateNarrowsWindowAndTogglesForward(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	registry := NewLocalTrackRegistry()
	registry.AddTrack(FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"}, ForwardingPreferenceSubgroup, 128)

	sess, err := NewSession(conn, WithTrackPublisher(registry))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.SubscribeMessage{
		RequestID:          11,
		TrackAlias:         110,
		TrackNamespace:     []string{"demo"},
		TrackName:          "clock",
		FilterType:         wire.FilterLatestObject,
		SubscriberPriority: 0x80,
	}).Append(nil))

	var sub *PublishedSubscription
	waitFor(t, func() bool {
		sess.do(func() { sub = sess.publishedSubscriptions[11] })
		return sub != nil
	})

	pre.feed((&wire.SubscribeUpdateMessage{
		RequestID:          11,
		StartLocation:      wire.Location{Group: 5, Object: 2},
		EndGroup:           9,
		SubscriberPriority: 0x10,
		Forward:            false,
	}).Append(nil))

	waitFor(t, func() bool {
		w := sub.Window()
		return w.start == FullSequence{Group: 5, Object: 2}
	})
	w := sub.Window()
	assert.Equal(t, FullSequence{Group: 9, Object: unboundedGroup}, w.end)
	waitFor(t, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return !sub.forward
	})

	// Close must still be clean: the update did not report an error, so
	// the session stays open and no SubscribeErrorMessage is written.
	for _, raw := range pre.writes() {
		msg := parseOne(t, [][]byte{raw})
		_, isErr := msg.(*wire.SubscribeErrorMessage)
		assert.False(t, isErr, "unexpected error message %T", msg)
	}
}

func TestSessionHandleSubscribeUpdateRejectsBackwardStart(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	registry := NewLocalTrackRegistry()
	registry.AddTrack(FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"}, ForwardingPreferenceSubgroup, 128)

	var closed atomicBool
	cb := SessionCallbacks{OnSessionClosed: func(uint64, string) { closed.set(true) }}
	sess, err := NewSession(conn, WithTrackPublisher(registry), WithSessionCallbacks(cb))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.SubscribeMessage{
		RequestID:      12,
		TrackAlias:     120,
		TrackNamespace: []string{"demo"},
		TrackName:      "clock",
		FilterType:     wire.FilterAbsoluteStart,
		StartLocation:  wire.Location{Group: 5, Object: 0},
	}).Append(nil))

	waitFor(t, func() bool {
		var ok bool
		sess.do(func() { _, ok = sess.publishedSubscriptions[12] })
		return ok
	})

	// Moving the window start backward is a protocol violation and must
	// close the session rather than silently applying it.
	pre.feed((&wire.SubscribeUpdateMessage{
		RequestID:     12,
		StartLocation: wire.Location{Group: 1, Object: 0},
	}).Append(nil))

	waitFor(t, closed.get)
}

func TestSessionAnnounceRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	clientConn := newFakeConn(PerspectiveClient)
	sess, err := NewSession(clientConn)
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	waitFor(t, func() bool { return len(clientConn.openedBidi.writes()) > 0 })

	done := make(chan error, 1)
	go func() {
		done <- sess.Announce(context.Background(), []string{"live"})
	}()

	waitFor(t, func() bool { return len(clientConn.openedBidi.writes()) > 1 })
	msg := parseOne(t, [][]byte{clientConn.openedBidi.writes()[1]})
	announce, ok := msg.(*wire.AnnounceMessage)
	require.True(t, ok, "expected *wire.AnnounceMessage, got %T", msg)
	assert.Equal(t, []string{"live"}, announce.TrackNamespace)

	clientConn.openedBidi.feed((&wire.AnnounceOkMessage{TrackNamespace: []string{"live"}}).Append(nil))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Announce never returned")
	}
}

func TestSessionTrackEndingTearsDownPublishedSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	registry := NewLocalTrackRegistry()
	track := registry.AddTrack(FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"}, ForwardingPreferenceSubgroup, 128)

	sess, err := NewSession(conn, WithTrackPublisher(registry))
	require.NoError(t, err)
	defer sess.Close(0, "test done")

	pre.feed((&wire.SubscribeMessage{
		RequestID:      13,
		TrackAlias:     130,
		TrackNamespace: []string{"demo"},
		TrackName:      "clock",
		FilterType:     wire.FilterLatestObject,
	}).Append(nil))

	waitFor(t, func() bool {
		var ok bool
		sess.do(func() { _, ok = sess.publishedSubscriptions[13] })
		return ok
	})
	// the SUBSCRIBE_OK for the initial SUBSCRIBE is already in the write
	// log; the SUBSCRIBE_DONE below must be the next message after it.
	waitFor(t, func() bool { return len(pre.writes()) > 0 })
	before := len(pre.writes())

	track.End(ErrorCodeSubscribeDoneTrackEnded, "stream over")

	waitFor(t, func() bool { return len(pre.writes()) > before })
	writes := pre.writes()
	msg := parseOne(t, writes[before:])
	done, ok := msg.(*wire.SubscribeDoneMessage)
	require.True(t, ok, "expected *wire.SubscribeDoneMessage, got %T", msg)
	assert.Equal(t, uint64(13), done.RequestID)
	assert.Equal(t, ErrorCodeSubscribeDoneGoingAway, done.StatusCode)
	assert.Equal(t, "Publisher is gone", done.ReasonPhrase)

	waitFor(t, func() bool {
		var ok bool
		sess.do(func() { _, ok = sess.publishedSubscriptions[13] })
		return !ok
	})
}

func TestSessionCloseTerminatesPublishedSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	registry := NewLocalTrackRegistry()
	registry.AddTrack(FullTrackName{TrackNamespace: []string{"demo"}, TrackName: "clock"}, ForwardingPreferenceSubgroup, 128)

	sess, err := NewSession(conn, WithTrackPublisher(registry))
	require.NoError(t, err)

	pre.feed((&wire.SubscribeMessage{
		RequestID:      9,
		TrackAlias:     90,
		TrackNamespace: []string{"demo"},
		TrackName:      "clock",
		FilterType:     wire.FilterLatestObject,
	}).Append(nil))
	publishedCount := func() int {
		var n int
		sess.do(func() { n = len(sess.publishedSubscriptions) })
		return n
	}
	waitFor(t, func() bool { return publishedCount() > 0 })

	require.NoError(t, sess.Close(0, "shutting down"))
	// Close is idempotent and must not block or error on a second call
	// once every published subscription has already been torn down.
	assert.NoError(t, sess.Close(0, "shutting down again"))
}

// TestSessionCloseConcurrentCallsDoNotPanic guards against the race in a
// naive "select on s.closed, default: tear down" idempotency check: two
// callers can both observe the channel as open and both proceed to close
// it, panicking on the second close. sync.Once must serialize them.
func TestSessionCloseConcurrentCallsDoNotPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	conn := newFakeConn(PerspectiveServer)
	pre := newFakeStream(1)
	conn.pushBidiStream(pre)

	sess, err := NewSession(conn)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = sess.Close(0, "concurrent close")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "close %d", i)
	}
}
