package moqtransport

import "sync"

// PublishedObject is a single object handed to a track by the publishing
// application, in the vocabulary LocalTrack stores it in before the
// session turns it into wire messages.
type PublishedObject struct {
	FullSequence
	Priority uint8
	Status   uint64
	Payload  []byte
}

// ObjectListener is notified synchronously whenever a LocalTrack receives
// a new object, mirroring the teacher's channel-fed localTrackSender.loop
// but delivered as a direct call since dispatch onto the session's actor
// loop is this module's responsibility, not the track's.
type ObjectListener func(o PublishedObject)

// TrackStatusListener is notified when a track's lifecycle status changes
// (e.g. ended), for SUBSCRIBE_DONE / TRACK_STATUS support.
type TrackStatusListener func(status uint64, reason string)

// GroupAbandonedListener is notified when a track's publisher gives up on a
// group before finishing it, so a subscription watching the track can reset
// its open streams for that group instead of waiting on objects that will
// never arrive (spec.md §4.4's OnGroupAbandoned).
type GroupAbandonedListener func(group uint64)

// TrackPublisher is the external collaborator spec.md §6 names as the
// publisher registry's per-track handle: the session core only calls
// these methods, never constructs a track itself.
type TrackPublisher interface {
	// GetTrack resolves name to a publishable track, or ok=false if
	// nothing is published under that name.
	GetTrack(name FullTrackName) (PublishedTrack, bool)
}

// PublishedTrack is the per-track object a TrackPublisher resolves to.
type PublishedTrack interface {
	FullTrackName() FullTrackName
	ForwardingPreference() ForwardingPreference
	DefaultPriority() uint8

	// LargestLocation reports the latest produced sequence, ok=false if
	// nothing has been produced yet.
	LargestLocation() (FullSequence, bool)

	// GetCachedObject returns the object at seq if still cached, so an
	// OutgoingDataStream can pull the next object in its unit rather than
	// being handed one directly.
	GetCachedObject(seq FullSequence) (PublishedObject, bool)

	// Subscribe registers l to be called for every object at or after
	// start; it returns any already-cached objects in [start, largest]
	// so the new subscriber is caught up before live delivery begins.
	Subscribe(start FullSequence, l ObjectListener) (backlog []PublishedObject, cancel func())

	// OnStatusChange registers l to be called when the track ends.
	OnStatusChange(l TrackStatusListener) (cancel func())

	// OnGroupAbandoned registers l to be called when the track's publisher
	// abandons a group before finishing it.
	OnGroupAbandoned(l GroupAbandonedListener) (cancel func())
}

// LocalTrackRegistry is the in-memory PublishedTrack registry this module
// ships, grounded on the teacher's local_track.go/publisher.go. Per
// SPEC_FULL.md §4.9 / DESIGN.md, each Session owns its own instance rather
// than sharing a package-level singleton.
type LocalTrackRegistry struct {
	mu     sync.RWMutex
	tracks map[string]*LocalTrack
}

func NewLocalTrackRegistry() *LocalTrackRegistry {
	return &LocalTrackRegistry{tracks: make(map[string]*LocalTrack)}
}

func (r *LocalTrackRegistry) GetTrack(name FullTrackName) (PublishedTrack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tracks[name.key()]
	return t, ok
}

// AddTrack publishes a new track under name, replacing anything already
// there. This is the application-facing half of the registry; it is not
// part of the TrackPublisher interface the session core consumes.
func (r *LocalTrackRegistry) AddTrack(name FullTrackName, pref ForwardingPreference, priority uint8) *LocalTrack {
	t := newLocalTrack(name, pref, priority)
	r.mu.Lock()
	r.tracks[name.key()] = t
	r.mu.Unlock()
	return t
}

func (r *LocalTrackRegistry) RemoveTrack(name FullTrackName) {
	r.mu.Lock()
	delete(r.tracks, name.key())
	r.mu.Unlock()
}

// cacheLimit bounds how many trailing objects per track LocalTrack retains
// for late-joining subscribers using FilterLatestObject/AbsoluteStart.
const cacheLimit = 1024

// LocalTrack is the default PublishedTrack implementation: an in-memory
// object cache plus a synchronous listener fan-out, generalizing the
// teacher's LocalTrack (publisher.go) from a connection-bound sender into
// a transport-agnostic object source the session wraps per subscription.
type LocalTrack struct {
	mu         sync.Mutex
	name       FullTrackName
	pref       ForwardingPreference
	priority   uint8
	cache      []PublishedObject
	byKey      map[FullSequence]PublishedObject
	largest    FullSequence
	hasObjects bool
	listeners  map[int]ObjectListener
	statusSubs map[int]TrackStatusListener
	groupSubs  map[int]GroupAbandonedListener
	nextID     int
	ended      bool
}

func newLocalTrack(name FullTrackName, pref ForwardingPreference, priority uint8) *LocalTrack {
	return &LocalTrack{
		name:       name,
		pref:       pref,
		priority:   priority,
		byKey:      make(map[FullSequence]PublishedObject),
		listeners:  make(map[int]ObjectListener),
		statusSubs: make(map[int]TrackStatusListener),
		groupSubs:  make(map[int]GroupAbandonedListener),
	}
}

func (t *LocalTrack) FullTrackName() FullTrackName               { return t.name }
func (t *LocalTrack) ForwardingPreference() ForwardingPreference { return t.pref }
func (t *LocalTrack) DefaultPriority() uint8                     { return t.priority }

func (t *LocalTrack) LargestLocation() (FullSequence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.largest, t.hasObjects
}

// GetCachedObject returns the object at seq if it is still within the
// trailing cacheLimit objects retained for the track.
func (t *LocalTrack) GetCachedObject(seq FullSequence) (PublishedObject, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.byKey[seq]
	return o, ok
}

// PublishObject appends o to the cache and notifies every live subscriber,
// synchronously, on the caller's goroutine — the application is expected
// to call this from whatever goroutine produces its media, same as the
// teacher's LocalTrack.SendDatagram/OpenSubgroup path being driven by
// application code rather than by the session.
func (t *LocalTrack) PublishObject(o PublishedObject) {
	t.mu.Lock()
	t.cache = append(t.cache, o)
	t.byKey[o.FullSequence] = o
	if len(t.cache) > cacheLimit {
		evicted := t.cache[0]
		delete(t.byKey, evicted.FullSequence)
		t.cache = t.cache[1:]
	}
	if !t.hasObjects || t.largest.Less(o.FullSequence) {
		t.largest = o.FullSequence
		t.hasObjects = true
	}
	listeners := make([]ObjectListener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	for _, l := range listeners {
		l(o)
	}
}

// End marks the track finished, notifying every status listener; no
// further PublishObject calls are expected after this.
func (t *LocalTrack) End(status uint64, reason string) {
	t.mu.Lock()
	t.ended = true
	subs := make([]TrackStatusListener, 0, len(t.statusSubs))
	for _, l := range t.statusSubs {
		subs = append(subs, l)
	}
	t.mu.Unlock()

	for _, l := range subs {
		l(status, reason)
	}
}

func (t *LocalTrack) Subscribe(start FullSequence, l ObjectListener) ([]PublishedObject, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var backlog []PublishedObject
	for _, o := range t.cache {
		if !o.FullSequence.Less(start) {
			backlog = append(backlog, o)
		}
	}

	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	return backlog, func() {
		t.mu.Lock()
		delete(t.listeners, id)
		t.mu.Unlock()
	}
}

// AbandonGroup notifies every subscription watching the track that group
// will never be completed, so each can reset its streams for it with
// TimedOut instead of waiting on objects that will never arrive.
func (t *LocalTrack) AbandonGroup(group uint64) {
	t.mu.Lock()
	subs := make([]GroupAbandonedListener, 0, len(t.groupSubs))
	for _, l := range t.groupSubs {
		subs = append(subs, l)
	}
	t.mu.Unlock()

	for _, l := range subs {
		l(group)
	}
}

func (t *LocalTrack) OnGroupAbandoned(l GroupAbandonedListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.groupSubs[id] = l
	return func() {
		t.mu.Lock()
		delete(t.groupSubs, id)
		t.mu.Unlock()
	}
}

func (t *LocalTrack) OnStatusChange(l TrackStatusListener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.statusSubs[id] = l
	if t.ended {
		go l(ErrorCodeSubscribeDoneTrackEnded, "track already ended")
	}
	return func() {
		t.mu.Lock()
		delete(t.statusSubs, id)
		t.mu.Unlock()
	}
}
