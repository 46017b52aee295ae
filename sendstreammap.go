package moqtransport

import "sync"

// ForwardingPreference selects how a publisher delivers a track's objects:
// everything on one stream for the whole track, one stream per group, one
// stream per subgroup (grouped), or standalone datagrams with no enclosing
// stream at all.
type ForwardingPreference uint8

const (
	ForwardingPreferenceTrack ForwardingPreference = iota
	ForwardingPreferenceGroup
	ForwardingPreferenceSubgroup
	ForwardingPreferenceDatagram
)

// reducedIndex collapses a (group, subgroup) pair to the key a stream is
// actually indexed under, per the preference in force: per-track forwarding
// ignores both and shares one stream; per-group forwarding ignores the
// subgroup; per-subgroup forwarding (the default) keys on both, generalizing
// the teacher's per-Subgroup map in subgroup.go/local_track_sender.go to the
// fuller forwarding-preference space named in SPEC_FULL.md §3/§4.4.
// Datagram forwarding never calls this: objects bypass the stream map
// entirely.
func (p ForwardingPreference) reducedIndex(group, subgroup uint64) FullSequence {
	switch p {
	case ForwardingPreferenceTrack:
		return FullSequence{}
	case ForwardingPreferenceGroup:
		return FullSequence{Group: group}
	default:
		return FullSequence{Group: group, Subgroup: subgroup}
	}
}

// sendStreamMap indexes a PublishedSubscription's open OutgoingDataStreams
// by the reduced sequence index that the forwarding preference in force
// derives from (groupID, subgroupID), so that ObjectAvailable events can be
// routed to an already-open stream or trigger opening a new one.
type sendStreamMap struct {
	mu         sync.Mutex
	preference ForwardingPreference
	streams    map[FullSequence]*OutgoingDataStream
}

func newSendStreamMap(pref ForwardingPreference) *sendStreamMap {
	return &sendStreamMap{
		preference: pref,
		streams:    make(map[FullSequence]*OutgoingDataStream),
	}
}

// forwardingPreference reports the preference this map was constructed
// with, so a caller can branch to the datagram path, which bypasses the
// map entirely.
func (m *sendStreamMap) forwardingPreference() ForwardingPreference {
	return m.preference
}

func (m *sendStreamMap) get(group, subgroup uint64) (*OutgoingDataStream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[m.preference.reducedIndex(group, subgroup)]
	return s, ok
}

func (m *sendStreamMap) put(group, subgroup uint64, s *OutgoingDataStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[m.preference.reducedIndex(group, subgroup)] = s
}

func (m *sendStreamMap) remove(group, subgroup uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, m.preference.reducedIndex(group, subgroup))
}

// removeGroup drops every stream belonging to group, returning the streams
// removed so the caller can close them. Under per-track forwarding the
// single shared stream carries every group, so removeGroup never removes
// it; it stays in the map until it is removed or closed by other means.
func (m *sendStreamMap) removeGroup(group uint64) []*OutgoingDataStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*OutgoingDataStream
	for k, s := range m.streams {
		switch m.preference {
		case ForwardingPreferenceTrack:
			continue
		case ForwardingPreferenceGroup, ForwardingPreferenceSubgroup:
			if k.Group != group {
				continue
			}
		}
		removed = append(removed, s)
		delete(m.streams, k)
	}
	return removed
}

// all returns every open stream, for teardown.
func (m *sendStreamMap) all() []*OutgoingDataStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*OutgoingDataStream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}
