package moqtransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestOutgoingDataStream(id uint64, group, subgroup uint64) *OutgoingDataStream {
	return NewOutgoingDataStream(newFakeStream(id), 1, 1, FullSequence{Group: group, Subgroup: subgroup}, nil, nil, nil, nil)
}

func TestSendStreamMapPutGet(t *testing.T) {
	m := newSendStreamMap(ForwardingPreferenceSubgroup)
	s := newTestOutgoingDataStream(1, 2, 3)
	m.put(2, 3, s)

	got, ok := m.get(2, 3)
	assert.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.get(2, 4)
	assert.False(t, ok)
}

func TestSendStreamMapRemove(t *testing.T) {
	m := newSendStreamMap(ForwardingPreferenceSubgroup)
	s := newTestOutgoingDataStream(1, 2, 3)
	m.put(2, 3, s)

	m.remove(2, 3)
	_, ok := m.get(2, 3)
	assert.False(t, ok)

	// remove is a no-op for an absent key.
	m.remove(2, 3)
}

func TestSendStreamMapRemoveGroupOnlyAffectsThatGroup(t *testing.T) {
	m := newSendStreamMap(ForwardingPreferenceSubgroup)
	groupTwoSub0 := newTestOutgoingDataStream(1, 2, 0)
	groupTwoSub1 := newTestOutgoingDataStream(2, 2, 1)
	groupThreeSub0 := newTestOutgoingDataStream(3, 3, 0)

	m.put(2, 0, groupTwoSub0)
	m.put(2, 1, groupTwoSub1)
	m.put(3, 0, groupThreeSub0)

	removed := m.removeGroup(2)
	assert.Len(t, removed, 2)
	assert.ElementsMatch(t, []*OutgoingDataStream{groupTwoSub0, groupTwoSub1}, removed)

	remaining := m.all()
	assert.Equal(t, []*OutgoingDataStream{groupThreeSub0}, remaining)
}

func TestSendStreamMapAll(t *testing.T) {
	m := newSendStreamMap(ForwardingPreferenceSubgroup)
	assert.Empty(t, m.all())

	a := newTestOutgoingDataStream(1, 0, 0)
	b := newTestOutgoingDataStream(2, 1, 0)
	m.put(0, 0, a)
	m.put(1, 0, b)

	assert.ElementsMatch(t, []*OutgoingDataStream{a, b}, m.all())
}
