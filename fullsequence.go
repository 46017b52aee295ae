package moqtransport

import "fmt"

// FullSequence identifies one object's position within a track: which
// group, which subgroup within the group, and which object within the
// subgroup.
type FullSequence struct {
	Group    uint64
	Subgroup uint64
	Object   uint64
}

// Less orders two sequences first by group, then subgroup, then object,
// matching ascending group order (the stream-scheduling default).
func (s FullSequence) Less(o FullSequence) bool {
	if s.Group != o.Group {
		return s.Group < o.Group
	}
	if s.Subgroup != o.Subgroup {
		return s.Subgroup < o.Subgroup
	}
	return s.Object < o.Object
}

func (s FullSequence) String() string {
	return fmt.Sprintf("(%d/%d/%d)", s.Group, s.Subgroup, s.Object)
}

// FullTrackName identifies a track by its namespace tuple and track name.
// Namespace parts are joined with a NUL separator for use as a map key;
// callers needing the parts back should keep the []string alongside.
type FullTrackName struct {
	TrackNamespace []string
	TrackName      string
}

func (n FullTrackName) key() string {
	k := n.TrackName
	for _, p := range n.TrackNamespace {
		k += "\x00" + p
	}
	return k
}

func (n FullTrackName) String() string {
	s := ""
	for _, p := range n.TrackNamespace {
		s += p + "/"
	}
	return s + n.TrackName
}
