package moqtransport

import (
	"math"

	"github.com/mengelbart/moqtransport/internal/wire"
)

// subscribeWindow bounds the range of a track a subscription covers: a
// half-open or closed interval of FullSequence, open-ended until the
// largest location seen so far when the upper bound is unset.
type subscribeWindow struct {
	start FullSequence
	end   FullSequence // end.Group == math.MaxUint64 means unbounded
}

const unboundedGroup = math.MaxUint64

func newOpenEndedWindow(start FullSequence) subscribeWindow {
	return subscribeWindow{start: start, end: FullSequence{Group: unboundedGroup}}
}

func (w subscribeWindow) unbounded() bool {
	return w.end.Group == unboundedGroup
}

// contains reports whether seq falls inside the window. The upper bound is
// a group limit (inclusive): every object in end.Group still counts.
func (w subscribeWindow) contains(seq FullSequence) bool {
	if seq.Less(w.start) {
		return false
	}
	if w.unbounded() {
		return true
	}
	return seq.Group <= w.end.Group
}

// updateStart narrows the window's lower bound forward, as performed by a
// SUBSCRIBE_UPDATE; it is a protocol violation to move the bound backward,
// left for the caller to detect.
func (w *subscribeWindow) updateStart(start FullSequence) {
	w.start = start
}

// resolveSubscribeWindow determines the concrete window implied by a
// SubscribeMessage's filter type, given the track's current largest known
// location (largest.Group == 0 && largest.Object == 0 && !trackHasObjects
// means the track has produced nothing yet). This mirrors
// SubscribeMessageToWindow in the original C++ session implementation.
func resolveSubscribeWindow(m *wire.SubscribeMessage, largest FullSequence, trackHasObjects bool) (subscribeWindow, error) {
	switch m.FilterType {
	case wire.FilterLatestObject:
		if !trackHasObjects {
			return newOpenEndedWindow(FullSequence{}), nil
		}
		return newOpenEndedWindow(largest), nil
	case wire.FilterNextGroupStart:
		next := largest.Group
		if trackHasObjects {
			next++
		}
		return newOpenEndedWindow(FullSequence{Group: next}), nil
	case wire.FilterAbsoluteStart:
		start := FullSequence{Group: m.StartLocation.Group, Object: m.StartLocation.Object}
		return newOpenEndedWindow(start), nil
	case wire.FilterAbsoluteRange:
		start := FullSequence{Group: m.StartLocation.Group, Object: m.StartLocation.Object}
		if m.EndGroup < start.Group {
			return subscribeWindow{}, ProtocolError{
				code:    ErrorCodeSubscribeInvalidRange,
				message: "end group precedes start group",
			}
		}
		return subscribeWindow{
			start: start,
			end:   FullSequence{Group: m.EndGroup, Object: unboundedGroup},
		}, nil
	default:
		return subscribeWindow{}, ProtocolError{
			code:    ErrorCodeProtocolViolation,
			message: "unknown filter type",
		}
	}
}
