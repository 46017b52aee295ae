package moqtransport

import "github.com/mengelbart/moqtransport/internal/wire"

// defaultSubscriberPriority is used for subscriptions that did not
// negotiate an explicit priority, matching kDefaultSubscriberPriority in
// the original session implementation.
const defaultSubscriberPriority uint8 = 0x80

// sendOrder packs subscriber priority, publisher priority and delivery
// position into a single ordering key so that a single PrioritizedStreamQueue
// can compare candidates across different subscriptions and tracks.
//
// Layout, highest bits first: subscriber priority (8 bits, inverted so
// numerically smaller priority values sort first) | publisher priority (8
// bits, inverted) | group id (low 48 bits, inverted for ascending order
// support so the lower-numbered group sorts first). The subgroup id is not
// part of the key.
type sendOrder uint64

// SendOrderForStream composes the ordering key for a stream carrying
// objects at groupID/subgroupID, accounting for ascending/descending group
// delivery order. Higher sendOrder values are scheduled first: lower
// priority numbers (more urgent, per MoQT's "0 is highest" convention)
// invert to larger composite values, and whichever group delivery order
// calls for comes first invert to larger composite values too.
func SendOrderForStream(subscriberPriority, publisherPriority uint8, groupID, subgroupID uint64, order wire.GroupOrder) sendOrder {
	g := groupID
	if order == wire.GroupOrderAscending {
		g = ^groupID
	}
	sp := uint64(^subscriberPriority)
	pp := uint64(^publisherPriority)

	return sendOrder(sp)<<56 | sendOrder(pp)<<48 | sendOrder(g&0xffffffffffff)
	// subgroupID intentionally does not participate: ties within a group
	// are broken by stream scheduling (FIFO admission), not by sequence.
}

// stripSubscriberPriority removes the top 8 bits so a per-subscription
// local queue can key purely on publisher priority and position, with the
// subscriber-priority bits re-applied once a candidate is promoted to the
// session-wide PrioritizedStreamQueue (see SPEC_FULL.md §4.3 / Design
// Notes §9).
func stripSubscriberPriority(o sendOrder) sendOrder {
	return o &^ (sendOrder(0xff) << 56)
}

func applySubscriberPriority(o sendOrder, subscriberPriority uint8) sendOrder {
	return stripSubscriberPriority(o) | sendOrder(^subscriberPriority)<<56
}
