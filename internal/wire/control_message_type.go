package wire

type controlMessageType uint64

const (
	messageTypeClientSetup controlMessageType = 0x20
	messageTypeServerSetup controlMessageType = 0x21

	messageTypeGoAway controlMessageType = 0x10

	messageTypeMaxRequestID      controlMessageType = 0x15
	messageTypeRequestsBlocked   controlMessageType = 0x1a

	messageTypeSubscribe       controlMessageType = 0x03
	messageTypeSubscribeOk     controlMessageType = 0x04
	messageTypeSubscribeError  controlMessageType = 0x05
	messageTypeUnsubscribe     controlMessageType = 0x0a
	messageTypeSubscribeUpdate controlMessageType = 0x02
	messageTypeSubscribeDone   controlMessageType = 0x0b

	messageTypeFetch       controlMessageType = 0x16
	messageTypeFetchOk     controlMessageType = 0x18
	messageTypeFetchError  controlMessageType = 0x19
	messageTypeFetchCancel controlMessageType = 0x17

	messageTypeTrackStatus   controlMessageType = 0x0d
	messageTypeTrackStatusOk controlMessageType = 0x0e

	messageTypeAnnounce       controlMessageType = 0x06
	messageTypeAnnounceOk     controlMessageType = 0x07
	messageTypeAnnounceError  controlMessageType = 0x08
	messageTypeUnannounce     controlMessageType = 0x09
	messageTypeAnnounceCancel controlMessageType = 0x0c

	messageTypeSubscribeNamespace        controlMessageType = 0x11
	messageTypeSubscribeNamespaceOk      controlMessageType = 0x12
	messageTypeSubscribeNamespaceError   controlMessageType = 0x13
	messageTypeUnsubscribeNamespace      controlMessageType = 0x14
)

// FilterType selects which objects of a track a SUBSCRIBE covers.
type FilterType uint64

const (
	FilterLatestObject   FilterType = 0x1
	FilterNextGroupStart FilterType = 0x2
	FilterAbsoluteStart  FilterType = 0x3
	FilterAbsoluteRange  FilterType = 0x4
)

// GroupOrder selects the delivery order of groups within a subscription.
type GroupOrder uint8

const (
	GroupOrderDefault    GroupOrder = 0x0
	GroupOrderAscending  GroupOrder = 0x1
	GroupOrderDescending GroupOrder = 0x2
)
