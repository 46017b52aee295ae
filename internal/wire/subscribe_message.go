package wire

import "github.com/quic-go/quic-go/quicvarint"

// SubscribeMessage requests delivery of a track's objects.
type SubscribeMessage struct {
	RequestID          uint64
	TrackAlias         uint64
	TrackNamespace     []string
	TrackName          string
	SubscriberPriority uint8
	GroupOrder         GroupOrder
	Forward            bool
	FilterType         FilterType
	StartLocation      Location
	EndGroup           uint64
	Parameters         KVPList
}

func (m *SubscribeMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribe))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = quicvarint.Append(buf, m.TrackAlias)
	buf = quicvarint.Append(buf, uint64(len(m.TrackNamespace)))
	for _, part := range m.TrackNamespace {
		buf = appendVarIntBytes(buf, []byte(part))
	}
	buf = appendVarIntBytes(buf, []byte(m.TrackName))
	buf = append(buf, m.SubscriberPriority)
	buf = append(buf, byte(m.GroupOrder))
	if m.Forward {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = quicvarint.Append(buf, uint64(m.FilterType))
	switch m.FilterType {
	case FilterAbsoluteStart, FilterAbsoluteRange:
		buf = m.StartLocation.append(buf)
	}
	if m.FilterType == FilterAbsoluteRange {
		buf = quicvarint.Append(buf, m.EndGroup)
	}
	return m.Parameters.appendNum(buf)
}

func (m *SubscribeMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]

	m.TrackAlias, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]

	numParts, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	for i := uint64(0); i < numParts; i++ {
		var b []byte
		b, n, err = parseVarIntBytes(data)
		if err != nil {
			return err
		}
		m.TrackNamespace = append(m.TrackNamespace, string(b))
		data = data[n:]
	}

	var name []byte
	name, n, err = parseVarIntBytes(data)
	if err != nil {
		return err
	}
	m.TrackName = string(name)
	data = data[n:]

	if len(data) < 3 {
		return errMalformedMessage
	}
	m.SubscriberPriority = data[0]
	m.GroupOrder = GroupOrder(data[1])
	m.Forward = data[2] != 0
	data = data[3:]

	var ft uint64
	ft, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.FilterType = FilterType(ft)
	data = data[n:]

	switch m.FilterType {
	case FilterAbsoluteStart, FilterAbsoluteRange:
		n, err = m.StartLocation.parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	if m.FilterType == FilterAbsoluteRange {
		m.EndGroup, n, err = quicvarint.Parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}

	_, err = m.Parameters.parseNum(data)
	return err
}

// SubscribeOkMessage accepts a SubscribeMessage.
type SubscribeOkMessage struct {
	RequestID       uint64
	Expires         uint64
	GroupOrder      GroupOrder
	ContentExists   bool
	LargestLocation Location
	Parameters      KVPList
}

func (m *SubscribeOkMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeOk))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeOkMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = quicvarint.Append(buf, m.Expires)
	buf = append(buf, byte(m.GroupOrder))
	if m.ContentExists {
		buf = append(buf, 1)
		buf = m.LargestLocation.append(buf)
	} else {
		buf = append(buf, 0)
	}
	return m.Parameters.appendNum(buf)
}

func (m *SubscribeOkMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	m.Expires, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	if len(data) < 2 {
		return errMalformedMessage
	}
	m.GroupOrder = GroupOrder(data[0])
	m.ContentExists = data[1] != 0
	data = data[2:]
	if m.ContentExists {
		n, err = m.LargestLocation.parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	_, err = m.Parameters.parseNum(data)
	return err
}

// SubscribeErrorMessage rejects a SubscribeMessage.
type SubscribeErrorMessage struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
	TrackAlias   uint64
}

func (m *SubscribeErrorMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeError))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeErrorMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = quicvarint.Append(buf, m.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(m.ReasonPhrase))
	return quicvarint.Append(buf, m.TrackAlias)
}

func (m *SubscribeErrorMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	m.ErrorCode, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	var reason []byte
	reason, n, err = parseVarIntBytes(data)
	if err != nil {
		return err
	}
	m.ReasonPhrase = string(reason)
	data = data[n:]
	m.TrackAlias, _, err = quicvarint.Parse(data)
	return err
}

// UnsubscribeMessage cancels a previously issued subscription.
type UnsubscribeMessage struct {
	RequestID uint64
}

func (m *UnsubscribeMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeUnsubscribe))
	payload := quicvarint.Append(nil, m.RequestID)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *UnsubscribeMessage) parse(_ Version, data []byte) error {
	v, _, err := quicvarint.Parse(data)
	m.RequestID = v
	return err
}

// SubscribeUpdateMessage narrows the window of an open subscription.
type SubscribeUpdateMessage struct {
	RequestID          uint64
	StartLocation      Location
	EndGroup           uint64
	SubscriberPriority uint8
	Forward            bool
	Parameters         KVPList
}

func (m *SubscribeUpdateMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeUpdate))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeUpdateMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = m.StartLocation.append(buf)
	buf = quicvarint.Append(buf, m.EndGroup)
	buf = append(buf, m.SubscriberPriority)
	if m.Forward {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return m.Parameters.appendNum(buf)
}

func (m *SubscribeUpdateMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	n, err = m.StartLocation.parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	m.EndGroup, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	if len(data) < 2 {
		return errMalformedMessage
	}
	m.SubscriberPriority = data[0]
	m.Forward = data[1] != 0
	data = data[2:]
	_, err = m.Parameters.parseNum(data)
	return err
}

// SubscribeDoneMessage notifies a subscriber that no more objects will be
// delivered for a subscription. FinalID carries the largest group/object
// actually sent for the subscription, so the subscriber can tell a clean
// end from a truncated one.
type SubscribeDoneMessage struct {
	RequestID    uint64
	StatusCode   uint64
	StreamCount  uint64
	ReasonPhrase string
	FinalID      Location
}

func (m *SubscribeDoneMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeDone))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeDoneMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = quicvarint.Append(buf, m.StatusCode)
	buf = quicvarint.Append(buf, m.StreamCount)
	buf = appendVarIntBytes(buf, []byte(m.ReasonPhrase))
	return m.FinalID.append(buf)
}

func (m *SubscribeDoneMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	m.StatusCode, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	m.StreamCount, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	var reason []byte
	reason, n, err = parseVarIntBytes(data)
	if err != nil {
		return err
	}
	m.ReasonPhrase = string(reason)
	data = data[n:]
	_, err = m.FinalID.parse(data)
	return err
}
