package wire

import "github.com/quic-go/quic-go/quicvarint"

// FetchType selects between a standalone range fetch and a fetch relative
// to a joining subscription.
type FetchType uint64

const (
	FetchTypeStandalone FetchType = 0x1
	FetchTypeJoining    FetchType = 0x2
)

// FetchMessage requests delivery of a bounded range of a track's objects
// over a dedicated stream, independent of any live subscription.
type FetchMessage struct {
	RequestID          uint64
	SubscriberPriority  uint8
	GroupOrder          GroupOrder
	FetchType           FetchType
	TrackNamespace      []string
	TrackName           string
	StartLocation       Location
	EndLocation         Location
	JoiningSubscribeID  uint64
	PrecedingGroupOffset uint64
	Parameters          KVPList
}

func (m *FetchMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeFetch))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *FetchMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = append(buf, m.SubscriberPriority)
	buf = append(buf, byte(m.GroupOrder))
	buf = quicvarint.Append(buf, uint64(m.FetchType))
	switch m.FetchType {
	case FetchTypeStandalone:
		buf = appendNamespace(buf, m.TrackNamespace)
		buf = appendVarIntBytes(buf, []byte(m.TrackName))
		buf = m.StartLocation.append(buf)
		buf = m.EndLocation.append(buf)
	case FetchTypeJoining:
		buf = quicvarint.Append(buf, m.JoiningSubscribeID)
		buf = quicvarint.Append(buf, m.PrecedingGroupOffset)
	}
	return m.Parameters.appendNum(buf)
}

func (m *FetchMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	if len(data) < 1 {
		return errMalformedMessage
	}
	m.SubscriberPriority = data[0]
	m.GroupOrder = GroupOrder(data[1])
	data = data[2:]

	var ft uint64
	ft, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.FetchType = FetchType(ft)
	data = data[n:]

	switch m.FetchType {
	case FetchTypeStandalone:
		ns, n, err := parseNamespace(data)
		if err != nil {
			return err
		}
		m.TrackNamespace = ns
		data = data[n:]
		var name []byte
		name, n, err = parseVarIntBytes(data)
		if err != nil {
			return err
		}
		m.TrackName = string(name)
		data = data[n:]
		n, err = m.StartLocation.parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
		n, err = m.EndLocation.parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
	case FetchTypeJoining:
		m.JoiningSubscribeID, n, err = quicvarint.Parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
		m.PrecedingGroupOffset, n, err = quicvarint.Parse(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	_, err = m.Parameters.parseNum(data)
	return err
}

// FetchOkMessage accepts a FetchMessage.
type FetchOkMessage struct {
	RequestID       uint64
	GroupOrder      GroupOrder
	EndOfTrack      bool
	LargestLocation Location
	Parameters      KVPList
}

func (m *FetchOkMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeFetchOk))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *FetchOkMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.RequestID)
	buf = append(buf, byte(m.GroupOrder))
	if m.EndOfTrack {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = m.LargestLocation.append(buf)
	return m.Parameters.appendNum(buf)
}

func (m *FetchOkMessage) parse(_ Version, data []byte) error {
	var n int
	var err error
	m.RequestID, n, err = quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	if len(data) < 2 {
		return errMalformedMessage
	}
	m.GroupOrder = GroupOrder(data[0])
	m.EndOfTrack = data[1] != 0
	data = data[2:]
	n, err = m.LargestLocation.parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	_, err = m.Parameters.parseNum(data)
	return err
}

// FetchErrorMessage rejects a FetchMessage.
type FetchErrorMessage struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

func (m *FetchErrorMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeFetchError))
	payload := quicvarint.Append(nil, m.RequestID)
	payload = quicvarint.Append(payload, m.ErrorCode)
	payload = appendVarIntBytes(payload, []byte(m.ReasonPhrase))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *FetchErrorMessage) parse(_ Version, data []byte) error {
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
	reason, _, err := parseVarIntBytes(data)
	m.ReasonPhrase = string(reason)
	return err
}

// FetchCancelMessage cancels an outstanding fetch.
type FetchCancelMessage struct {
	RequestID uint64
}

func (m *FetchCancelMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeFetchCancel))
	payload := quicvarint.Append(nil, m.RequestID)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *FetchCancelMessage) parse(_ Version, data []byte) error {
	v, _, err := quicvarint.Parse(data)
	m.RequestID = v
	return err
}

// TrackStatusRequestMessage asks for the current status of a track without
// subscribing to it.
type TrackStatusRequestMessage struct {
	TrackNamespace []string
	TrackName      string
}

func (m *TrackStatusRequestMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeTrackStatus))
	payload := appendNamespace(nil, m.TrackNamespace)
	payload = appendVarIntBytes(payload, []byte(m.TrackName))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *TrackStatusRequestMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespace = ns
	data = data[n:]
	name, _, err := parseVarIntBytes(data)
	m.TrackName = string(name)
	return err
}

// TrackStatusCode describes whether/how a track currently exists.
type TrackStatusCode uint64

const (
	TrackStatusInProgress        TrackStatusCode = 0x0
	TrackStatusDoesNotExist      TrackStatusCode = 0x1
	TrackStatusNotYetBegun       TrackStatusCode = 0x2
	TrackStatusFinished          TrackStatusCode = 0x3
)

// TrackStatusMessage answers a TrackStatusRequestMessage.
type TrackStatusMessage struct {
	StatusCode      TrackStatusCode
	LargestLocation Location
}

func (m *TrackStatusMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeTrackStatusOk))
	payload := quicvarint.Append(nil, uint64(m.StatusCode))
	payload = m.LargestLocation.append(payload)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *TrackStatusMessage) parse(_ Version, data []byte) error {
	v, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.StatusCode = TrackStatusCode(v)
	data = data[n:]
	_, err = m.LargestLocation.parse(data)
	return err
}
