package wire

import "github.com/quic-go/quic-go/quicvarint"

// ClientSetupMessage is the first message sent on a control stream.
type ClientSetupMessage struct {
	SupportedVersions []Version
	Parameters        KVPList
}

func (m *ClientSetupMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeClientSetup))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *ClientSetupMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(m.SupportedVersions)))
	for _, v := range m.SupportedVersions {
		buf = quicvarint.Append(buf, uint64(v))
	}
	return m.Parameters.appendNum(buf)
}

func (m *ClientSetupMessage) parse(_ Version, data []byte) error {
	num, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	data = data[n:]
	for i := uint64(0); i < num; i++ {
		v, n, err := quicvarint.Parse(data)
		if err != nil {
			return err
		}
		m.SupportedVersions = append(m.SupportedVersions, Version(v))
		data = data[n:]
	}
	_, err = m.Parameters.parseNum(data)
	return err
}

// ServerSetupMessage is the server's response to ClientSetupMessage.
type ServerSetupMessage struct {
	SelectedVersion Version
	Parameters      KVPList
}

func (m *ServerSetupMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeServerSetup))
	payload := m.appendPayload(nil)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *ServerSetupMessage) appendPayload(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(m.SelectedVersion))
	return m.Parameters.appendNum(buf)
}

func (m *ServerSetupMessage) parse(_ Version, data []byte) error {
	v, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.SelectedVersion = Version(v)
	data = data[n:]
	_, err = m.Parameters.parseNum(data)
	return err
}

// GoAwayMessage asks the peer to migrate to a new session URI.
type GoAwayMessage struct {
	NewSessionURI string
}

func (m *GoAwayMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeGoAway))
	payload := appendVarIntBytes(nil, []byte(m.NewSessionURI))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *GoAwayMessage) parse(_ Version, data []byte) error {
	b, _, err := parseVarIntBytes(data)
	if err != nil {
		return err
	}
	m.NewSessionURI = string(b)
	return nil
}

// MaxRequestIDMessage raises the peer's allowed request ID range.
type MaxRequestIDMessage struct {
	RequestID uint64
}

func (m *MaxRequestIDMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeMaxRequestID))
	payload := quicvarint.Append(nil, m.RequestID)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *MaxRequestIDMessage) parse(_ Version, data []byte) error {
	v, _, err := quicvarint.Parse(data)
	m.RequestID = v
	return err
}

// RequestsBlockedMessage notifies the peer it has run out of request IDs.
type RequestsBlockedMessage struct {
	MaximumRequestID uint64
}

func (m *RequestsBlockedMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeRequestsBlocked))
	payload := quicvarint.Append(nil, m.MaximumRequestID)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *RequestsBlockedMessage) parse(_ Version, data []byte) error {
	v, _, err := quicvarint.Parse(data)
	m.MaximumRequestID = v
	return err
}
