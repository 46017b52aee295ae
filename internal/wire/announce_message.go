package wire

import "github.com/quic-go/quic-go/quicvarint"

func appendNamespace(buf []byte, ns []string) []byte {
	buf = quicvarint.Append(buf, uint64(len(ns)))
	for _, part := range ns {
		buf = appendVarIntBytes(buf, []byte(part))
	}
	return buf
}

func parseNamespace(data []byte) ([]string, int, error) {
	num, n, err := quicvarint.Parse(data)
	if err != nil {
		return nil, n, err
	}
	parsed := n
	data = data[n:]
	ns := make([]string, 0, num)
	for i := uint64(0); i < num; i++ {
		b, m, err := parseVarIntBytes(data)
		if err != nil {
			return nil, parsed, err
		}
		ns = append(ns, string(b))
		parsed += m
		data = data[m:]
	}
	return ns, parsed, nil
}

// AnnounceMessage advertises a set of tracks available under a namespace.
type AnnounceMessage struct {
	TrackNamespace []string
	Parameters     KVPList
}

func (m *AnnounceMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeAnnounce))
	payload := appendNamespace(nil, m.TrackNamespace)
	payload = m.Parameters.appendNum(payload)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *AnnounceMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespace = ns
	data = data[n:]
	_, err = m.Parameters.parseNum(data)
	return err
}

// AnnounceOkMessage accepts an AnnounceMessage.
type AnnounceOkMessage struct {
	TrackNamespace []string
}

func (m *AnnounceOkMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeAnnounceOk))
	payload := appendNamespace(nil, m.TrackNamespace)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *AnnounceOkMessage) parse(_ Version, data []byte) error {
	ns, _, err := parseNamespace(data)
	m.TrackNamespace = ns
	return err
}

// AnnounceErrorMessage rejects an AnnounceMessage.
type AnnounceErrorMessage struct {
	TrackNamespace []string
	ErrorCode      uint64
	ReasonPhrase   string
}

func (m *AnnounceErrorMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeAnnounceError))
	payload := appendNamespace(nil, m.TrackNamespace)
	payload = quicvarint.Append(payload, m.ErrorCode)
	payload = appendVarIntBytes(payload, []byte(m.ReasonPhrase))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *AnnounceErrorMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespace = ns
	data = data[n:]
	code, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.ErrorCode = code
	data = data[n:]
	reason, _, err := parseVarIntBytes(data)
	m.ReasonPhrase = string(reason)
	return err
}

// UnannounceMessage withdraws a previously announced namespace.
type UnannounceMessage struct {
	TrackNamespace []string
}

func (m *UnannounceMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeUnannounce))
	payload := appendNamespace(nil, m.TrackNamespace)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *UnannounceMessage) parse(_ Version, data []byte) error {
	ns, _, err := parseNamespace(data)
	m.TrackNamespace = ns
	return err
}

// AnnounceCancelMessage tells a subscriber an announcement is withdrawn.
type AnnounceCancelMessage struct {
	TrackNamespace []string
	ErrorCode      uint64
	ReasonPhrase   string
}

func (m *AnnounceCancelMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeAnnounceCancel))
	payload := appendNamespace(nil, m.TrackNamespace)
	payload = quicvarint.Append(payload, m.ErrorCode)
	payload = appendVarIntBytes(payload, []byte(m.ReasonPhrase))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *AnnounceCancelMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespace = ns
	data = data[n:]
	code, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.ErrorCode = code
	data = data[n:]
	reason, _, err := parseVarIntBytes(data)
	m.ReasonPhrase = string(reason)
	return err
}

// SubscribeAnnouncesMessage requests ANNOUNCE messages for a namespace prefix.
type SubscribeAnnouncesMessage struct {
	TrackNamespacePrefix []string
	Parameters           KVPList
}

func (m *SubscribeAnnouncesMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeNamespace))
	payload := appendNamespace(nil, m.TrackNamespacePrefix)
	payload = m.Parameters.appendNum(payload)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeAnnouncesMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespacePrefix = ns
	data = data[n:]
	_, err = m.Parameters.parseNum(data)
	return err
}

// SubscribeAnnouncesOkMessage accepts a SubscribeAnnouncesMessage.
type SubscribeAnnouncesOkMessage struct {
	TrackNamespacePrefix []string
}

func (m *SubscribeAnnouncesOkMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeNamespaceOk))
	payload := appendNamespace(nil, m.TrackNamespacePrefix)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeAnnouncesOkMessage) parse(_ Version, data []byte) error {
	ns, _, err := parseNamespace(data)
	m.TrackNamespacePrefix = ns
	return err
}

// SubscribeAnnouncesErrorMessage rejects a SubscribeAnnouncesMessage.
type SubscribeAnnouncesErrorMessage struct {
	TrackNamespacePrefix []string
	ErrorCode            uint64
	ReasonPhrase         string
}

func (m *SubscribeAnnouncesErrorMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeSubscribeNamespaceError))
	payload := appendNamespace(nil, m.TrackNamespacePrefix)
	payload = quicvarint.Append(payload, m.ErrorCode)
	payload = appendVarIntBytes(payload, []byte(m.ReasonPhrase))
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *SubscribeAnnouncesErrorMessage) parse(_ Version, data []byte) error {
	ns, n, err := parseNamespace(data)
	if err != nil {
		return err
	}
	m.TrackNamespacePrefix = ns
	data = data[n:]
	code, n, err := quicvarint.Parse(data)
	if err != nil {
		return err
	}
	m.ErrorCode = code
	data = data[n:]
	reason, _, err := parseVarIntBytes(data)
	m.ReasonPhrase = string(reason)
	return err
}

// UnsubscribeAnnouncesMessage cancels a SubscribeAnnouncesMessage.
type UnsubscribeAnnouncesMessage struct {
	TrackNamespacePrefix []string
}

func (m *UnsubscribeAnnouncesMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(messageTypeUnsubscribeNamespace))
	payload := appendNamespace(nil, m.TrackNamespacePrefix)
	buf = quicvarint.Append(buf, uint64(len(payload)))
	return append(buf, payload...)
}

func (m *UnsubscribeAnnouncesMessage) parse(_ Version, data []byte) error {
	ns, _, err := parseNamespace(data)
	m.TrackNamespacePrefix = ns
	return err
}
