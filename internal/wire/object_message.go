package wire

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// ObjectStatus communicates the absence of an object instead of payload.
type ObjectStatus uint64

const (
	ObjectStatusNormal             ObjectStatus = 0x0
	ObjectStatusObjectDoesNotExist ObjectStatus = 0x1
	ObjectStatusGroupDoesNotExist  ObjectStatus = 0x2
	ObjectStatusEndOfGroup         ObjectStatus = 0x3
	ObjectStatusEndOfTrack         ObjectStatus = 0x4
)

// DatagramObjectMessage is a single object delivered standalone over an
// unreliable QUIC datagram: it carries its own subscribe id and track alias
// since there is no enclosing stream header to amortize them over.
type DatagramObjectMessage struct {
	SubscribeID   uint64
	TrackAlias    uint64
	GroupID       uint64
	ObjectID      uint64
	Priority      uint8
	ObjectStatus  ObjectStatus
	ObjectPayload []byte
}

func (m *DatagramObjectMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.SubscribeID)
	buf = quicvarint.Append(buf, m.TrackAlias)
	buf = quicvarint.Append(buf, m.GroupID)
	buf = quicvarint.Append(buf, m.ObjectID)
	buf = append(buf, m.Priority)
	if len(m.ObjectPayload) == 0 && m.ObjectStatus != ObjectStatusNormal {
		buf = quicvarint.Append(buf, uint64(m.ObjectStatus))
		return buf
	}
	buf = quicvarint.Append(buf, uint64(len(m.ObjectPayload)))
	return append(buf, m.ObjectPayload...)
}

// Parse decodes a DatagramObjectMessage from data, returning the number of
// bytes consumed.
func (m *DatagramObjectMessage) Parse(data []byte) (int, error) {
	return m.parse(data)
}

func (m *DatagramObjectMessage) parse(data []byte) (int, error) {
	var n, parsed int
	var err error
	m.SubscribeID, n, err = quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	m.TrackAlias, n, err = quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	m.GroupID, n, err = quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	m.ObjectID, n, err = quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	if len(data) == 0 {
		return parsed, io.ErrUnexpectedEOF
	}
	m.Priority = data[0]
	parsed++
	data = data[1:]

	length, n, err := quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	if length == 0 {
		m.ObjectStatus = ObjectStatusObjectDoesNotExist
		return parsed, nil
	}
	m.ObjectStatus = ObjectStatusNormal
	m.ObjectPayload = make([]byte, length)
	n = copy(m.ObjectPayload, data)
	parsed += n
	return parsed, nil
}

// SubgroupObjectMessage is a single object within a subgroup-header data
// stream; it only carries its id and payload, the rest is amortized over
// the stream's SubgroupHeaderMessage.
type SubgroupObjectMessage struct {
	ObjectID      uint64
	ObjectPayload []byte
	ObjectStatus  ObjectStatus
}

func (m *SubgroupObjectMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, m.ObjectID)
	if len(m.ObjectPayload) == 0 && m.ObjectStatus != ObjectStatusNormal {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, uint64(m.ObjectStatus))
		return buf
	}
	buf = quicvarint.Append(buf, uint64(len(m.ObjectPayload))+1)
	return append(buf, m.ObjectPayload...)
}

func (m *SubgroupObjectMessage) parse(data []byte) (int, error) {
	var n, parsed int
	var err error
	m.ObjectID, n, err = quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]

	length, n, err := quicvarint.Parse(data)
	if err != nil {
		return parsed, err
	}
	parsed += n
	data = data[n:]
	if length == 0 {
		status, n, err := quicvarint.Parse(data)
		if err != nil {
			return parsed, err
		}
		m.ObjectStatus = ObjectStatus(status)
		return parsed + n, nil
	}
	m.ObjectStatus = ObjectStatusNormal
	m.ObjectPayload = make([]byte, length-1)
	n = copy(m.ObjectPayload, data)
	return parsed + n, nil
}
