package wire

import (
	"bufio"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// StreamType identifies how a unidirectional data stream's objects are
// framed: either as a subgroup's worth of objects sharing one header, or
// as a fetch response's worth sharing another.
type StreamType uint64

const (
	StreamTypeSubgroupHeader StreamType = 0x10
	StreamTypeFetchHeader    StreamType = 0x5
)

// SubgroupHeaderMessage is written once at the start of a subgroup data
// stream; every SubgroupObjectMessage that follows belongs to this group.
type SubgroupHeaderMessage struct {
	SubscribeID uint64
	TrackAlias  uint64
	GroupID     uint64
	SubgroupID  uint64
	Priority    uint8
}

func (m *SubgroupHeaderMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(StreamTypeSubgroupHeader))
	buf = quicvarint.Append(buf, m.SubscribeID)
	buf = quicvarint.Append(buf, m.TrackAlias)
	buf = quicvarint.Append(buf, m.GroupID)
	buf = quicvarint.Append(buf, m.SubgroupID)
	return append(buf, m.Priority)
}

func (m *SubgroupHeaderMessage) parse(r messageReader) error {
	var err error
	if m.SubscribeID, err = quicvarint.Read(r); err != nil {
		return err
	}
	if m.TrackAlias, err = quicvarint.Read(r); err != nil {
		return err
	}
	if m.GroupID, err = quicvarint.Read(r); err != nil {
		return err
	}
	if m.SubgroupID, err = quicvarint.Read(r); err != nil {
		return err
	}
	m.Priority, err = r.ReadByte()
	return err
}

// FetchHeaderMessage is written once at the start of a fetch response
// stream; every SubgroupObjectMessage that follows (re-carrying its own
// group/subgroup via the wrapping ObjectStreamParser) answers the fetch.
type FetchHeaderMessage struct {
	RequestID uint64
}

func (m *FetchHeaderMessage) Append(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(StreamTypeFetchHeader))
	return quicvarint.Append(buf, m.RequestID)
}

func (m *FetchHeaderMessage) parse(r messageReader) error {
	v, err := quicvarint.Read(r)
	m.RequestID = v
	return err
}

// ObjectStreamParser reads the header of a unidirectional data stream and
// then yields the stream of objects framed within it.
type ObjectStreamParser struct {
	reader messageReader

	Type    StreamType
	Subgroup SubgroupHeaderMessage
	Fetch    FetchHeaderMessage
}

func NewObjectStreamParser(r io.Reader) (*ObjectStreamParser, error) {
	br, ok := r.(messageReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	p := &ObjectStreamParser{reader: br}
	t, err := quicvarint.Read(br)
	if err != nil {
		return nil, err
	}
	p.Type = StreamType(t)
	switch p.Type {
	case StreamTypeSubgroupHeader:
		if err := p.Subgroup.parse(br); err != nil {
			return nil, err
		}
	case StreamTypeFetchHeader:
		if err := p.Fetch.parse(br); err != nil {
			return nil, err
		}
	default:
		return nil, errInvalidMessageType
	}
	return p, nil
}

// ParseObjectOnSubgroupStream reads the next object header/payload from a
// subgroup stream. For fetch streams the group/subgroup/priority are
// re-read per object; see ParseObjectOnFetchStream.
func (p *ObjectStreamParser) ParseObjectOnSubgroupStream() (*SubgroupObjectMessage, error) {
	var m SubgroupObjectMessage
	id, err := quicvarint.Read(p.reader)
	if err != nil {
		return nil, err
	}
	m.ObjectID = id
	length, err := quicvarint.Read(p.reader)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		status, err := quicvarint.Read(p.reader)
		if err != nil {
			return nil, err
		}
		m.ObjectStatus = ObjectStatus(status)
		return &m, nil
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(p.reader, payload); err != nil {
		return nil, err
	}
	m.ObjectPayload = payload
	m.ObjectStatus = ObjectStatusNormal
	return &m, nil
}

// FetchObject is a single object delivered over a fetch stream, which
// re-states its group/subgroup/priority since a fetch stream can span
// multiple groups.
type FetchObject struct {
	GroupID    uint64
	SubgroupID uint64
	Priority   uint8
	Object     SubgroupObjectMessage
}

func (p *ObjectStreamParser) ParseObjectOnFetchStream() (*FetchObject, error) {
	group, err := quicvarint.Read(p.reader)
	if err != nil {
		return nil, err
	}
	subgroup, err := quicvarint.Read(p.reader)
	if err != nil {
		return nil, err
	}
	prio, err := p.reader.ReadByte()
	if err != nil {
		return nil, err
	}
	obj, err := p.ParseObjectOnSubgroupStream()
	if err != nil {
		return nil, err
	}
	return &FetchObject{GroupID: group, SubgroupID: subgroup, Priority: prio, Object: *obj}, nil
}
