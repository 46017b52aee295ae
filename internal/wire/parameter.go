package wire

import "github.com/quic-go/quic-go/quicvarint"

// Setup parameters.
const (
	RoleParameterKey         = 0x00
	PathParameterKey         = 0x01
	MaxRequestIDParameterKey = 0x02
)

// Version-specific (subscribe/track) parameters.
const (
	DeliveryTimeoutParameterKey    = 0x02
	AuthorizationTokenParameterKey = 0x03
	MaxCacheDurationParameterKey   = 0x04
)

// KeyValuePair is a single MoQT setup/version parameter.
type KeyValuePair struct {
	Type        uint64
	ValueVarInt uint64
	ValueBytes  []byte
}

// even-numbered types carry a varint value, odd-numbered types carry a
// length-prefixed byte string, per the MoQT parameter encoding.
func (p KeyValuePair) isVarInt() bool {
	return p.Type%2 == 0
}

func (p KeyValuePair) length() uint64 {
	l := uint64(quicvarint.Len(p.Type))
	if p.isVarInt() {
		return l + uint64(quicvarint.Len(p.ValueVarInt))
	}
	return l + varIntBytesLen(string(p.ValueBytes))
}

func (p KeyValuePair) append(buf []byte) []byte {
	buf = quicvarint.Append(buf, p.Type)
	if p.isVarInt() {
		return quicvarint.Append(buf, p.ValueVarInt)
	}
	return appendVarIntBytes(buf, p.ValueBytes)
}

func (p *KeyValuePair) parse(data []byte) (int, error) {
	t, n, err := quicvarint.Parse(data)
	if err != nil {
		return n, err
	}
	p.Type = t
	data = data[n:]
	if p.isVarInt() {
		v, m, err := quicvarint.Parse(data)
		if err != nil {
			return n + m, err
		}
		p.ValueVarInt = v
		return n + m, nil
	}
	b, m, err := parseVarIntBytes(data)
	if err != nil {
		return n + m, err
	}
	p.ValueBytes = b
	return n + m, nil
}

// KVPList is a sequence of key/value parameters, as used by SETUP, SUBSCRIBE
// and ANNOUNCE messages.
type KVPList []KeyValuePair

func (pp KVPList) length() uint64 {
	var length uint64
	for _, p := range pp {
		length += p.length()
	}
	return length
}

// appendNum appends pp prefixed with the element count.
func (pp KVPList) appendNum(buf []byte) []byte {
	buf = quicvarint.Append(buf, uint64(len(pp)))
	for _, p := range pp {
		buf = p.append(buf)
	}
	return buf
}

// parseNum parses pp from data based on an element-count prefix.
func (pp *KVPList) parseNum(data []byte) (int, error) {
	num, n, err := quicvarint.Parse(data)
	if err != nil {
		return n, err
	}
	parsed := n
	data = data[n:]
	for i := uint64(0); i < num; i++ {
		var p KeyValuePair
		m, err := p.parse(data)
		parsed += m
		if err != nil {
			return parsed, err
		}
		data = data[m:]
		*pp = append(*pp, p)
	}
	return parsed, nil
}

func (pp KVPList) get(key uint64) (KeyValuePair, bool) {
	for _, p := range pp {
		if p.Type == key {
			return p, true
		}
	}
	return KeyValuePair{}, false
}

// Get returns the first parameter in pp with the given key, ok=false if
// none is present.
func (pp KVPList) Get(key uint64) (KeyValuePair, bool) {
	return pp.get(key)
}
