package codec

// Variant identifies which shape a frame's first six bytes commit it to.
type Variant int

const (
	Unknown Variant = iota
	HandshakeEVB
	HandshakeEVT
	PayloadEVB201
	PayloadEVB300
	PayloadEVT800
	AckType0
	AckType1
	AckType2
	AckType3
	AddMicroinverter
	PayloadAck
)

func (v Variant) String() string {
	switch v {
	case HandshakeEVB:
		return "HandshakeEVB"
	case HandshakeEVT:
		return "HandshakeEVT"
	case PayloadEVB201:
		return "PayloadEVB201"
	case PayloadEVB300:
		return "PayloadEVB300"
	case PayloadEVT800:
		return "PayloadEVT800"
	case AckType0:
		return "AckType0"
	case AckType1:
		return "AckType1"
	case AckType2:
		return "AckType2"
	case AckType3:
		return "AckType3"
	case AddMicroinverter:
		return "AddMicroinverter"
	case PayloadAck:
		return "PayloadAck"
	default:
		return "Unknown"
	}
}

// IsPayload reports whether v is one of the three payload variants.
func (v Variant) IsPayload() bool {
	return v == PayloadEVB201 || v == PayloadEVB300 || v == PayloadEVT800
}

var (
	tagHandshakeEVB     = [6]byte{0x68, 0x00, 0x30, 0x68, 0x10, 0x06}
	tagHandshakeEVT     = [6]byte{0x68, 0x00, 0x20, 0x68, 0x10, 0x06}
	tagPayloadEVB201    = [6]byte{0x68, 0x03, 0xd6, 0x68, 0x10, 0x04}
	tagPayloadEVB300    = [6]byte{0x68, 0x02, 0xdc, 0x68, 0x10, 0x72}
	tagPayloadEVT800    = [6]byte{0x68, 0x00, 0x56, 0x68, 0x10, 0x04}
	tagAckType0         = [6]byte{0x68, 0x00, 0x30, 0x68, 0x10, 0x07}
	tagAckType1         = [6]byte{0x68, 0x00, 0x18, 0x68, 0x10, 0x09}
	tagAckType2         = [6]byte{0x68, 0x00, 0x1e, 0x68, 0x10, 0x70}
	tagAckType3         = [6]byte{0x68, 0x00, 0x20, 0x68, 0x10, 0x27}
	tagAddMicroinverter = [6]byte{0x68, 0x00, 0x24, 0x68, 0x10, 0x09}
	tagPayloadAck       = [6]byte{0x68, 0x00, 0x12, 0x68, 0x10, 0x15}
)

var tagTable = []struct {
	tag     [6]byte
	variant Variant
}{
	{tagHandshakeEVB, HandshakeEVB},
	{tagHandshakeEVT, HandshakeEVT},
	{tagPayloadEVB201, PayloadEVB201},
	{tagPayloadEVB300, PayloadEVB300},
	{tagPayloadEVT800, PayloadEVT800},
	{tagAckType0, AckType0},
	{tagAckType1, AckType1},
	{tagAckType2, AckType2},
	{tagAckType3, AckType3},
	{tagAddMicroinverter, AddMicroinverter},
	{tagPayloadAck, PayloadAck},
}
