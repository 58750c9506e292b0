// Package codec implements the Envertec bridge wire protocol: frame
// classification, handshake and payload decoding, and synthesis of the
// replies the proxy sends back while simulating the forward server.
//
// Every function here is pure: no socket, no global state, no logging.
// Byte layouts and conversions follow the tag table and offsets of the
// EVB201/EVB300/EVT800 family exactly; the 12-byte gap between payload
// records is preserved verbatim and never interpreted.
package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/timoknapp/enverproxy-mqtt/errs"
)

const (
	minFrameLen     = 10 // tag (6) + bridge ID (4)
	minTimestampLen = 19 // enough of the frame to reach the timestamp field
	timestampOffset = 14
	timestampLen    = 6
	inverterBlockLen = 20
	payloadHeaderLen = 20 // tag(6) + bridgeID(4) + filler(10)
	payloadStride    = 32
	maxPayloadBlocks = 20
)

// chinaTime is UTC+8, the timezone the bridge firmware encodes timestamps in.
var chinaTime = time.FixedZone("CST", 8*60*60)

// InverterRecord is a decoded telemetry sample for one microinverter.
type InverterRecord struct {
	WRID     string `json:"wrid"`
	BRID     string `json:"brid"`
	DC       string `json:"dc"`
	Power    string `json:"power"`
	TotalKWh string `json:"totalkwh"`
	Temp     string `json:"temp"`
	AC       string `json:"ac"`
	Freq     string `json:"freq"`
}

// Classify compares a frame's first six bytes against the tag table.
// Returns Unknown if no tag matches or the frame is shorter than 10 bytes.
func Classify(frame []byte) Variant {
	if len(frame) < minFrameLen {
		return Unknown
	}
	for _, e := range tagTable {
		if [6]byte(frame[:6]) == e.tag {
			return e.variant
		}
	}
	return Unknown
}

// BridgeID returns the 4-byte bridge identifier at bytes 6..10, rendered as
// 8-char lowercase hex.
func BridgeID(frame []byte) (string, error) {
	if len(frame) < minFrameLen {
		return "", errs.ErrFrameTooShort
	}
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(frame[6:10])), nil
}

// DecodeTime reads the 6-byte timestamp at bytes 14..20 (yy mm dd HH MM SS,
// year offset from 1900, encoded in UTC+8) and renders it in the host's
// local timezone as "dd.mm.yyyy HH:MM:SS".
func DecodeTime(frame []byte) (string, error) {
	if len(frame) < minTimestampLen {
		return "", errs.ErrFrameTooShort
	}
	end := timestampOffset + timestampLen
	if end > len(frame) {
		end = len(frame)
	}
	var raw [timestampLen]byte
	copy(raw[:], frame[timestampOffset:end])

	t := time.Date(1900+int(raw[0]), time.Month(raw[1]), int(raw[2]),
		int(raw[3]), int(raw[4]), int(raw[5]), 0, chinaTime)
	return t.Local().Format("02.01.2006 15:04:05"), nil
}

// EncodeTime is the inverse of DecodeTime: it converts a wall-clock moment
// to UTC+8 and emits year-1900, month, day, hour, minute, second as six
// big-endian unsigned octets.
func EncodeTime(now time.Time) [timestampLen]byte {
	ct := now.In(chinaTime)
	return [timestampLen]byte{
		byte(ct.Year() - 1900),
		byte(ct.Month()),
		byte(ct.Day()),
		byte(ct.Hour()),
		byte(ct.Minute()),
		byte(ct.Second()),
	}
}

// DecodeInverter decodes a 20-byte telemetry block. brid is the bridge ID
// the block was carried under (from the enclosing frame, not the block
// itself) and is copied into the record verbatim.
//
// On a block shorter than 20 bytes all numeric fields are zero and wrid is
// "00000000"; the caller is expected to log a warning, no error is raised
// here.
func DecodeInverter(block []byte, brid string) InverterRecord {
	if len(block) < inverterBlockLen {
		return InverterRecord{
			WRID: "00000000", BRID: brid,
			DC: "0.00", Power: "0.00", TotalKWh: "0.000",
			Temp: "0.00", AC: "0.00", Freq: "0.00",
		}
	}

	wrid := binary.BigEndian.Uint32(block[0:4])
	dc := float64(binary.BigEndian.Uint16(block[6:8])) / 512
	power := float64(binary.BigEndian.Uint16(block[8:10])) / 64
	totalkwh := float64(binary.BigEndian.Uint32(block[10:14])) / 8192
	temp := float64(binary.BigEndian.Uint16(block[14:16]))/128 - 40
	ac := float64(binary.BigEndian.Uint16(block[16:18])) / 64
	freq := float64(block[18]) + float64(block[19])/256

	return InverterRecord{
		WRID:     fmt.Sprintf("%08x", wrid),
		BRID:     brid,
		DC:       fmt.Sprintf("%.2f", dc),
		Power:    fmt.Sprintf("%.2f", power),
		TotalKWh: fmt.Sprintf("%.3f", totalkwh),
		Temp:     fmt.Sprintf("%.2f", temp),
		AC:       fmt.Sprintf("%.2f", ac),
		Freq:     fmt.Sprintf("%.2f", freq),
	}
}

// IterPayloadBlocks returns the 20-byte telemetry blocks embedded in a
// payload frame. Block i occupies bytes 20+32i .. 20+32i+20; the 12 bytes
// after each block are an undocumented gap, preserved by simply never being
// sliced into a block. Iteration stops when the next full 32-byte stride
// would overflow the frame, capped at 20 blocks regardless.
func IterPayloadBlocks(frame []byte) [][]byte {
	var blocks [][]byte
	for i := 0; i < maxPayloadBlocks; i++ {
		start := payloadHeaderLen + payloadStride*i
		if start+payloadStride > len(frame) {
			break
		}
		blocks = append(blocks, frame[start:start+inverterBlockLen])
	}
	return blocks
}

// BuildHandshakeReply synthesizes the simulated reply to a handshake frame.
// Returns nil for any other variant.
func BuildHandshakeReply(frame []byte, now time.Time) []byte {
	switch Classify(frame) {
	case HandshakeEVB:
		reply := make([]byte, 0, len(frame))
		reply = append(reply, tagAckType0[:]...)
		reply = append(reply, frame[6:]...)
		return reply
	case HandshakeEVT:
		// Unlike the EVB branch, this reply is NOT frame-length: the
		// original truncates to tag(6) + bridgeID-and-filler(8) +
		// timestamp(6) = 20 bytes, discarding anything past offset 14 in
		// the source frame. An over-length ACK here can make a real
		// EVT800 reject it and never start sending payloads.
		reply := make([]byte, timestampOffset+timestampLen)
		copy(reply[0:6], tagAckType2[:])
		end := timestampOffset
		if end > len(frame) {
			end = len(frame)
		}
		if end > 6 {
			copy(reply[6:end], frame[6:end])
		}
		ts := EncodeTime(now)
		copy(reply[timestampOffset:timestampOffset+timestampLen], ts[:])
		return reply
	default:
		return nil
	}
}

// BuildPayloadAck synthesizes the simulated payload-ACK reply. Returns nil
// for any other variant or a frame too short to carry a bridge ID.
func BuildPayloadAck(frame []byte) []byte {
	if !Classify(frame).IsPayload() {
		return nil
	}
	if len(frame) < minFrameLen {
		return nil
	}
	reply := make([]byte, 0, 18)
	reply = append(reply, tagPayloadAck[:]...)
	reply = append(reply, frame[6:10]...)
	reply = append(reply, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x89, 0x16)
	return reply
}
