package control

// Decodes RTMP control message payloads (types 1-6) into structured Go
// values rather than handing callers raw byte slices.

import (
	"encoding/binary"
	"fmt"
)

// SetChunkSize represents a Type 1 Set Chunk Size message.
type SetChunkSize struct {
	Size uint32
}

// AbortMessage represents a Type 2 Abort Message.
type AbortMessage struct {
	CSID uint32
}

// Acknowledgement represents a Type 3 Acknowledgement message.
type Acknowledgement struct {
	SequenceNumber uint32
}

// UserControl represents a Type 4 User Control message. Only event types
// 0, 6 and 7 are interpreted; for anything else the payload beyond the
// 2-byte event header is exposed via RawData.
type UserControl struct {
	EventType uint16
	StreamID  uint32 // Event 0: Stream Begin
	Timestamp uint32 // Event 6/7: Ping Request / Response
	RawData   []byte
}

// WindowAcknowledgementSize represents a Type 5 Window Ack Size message.
type WindowAcknowledgementSize struct {
	Size uint32
}

// SetPeerBandwidth represents a Type 6 Set Peer Bandwidth message.
type SetPeerBandwidth struct {
	Bandwidth uint32
	LimitType uint8 // 0 = Hard, 1 = Soft, 2 = Dynamic
}

type decodeFunc func(payload []byte) (any, error)

var decoders = map[uint8]decodeFunc{
	TypeSetChunkSize:          decodeSetChunkSize,
	TypeAbortMessage:          decodeAbortMessage,
	TypeAcknowledgement:       decodeAcknowledgement,
	TypeUserControl:           decodeUserControl,
	TypeWindowAcknowledgement: decodeWindowAckSize,
	TypeSetPeerBandwidth:      decodeSetPeerBandwidth,
}

// Decode decodes a control message (types 1-6) given its RTMP message type
// ID and raw payload. Returns an error for an unsupported type ID or a
// malformed payload.
func Decode(typeID uint8, payload []byte) (any, error) {
	fn, ok := decoders[typeID]
	if !ok {
		return nil, fmt.Errorf("unsupported control message type id=%d", typeID)
	}
	return fn(payload)
}

func decodeSetChunkSize(payload []byte) (any, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("set chunk size: expected 4 bytes got=%d", len(payload))
	}
	v := binary.BigEndian.Uint32(payload)
	if v == 0 {
		return nil, fmt.Errorf("set chunk size: size must be > 0")
	}
	if v&0x80000000 != 0 { // bit 31 must be zero per spec (31-bit value)
		return nil, fmt.Errorf("set chunk size: high bit (bit 31) must be 0 size=%d", v)
	}
	return &SetChunkSize{Size: v}, nil
}

func decodeAbortMessage(payload []byte) (any, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("abort message: expected 4 bytes got=%d", len(payload))
	}
	return &AbortMessage{CSID: binary.BigEndian.Uint32(payload)}, nil
}

func decodeAcknowledgement(payload []byte) (any, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("acknowledgement: expected 4 bytes got=%d", len(payload))
	}
	return &Acknowledgement{SequenceNumber: binary.BigEndian.Uint32(payload)}, nil
}

func decodeUserControl(payload []byte) (any, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("user control: expected at least 2 bytes got=%d", len(payload))
	}
	ev := binary.BigEndian.Uint16(payload[0:2])
	uc := &UserControl{EventType: ev}
	switch ev {
	case UCStreamBegin:
		if len(payload) != 6 {
			return nil, fmt.Errorf("user control stream begin: expected 6 bytes got=%d", len(payload))
		}
		uc.StreamID = binary.BigEndian.Uint32(payload[2:6])
	case UCPingRequest, UCPingResponse:
		if len(payload) != 6 {
			return nil, fmt.Errorf("user control ping: expected 6 bytes got=%d", len(payload))
		}
		uc.Timestamp = binary.BigEndian.Uint32(payload[2:6])
	default:
		if len(payload) > 2 {
			uc.RawData = payload[2:]
		}
	}
	return uc, nil
}

func decodeWindowAckSize(payload []byte) (any, error) {
	if len(payload) != 4 {
		return nil, fmt.Errorf("window ack size: expected 4 bytes got=%d", len(payload))
	}
	v := binary.BigEndian.Uint32(payload)
	if v == 0 {
		return nil, fmt.Errorf("window ack size: must be > 0")
	}
	return &WindowAcknowledgementSize{Size: v}, nil
}

func decodeSetPeerBandwidth(payload []byte) (any, error) {
	if len(payload) != 5 {
		return nil, fmt.Errorf("set peer bandwidth: expected 5 bytes got=%d", len(payload))
	}
	bw := binary.BigEndian.Uint32(payload[0:4])
	lt := payload[4]
	if lt > 2 { // 0=Hard 1=Soft 2=Dynamic
		return nil, fmt.Errorf("set peer bandwidth: invalid limit type=%d", lt)
	}
	return &SetPeerBandwidth{Bandwidth: bw, LimitType: lt}, nil
}
