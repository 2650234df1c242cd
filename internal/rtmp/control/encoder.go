// Constructors for RTMP control messages (types 1-6), all sent on CSID=2,
// MSID=0, timestamp=0.
package control

import (
	"encoding/binary"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// RTMP protocol control message type IDs.
const (
	TypeSetChunkSize          uint8 = 1
	TypeAbortMessage          uint8 = 2
	TypeAcknowledgement       uint8 = 3
	TypeUserControl           uint8 = 4
	TypeWindowAcknowledgement uint8 = 5
	TypeSetPeerBandwidth      uint8 = 6
)

// User Control (Type 4) event type IDs this codec emits.
const (
	UCStreamBegin  uint16 = 0
	UCPingRequest  uint16 = 6
	UCPingResponse uint16 = 7
)

func newControlMessage(typeID uint8, payload []byte) *chunk.Message {
	return &chunk.Message{
		CSID:            2,
		MessageLength:   uint32(len(payload)),
		TypeID:          typeID,
		MessageStreamID: 0,
		Payload:         payload,
	}
}

// encodeUint32Message builds a control message whose entire payload is a
// single big-endian uint32 (the common shape for types 1/2/3/5).
func encodeUint32Message(typeID uint8, v uint32) *chunk.Message {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], v)
	return newControlMessage(typeID, p[:])
}

// EncodeSetChunkSize creates a Type 1 Set Chunk Size control message.
func EncodeSetChunkSize(size uint32) *chunk.Message {
	return encodeUint32Message(TypeSetChunkSize, size)
}

// EncodeAbortMessage creates a Type 2 Abort Message (payload = CSID to abort).
func EncodeAbortMessage(csid uint32) *chunk.Message {
	return encodeUint32Message(TypeAbortMessage, csid)
}

// EncodeAcknowledgement creates a Type 3 Acknowledgement control message.
func EncodeAcknowledgement(seq uint32) *chunk.Message {
	return encodeUint32Message(TypeAcknowledgement, seq)
}

// encodeUserControl builds a Type 4 User Control payload: a 2-byte event
// type, optionally followed by a 4-byte data field.
func encodeUserControl(event uint16, data4 uint32, includeData bool) *chunk.Message {
	if !includeData {
		var payload [2]byte
		binary.BigEndian.PutUint16(payload[:], event)
		return newControlMessage(TypeUserControl, payload[:])
	}
	var payload [6]byte
	binary.BigEndian.PutUint16(payload[0:2], event)
	binary.BigEndian.PutUint32(payload[2:6], data4)
	return newControlMessage(TypeUserControl, payload[:])
}

// EncodeUserControlStreamBegin creates a Stream Begin (event 0) message.
func EncodeUserControlStreamBegin(streamID uint32) *chunk.Message {
	return encodeUserControl(UCStreamBegin, streamID, true)
}

// EncodeUserControlPingRequest creates a Ping Request (event 6) message.
func EncodeUserControlPingRequest(ts uint32) *chunk.Message {
	return encodeUserControl(UCPingRequest, ts, true)
}

// EncodeUserControlPingResponse creates a Ping Response (event 7) message.
func EncodeUserControlPingResponse(ts uint32) *chunk.Message {
	return encodeUserControl(UCPingResponse, ts, true)
}

// EncodeWindowAcknowledgementSize creates a Type 5 Window Ack Size message.
func EncodeWindowAcknowledgementSize(size uint32) *chunk.Message {
	return encodeUint32Message(TypeWindowAcknowledgement, size)
}

// EncodeSetPeerBandwidth creates a Type 6 Set Peer Bandwidth message.
func EncodeSetPeerBandwidth(bandwidth uint32, limitType uint8) *chunk.Message {
	var p [5]byte
	binary.BigEndian.PutUint32(p[0:4], bandwidth)
	p[4] = limitType
	return newControlMessage(TypeSetPeerBandwidth, p[:])
}
