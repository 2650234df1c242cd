package chunk

// Message is a fully reassembled RTMP message (post-dechunking). Field
// naming follows the chunking contract so reader/writer/control packages
// can share it without conversion.
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}
