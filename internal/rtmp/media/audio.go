package media

import "fmt"

// Audio codec identifiers, keyed by the RTMP SoundFormat nibble (AudioHeader
// bits 7-4) this package knows how to classify.
const (
	AudioCodecMP3   = "MP3"
	AudioCodecAAC   = "AAC"
	AudioCodecSpeex = "Speex"
)

// AAC packet types (AACPacketType byte, present only when SoundFormat==10).
const (
	AACPacketTypeSequenceHeader = "sequence_header"
	AACPacketTypeRaw            = "raw"
)

const (
	soundFormatMP3   = 2
	soundFormatAAC   = 10
	soundFormatSpeex = 11
)

// AudioMessage is the minimal parse of an RTMP audio (message type 8) tag
// needed for codec detection and push-endpoint filtering; the raw payload
// is otherwise left untouched for transparent relay.
//
// Tag layout: [AudioHeader][AACPacketType if AAC][Payload...]. AudioHeader
// bits 7-4 hold SoundFormat; bits 3-0 (rate/size/type) are ignored here.
type AudioMessage struct {
	Codec      string
	PacketType string // AAC only; empty for MP3/Speex
	Payload    []byte
}

// audioParser extracts an AudioMessage body for one SoundFormat, given the
// bytes after the AudioHeader.
type audioParser func(rest []byte) (packetType string, payload []byte, err error)

var audioParsers = map[byte]struct {
	codec  string
	decode audioParser
}{
	soundFormatMP3:   {AudioCodecMP3, parseMP3Body},
	soundFormatAAC:   {AudioCodecAAC, parseAACBody},
	soundFormatSpeex: {AudioCodecSpeex, parseSpeexBody},
}

func parseMP3Body(rest []byte) (string, []byte, error) {
	return "", rest, nil
}

func parseSpeexBody(rest []byte) (string, []byte, error) {
	return "", rest, nil
}

func parseAACBody(rest []byte) (string, []byte, error) {
	if len(rest) < 1 {
		return "", nil, fmt.Errorf("audio.parse: aac packet truncated (need packet type)")
	}
	switch rest[0] {
	case 0x00:
		return AACPacketTypeSequenceHeader, rest[1:], nil
	case 0x01:
		return AACPacketTypeRaw, rest[1:], nil
	default:
		return fmt.Sprintf("unknown_%d", rest[0]), rest[1:], nil
	}
}

// ParseAudioMessage parses a raw RTMP audio message payload (message type
// 8's tag data) into an AudioMessage. Returns an error if the payload is
// empty, too short for the detected codec's header, or uses a SoundFormat
// this package doesn't classify.
func ParseAudioMessage(data []byte) (*AudioMessage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("audio.parse: empty payload")
	}
	soundFormat := (data[0] >> 4) & 0x0F

	entry, ok := audioParsers[soundFormat]
	if !ok {
		return nil, fmt.Errorf("audio.parse: unsupported sound format id=%d", soundFormat)
	}
	packetType, payload, err := entry.decode(data[1:])
	if err != nil {
		return nil, err
	}
	return &AudioMessage{Codec: entry.codec, PacketType: packetType, Payload: payload}, nil
}
