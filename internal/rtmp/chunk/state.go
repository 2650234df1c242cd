package chunk

// Per-CSID chunk stream state: header compression bookkeeping (FMT0-3) and
// progressive reassembly of a message's payload across multiple chunks.
//
//	FMT0: absolute timestamp, full header (new message)
//	FMT1: timestamp delta, length+type present, stream id reused
//	FMT2: timestamp delta only, length/type/stream id reused
//	FMT3: continuation chunk of the in-flight message, no header fields
//
// A message completes when bytesReceived reaches LastMsgLength; the header
// fields then persist so later FMT1/2/3 chunks on the same CSID can reuse
// them.

import (
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/bufpool"
	protoerr "github.com/alxayo/rtmp-relay/internal/errors"
)

// ChunkStreamState holds rolling per-CSID state. Fields are exported to aid
// white-box testing.
type ChunkStreamState struct {
	CSID            uint32
	LastTimestamp   uint32
	LastMsgLength   uint32
	LastMsgTypeID   uint8
	LastMsgStreamID uint32

	buffer        []byte
	bytesReceived uint32
	inProgress    bool
}

// ResetBuffer clears the in-progress assembly buffer but keeps header
// context so later compressed headers on this CSID can still reuse it.
func (s *ChunkStreamState) ResetBuffer() {
	if s == nil {
		return
	}
	if s.buffer != nil {
		bufpool.Put(s.buffer)
		s.buffer = nil
	}
	s.bytesReceived = 0
	s.inProgress = false
}

// ApplyHeader applies a parsed ChunkHeader, starting a new message
// assembly for FMT0/1/2 or validating continuity for FMT3.
func (s *ChunkStreamState) ApplyHeader(h *ChunkHeader) error {
	if h == nil {
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("nil header"))
	}
	if s.CSID == 0 {
		s.CSID = h.CSID
	}
	if s.CSID != h.CSID {
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("csid mismatch: have %d want %d", s.CSID, h.CSID))
	}

	switch h.FMT {
	case 0:
		s.applyFMT0(h)
	case 1:
		s.applyFMT1(h)
	case 2:
		if err := s.applyFMT2(h); err != nil {
			return err
		}
	case 3:
		if !s.inProgress || s.LastMsgLength == 0 {
			return protoerr.NewChunkError("state.apply_header", fmt.Errorf("FMT3 without active message"))
		}
	default:
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("unsupported fmt %d", h.FMT))
	}
	return nil
}

func (s *ChunkStreamState) applyFMT0(h *ChunkHeader) {
	s.LastTimestamp = h.Timestamp
	s.LastMsgLength = h.MessageLength
	s.LastMsgTypeID = h.MessageTypeID
	s.LastMsgStreamID = h.MessageStreamID
	s.ResetBuffer()
	s.inProgress = true
}

func (s *ChunkStreamState) applyFMT1(h *ChunkHeader) {
	// FMT1 can legitimately be the first chunk seen on a CSID when the
	// client assumes MessageStreamID=0 (common for command/control
	// messages) — treat that case as an absolute timestamp, not a delta.
	if s.LastMsgStreamID == 0 {
		s.LastTimestamp = h.Timestamp
	} else {
		s.LastTimestamp += h.Timestamp
	}
	s.LastMsgLength = h.MessageLength
	s.LastMsgTypeID = h.MessageTypeID
	s.ResetBuffer()
	s.inProgress = true
}

func (s *ChunkStreamState) applyFMT2(h *ChunkHeader) error {
	if s.LastMsgStreamID == 0 || s.LastMsgLength == 0 {
		return protoerr.NewChunkError("state.apply_header", fmt.Errorf("FMT2 without prior state"))
	}
	s.LastTimestamp += h.Timestamp
	s.ResetBuffer()
	s.inProgress = true
	return nil
}

// AppendChunkData appends payload bytes to the in-progress message. Returns
// (complete, msg, err); when complete, msg is a populated copy of the
// reassembled message and the state's buffer is released back to the pool.
func (s *ChunkStreamState) AppendChunkData(data []byte) (bool, *Message, error) {
	if len(data) == 0 {
		return s.isComplete(), nil, nil
	}
	if !s.inProgress {
		return false, nil, protoerr.NewChunkError("state.append", fmt.Errorf("no active message"))
	}
	if s.buffer == nil {
		capHint := s.LastMsgLength
		if capHint == 0 {
			capHint = uint32(len(data))
		}
		s.buffer = bufpool.Get(int(capHint))[:0]
	}
	if s.bytesReceived+uint32(len(data)) > s.LastMsgLength {
		return false, nil, protoerr.NewChunkError("state.append", fmt.Errorf("overflow: have %d + %d > %d", s.bytesReceived, len(data), s.LastMsgLength))
	}
	s.buffer = append(s.buffer, data...)
	s.bytesReceived += uint32(len(data))

	if s.bytesReceived != s.LastMsgLength {
		return false, nil, nil
	}

	msg := &Message{
		CSID:            s.CSID,
		Timestamp:       s.LastTimestamp,
		MessageLength:   s.LastMsgLength,
		TypeID:          s.LastMsgTypeID,
		MessageStreamID: s.LastMsgStreamID,
		Payload:         append([]byte(nil), s.buffer...), // detached copy for the caller
	}
	s.ResetBuffer()
	return true, msg, nil
}

func (s *ChunkStreamState) isComplete() bool {
	return s.inProgress && s.bytesReceived == s.LastMsgLength && s.LastMsgLength > 0
}

// BytesRemaining reports how many bytes are still needed to complete the
// in-progress message, 0 if none is in progress.
func (s *ChunkStreamState) BytesRemaining() uint32 {
	if !s.inProgress || s.LastMsgLength == 0 || s.bytesReceived >= s.LastMsgLength {
		return 0
	}
	return s.LastMsgLength - s.bytesReceived
}
