package rpc

import (
	"fmt"
	"sync"

	"github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// reservedStreamIDs are never handed out by StreamIDAllocator: 0 is the
// connection-level stream, 2 is reserved by convention in some clients.
var reservedStreamIDs = map[uint32]bool{0: true, 2: true}

// StreamIDAllocator is a concurrency-safe incremental allocator for RTMP
// message stream IDs. The RTMP spec lets the server choose the ID returned
// by createStream; this allocator starts at 1 and increments per logical
// stream, skipping reservedStreamIDs, local to the response builder rather
// than shared session state.
type StreamIDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewStreamIDAllocator returns an allocator whose first Allocate() call
// returns 1 (the conventional first stream ID).
func NewStreamIDAllocator() *StreamIDAllocator { return &StreamIDAllocator{next: 1} }

// Allocate returns the next stream ID, skipping reservedStreamIDs.
func (a *StreamIDAllocator) Allocate() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	for reservedStreamIDs[id] {
		id++
	}
	a.next = id + 1
	return id
}

// BuildCreateStreamResponse constructs the standard _result response to a
// createStream command. AMF0 sequence:
// ["_result", transactionID, null, streamID]
//
// The returned message is an AMF0 Command Message (TypeID=20) with
// MessageStreamID=0 (connection-level). CSID selection is deferred to the
// chunk writer layer.
//
// Errors are wrapped as protocol errors with a component key of
// "createstream.response.encode".
func BuildCreateStreamResponse(transactionID float64, allocator *StreamIDAllocator) (*chunk.Message, uint32, error) {
	if allocator == nil {
		// Defensive: enforce non-nil allocator to avoid hidden global state.
		return nil, 0, errors.NewProtocolError("createstream.response", fmt.Errorf("nil allocator"))
	}
	streamID := allocator.Allocate()

	payload, err := amf.EncodeAll(
		"_result",         // command name
		transactionID,     // original transaction id
		nil,               // null per spec
		float64(streamID), // stream id as AMF0 number
	)
	if err != nil {
		return nil, 0, errors.NewProtocolError("createstream.response.encode", fmt.Errorf("amf encode: %w", err))
	}
	payload = prefixInvokeType20(payload)

	msg := &chunk.Message{
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: 0, // still connection-level
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}
	return msg, streamID, nil
}
