package server

// Play Handler (Task T050)
// ------------------------
// Subscribes a client connection to an existing published stream. Mirrors the
// lightweight approach used in publish_handler.go: minimal parsing, registry
// lookups and onStatus/control message construction without depending on the
// yet-to-be-integrated full dispatcher/connection stack. Returns the final
// onStatus message (already sent) for test assertions.

import (
	"fmt"

	rtmperrors "github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/logger"
	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/control"
	"github.com/alxayo/rtmp-relay/internal/rtmp/rpc"
)

// HandlePlay parses the incoming play command (msg) and attempts to subscribe
// the connection to the target stream. It sends (in order):
//  1. onStatus NetStream.Play.StreamNotFound  (if missing stream or publisher) OR
//  1. User Control Stream Begin (event 0)
//  2. onStatus NetStream.Play.Start
//  3. the cached video header, audio header and metadata, each if present
//
// Only the onStatus message (either StreamNotFound or Play.Start) is returned.
func HandlePlay(reg *Registry, conn sender, app string, msg *chunk.Message) (*chunk.Message, error) {
	if reg == nil || conn == nil || msg == nil {
		return nil, rtmperrors.NewProtocolError("play.handle", fmt.Errorf("nil argument"))
	}

	pcmd, err := rpc.ParsePlayCommand(msg, app) // dependency T038
	if err != nil {
		return nil, err
	}

	// Logging added for diagnostics
	log := logger.Logger().With("component", "rtmp_server")
	log.Info("play command", "stream_key", pcmd.StreamKey)

	stream := reg.GetStream(pcmd.StreamKey)
	if stream == nil || stream.Publisher == nil { // not found or no active publisher
		// Build and send StreamNotFound onStatus (dependency T039 pattern - inline builder).
		log.Warn("play command failed - stream not found or no publisher", "stream_key", pcmd.StreamKey)
		notFound, _ := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.StreamNotFound", fmt.Sprintf("Stream %s not found.", pcmd.StreamKey))
		_ = conn.SendMessage(notFound)
		return notFound, nil
	}

	// Add subscriber, gated so it never receives video until it has seen a
	// cached codec header or a key frame (connection implements sender ->
	// minimal interface; tests use stub implementing SendMessage).
	stream.AddSubscriber(newGatedSubscriber(conn.(interface{ SendMessage(*chunk.Message) error })))
	log.Info("Subscriber added", "stream_key", pcmd.StreamKey, "total_subscribers", len(stream.Subscribers))

	// 1. User Control Stream Begin (event 0) with the play command's message stream id.
	uc := control.EncodeUserControlStreamBegin(msg.MessageStreamID)
	_ = conn.SendMessage(uc)

	// 2. onStatus NetStream.Play.Start
	started, err := buildOnStatus(msg.MessageStreamID, pcmd.StreamKey, "NetStream.Play.Start", fmt.Sprintf("Started playing %s.", pcmd.StreamKey))
	if err != nil {
		return nil, rtmperrors.NewProtocolError("play.handle.encode", err)
	}
	_ = conn.SendMessage(started)

	// 3. Bootstrap the late-joining subscriber with cached state, in the
	// fixed order: video header, audio header, metadata. This ensures the
	// subscriber receives codec initialization (SPS/PPS for H.264,
	// AudioSpecificConfig for AAC) and the last known metadata before any
	// live media frame.
	stream.mu.RLock()
	audioSeqHdr := stream.AudioSequenceHeader
	videoSeqHdr := stream.VideoSequenceHeader
	metaHdr := stream.MetadataHeader
	stream.mu.RUnlock()

	if videoSeqHdr != nil {
		_ = conn.SendMessage(cloneForSubscriber(videoSeqHdr, msg.MessageStreamID))
		log.Info("Sent cached video sequence header to subscriber", "stream_key", pcmd.StreamKey, "size", len(videoSeqHdr.Payload))
	}
	if audioSeqHdr != nil {
		_ = conn.SendMessage(cloneForSubscriber(audioSeqHdr, msg.MessageStreamID))
		log.Info("Sent cached audio sequence header to subscriber", "stream_key", pcmd.StreamKey, "size", len(audioSeqHdr.Payload))
	}
	if metaHdr != nil {
		_ = conn.SendMessage(cloneForSubscriber(metaHdr, msg.MessageStreamID))
		log.Info("Sent cached metadata to subscriber", "stream_key", pcmd.StreamKey, "size", len(metaHdr.Payload))
	}

	return started, nil
}

// cloneForSubscriber copies a cached message, rewriting it to the
// subscriber's own message stream id and resetting the timestamp (cached
// headers are always replayed at timestamp 0).
func cloneForSubscriber(src *chunk.Message, streamID uint32) *chunk.Message {
	out := &chunk.Message{
		CSID:            src.CSID,
		TypeID:          src.TypeID,
		Timestamp:       0,
		MessageStreamID: streamID,
		MessageLength:   src.MessageLength,
		Payload:         make([]byte, len(src.Payload)),
	}
	copy(out.Payload, src.Payload)
	return out
}

// buildOnStatus creates an AMF0 onStatus message consistent with the pattern used
// in publish_handler.go (we replicate instead of factoring early to keep task scope small).
func buildOnStatus(streamID uint32, streamKey, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "status",
		"code":        code,
		"description": description,
		"details":     streamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, err
	}
	payload = rpc.PrefixInvokeType20ForTest(payload)
	return &chunk.Message{
		CSID:            5,
		TypeID:          rpc.CommandMessageAMF0TypeIDForTest(),
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}, nil
}

// SubscriberDisconnected removes the subscriber from the stream's list (if present).
// This mirrors PublisherDisconnected for symmetry and test support.
func SubscriberDisconnected(reg *Registry, streamKey string, sub sender) {
	if reg == nil || streamKey == "" || sub == nil {
		return
	}
	s := reg.GetStream(streamKey)
	if s == nil {
		return
	}
	// Convert to media.Subscriber via duck typing: it only needs SendMessage(*chunk.Message) error.
	// RemoveSubscriber itself unwraps gatedSubscriber instances to match the
	// original connection reference stored by the caller.
	s.RemoveSubscriber(sub.(interface{ SendMessage(*chunk.Message) error }))
}
