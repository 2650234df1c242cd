// Package control's handler side consumes already-reassembled control
// messages (types 1-6) and mutates caller-supplied state, kept decoupled
// from the conn package (which calls into it) to avoid an import cycle.
package control

import (
	"fmt"
	"log/slog"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// Context carries the mutable control-related state for one RTMP
// connection. All pointer fields except LastPeerAck, and Send, must be
// non-nil; Handle treats a nil required field as a caller bug, not a
// protocol error.
type Context struct {
	ReadChunkSize *uint32
	WindowAckSize *uint32
	PeerBandwidth *uint32
	LimitType     *uint8
	LastPeerAck   *uint32 // most recent peer ACK sequence number, if tracked
	Log           *slog.Logger
	Send          func(*chunk.Message) error // emits control responses (e.g. Ping Response)
}

func (ctx *Context) valid() bool {
	return ctx != nil && ctx.ReadChunkSize != nil && ctx.WindowAckSize != nil &&
		ctx.PeerBandwidth != nil && ctx.LimitType != nil && ctx.Send != nil
}

func (ctx *Context) debug(msg string, args ...any) {
	if ctx.Log != nil {
		ctx.Log.Debug(msg, args...)
	}
}

func (ctx *Context) info(msg string, args ...any) {
	if ctx.Log != nil {
		ctx.Log.Info(msg, args...)
	}
}

// Handle decodes msg's payload (types 1-6) and applies it to ctx, emitting
// a response control message where the protocol requires one (Ping
// Response for a Ping Request).
func Handle(ctx *Context, msg *chunk.Message) error {
	if !ctx.valid() {
		return fmt.Errorf("control handler: invalid context (nil field)")
	}
	if msg == nil {
		return fmt.Errorf("control handler: nil message")
	}
	decoded, err := Decode(msg.TypeID, msg.Payload)
	if err != nil {
		return fmt.Errorf("control handler decode: %w", err)
	}

	switch v := decoded.(type) {
	case *SetChunkSize:
		ctx.handleSetChunkSize(v)
	case *Acknowledgement:
		ctx.handleAcknowledgement(v)
	case *UserControl:
		return ctx.handleUserControl(v)
	case *WindowAcknowledgementSize:
		ctx.handleWindowAckSize(v)
	case *SetPeerBandwidth:
		ctx.handleSetPeerBandwidth(v)
	case *AbortMessage:
		ctx.debug("abort message received (ignored in this phase)", "csid", v.CSID)
	default:
		return fmt.Errorf("control handler: unexpected decoded type %T", v)
	}
	return nil
}

func (ctx *Context) handleSetChunkSize(v *SetChunkSize) {
	old := *ctx.ReadChunkSize
	*ctx.ReadChunkSize = v.Size
	ctx.debug("set chunk size received", "old", old, "new", v.Size)
}

func (ctx *Context) handleAcknowledgement(v *Acknowledgement) {
	if ctx.LastPeerAck != nil {
		*ctx.LastPeerAck = v.SequenceNumber
	}
	ctx.debug("acknowledgement received", "seq", v.SequenceNumber)
}

func (ctx *Context) handleWindowAckSize(v *WindowAcknowledgementSize) {
	old := *ctx.WindowAckSize
	*ctx.WindowAckSize = v.Size
	ctx.debug("window ack size received", "old", old, "new", v.Size)
}

func (ctx *Context) handleSetPeerBandwidth(v *SetPeerBandwidth) {
	oldBW, oldLT := *ctx.PeerBandwidth, *ctx.LimitType
	*ctx.PeerBandwidth = v.Bandwidth
	*ctx.LimitType = v.LimitType
	ctx.debug("set peer bandwidth received", "old_bw", oldBW, "new_bw", v.Bandwidth, "old_lt", oldLT, "new_lt", v.LimitType)
}

// handleUserControl only interprets the event subset this relay emits
// (Stream Begin, Ping Request/Response); anything else is logged and
// dropped.
func (ctx *Context) handleUserControl(v *UserControl) error {
	switch v.EventType {
	case UCStreamBegin:
		ctx.info("user control: stream begin", "stream_id", v.StreamID)
	case UCPingRequest:
		ctx.debug("ping request received", "ts", v.Timestamp)
		if err := ctx.Send(EncodeUserControlPingResponse(v.Timestamp)); err != nil {
			return fmt.Errorf("control handler: send ping response: %w", err)
		}
	case UCPingResponse:
		ctx.debug("ping response received", "ts", v.Timestamp)
	default:
		ctx.debug("user control: unhandled event", "event_type", v.EventType)
	}
	return nil
}
