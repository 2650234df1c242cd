// Package conn's control burst: immediately after a successful handshake the
// server sends, in order, Window Acknowledgement Size, Set Peer Bandwidth
// and Set Chunk Size on CSID=2/MSID=0. Accept enqueues the burst
// synchronously, before the read loop is started.
package conn

import (
	"encoding/binary"
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/control"
)

const (
	windowAckSizeValue     uint32 = 2_500_000
	peerBandwidthValue     uint32 = 2_500_000
	peerBandwidthLimitType        = 2 // Dynamic
	serverChunkSize        uint32 = 4096
)

// sendInitialControlBurst performs the control burst by enqueuing messages
// to the connection's outbound queue. Accept() calls it synchronously once
// the write loop is running.
// A best-effort approach is used: the first encountered error aborts the
// remaining sends (subsequent tasks may choose to retry / degrade gracefully).
func sendInitialControlBurst(c *Connection) error {
	if c == nil {
		return fmt.Errorf("control burst: nil connection")
	}

	// Build messages in required order.
	msgs := []*chunk.Message{
		control.EncodeWindowAcknowledgementSize(windowAckSizeValue),
		control.EncodeSetPeerBandwidth(peerBandwidthValue, peerBandwidthLimitType),
		control.EncodeSetChunkSize(serverChunkSize),
	}

	for _, m := range msgs {
		c.log.Debug("control burst sending", "type_id", m.TypeID, "csid", m.CSID, "msid", m.MessageStreamID, "payload_len", len(m.Payload))

		if err := c.SendMessage(m); err != nil {
			return fmt.Errorf("control burst enqueue type=%d: %w", m.TypeID, err)
		}
		logSentControl(c, m)
	}
	return nil
}

// logSentControl logs one burst message at INFO with type-specific fields,
// and for Set Chunk Size also updates the connection's write chunk size to
// match what was just told to the peer.
func logSentControl(c *Connection, m *chunk.Message) {
	switch m.TypeID {
	case control.TypeWindowAcknowledgement:
		if len(m.Payload) == 4 {
			c.log.Info("control sent: window acknowledgement size", "size", binary.BigEndian.Uint32(m.Payload))
			return
		}
	case control.TypeSetPeerBandwidth:
		if len(m.Payload) == 5 {
			c.log.Info("control sent: set peer bandwidth",
				"bandwidth", binary.BigEndian.Uint32(m.Payload[:4]), "limit_type", m.Payload[4])
			return
		}
	case control.TypeSetChunkSize:
		if len(m.Payload) == 4 {
			newSize := binary.BigEndian.Uint32(m.Payload)
			c.log.Info("control sent: set chunk size", "size", newSize)
			c.writeChunkSize = newSize
			return
		}
	default:
		c.log.Info("control sent", "type_id", m.TypeID)
		return
	}
	c.log.Info("control sent", "type_id", m.TypeID)
}
