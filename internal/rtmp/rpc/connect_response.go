package rpc

import (
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// BuildConnectResponse builds the standard _result response for a successful
// connect command. It returns an RTMP AMF0 command message (type 20) with the
// following structure:
// ["_result", transactionID, properties:Object, information:Object]
//
// properties fields:
//
//	fmsVer:       string (flash media server version string)
//	capabilities: number (capabilities bitmask - we expose a conventional 31)
//	mode:         number (1 per observed implementations)
//
// information fields:
//
//	level:       "status"
//	code:        "NetConnection.Connect.Success"
//	description: caller provided description
//
// The returned message uses MessageStreamID=0 (connection level). CSID is left
// as zero here; actual assignment (typically 3 for command) is handled by the
// chunk writer layer when serialising for the wire.
func BuildConnectResponse(transactionID float64, description string) (*chunk.Message, error) {
	props := map[string]interface{}{
		"fmsVer":       "FMS/3,5,7,7009", // common version string used by many simple servers
		"capabilities": 31.0,
		"mode":         1.0,
	}

	info := map[string]interface{}{
		"level":       "status",
		"code":        "NetConnection.Connect.Success",
		"description": description,
	}

	return buildCommandMessage("connect.response.encode", "_result", transactionID, props, info)
}

// buildCommandMessage AMF0-encodes values as a type-20 command message at
// MessageStreamID 0. CSID is left at zero; the chunk writer assigns the
// actual stream (usually 3) when serializing for the wire.
func buildCommandMessage(errOp string, values ...interface{}) (*chunk.Message, error) {
	payload, err := amf.EncodeAll(values...)
	if err != nil {
		return nil, errors.NewProtocolError(errOp, fmt.Errorf("amf encode: %w", err))
	}
	payload = prefixInvokeType20(payload)

	return &chunk.Message{
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: 0,
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}, nil
}

// BuildOnBWDone builds the onBWDone command many clients (notably ffmpeg)
// expect immediately after the connect _result, before createStream. It has
// no reply and is purely advisory: ["onBWDone", 0].
//
// Server bandwidth probing itself is not implemented (no data is actually
// sent to measure bandwidth); this just satisfies clients that otherwise
// stall waiting for it.
func BuildOnBWDone() (*chunk.Message, error) {
	return buildCommandMessage("bwdone.encode", "onBWDone", 0.0)
}
