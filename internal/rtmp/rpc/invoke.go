package rpc

import (
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// RTMP message type IDs that carry a command (Invoke) message. A type 20
// payload is always prefixed by one extra 0x00 byte whose meaning beyond
// "strip it" is undocumented; the remainder is AMF0. A type 17 payload is
// decoded as plain AMF0 with no prefix byte.
const (
	commandMessageAMF0TypeID = 20
	commandMessageAMF3TypeID = 17
)

// CommandMessageAMF0TypeIDForTest exposes the command message type id (20)
// to other packages that need to build AMF0 command messages (e.g. server
// handlers) without exporting the constant itself. Kept small to avoid
// broadening the public API surface prematurely.
func CommandMessageAMF0TypeIDForTest() uint8 { return commandMessageAMF0TypeID }

// isInvokeTypeID reports whether t is one of the two command message type ids.
func isInvokeTypeID(t uint8) bool {
	return t == commandMessageAMF0TypeID || t == commandMessageAMF3TypeID
}

// invokePayload validates msg carries an Invoke message and returns the
// AMF0-decodable payload, stripping the leading 0x00 byte required on type 20.
func invokePayload(op string, msg *chunk.Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.NewProtocolError(op, fmt.Errorf("nil message"))
	}
	if !isInvokeTypeID(msg.TypeID) {
		return nil, errors.NewProtocolError(op, fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	if msg.TypeID == commandMessageAMF0TypeID {
		if len(msg.Payload) < 1 {
			return nil, errors.NewProtocolError(op, fmt.Errorf("type 20 invoke missing required prefix byte"))
		}
		return msg.Payload[1:], nil
	}
	return msg.Payload, nil
}

// prefixInvokeType20 prepends the mandatory 0x00 byte required on outgoing
// type-20 Invoke payloads.
func prefixInvokeType20(amf0Payload []byte) []byte {
	out := make([]byte, 1+len(amf0Payload))
	copy(out[1:], amf0Payload)
	return out
}

// PrefixInvokeType20ForTest exposes prefixInvokeType20 to other packages
// (the client role and handler tests) that build outgoing type-20 Invoke
// messages and must prepend the same mandatory prefix byte.
func PrefixInvokeType20ForTest(amf0Payload []byte) []byte {
	return prefixInvokeType20(amf0Payload)
}

// InvokePayloadForTest exposes invokePayload to other packages (the client
// role) that must accept either Invoke type id on incoming messages.
func InvokePayloadForTest(msg *chunk.Message) ([]byte, error) {
	return invokePayload("client.invoke", msg)
}

// IsInvokeTypeIDForTest exposes isInvokeTypeID to other packages that need
// to filter incoming messages down to Invoke (command) messages.
func IsInvokeTypeIDForTest(t uint8) bool {
	return isInvokeTypeID(t)
}

// decodeCommandInvoke decodes msg's Invoke payload as a sequence of AMF0
// values, checks it carries at least minLen values, and verifies vals[0] is
// the expected command name. Shared by ParseConnectCommand/ParseCreateStreamCommand/
// ParsePlayCommand/ParsePublishCommand, which otherwise each duplicated this
// decode-length-name boilerplate.
func decodeCommandInvoke(op, cmdName string, msg *chunk.Message, minLen int) ([]interface{}, error) {
	payload, err := invokePayload(op, msg)
	if err != nil {
		return nil, err
	}
	vals, err := amf.DecodeAll(payload)
	if err != nil {
		return nil, errors.NewProtocolError(op+".decode", err)
	}
	if len(vals) < minLen {
		return nil, errors.NewProtocolError(op, fmt.Errorf("expected >=%d AMF values, got %d", minLen, len(vals)))
	}
	name, ok := vals[0].(string)
	if !ok || name != cmdName {
		return nil, errors.NewProtocolError(op, fmt.Errorf("first value must be string %q", cmdName))
	}
	return vals, nil
}
