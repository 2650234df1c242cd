package rpc

import (
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// CreateStreamCommand represents a parsed "createStream" command.
// Spec form: ["createStream", transactionID, null]
type CreateStreamCommand struct {
	TransactionID float64
}

// ParseCreateStreamCommand parses an AMF0 command message assumed to contain
// a createStream invocation. Expected AMF0 sequence:
//
//	0: string "createStream"
//	1: number transactionID
//	2: null (ignored)
func ParseCreateStreamCommand(msg *chunk.Message) (*CreateStreamCommand, error) {
	vals, err := decodeCommandInvoke("createstream.parse", "createStream", msg, 3)
	if err != nil {
		return nil, err
	}

	// 1: transaction ID (number)
	trx, ok := vals[1].(float64)
	if !ok {
		return nil, errors.NewProtocolError("createstream.parse", fmt.Errorf("second value must be number transaction ID"))
	}

	// 2: null is ignored; presence alone is enough since the length check above
	// already guarantees the index exists.

	return &CreateStreamCommand{TransactionID: trx}, nil
}
