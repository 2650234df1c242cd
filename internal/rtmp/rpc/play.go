package rpc

import (
	"fmt"

	"github.com/alxayo/rtmp-relay/internal/errors"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

// PlayCommand represents a parsed "play" command.
// Spec form (subset we care about): ["play", 0, null, streamName, start, duration, reset]
// Only streamName is strictly required for our current feature scope.
type PlayCommand struct {
	App        string        // application name (passed in separately, from session)
	StreamName string        // raw stream name component
	StreamKey  string        // full key: app/streamName
	Start      int64         // -2=live, -1=recorded, >=0 offset (seconds)
	Duration   int64         // duration if provided (seconds), -1 if not provided
	Reset      bool          // reset flag if provided
	RawValues  []interface{} // retained for debugging / future use
}

// ParsePlayCommand parses an RTMP AMF0 command message assumed to contain a
// "play" invocation. The caller must supply the current application name (from
// the connect command) so we can construct the full stream key.
//
// Expected AMF0 sequence (indices):
//
//	0: "play" (string)
//	1: transaction ID (number, typically 0) - ignored
//	2: null (command object placeholder) - ignored
//	3: streamName (string) - required
//	4: start (number) optional
//	5: duration (number) optional
//	6: reset (boolean) optional
func ParsePlayCommand(msg *chunk.Message, app string) (*PlayCommand, error) {
	vals, err := decodeCommandInvoke("play.parse", "play", msg, 4)
	if err != nil {
		return nil, err
	}

	// 3: streamName
	streamName, ok := vals[3].(string)
	if !ok || streamName == "" {
		return nil, errors.NewProtocolError("play.parse", fmt.Errorf("missing stream name"))
	}

	pc := &PlayCommand{App: app, StreamName: streamName, StreamKey: fmt.Sprintf("%s/%s", app, streamName), RawValues: vals}
	pc.Start = optionalInt64(vals, 4, -2)    // -2 = live, per common practice when absent/wrong type
	pc.Duration = optionalInt64(vals, 5, -1) // -1 = not provided
	if len(vals) >= 7 {
		if v, ok := vals[6].(bool); ok {
			pc.Reset = v
		}
	}

	return pc, nil
}

// optionalInt64 reads vals[idx] as a float64 and truncates to int64, or
// returns def if idx is out of range or holds a different type.
func optionalInt64(vals []interface{}, idx int, def int64) int64 {
	if idx >= len(vals) {
		return def
	}
	v, ok := vals[idx].(float64)
	if !ok {
		return def
	}
	return int64(v)
}
