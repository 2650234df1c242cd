package rpc

import (
	"testing"

	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

func TestInvokePayload_Type20StripsPrefixByte(t *testing.T) {
	body, err := amf.EncodeAll("connect", 1.0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := &chunk.Message{TypeID: commandMessageAMF0TypeID, Payload: prefixInvokeType20(body)}
	got, err := invokePayload("test", msg)
	if err != nil {
		t.Fatalf("invokePayload: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("prefix not stripped correctly: got %v want %v", got, body)
	}
}

func TestInvokePayload_Type17PassesThrough(t *testing.T) {
	body, err := amf.EncodeAll("connect", 1.0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := &chunk.Message{TypeID: commandMessageAMF3TypeID, Payload: body}
	got, err := invokePayload("test", msg)
	if err != nil {
		t.Fatalf("invokePayload: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("payload altered unexpectedly: got %v want %v", got, body)
	}
}

func TestInvokePayload_RejectsOtherTypeIDs(t *testing.T) {
	msg := &chunk.Message{TypeID: 18, Payload: []byte{0x00}}
	if _, err := invokePayload("test", msg); err == nil {
		t.Fatalf("expected error for non-invoke type id")
	}
}

func TestInvokePayload_Type20MissingPrefixByte(t *testing.T) {
	msg := &chunk.Message{TypeID: commandMessageAMF0TypeID, Payload: nil}
	if _, err := invokePayload("test", msg); err == nil {
		t.Fatalf("expected error for missing prefix byte")
	}
}
