package server

import (
	"testing"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

type recordingSubscriber struct{ received []*chunk.Message }

func (r *recordingSubscriber) SendMessage(m *chunk.Message) error {
	r.received = append(r.received, m)
	return nil
}

func TestGatedSubscriber_WithholdsVideoUntilKeyFrame(t *testing.T) {
	inner := &recordingSubscriber{}
	g := newGatedSubscriber(inner)

	// Audio always passes, gate or no gate.
	_ = g.SendMessage(&chunk.Message{TypeID: 8, Payload: []byte{0xAF, 0x01}})
	if len(inner.received) != 1 {
		t.Fatalf("expected audio to pass through, got %d messages", len(inner.received))
	}

	// Interframe (frame type 2) before any header/keyframe: withheld.
	_ = g.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte{0x27, 0x01}})
	if len(inner.received) != 1 {
		t.Fatalf("expected interframe to be withheld, got %d messages", len(inner.received))
	}

	// Key frame opens the gate.
	_ = g.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte{0x17, 0x01}})
	if len(inner.received) != 2 {
		t.Fatalf("expected key frame to pass and open gate, got %d messages", len(inner.received))
	}

	// Subsequent interframe now passes.
	_ = g.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte{0x27, 0x01}})
	if len(inner.received) != 3 {
		t.Fatalf("expected interframe after gate open to pass, got %d messages", len(inner.received))
	}
}

func TestGatedSubscriber_CodecHeaderOpensGate(t *testing.T) {
	inner := &recordingSubscriber{}
	g := newGatedSubscriber(inner)

	_ = g.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte{0x17, 0x00}})
	if len(inner.received) != 1 {
		t.Fatalf("expected codec header to pass through and open gate, got %d messages", len(inner.received))
	}
	_ = g.SendMessage(&chunk.Message{TypeID: 9, Payload: []byte{0x27, 0x01}})
	if len(inner.received) != 2 {
		t.Fatalf("expected interframe to pass after header opened gate, got %d messages", len(inner.received))
	}
}

func TestGatedSubscriber_Unwrap(t *testing.T) {
	inner := &recordingSubscriber{}
	g := newGatedSubscriber(inner)
	if g.Unwrap() != inner {
		t.Fatalf("expected Unwrap to return the original subscriber")
	}
}
