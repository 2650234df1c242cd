package server

import (
	"testing"

	"github.com/alxayo/rtmp-relay/internal/rtmp/amf"
	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/media"
)

// stubSubscriber implements media.Subscriber with a no‑op SendMessage.
type stubSubscriber struct{}

func (s *stubSubscriber) SendMessage(_ *chunk.Message) error { return nil }

// Ensure stub implements the right interface expected (from media package we imported earlier).
var _ media.Subscriber = (*stubSubscriber)(nil)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()
	if s, ok := r.CreateStream("app/stream1"); !ok || s == nil {
		t.Fatalf("expected new stream to be created")
	}
	// idempotent create
	if _, ok := r.CreateStream("app/stream1"); ok {
		t.Fatalf("expected existing stream, not newly created")
	}
	if r.GetStream("missing") != nil {
		t.Fatalf("expected nil for missing stream")
	}
}

func TestRegistryPublisher(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/stream2")
	if err := s.SetPublisher("pub1"); err != nil {
		t.Fatalf("unexpected error setting publisher: %v", err)
	}
	// A second publish takes over the stream rather than failing: the
	// stale publisher is force-closed (no-op here since "pub1" is a plain
	// string, not a closer) and the new one replaces it.
	if err := s.SetPublisher("pub2"); err != nil {
		t.Fatalf("unexpected error replacing publisher: %v", err)
	}
	if s.Publisher != "pub2" {
		t.Fatalf("expected publisher to be replaced, got %v", s.Publisher)
	}
}

func TestRegistrySubscribers(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/stream3")
	s.AddSubscriber(&stubSubscriber{})
	s.AddSubscriber(&stubSubscriber{})
	if c := s.SubscriberCount(); c != 2 {
		t.Fatalf("expected 2 subscribers, got %d", c)
	}
}

func TestStreamHandleDataMessage_SetDataFrameOnMetaData(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/meta1")

	payload, err := amf.EncodeAll("@setDataFrame", "onMetaData", map[string]interface{}{
		"width":  float64(1920),
		"height": float64(1080),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg := &chunk.Message{CSID: 4, TypeID: 18, MessageStreamID: 1, Payload: payload}

	s.HandleDataMessage(msg, nil)

	if s.Metadata["width"] != float64(1920) {
		t.Fatalf("expected metadata width to be cached, got %v", s.Metadata["width"])
	}
	if s.MetadataHeader == nil {
		t.Fatalf("expected MetadataHeader to be cached")
	}
	if string(s.MetadataHeader.Payload) != string(payload) {
		t.Fatalf("cached metadata payload mismatch")
	}
}

func TestStreamHandleDataMessage_IgnoresOtherCommands(t *testing.T) {
	r := NewRegistry()
	s, _ := r.CreateStream("app/meta2")

	payload, _ := amf.EncodeAll("someOtherCommand", "x")
	msg := &chunk.Message{TypeID: 18, Payload: payload}

	s.HandleDataMessage(msg, nil)

	if s.MetadataHeader != nil {
		t.Fatalf("expected no metadata cached for unrelated data message")
	}
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	r.CreateStream("app/stream4")
	if !r.DeleteStream("app/stream4") {
		t.Fatalf("expected delete to succeed")
	}
	if r.GetStream("app/stream4") != nil {
		t.Fatalf("expected stream to be gone")
	}
	if r.DeleteStream("app/stream4") { // second delete
		t.Fatalf("expected second delete to be false")
	}
}
