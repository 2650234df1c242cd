// Package media's Stream is a package-local broadcaster satisfying the
// CodecStore interface: Add/RemoveSubscriber take the write lock,
// BroadcastMessage snapshots subscribers under the read lock and releases
// it before delivery, so a slow subscriber can't stall the write side.
// server.Stream is the full server-side entity; this type exists for the
// relay's own unit tests and for callers that only need codec detection
// plus fan-out without the rest of server.Stream's bookkeeping.
package media

import (
	"io"
	"log/slog"
	"sync"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
)

type Subscriber interface {
	SendMessage(*chunk.Message) error
}

// TrySendMessage is an optional interface for non‑blocking enqueue semantics.
type TrySendMessage interface {
	TrySendMessage(*chunk.Message) bool
}

// Stream is a minimal implementation used only for media relay tests. It purposely
// only includes fields required for codec detection + broadcasting.
type Stream struct {
	key        string
	videoCodec string
	audioCodec string
	mu         sync.RWMutex
	subs       []Subscriber
}

func NewStream(key string) *Stream { return &Stream{key: key, subs: make([]Subscriber, 0)} }

// --- CodecStore implementation ---
func (s *Stream) SetAudioCodec(c string) { s.audioCodec = c }
func (s *Stream) SetVideoCodec(c string) { s.videoCodec = c }
func (s *Stream) GetAudioCodec() string  { return s.audioCodec }
func (s *Stream) GetVideoCodec() string  { return s.videoCodec }
func (s *Stream) StreamKey() string      { return s.key }

// AddSubscriber appends a subscriber safely.
func (s *Stream) AddSubscriber(sub Subscriber) {
	if sub == nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// RemoveSubscriber drops the first matching subscriber, if present.
func (s *Stream) RemoveSubscriber(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.subs {
		if existing == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Subscribers snapshot (used in tests only).
func (s *Stream) Subscribers() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, len(s.subs))
	copy(out, s.subs)
	return out
}

// BroadcastMessage relays a publisher's media message to all current subscribers.
// It also performs one-shot codec detection on the first audio/video frames.
func (s *Stream) BroadcastMessage(detector *CodecDetector, msg *chunk.Message, logger *slog.Logger) {
	if s == nil || msg == nil || logger == nil {
		return
	}

	if msg.TypeID == 8 || msg.TypeID == 9 {
		if detector == nil {
			detector = &CodecDetector{}
		}
		detector.Process(msg.TypeID, msg.Payload, s, logger)
	}

	subs := s.snapshotSubscribers()
	for _, sub := range subs {
		s.deliver(sub, msg, logger)
	}
}

// snapshotSubscribers copies the current subscriber list under the read
// lock so delivery never holds the lock across a potentially slow send.
func (s *Stream) snapshotSubscribers() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscriber, len(s.subs))
	copy(out, s.subs)
	return out
}

// deliver sends msg to one subscriber, preferring the non-blocking
// TrySendMessage path and dropping the message on backpressure rather than
// blocking the whole broadcast loop.
func (s *Stream) deliver(sub Subscriber, msg *chunk.Message, logger *slog.Logger) {
	if sub == nil {
		return
	}
	if ts, ok := sub.(TrySendMessage); ok {
		if !ts.TrySendMessage(msg) {
			logger.Debug("dropped media message (slow subscriber)", "stream_key", s.key)
		}
		return
	}
	_ = sub.SendMessage(msg)
}

// NullLogger is a helper returning a no‑op slog.Logger for tests when caller
// doesn't care about output.
func NullLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
