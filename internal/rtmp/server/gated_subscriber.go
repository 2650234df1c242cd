package server

// Keyframe gating for output subscribers: a newly attached subscriber must
// not receive video until it has seen either a cached codec header or a key
// frame, so it never starts decoding mid-GOP. Audio passes through
// unconditionally.

import (
	"sync"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/media"
)

const (
	videoMessageTypeID = 9
	videoFrameTypeKey  = 1
)

// gatedSubscriber wraps a media.Subscriber and withholds video frames until
// a codec header or key frame has been observed.
type gatedSubscriber struct {
	inner media.Subscriber

	mu    sync.Mutex
	ready bool
}

// newGatedSubscriber wraps sub for video keyframe gating.
func newGatedSubscriber(sub media.Subscriber) *gatedSubscriber {
	return &gatedSubscriber{inner: sub}
}

// passesGate reports whether msg should be forwarded, updating gate state as
// a side effect when msg is itself what opens the gate.
func (g *gatedSubscriber) passesGate(msg *chunk.Message) bool {
	if msg == nil || msg.TypeID != videoMessageTypeID {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return true
	}
	if isVideoCodecHeader(msg) || isVideoKeyFrame(msg) {
		g.ready = true
		return true
	}
	return false
}

func isVideoCodecHeader(msg *chunk.Message) bool {
	return len(msg.Payload) >= 2 && msg.Payload[1] == 0
}

func isVideoKeyFrame(msg *chunk.Message) bool {
	return len(msg.Payload) >= 1 && (msg.Payload[0]>>4) == videoFrameTypeKey
}

// SendMessage implements media.Subscriber.
func (g *gatedSubscriber) SendMessage(msg *chunk.Message) error {
	if !g.passesGate(msg) {
		return nil
	}
	return g.inner.SendMessage(msg)
}

// Unwrap returns the wrapped subscriber, used by Stream.RemoveSubscriber to
// match a gated entry against the original connection reference.
func (g *gatedSubscriber) Unwrap() media.Subscriber { return g.inner }

// TrySendMessage implements media.TrySendMessage when the wrapped subscriber
// supports it; gated-out frames report success without being forwarded so
// callers don't treat a deliberate drop as backpressure.
func (g *gatedSubscriber) TrySendMessage(msg *chunk.Message) bool {
	if !g.passesGate(msg) {
		return true
	}
	ts, ok := g.inner.(media.TrySendMessage)
	if !ok {
		return g.inner.SendMessage(msg) == nil
	}
	return ts.TrySendMessage(msg)
}
