package conn

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/control"
)

func newLivenessTestConn(t *testing.T) *Connection {
	t.Helper()
	c := &Connection{
		id:  "test-conn",
		log: slog.New(slog.NewTextHandler(io.Discard, nil)).With("conn_id", "test"),
	}
	now := time.Now().UnixNano()
	c.lastActivityAt.Store(now)
	c.lastPongAt.Store(now)
	return c
}

func TestNoteLivenessControlResetsPongTimerOnPingResponse(t *testing.T) {
	c := newLivenessTestConn(t)
	stale := time.Now().Add(-time.Hour).UnixNano()
	c.lastPongAt.Store(stale)

	pong := control.EncodeUserControlPingResponse(12345)
	c.noteLivenessControl(pong)

	if c.lastPongAt.Load() == stale {
		t.Fatal("expected lastPongAt to be updated on PING response")
	}
}

func TestNoteLivenessControlIgnoresNonUserControlMessages(t *testing.T) {
	c := newLivenessTestConn(t)
	stale := time.Now().Add(-time.Hour).UnixNano()
	c.lastPongAt.Store(stale)

	c.noteLivenessControl(&chunk.Message{TypeID: 9, Payload: []byte{0x17, 0x01}})

	if c.lastPongAt.Load() != stale {
		t.Fatal("expected lastPongAt to be untouched by a non-UserControl message")
	}
}

func TestNoteLivenessControlIgnoresOtherUserControlEvents(t *testing.T) {
	c := newLivenessTestConn(t)
	stale := time.Now().Add(-time.Hour).UnixNano()
	c.lastPongAt.Store(stale)

	streamBegin := control.EncodeUserControlStreamBegin(1)
	c.noteLivenessControl(streamBegin)

	if c.lastPongAt.Load() != stale {
		t.Fatal("expected lastPongAt to be untouched by a Stream Begin event")
	}
}
