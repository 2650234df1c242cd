package server

// Command Integration (Incremental Wiring)
// ---------------------------------------
// This file bridges the lower-level connection (handshake + control +
// chunking read/write loops) with the existing RPC command parsing and
// handlers so that real RTMP clients (OBS / ffmpeg) can complete the
// connect → createStream → publish / play sequences.
//
// Scope:
//   * Per-connection state: application name (from connect), stream id
//     allocator for createStream responses.
//   * Dispatch handling for: connect, createStream, publish, play; unknown
//     commands are ignored by the dispatcher.
//   * Errors are logged; protocol errors do not close the connection and
//     no _error response is sent.
//
// Standard broadcasters receive the canonical responses:
//   - _result for connect (NetConnection.Connect.Success)
//   - _result for createStream returning stream id (1)
//   - onStatus NetStream.Publish.Start after publish
//
// Audio, video and data messages from a publisher are passed to
// processIncomingMessage, which records, broadcasts, relays and caches them.

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	iconn "github.com/alxayo/rtmp-relay/internal/rtmp/conn"
	"github.com/alxayo/rtmp-relay/internal/rtmp/control"
	"github.com/alxayo/rtmp-relay/internal/rtmp/media"
	"github.com/alxayo/rtmp-relay/internal/rtmp/relay"
	"github.com/alxayo/rtmp-relay/internal/rtmp/rpc"
	"github.com/alxayo/rtmp-relay/internal/rtmp/server/hooks"
)

// commandState holds mutable per-connection fields needed by handlers.
type commandState struct {
	app           string
	streamKey     string // current publish/play stream key
	publishing    bool
	playing       bool
	allocator     *rpc.StreamIDAllocator
	mediaLogger   *MediaLogger
	codecDetector *media.CodecDetector
}

// attachCommandHandling installs a dispatcher-backed message handler on the
// provided connection. Safe to call immediately after Accept returns.
// destMgr (optional) receives a copy of every published audio/video message
// for push relay to configured destinations. srv (optional) is used to fire
// stream-lifecycle hook events.
func attachCommandHandling(c *iconn.Connection, reg *Registry, cfg *Config, log *slog.Logger, destMgr *relay.DestinationManager, srv *Server) {
	if c == nil || reg == nil || cfg == nil {
		return
	}
	st := &commandState{
		allocator:     rpc.NewStreamIDAllocator(),
		mediaLogger:   NewMediaLogger(c.ID(), log, 30*time.Second),
		codecDetector: &media.CodecDetector{},
	}

	d := rpc.NewDispatcher(func() string { return st.app })

	d.OnConnect = func(cc *rpc.ConnectCommand, msg *chunk.Message) error {
		log.Debug("OnConnect handler invoked", "app", cc.App, "tcUrl", cc.TcURL, "txn_id", cc.TransactionID)
		// Persist app for subsequent publish/play parsing.
		st.app = cc.App
		log.Debug("building connect response", "txn_id", cc.TransactionID)
		resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
		if err != nil {
			log.Error("connect response build failed", "error", err)
			return nil // swallow errors to keep connection alive for now
		}
		// Debug: log first 64 bytes of response payload
		previewLen := 64
		if len(resp.Payload) < previewLen {
			previewLen = len(resp.Payload)
		}
		log.Debug("connect response payload preview", "bytes", resp.Payload[:previewLen])
		log.Debug("sending connect response", "txn_id", cc.TransactionID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("connect response send failed", "error", err)
		} else {
			log.Info("connect response sent successfully", "app", cc.App)
		}

		// onBWDone: some clients (ffmpeg) stall waiting for this before
		// proceeding to createStream. No reply is expected.
		if bwDone, err := rpc.BuildOnBWDone(); err != nil {
			log.Error("onBWDone build failed", "error", err)
		} else if err := c.SendMessage(bwDone); err != nil {
			log.Error("onBWDone send failed", "error", err)
		}

		return nil // swallow errors to keep connection alive for now
	}

	d.OnCreateStream = func(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
		log.Debug("OnCreateStream handler invoked", "txn_id", cs.TransactionID)
		resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, st.allocator)
		if err != nil {
			log.Error("createStream response build failed", "error", err)
			return nil
		}
		log.Debug("createStream response built", "stream_id", streamID, "payload_len", len(resp.Payload))
		if err := c.SendMessage(resp); err != nil {
			log.Error("createStream response send failed", "error", err)
		} else {
			log.Info("createStream response sent successfully", "stream_id", streamID, "txn_id", cs.TransactionID)
		}

		// Send UserControl StreamBegin to signal stream is ready
		streamBegin := control.EncodeUserControlStreamBegin(streamID)
		if err := c.SendMessage(streamBegin); err != nil {
			log.Error("StreamBegin send failed", "error", err, "stream_id", streamID)
		} else {
			log.Info("StreamBegin sent", "stream_id", streamID)
		}
		return nil
	}

	d.OnPublish = func(pc *rpc.PublishCommand, msg *chunk.Message) error {
		streamExisted := reg.GetStream(pc.StreamKey) != nil

		// Delegate to existing publish handler (sends onStatus internally).
		if _, err := HandlePublish(reg, c, st.app, msg); err != nil {
			log.Error("publish handle", "error", err)
			return nil
		}

		// Track stream key for this connection
		st.streamKey = pc.StreamKey
		st.publishing = true

		if !streamExisted {
			srv.triggerHookEvent(hooks.EventStreamCreate, c.ID(), pc.StreamKey, nil)
		}
		srv.triggerHookEvent(hooks.EventPublishStart, c.ID(), pc.StreamKey, map[string]interface{}{
			"app": st.app,
		})

		// Stream.start (§4.4): a real Input attach fulfills any matching
		// Output-direction Client endpoints (C6) by dialing push
		// connections for this stream.
		if stream := reg.GetStream(pc.StreamKey); stream != nil {
			srv.fulfillPushEndpoints(stream, st.app, pc.PublishingName)
		}

		// Initialize recorder if recording is enabled
		if cfg.RecordAll {
			stream := reg.GetStream(pc.StreamKey)
			if stream != nil {
				if err := initRecorder(stream, cfg.RecordDir, log); err != nil {
					log.Error("failed to create recorder", "error", err, "stream_key", pc.StreamKey)
				} else {
					log.Info("recording started", "stream_key", pc.StreamKey, "record_dir", cfg.RecordDir)
				}
			}
		}

		return nil
	}

	d.OnPlay = func(pl *rpc.PlayCommand, msg *chunk.Message) error {
		// Delegate to existing play handler (sends onStatus internally).
		if _, err := HandlePlay(reg, c, st.app, msg); err != nil {
			log.Error("play handle", "error", err)
			return nil
		}

		// Track stream key for this connection
		st.streamKey = pl.StreamKey
		st.playing = true

		srv.triggerHookEvent(hooks.EventPlayStart, c.ID(), pl.StreamKey, map[string]interface{}{
			"app": st.app,
		})

		// Stream.start (§4.4): an Output attach with no local publisher yet
		// fulfills a matching Input-direction Client endpoint (C6) by
		// dialing a pull connection into this stream.
		if stream := reg.GetStream(pl.StreamKey); stream != nil {
			srv.fulfillPullEndpoint(stream, st.app, pl.StreamName)
		}

		return nil
	}

	c.SetCloseHandler(func() {
		if st.streamKey == "" {
			return
		}
		if st.publishing {
			PublisherDisconnected(reg, st.streamKey, c)
			cleanupRecorder(reg, st.streamKey, log)
			srv.triggerHookEvent(hooks.EventPublishStop, c.ID(), st.streamKey, nil)
			if stream := reg.GetStream(st.streamKey); stream != nil && stream.SubscriberCount() == 0 {
				if reg.DeleteStream(st.streamKey) {
					stream.StopClientConnections()
					srv.triggerHookEvent(hooks.EventStreamDelete, c.ID(), st.streamKey, nil)
				}
			}
		}
		if st.playing {
			SubscriberDisconnected(reg, st.streamKey, c)
			srv.triggerHookEvent(hooks.EventPlayStop, c.ID(), st.streamKey, nil)
		}
	})

	c.SetMessageHandler(func(m *chunk.Message) {
		if m == nil {
			return
		}

		log.Debug("message handler invoked", "type_id", m.TypeID, "msid", m.MessageStreamID, "len", len(m.Payload))

		// Process media packets (audio/video) through MediaLogger, then the
		// shared pipeline (also used by pull-sourced endpoint connections).
		if m.TypeID == 8 || m.TypeID == 9 {
			st.mediaLogger.ProcessMessage(m)

			if st.streamKey != "" {
				if stream := reg.GetStream(st.streamKey); stream != nil {
					wasDetected := stream.GetVideoCodec() != "" && stream.GetAudioCodec() != ""
					processIncomingMessage(stream, m, st.codecDetector, destMgr, log)
					if !wasDetected && stream.GetVideoCodec() != "" && stream.GetAudioCodec() != "" {
						srv.triggerHookEvent(hooks.EventCodecDetected, c.ID(), st.streamKey, map[string]interface{}{
							"video_codec": stream.GetVideoCodec(),
							"audio_codec": stream.GetAudioCodec(),
						})
					}
				}
			}

			return // Media packets don't need command dispatch
		}

		// Data messages (AMF0/AMF3 data, type 15/18) carry @setDataFrame /
		// onMetaData notifications — cache them for subscriber replay.
		if m.TypeID == 15 || m.TypeID == 18 {
			if st.streamKey != "" {
				if stream := reg.GetStream(st.streamKey); stream != nil {
					processIncomingMessage(stream, m, st.codecDetector, destMgr, log)
				}
			}
			return
		}

		if m.TypeID != rpc.CommandMessageAMF0TypeIDForTest() {
			log.Debug("skipping non-command message", "type_id", m.TypeID)
			return
		}
		log.Debug("dispatching command message", "type_id", m.TypeID)
		if err := d.Dispatch(m); err != nil {
			log.Error("dispatch error", "error", err)
		}
	})
}

// initRecorder creates and initializes a recorder for the given stream.
// It generates a timestamped filename based on the stream key and stores
// the recorder in the stream's Recorder field.
func initRecorder(stream *Stream, recordDir string, log *slog.Logger) error {
	if stream == nil {
		return fmt.Errorf("nil stream")
	}

	// Ensure record directory exists
	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	// Generate filename: streamkey_timestamp.flv
	// Replace slashes in stream key with underscores for filesystem safety
	safeKey := strings.ReplaceAll(stream.Key, "/", "_")
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, timestamp)
	filepath := filepath.Join(recordDir, filename)

	// Create recorder
	recorder, err := media.NewRecorder(filepath, log)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	// Store recorder in stream
	stream.mu.Lock()
	stream.Recorder = recorder
	stream.mu.Unlock()

	log.Info("recorder initialized", "stream_key", stream.Key, "file", filepath)
	return nil
}

// cleanupRecorder closes and removes the recorder for the given stream key.
func cleanupRecorder(reg *Registry, streamKey string, log *slog.Logger) {
	if reg == nil || streamKey == "" {
		return
	}

	stream := reg.GetStream(streamKey)
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.Recorder != nil {
		if err := stream.Recorder.Close(); err != nil {
			log.Error("recorder close error", "error", err, "stream_key", streamKey)
		} else {
			log.Info("recorder closed", "stream_key", streamKey)
		}
		stream.Recorder = nil
	}
}
