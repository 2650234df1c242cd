package server

// Shared media/data message processing (§4.4 send_audio_frame /
// send_video_frame / send_text_data): the same pipeline a directly
// connected publisher's messages go through also applies to frames read
// back in by a pull-direction Client connection (C6), so both call sites
// route through processIncomingMessage instead of duplicating the
// broadcast/record/relay/cache logic.

import (
	"log/slog"

	"github.com/alxayo/rtmp-relay/internal/rtmp/chunk"
	"github.com/alxayo/rtmp-relay/internal/rtmp/media"
	"github.com/alxayo/rtmp-relay/internal/rtmp/relay"
)

// processIncomingMessage feeds one message from any source (a local
// publisher's connection, or a pull source dialed on its behalf) into
// stream: recording, subscriber broadcast, push-endpoint relay, and
// metadata caching all happen here so neither call site has to repeat it.
func processIncomingMessage(stream *Stream, m *chunk.Message, codecDetector *media.CodecDetector, destMgr *relay.DestinationManager, log *slog.Logger) {
	if stream == nil || m == nil {
		return
	}
	switch {
	case m.TypeID == 8 || m.TypeID == 9:
		if stream.Recorder != nil {
			stream.Recorder.WriteMessage(m)
		}
		stream.BroadcastMessage(codecDetector, m, log)
		if destMgr != nil {
			destMgr.RelayMessage(m)
		}
		stream.RelayToClientDestinations(m)
	case m.TypeID == 15 || m.TypeID == 18:
		stream.HandleDataMessage(m, log)
	}
}
