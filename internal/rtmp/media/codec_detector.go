package media

import "log/slog"

// CodecStore is the subset of Stream's behavior the detector needs to read
// and persist detected codecs, kept as an interface so this package never
// depends on the server package's concrete Stream type.
type CodecStore interface {
	SetAudioCodec(string)
	SetVideoCodec(string)
	GetAudioCodec() string
	GetVideoCodec() string
	StreamKey() string
}

// CodecDetector performs one-shot detection of audio and video codecs from
// the first audio (type 8) and video (type 9) message a stream carries. It
// holds no state of its own; detected codecs live in the CodecStore.
type CodecDetector struct{}

type mediaKind int

const (
	mediaAudio mediaKind = 8
	mediaVideo mediaKind = 9
)

// Process inspects one incoming message and, if its media type hasn't been
// classified yet for store, parses and records the codec. logger receives
// an info line the first time each codec is detected; both store and
// logger are required.
func (d *CodecDetector) Process(msgType uint8, payload []byte, store CodecStore, logger *slog.Logger) {
	if store == nil || logger == nil {
		return
	}

	var updated bool
	switch mediaKind(msgType) {
	case mediaAudio:
		updated = d.detectAudio(payload, store)
	case mediaVideo:
		updated = d.detectVideo(payload, store)
	}

	if updated {
		logger.Info("codecs detected",
			"stream_key", store.StreamKey(),
			"videoCodec", store.GetVideoCodec(),
			"audioCodec", store.GetAudioCodec())
	}
}

func (d *CodecDetector) detectAudio(payload []byte, store CodecStore) bool {
	if store.GetAudioCodec() != "" {
		return false
	}
	am, err := ParseAudioMessage(payload)
	if err != nil {
		return false
	}
	store.SetAudioCodec(am.Codec)
	return true
}

func (d *CodecDetector) detectVideo(payload []byte, store CodecStore) bool {
	if store.GetVideoCodec() != "" {
		return false
	}
	vm, err := ParseVideoMessage(payload)
	if err != nil {
		return false
	}
	store.SetVideoCodec(vm.Codec)
	return true
}
