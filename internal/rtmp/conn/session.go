package conn

// SessionState is the lifecycle state of an RTMP session:
// Uninitialized -> Connected -> StreamCreated -> Publishing/Playing. The
// publish/play command handlers decide which of the two terminal states
// applies; this package only tracks the progression.
type SessionState uint8

const (
	SessionStateUninitialized SessionState = iota
	SessionStateConnected
	SessionStateStreamCreated
	SessionStatePublishing
	SessionStatePlaying
)

func (s SessionState) String() string {
	switch s {
	case SessionStateUninitialized:
		return "uninitialized"
	case SessionStateConnected:
		return "connected"
	case SessionStateStreamCreated:
		return "stream_created"
	case SessionStatePublishing:
		return "publishing"
	case SessionStatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Session holds per-connection RTMP metadata established after the
// handshake and the connect command. Mutated only by the command-handling
// goroutine, so no locking is needed.
type Session struct {
	app            string
	tcUrl          string
	flashVer       string
	objectEncoding uint8

	transactionID uint32 // starts at 1
	streamID      uint32 // allocated by createStream; 0 until set
	streamKey     string // "{app}/{streamName}" once publish/play received

	state SessionState
}

// NewSession creates a Session in SessionStateUninitialized, with the
// transaction ID counter seeded at 1 (matching FFmpeg/OBS, whose connect
// command itself uses transaction id 1).
func NewSession() *Session {
	return &Session{transactionID: 1, state: SessionStateUninitialized}
}

// SetConnectInfo records the "connect" command's fields and advances an
// Uninitialized session to Connected.
func (s *Session) SetConnectInfo(app, tcUrl, flashVer string, objectEncoding uint8) {
	s.app = app
	s.tcUrl = tcUrl
	s.flashVer = flashVer
	s.objectEncoding = objectEncoding
	s.advanceTo(SessionStateUninitialized, SessionStateConnected)
}

// NextTransactionID increments and returns the next transaction id.
func (s *Session) NextTransactionID() uint32 {
	s.transactionID++
	return s.transactionID
}

// AllocateStreamID allocates (or re-allocates) the message stream ID.
// Sessions typically only ever allocate stream id 1; the increment path
// exists for future multi-stream support.
func (s *Session) AllocateStreamID() uint32 {
	if s.streamID == 0 {
		s.streamID = 1
	} else {
		s.streamID++
	}
	s.advanceTo(SessionStateConnected, SessionStateStreamCreated)
	return s.streamID
}

// SetStreamKey composes and stores "{app}/{streamName}" (app, if non-empty,
// overrides the connect-time app), returning the constructed key. A
// StreamCreated session defaults to Publishing; the publish/play handler
// corrects this to Playing when appropriate.
func (s *Session) SetStreamKey(app, streamName string) string {
	if app != "" {
		s.app = app
	}
	s.streamKey = s.app + "/" + streamName
	s.advanceTo(SessionStateStreamCreated, SessionStatePublishing)
	return s.streamKey
}

// advanceTo moves the session from `from` to `to`, a no-op if the session
// isn't currently in `from` (callers racing ahead of the expected command
// order shouldn't regress state).
func (s *Session) advanceTo(from, to SessionState) {
	if s.state == from {
		s.state = to
	}
}

func (s *Session) App() string           { return s.app }
func (s *Session) TcUrl() string         { return s.tcUrl }
func (s *Session) FlashVer() string      { return s.flashVer }
func (s *Session) ObjectEncoding() uint8 { return s.objectEncoding }
func (s *Session) TransactionID() uint32 { return s.transactionID }
func (s *Session) StreamID() uint32      { return s.streamID }
func (s *Session) StreamKey() string     { return s.streamKey }
func (s *Session) State() SessionState   { return s.state }
