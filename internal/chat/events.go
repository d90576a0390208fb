package chat

// EventKind discriminates session events.
type EventKind int

const (
	// EventStatus reports a connection status change.
	EventStatus EventKind = iota

	// EventSystem carries a user-visible notice (key derived, channel
	// open, message dropped).
	EventSystem

	// EventText delivers decrypted incoming text.
	EventText

	// EventFile announces an incoming file, inline or blob-backed.
	EventFile
)

// Session status values.
const (
	StatusConnecting    = "connecting"
	StatusWaiting       = "waiting for partner"
	StatusReady         = "ready"
	StatusPeerConnected = "peer-connected"
	StatusClosed        = "closed"
	StatusConnectError  = "connect_error"
)

// IncomingFile describes a received file. Data is set for inline
// transfers and already decrypted; otherwise URL points at the stored
// ciphertext and IV is its nonce, to be fetched and decrypted via
// Session.Download.
type IncomingFile struct {
	Name string
	Mime string
	URL  string
	IV   []byte
	Data []byte
}

// Event is one item of the session's event stream.
type Event struct {
	Kind   EventKind
	Status string
	Text   string
	File   *IncomingFile
}
