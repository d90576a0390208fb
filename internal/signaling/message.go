package signaling

import "encoding/json"

// Message defines the structure for all C2S (Client to Server)
// and S2C (Server to Client) websocket messages. The payload of relayed
// messages is opaque to the server beyond the outer type tag.
type Message struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// client is the connection that sent the message.
	// Used internally by the Hub and not sent over JSON.
	client *Client
}

// Message type constants.
const (
	// Client to server
	TypeJoin   = "join"
	TypeLeave  = "leave"
	TypeSignal = "signal"
	TypePubkey = "pubkey"
	TypeRelay  = "msg"
	TypeFile   = "file"

	// Server to client
	TypeJoined     = "joined"
	TypeRoomCount  = "room-count"
	TypePeerJoined = "peer-joined"
	TypeInitiator  = "initiator"
	TypeFileSaved  = "file-saved"
	TypeError      = "error"
)

// JoinPayload accompanies a join request.
type JoinPayload struct {
	Name string `json:"name,omitempty"`
}

// JoinedPayload acknowledges a join to the joiner.
type JoinedPayload struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// RoomCountPayload is broadcast to every member on membership changes.
type RoomCountPayload struct {
	Count int `json:"count"`
}

// PeerJoinedPayload notifies existing members of a new participant.
type PeerJoinedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// InitiatorPayload assigns the negotiation role when a room reaches two
// members. The member that was already present is the initiator.
type InitiatorPayload struct {
	Initiator bool `json:"initiator"`
}

// Negotiation message kinds carried inside a signal payload.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// SignalData is the negotiation message relayed between peers: an offer or
// answer session description, or a connectivity candidate. The relay never
// interprets it.
type SignalData struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// PubkeyPayload carries a base64 raw public key.
type PubkeyPayload struct {
	Raw string `json:"raw"`
}

// RelayTextPayload is an encrypted text message relayed while no direct
// channel exists. IV and Cipher are base64.
type RelayTextPayload struct {
	Type   string `json:"type"`
	IV     string `json:"iv"`
	Cipher string `json:"cipher"`
}

// FileMetadata rides alongside a stored blob so the receiver can decrypt it.
type FileMetadata struct {
	IV   string `json:"iv"`
	Mime string `json:"mime,omitempty"`
}

// FilePayload uploads an encrypted file to the relay. Data is base64
// ciphertext; the server persists it verbatim.
type FilePayload struct {
	Filename string       `json:"filename"`
	Data     string       `json:"data"`
	Metadata FileMetadata `json:"metadata"`
}

// FileSavedPayload confirms a stored blob to the uploader.
type FileSavedPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// FileForwardPayload announces a stored blob to the other room members.
type FileForwardPayload struct {
	Filename string       `json:"filename"`
	URL      string       `json:"url"`
	Metadata FileMetadata `json:"metadata"`
}

// ErrorPayload reports a request failure to the sender.
type ErrorPayload struct {
	Error string `json:"error"`
}
