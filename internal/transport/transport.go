// Package transport abstracts the direct peer-to-peer channel. The
// negotiation layer drives the offer/answer handshake through this
// interface and treats the resulting channel as an opaque ordered,
// reliable, bidirectional byte-message transport.
package transport

import "errors"

var ErrChannelNotOpen = errors.New("channel not open")

// Callbacks deliver transport events. They may be invoked from
// transport-owned goroutines; implementations hand them to a single
// consumer.
type Callbacks struct {
	// OnOpen fires once when the direct channel becomes usable.
	OnOpen func()

	// OnMessage delivers one inbound byte message.
	OnMessage func(data []byte)

	// OnClose fires once when the channel closes or fails. err is nil for
	// an orderly close.
	OnClose func(err error)

	// OnCandidate emits a local connectivity candidate to be relayed to
	// the peer. The encoding is opaque to callers.
	OnCandidate func(candidate []byte)
}

// Transport is one direct-channel attempt. It is single-use: after Close a
// fresh Transport is required.
type Transport interface {
	// CreateOffer starts the handshake on the initiator side and returns
	// the local session description.
	CreateOffer() (sdp string, err error)

	// HandleOffer applies the remote offer on the responder side and
	// returns the local answer.
	HandleOffer(sdp string) (answer string, err error)

	// HandleAnswer applies the remote answer on the initiator side.
	HandleAnswer(sdp string) error

	// AddCandidate applies a relayed remote connectivity candidate.
	AddCandidate(candidate []byte) error

	// HasRemoteDescription reports whether a remote description has been
	// applied; candidates are only applicable after that.
	HasRemoteDescription() bool

	// Send writes one byte message to the open channel.
	Send(data []byte) error

	Close() error
}
