package chat

import (
	"fmt"
	"log/slog"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/signaling"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/transport"
)

// State of one negotiation attempt.
type State int

const (
	StateIdle State = iota
	StateKeysReady
	StateOfferSent
	StateAwaitingAnswer
	StateAwaitingOffer
	StateAnswerSent
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateKeysReady:
		return "keys-ready"
	case StateOfferSent:
		return "offer-sent"
	case StateAwaitingAnswer:
		return "awaiting-answer"
	case StateAwaitingOffer:
		return "awaiting-offer"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Negotiator drives the direct-transport handshake for one attempt. It is
// not safe for concurrent use: the session calls it from a single dispatch
// goroutine, which is what gives the arrival-order guarantees.
//
// Messages that cannot be applied yet (an answer arriving before the local
// offer went out, a candidate before the remote description) go on a
// pending queue drained strictly in arrival order; a blocked head stops
// the drain, nothing is reordered past it.
type Negotiator struct {
	state         State
	tr            transport.Transport
	sendSignal    func(signaling.SignalData)
	onState       func(State)
	log           *slog.Logger
	pending       []signaling.SignalData
	answerApplied bool
}

func NewNegotiator(tr transport.Transport, sendSignal func(signaling.SignalData), onState func(State), log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{
		state:      StateIdle,
		tr:         tr,
		sendSignal: sendSignal,
		onState:    onState,
		log:        log,
	}
}

func (n *Negotiator) State() State {
	return n.state
}

func (n *Negotiator) set(s State) {
	if n.state == s {
		return
	}
	n.state = s
	if n.onState != nil {
		n.onState(s)
	}
}

// KeysReady marks the local key pair as generated and published. The
// machine can act on a role or an offer from here on.
func (n *Negotiator) KeysReady() {
	if n.state == StateIdle {
		n.set(StateKeysReady)
	}
}

// SetRole reacts to the registry's initiator election. The initiator
// creates and sends the offer; the responder waits for one. A role
// arriving outside KeysReady (late re-election, duplicate delivery) is
// ignored.
func (n *Negotiator) SetRole(initiator bool) error {
	if n.state != StateKeysReady {
		return nil
	}
	if !initiator {
		n.set(StateAwaitingOffer)
		return nil
	}
	return n.sendOffer()
}

func (n *Negotiator) sendOffer() error {
	sdp, err := n.tr.CreateOffer()
	if err != nil {
		return NewError("create offer", err)
	}

	n.sendSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: sdp})
	n.set(StateOfferSent)

	// An answer that raced ahead of our offer may be queued already.
	n.drainPending()

	if n.state == StateOfferSent {
		n.set(StateAwaitingAnswer)
	}
	return nil
}

// HandleSignal applies one relayed negotiation message.
func (n *Negotiator) HandleSignal(data signaling.SignalData) error {
	if n.state == StateClosed {
		return nil
	}

	switch data.Type {
	case signaling.SignalOffer:
		return n.handleOffer(data)

	case signaling.SignalAnswer:
		if n.answerApplied {
			return fmt.Errorf("%w: answer already applied", ErrProtocolViolation)
		}
		if !n.canApplyAnswer() {
			// Race: the answer beat our own offer. Queue it and retry once
			// the offer is out.
			n.enqueue(data)
			return nil
		}
		if err := n.tr.HandleAnswer(data.SDP); err != nil {
			return NewError("apply answer", err)
		}
		n.answerApplied = true
		n.drainPending()
		return nil

	case signaling.SignalCandidate:
		if !n.tr.HasRemoteDescription() {
			n.enqueue(data)
			return nil
		}
		if err := n.tr.AddCandidate(data.Candidate); err != nil {
			// Discarded, not retried.
			n.log.Warn("discarding candidate", "err", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown signal type %q", ErrProtocolViolation, data.Type)
	}
}

func (n *Negotiator) handleOffer(data signaling.SignalData) error {
	switch n.state {
	case StateKeysReady, StateAwaitingOffer:
		answer, err := n.tr.HandleOffer(data.SDP)
		if err != nil {
			return NewError("handle offer", err)
		}
		n.sendSignal(signaling.SignalData{Type: signaling.SignalAnswer, SDP: answer})
		n.set(StateAnswerSent)

		// Candidates queued before the remote description are applicable now.
		n.drainPending()
		return nil

	default:
		return fmt.Errorf("%w: offer in state %s", ErrProtocolViolation, n.state)
	}
}

func (n *Negotiator) canApplyAnswer() bool {
	return (n.state == StateOfferSent || n.state == StateAwaitingAnswer) && !n.answerApplied
}

func (n *Negotiator) enqueue(data signaling.SignalData) {
	n.pending = append(n.pending, data)
}

// drainPending applies queued messages in arrival order, stopping at the
// first one whose precondition still does not hold.
func (n *Negotiator) drainPending() {
	for len(n.pending) > 0 {
		head := n.pending[0]

		switch head.Type {
		case signaling.SignalAnswer:
			if !n.canApplyAnswer() {
				return
			}
		case signaling.SignalCandidate:
			if !n.tr.HasRemoteDescription() {
				return
			}
		}

		n.pending = n.pending[1:]

		switch head.Type {
		case signaling.SignalAnswer:
			if err := n.tr.HandleAnswer(head.SDP); err != nil {
				n.log.Warn("queued answer failed", "err", err)
				continue
			}
			n.answerApplied = true

		case signaling.SignalCandidate:
			if err := n.tr.AddCandidate(head.Candidate); err != nil {
				n.log.Warn("discarding candidate", "err", err)
			}
		}
	}
}

// TransportOpen moves to Connected. The transport's own open callback is
// the only thing that signals Connected; the signaling exchange alone
// never does.
func (n *Negotiator) TransportOpen() {
	if n.state == StateClosed || n.state == StateConnected {
		return
	}
	n.set(StateConnected)
}

// TransportClosed tears the attempt down. Queued messages are discarded;
// recovery requires a full restart with a fresh key pair.
func (n *Negotiator) TransportClosed(err error) {
	if n.state == StateClosed {
		return
	}
	if err != nil {
		n.log.Warn("transport failed", "err", err)
	}
	n.pending = nil
	n.set(StateClosed)
}
