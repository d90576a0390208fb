package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/signaling"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/transport"
)

// fakeTransport records negotiation calls without a real peer connection.
type fakeTransport struct {
	remoteSet     bool
	answers       int
	candidates    [][]byte
	sent          [][]byte
	open          bool
	failCandidate bool
	failAnswer    bool
}

func (f *fakeTransport) CreateOffer() (string, error) { return "offer-sdp", nil }

func (f *fakeTransport) HandleOffer(sdp string) (string, error) {
	f.remoteSet = true
	return "answer-sdp", nil
}

func (f *fakeTransport) HandleAnswer(sdp string) error {
	if f.failAnswer {
		return errors.New("bad answer")
	}
	f.remoteSet = true
	f.answers++
	return nil
}

func (f *fakeTransport) AddCandidate(c []byte) error {
	if f.failCandidate {
		return errors.New("bad candidate")
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeTransport) HasRemoteDescription() bool { return f.remoteSet }

func (f *fakeTransport) Send(b []byte) error {
	if !f.open {
		return transport.ErrChannelNotOpen
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

type negHarness struct {
	tr     *fakeTransport
	neg    *Negotiator
	sent   []signaling.SignalData
	states []State
}

func newNegHarness() *negHarness {
	h := &negHarness{tr: &fakeTransport{}}
	h.neg = NewNegotiator(h.tr,
		func(d signaling.SignalData) { h.sent = append(h.sent, d) },
		func(s State) { h.states = append(h.states, s) },
		nil)
	return h
}

func candidate(s string) signaling.SignalData {
	return signaling.SignalData{Type: signaling.SignalCandidate, Candidate: json.RawMessage(s)}
}

func TestInitiatorFlow(t *testing.T) {
	h := newNegHarness()

	h.neg.KeysReady()
	if err := h.neg.SetRole(true); err != nil {
		t.Fatal(err)
	}
	if h.neg.State() != StateAwaitingAnswer {
		t.Fatalf("state %s, want awaiting-answer", h.neg.State())
	}
	if len(h.sent) != 1 || h.sent[0].Type != signaling.SignalOffer {
		t.Fatalf("sent %+v, want one offer", h.sent)
	}

	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalAnswer, SDP: "answer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if h.tr.answers != 1 {
		t.Errorf("answers applied %d, want 1", h.tr.answers)
	}

	// Only the channel opening makes the attempt Connected.
	if h.neg.State() == StateConnected {
		t.Error("connected before the transport opened")
	}
	h.neg.TransportOpen()
	if h.neg.State() != StateConnected {
		t.Errorf("state %s after open, want connected", h.neg.State())
	}
}

func TestResponderFlow(t *testing.T) {
	h := newNegHarness()

	h.neg.KeysReady()
	if err := h.neg.SetRole(false); err != nil {
		t.Fatal(err)
	}
	if h.neg.State() != StateAwaitingOffer {
		t.Fatalf("state %s, want awaiting-offer", h.neg.State())
	}

	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: "offer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if h.neg.State() != StateAnswerSent {
		t.Fatalf("state %s, want answer-sent", h.neg.State())
	}
	if len(h.sent) != 1 || h.sent[0].Type != signaling.SignalAnswer {
		t.Fatalf("sent %+v, want one answer", h.sent)
	}

	h.neg.TransportOpen()
	if h.neg.State() != StateConnected {
		t.Errorf("state %s, want connected", h.neg.State())
	}
}

func TestOfferBeforeRoleIsHandled(t *testing.T) {
	// The peer's offer can race ahead of our own initiator message.
	h := newNegHarness()
	h.neg.KeysReady()

	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: "offer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if h.neg.State() != StateAnswerSent {
		t.Fatalf("state %s, want answer-sent", h.neg.State())
	}

	// The late responder role must not restart anything.
	if err := h.neg.SetRole(false); err != nil {
		t.Fatal(err)
	}
	if h.neg.State() != StateAnswerSent {
		t.Errorf("late role changed state to %s", h.neg.State())
	}
}

func TestAnswerBeforeOfferIsQueued(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()

	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalAnswer, SDP: "answer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if h.tr.answers != 0 {
		t.Fatal("answer applied before the offer existed")
	}

	if err := h.neg.SetRole(true); err != nil {
		t.Fatal(err)
	}
	if h.tr.answers != 1 {
		t.Errorf("queued answer not applied after offer, answers=%d", h.tr.answers)
	}
	if h.neg.State() != StateAwaitingAnswer {
		t.Errorf("state %s", h.neg.State())
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()
	h.neg.SetRole(false)

	h.neg.HandleSignal(candidate(`{"candidate":"one"}`))
	h.neg.HandleSignal(candidate(`{"candidate":"two"}`))
	if len(h.tr.candidates) != 0 {
		t.Fatal("candidates applied before remote description")
	}

	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: "offer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if len(h.tr.candidates) != 2 {
		t.Fatalf("applied %d queued candidates, want 2", len(h.tr.candidates))
	}
	if string(h.tr.candidates[0]) != `{"candidate":"one"}` {
		t.Error("queued candidates applied out of order")
	}
}

func TestDuplicateAnswerRejected(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()
	h.neg.SetRole(true)

	answer := signaling.SignalData{Type: signaling.SignalAnswer, SDP: "answer-sdp"}
	if err := h.neg.HandleSignal(answer); err != nil {
		t.Fatal(err)
	}
	if err := h.neg.HandleSignal(answer); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("duplicate answer: got %v, want ErrProtocolViolation", err)
	}
	if h.tr.answers != 1 {
		t.Errorf("answer applied %d times", h.tr.answers)
	}
}

func TestOfferInWrongStateRejected(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()
	h.neg.SetRole(true)

	err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: "offer-sdp"})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("offer after sending ours: got %v, want ErrProtocolViolation", err)
	}
}

func TestUnknownSignalTypeRejected(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()

	err := h.neg.HandleSignal(signaling.SignalData{Type: "renegotiate"})
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("got %v, want ErrProtocolViolation", err)
	}
}

func TestFailedCandidateDiscarded(t *testing.T) {
	h := newNegHarness()
	h.tr.remoteSet = true
	h.tr.failCandidate = true
	h.neg.KeysReady()

	// A bad candidate is logged and dropped, never queued or fatal.
	if err := h.neg.HandleSignal(candidate(`{"candidate":"bad"}`)); err != nil {
		t.Errorf("candidate failure escaped: %v", err)
	}
	if len(h.neg.pending) != 0 {
		t.Error("failed candidate was queued for retry")
	}
}

func TestConnectedTransitionFiresOnce(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()
	h.neg.SetRole(false)

	h.neg.TransportOpen()
	h.neg.TransportOpen()

	connected := 0
	for _, s := range h.states {
		if s == StateConnected {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("connected fired %d times, want 1", connected)
	}
}

func TestClosedIsTerminal(t *testing.T) {
	h := newNegHarness()
	h.neg.KeysReady()
	h.neg.SetRole(false)
	h.neg.HandleSignal(candidate(`{"candidate":"queued"}`))

	h.neg.TransportClosed(errors.New("ice failed"))
	if h.neg.State() != StateClosed {
		t.Fatalf("state %s, want closed", h.neg.State())
	}
	if len(h.neg.pending) != 0 {
		t.Error("pending queue survived close")
	}

	// Everything after close is ignored.
	if err := h.neg.HandleSignal(signaling.SignalData{Type: signaling.SignalOffer, SDP: "x"}); err != nil {
		t.Errorf("signal after close: %v", err)
	}
	h.neg.TransportOpen()
	if h.neg.State() != StateClosed {
		t.Error("reopened after close")
	}
}
