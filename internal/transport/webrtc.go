package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/config"
)

// channelLabel names the single ordered, reliable data channel both ends
// expect.
const channelLabel = "chat"

// WebRTC implements Transport over a pion peer connection with trickle ICE.
type WebRTC struct {
	pc *webrtc.PeerConnection
	cb Callbacks

	mu sync.Mutex
	dc *webrtc.DataChannel

	closeOnce sync.Once
}

// NewWebRTC builds a peer connection from the configured ICE servers and
// wires the callbacks. The data channel is created lazily: the initiator
// creates it with the offer, the responder receives it from the peer.
func NewWebRTC(cfg *config.Config, cb Callbacks) (*WebRTC, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	t := &WebRTC{pc: pc, cb: cb}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering finished
		}
		b, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if t.cb.OnCandidate != nil {
			t.cb.OnCandidate(b)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			t.fireClose(fmt.Errorf("peer connection %s", state))
		}
	})

	// Responder side: the initiator announces the channel in its offer.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.bind(dc)
	})

	return t, nil
}

// newPeerConnection centralizes ICE server configuration.
func newPeerConnection(cfg *config.Config) (*webrtc.PeerConnection, error) {
	iceServers := []webrtc.ICEServer{{URLs: cfg.GetSTUNServers()}}

	if turnServers := cfg.GetTURNServers(); turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

func (t *WebRTC) bind(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		if t.cb.OnOpen != nil {
			t.cb.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if t.cb.OnMessage != nil {
			t.cb.OnMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		t.fireClose(nil)
	})
	dc.OnError(func(err error) {
		t.fireClose(err)
	})
}

func (t *WebRTC) fireClose(err error) {
	t.closeOnce.Do(func() {
		if t.cb.OnClose != nil {
			t.cb.OnClose(err)
		}
	})
}

// CreateOffer creates the data channel and the offer with trickle ICE:
// it returns immediately, candidates follow via OnCandidate.
func (t *WebRTC) CreateOffer() (string, error) {
	dc, err := t.pc.CreateDataChannel(channelLabel, nil)
	if err != nil {
		return "", err
	}
	t.bind(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return t.pc.LocalDescription().SDP, nil
}

// HandleOffer applies the remote offer and produces the local answer.
func (t *WebRTC) HandleOffer(sdp string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := t.pc.SetRemoteDescription(remote); err != nil {
		return "", err
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return t.pc.LocalDescription().SDP, nil
}

func (t *WebRTC) HandleAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	return t.pc.SetRemoteDescription(remote)
}

func (t *WebRTC) AddCandidate(candidate []byte) error {
	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &ice); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return t.pc.AddICECandidate(ice)
}

func (t *WebRTC) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *WebRTC) Send(data []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (t *WebRTC) Close() error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	return t.pc.Close()
}
