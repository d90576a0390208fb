package chat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/config"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/crypto"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/envelope"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/signaling"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/transport"
)

// inlineFileLimit is the largest file sent as a single encrypted envelope
// over the direct channel. Larger files go through the relay blob store.
const inlineFileLimit = 256 * 1024

// relayConn is the slice of Client the session needs; tests substitute an
// in-memory pair.
type relayConn interface {
	SendMessage(msg *signaling.Message)
	Incoming() <-chan *signaling.Message
	Close()
}

// Stats counts session traffic for the exit summary.
type Stats struct {
	TextsSent     int
	TextsReceived int
	FilesSent     int
	FilesReceived int
	Started       time.Time
}

// transport events are funneled into the dispatch goroutine so that all
// negotiation and key state is touched from a single place.
type trEventKind int

const (
	trOpen trEventKind = iota
	trMessage
	trClosed
	trCandidate
)

type trEvent struct {
	kind trEventKind
	data []byte
	err  error
}

// Session runs one end of an encrypted two-party chat: it joins a room on
// the relay, exchanges public keys, negotiates the direct channel, and
// moves application content as sealed envelopes.
type Session struct {
	cfg *config.Config
	log *slog.Logger

	mu          sync.Mutex
	conn        relayConn
	tr          transport.Transport
	keys        *crypto.Session
	neg         *Negotiator
	room        string
	name        string
	selfID      string
	channelOpen bool
	closed      bool
	stats       Stats

	events   chan Event
	trEvents chan trEvent
	done     chan struct{}
	wg       sync.WaitGroup

	// Seams for tests.
	dial         func(serverURL string) (relayConn, error)
	newTransport func(cfg *config.Config, cb transport.Callbacks) (transport.Transport, error)
	fetchBlob    func(url string) ([]byte, error)
}

// NewSession creates an unconnected session.
func NewSession(cfg *config.Config, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, 64),
		dial: func(serverURL string) (relayConn, error) {
			c := NewClient(serverURL)
			if err := c.Connect(); err != nil {
				return nil, err
			}
			return c, nil
		},
		newTransport: func(cfg *config.Config, cb transport.Callbacks) (transport.Transport, error) {
			return transport.NewWebRTC(cfg, cb)
		},
		fetchBlob: fetchBlobHTTP,
	}
}

// Events returns the stream consumed by the UI.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Stats returns a copy of the traffic counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Connect joins the room and starts the dispatch loop. Calling it again
// tears down any previous attempt first.
func (s *Session) Connect(room, name string) error {
	s.teardownAttempt()

	s.emit(Event{Kind: EventStatus, Status: StatusConnecting})

	conn, err := s.dial(s.cfg.WebSocketURL)
	if err != nil {
		s.emit(Event{Kind: EventStatus, Status: StatusConnectError})
		return NewError("connect", err)
	}

	trEvents := make(chan trEvent, 32)
	done := make(chan struct{})
	tr, err := s.newTransport(s.cfg, transport.Callbacks{
		OnOpen:      func() { pushTrEvent(trEvents, done, trEvent{kind: trOpen}) },
		OnMessage:   func(b []byte) { pushTrEvent(trEvents, done, trEvent{kind: trMessage, data: b}) },
		OnClose:     func(err error) { pushTrEvent(trEvents, done, trEvent{kind: trClosed, err: err}) },
		OnCandidate: func(b []byte) { pushTrEvent(trEvents, done, trEvent{kind: trCandidate, data: b}) },
	})
	if err != nil {
		conn.Close()
		return NewError("transport", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.tr = tr
	s.room = room
	s.name = name
	s.channelOpen = false
	s.closed = false
	s.stats = Stats{Started: time.Now()}
	s.trEvents = trEvents
	s.done = done
	s.neg = NewNegotiator(tr, s.relaySignal, nil, s.log)
	s.mu.Unlock()

	conn.SendMessage(&signaling.Message{
		Type:    signaling.TypeJoin,
		Room:    room,
		Payload: mustJSON(signaling.JoinPayload{Name: name}),
	})

	s.wg.Add(1)
	go s.dispatch(conn, trEvents, done)

	return nil
}

// pushTrEvent forwards a transport callback without ever blocking pion's
// goroutines; a full queue during teardown just drops the event.
func pushTrEvent(ch chan trEvent, done chan struct{}, ev trEvent) {
	select {
	case ch <- ev:
	case <-done:
	default:
	}
}

// negotiator fetches the current attempt's state machine, nil once torn
// down.
func (s *Session) negotiator() *Negotiator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neg
}

// relaySignal sends a negotiation message through the relay. Called from
// the dispatch goroutine via the negotiator.
func (s *Session) relaySignal(data signaling.SignalData) {
	s.mu.Lock()
	conn, room := s.conn, s.room
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.SendMessage(&signaling.Message{
		Type:    signaling.TypeSignal,
		Room:    room,
		Payload: mustJSON(data),
	})
}

// dispatch is the single goroutine that owns negotiation and key state.
func (s *Session) dispatch(conn relayConn, trEvents chan trEvent, done chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case msg, ok := <-conn.Incoming():
			if !ok {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if !closed {
					s.emit(Event{Kind: EventStatus, Status: StatusConnectError})
					s.emit(Event{Kind: EventSystem, Text: "lost connection to relay"})
				}
				return
			}
			s.handleRelayMessage(msg)

		case ev := <-trEvents:
			s.handleTransportEvent(ev)

		case <-done:
			return
		}
	}
}

func (s *Session) handleRelayMessage(msg *signaling.Message) {
	switch msg.Type {
	case signaling.TypeJoined:
		var p signaling.JoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.log.Warn("bad joined payload", "err", err)
			return
		}
		s.mu.Lock()
		s.selfID = p.ID
		s.mu.Unlock()
		s.startKeys()
		if p.Count < 2 {
			s.emit(Event{Kind: EventStatus, Status: StatusWaiting})
		}

	case signaling.TypeRoomCount:
		var p signaling.RoomCountPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if p.Count < 2 {
			s.emit(Event{Kind: EventStatus, Status: StatusWaiting})
		}

	case signaling.TypePeerJoined:
		var p signaling.PeerJoinedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		who := p.Name
		if who == "" {
			who = "your partner"
		}
		s.emit(Event{Kind: EventSystem, Text: fmt.Sprintf("%s joined the room", who)})
		// Our key was published to an empty room; the newcomer needs it.
		s.sendPubkey()

	case signaling.TypeInitiator:
		var p signaling.InitiatorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		neg := s.negotiator()
		if neg == nil {
			return
		}
		if err := neg.SetRole(p.Initiator); err != nil {
			s.log.Error("negotiation failed", "err", err)
			s.emit(Event{Kind: EventSystem, Text: "could not start direct connection"})
		}

	case signaling.TypeSignal:
		var data signaling.SignalData
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			s.log.Warn("bad signal payload", "err", err)
			return
		}
		neg := s.negotiator()
		if neg == nil {
			return
		}
		if err := neg.HandleSignal(data); err != nil {
			s.log.Warn("signal rejected", "type", data.Type, "err", err)
		}

	case signaling.TypePubkey:
		s.handlePubkey(msg.Payload)

	case signaling.TypeRelay:
		s.handleRelayText(msg.Payload)

	case signaling.TypeFile:
		s.handleFileForward(msg.Payload)

	case signaling.TypeFileSaved:
		var p signaling.FileSavedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.emit(Event{Kind: EventSystem, Text: fmt.Sprintf("file %s delivered via relay", p.Filename)})

	case signaling.TypeError:
		var p signaling.ErrorPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.emit(Event{Kind: EventSystem, Text: "server error: " + p.Error})

	default:
		s.log.Debug("unhandled message", "type", msg.Type)
	}
}

// startKeys generates the ephemeral key pair and publishes the public key.
func (s *Session) startKeys() {
	keys, err := crypto.NewSession()
	if err != nil {
		s.log.Error("key generation failed", "err", err)
		s.emit(Event{Kind: EventSystem, Text: "key generation failed"})
		return
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	if neg := s.negotiator(); neg != nil {
		neg.KeysReady()
	}
	s.sendPubkey()
}

// sendPubkey publishes the local public key to the room.
func (s *Session) sendPubkey() {
	s.mu.Lock()
	keys, conn, room := s.keys, s.conn, s.room
	s.mu.Unlock()
	if keys == nil || conn == nil {
		return
	}
	conn.SendMessage(&signaling.Message{
		Type: signaling.TypePubkey,
		Room: room,
		Payload: mustJSON(signaling.PubkeyPayload{
			Raw: base64.StdEncoding.EncodeToString(keys.PublicKey()),
		}),
	})
}

func (s *Session) handlePubkey(payload json.RawMessage) {
	var p signaling.PubkeyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Warn("bad pubkey payload", "err", err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(p.Raw)
	if err != nil {
		s.log.Warn("bad pubkey encoding", "err", err)
		return
	}

	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys == nil {
		s.log.Warn("pubkey before local keys")
		return
	}

	if err := keys.DeriveSharedKey(raw); err != nil {
		s.log.Error("key agreement failed", "err", err)
		s.emit(Event{Kind: EventSystem, Text: "key agreement failed; messages stay blocked"})
		return
	}

	s.emit(Event{Kind: EventStatus, Status: StatusReady})
	s.emit(Event{Kind: EventSystem, Text: "end-to-end encryption established"})
}

// handleRelayText decrypts a text message that traveled through the relay
// instead of the direct channel.
func (s *Session) handleRelayText(payload json.RawMessage) {
	var p signaling.RelayTextPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Warn("bad relay text payload", "err", err)
		return
	}

	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil {
		s.log.Warn("bad relay text iv", "err", err)
		return
	}
	cipher, err := base64.StdEncoding.DecodeString(p.Cipher)
	if err != nil {
		s.log.Warn("bad relay text cipher", "err", err)
		return
	}

	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()

	plain, err := keys.Decrypt(iv, cipher)
	if err != nil {
		s.log.Warn("relay text rejected", "err", err)
		s.emit(Event{Kind: EventSystem, Text: "dropped a message that failed authentication"})
		return
	}

	s.mu.Lock()
	s.stats.TextsReceived++
	s.mu.Unlock()
	s.emit(Event{Kind: EventText, Text: string(plain)})
}

// handleFileForward announces a blob the peer stored on the relay. The
// ciphertext stays on the server until the user fetches it.
func (s *Session) handleFileForward(payload json.RawMessage) {
	var p signaling.FileForwardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		s.log.Warn("bad file payload", "err", err)
		return
	}
	iv, err := base64.StdEncoding.DecodeString(p.Metadata.IV)
	if err != nil {
		s.log.Warn("bad file iv", "err", err)
		return
	}

	s.mu.Lock()
	s.stats.FilesReceived++
	s.mu.Unlock()

	s.emit(Event{Kind: EventFile, File: &IncomingFile{
		Name: p.Filename,
		Mime: p.Metadata.Mime,
		URL:  p.URL,
		IV:   iv,
	}})
}

func (s *Session) handleTransportEvent(ev trEvent) {
	switch ev.kind {
	case trOpen:
		s.mu.Lock()
		s.channelOpen = true
		s.mu.Unlock()
		if neg := s.negotiator(); neg != nil {
			neg.TransportOpen()
		}
		s.emit(Event{Kind: EventStatus, Status: StatusPeerConnected})
		s.emit(Event{Kind: EventSystem, Text: "direct channel open"})

	case trMessage:
		s.handleChannelMessage(ev.data)

	case trClosed:
		s.mu.Lock()
		s.channelOpen = false
		closed := s.closed
		s.mu.Unlock()
		if neg := s.negotiator(); neg != nil {
			neg.TransportClosed(ev.err)
		}
		if !closed {
			s.emit(Event{Kind: EventStatus, Status: StatusClosed})
			s.emit(Event{Kind: EventSystem, Text: "direct channel closed"})
		}

	case trCandidate:
		s.relaySignal(signaling.SignalData{
			Type:      signaling.SignalCandidate,
			Candidate: json.RawMessage(ev.data),
		})
	}
}

// handleChannelMessage decodes and decrypts one direct-channel envelope.
func (s *Session) handleChannelMessage(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		s.log.Warn("bad envelope", "err", err)
		return
	}

	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()

	plain, err := keys.Decrypt(env.IV, env.Cipher)
	if err != nil {
		s.log.Warn("envelope rejected", "err", err)
		s.emit(Event{Kind: EventSystem, Text: "dropped a message that failed authentication"})
		return
	}

	switch env.Kind {
	case envelope.KindText:
		s.mu.Lock()
		s.stats.TextsReceived++
		s.mu.Unlock()
		s.emit(Event{Kind: EventText, Text: string(plain)})

	case envelope.KindFile:
		meta, err := envelope.DecodeFileMeta(plain)
		if err != nil {
			s.log.Warn("bad file metadata", "err", err)
			return
		}
		s.mu.Lock()
		s.stats.FilesReceived++
		s.mu.Unlock()
		s.emit(Event{Kind: EventFile, File: &IncomingFile{
			Name: meta.Name,
			Mime: meta.Mime,
			URL:  meta.URL,
			IV:   meta.IV,
			Data: meta.Data,
		}})
	}
}

// SendText encrypts and sends one text message. It fails fast with
// ErrNotReady when the shared key is missing, or when the direct channel is
// not open and relay fallback is disabled.
func (s *Session) SendText(text string) error {
	s.mu.Lock()
	keys, tr, conn, room := s.keys, s.tr, s.conn, s.room
	open, closed := s.channelOpen, s.closed
	s.mu.Unlock()

	if closed {
		return ErrChannelClosed
	}
	if !keys.Ready() {
		return ErrNotReady
	}

	nonce, cipher, err := keys.Encrypt([]byte(text))
	if err != nil {
		return NewError("encrypt", err)
	}

	switch {
	case open:
		b, err := envelope.Encode(envelope.Envelope{Kind: envelope.KindText, IV: nonce, Cipher: cipher})
		if err != nil {
			return NewError("encode", err)
		}
		if err := tr.Send(b); err != nil {
			return NewError("send", err)
		}

	case s.cfg.RelayChat:
		conn.SendMessage(&signaling.Message{
			Type: signaling.TypeRelay,
			Room: room,
			Payload: mustJSON(signaling.RelayTextPayload{
				Type:   envelope.KindText,
				IV:     base64.StdEncoding.EncodeToString(nonce),
				Cipher: base64.StdEncoding.EncodeToString(cipher),
			}),
		})

	default:
		return fmt.Errorf("%w: direct channel not open", ErrNotReady)
	}

	s.mu.Lock()
	s.stats.TextsSent++
	s.mu.Unlock()
	return nil
}

// SendFile encrypts and sends a file. Small files ride the direct channel
// as a single envelope; anything larger, or any file sent before the
// channel is open, is stored on the relay as ciphertext and announced to
// the peer.
func (s *Session) SendFile(name, mime string, data []byte) error {
	s.mu.Lock()
	keys, tr, conn, room := s.keys, s.tr, s.conn, s.room
	open, closed := s.channelOpen, s.closed
	s.mu.Unlock()

	if closed {
		return ErrChannelClosed
	}
	if !keys.Ready() {
		return ErrNotReady
	}

	if open && len(data) <= inlineFileLimit {
		metaBytes, err := envelope.EncodeFileMeta(envelope.FileMeta{Name: name, Mime: mime, Data: data})
		if err != nil {
			return NewError("encode", err)
		}
		nonce, cipher, err := keys.Encrypt(metaBytes)
		if err != nil {
			return NewError("encrypt", err)
		}
		b, err := envelope.Encode(envelope.Envelope{Kind: envelope.KindFile, IV: nonce, Cipher: cipher})
		if err != nil {
			return NewError("encode", err)
		}
		if err := tr.Send(b); err != nil {
			return NewError("send", err)
		}
	} else {
		nonce, cipher, err := keys.Encrypt(data)
		if err != nil {
			return NewError("encrypt", err)
		}
		conn.SendMessage(&signaling.Message{
			Type: signaling.TypeFile,
			Room: room,
			Payload: mustJSON(signaling.FilePayload{
				Filename: name,
				Data:     base64.StdEncoding.EncodeToString(cipher),
				Metadata: signaling.FileMetadata{
					IV:   base64.StdEncoding.EncodeToString(nonce),
					Mime: mime,
				},
			}),
		})
	}

	s.mu.Lock()
	s.stats.FilesSent++
	s.mu.Unlock()
	return nil
}

// Download returns the decrypted content of an incoming file, fetching the
// stored ciphertext from the relay when the transfer was blob-backed.
func (s *Session) Download(f *IncomingFile) ([]byte, error) {
	if f.Data != nil {
		return f.Data, nil
	}
	if f.URL == "" {
		return nil, ErrNotFound
	}

	cipher, err := s.fetchBlob(s.cfg.BlobURL(f.URL))
	if err != nil {
		return nil, NewError("fetch", err)
	}

	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()

	plain, err := keys.Decrypt(f.IV, cipher)
	if err != nil {
		return nil, NewError("decrypt", err)
	}
	return plain, nil
}

// Close ends the session and releases key material.
func (s *Session) Close() {
	s.teardownAttempt()
}

func (s *Session) teardownAttempt() {
	s.mu.Lock()
	if s.done == nil || s.closed {
		conn, tr, keys := s.conn, s.tr, s.keys
		s.conn, s.tr, s.keys, s.neg = nil, nil, nil, nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if tr != nil {
			tr.Close()
		}
		if keys != nil {
			keys.Close()
		}
		return
	}
	s.closed = true
	done := s.done
	conn, tr, keys := s.conn, s.tr, s.keys
	s.conn, s.tr, s.keys, s.neg = nil, nil, nil, nil
	s.done = nil
	s.mu.Unlock()

	close(done)
	if conn != nil {
		conn.Close()
	}
	if tr != nil {
		tr.Close()
	}
	s.wg.Wait()
	if keys != nil {
		keys.Close()
	}
}

// emit delivers an event without ever blocking the dispatch goroutine.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped", "kind", ev.Kind)
	}
}

func fetchBlobHTTP(url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob fetch: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
