package signaling

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory blob.Store for hub tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Put(filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("%d-%s", len(s.blobs), filename)
	s.blobs[name] = data
	return "/blob/" + name, nil
}

func (s *memStore) Get(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[name], nil
}

func newTestHub() (*Hub, *memStore) {
	store := newMemStore()
	return NewHub(store, nil), store
}

func newTestClient(id string, h *Hub) *Client {
	return &Client{ID: id, Hub: h, Send: make(chan *Message, 16)}
}

// recv pulls the next outbound message for a client, failing on timeout.
func recv(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case m, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func expectType(t *testing.T, c *Client, msgType string) *Message {
	t.Helper()
	m := recv(t, c)
	if m.Type != msgType {
		t.Fatalf("got message type %q, want %q", m.Type, msgType)
	}
	return m
}

func join(h *Hub, c *Client, room string) {
	h.dispatch(&Message{Type: TypeJoin, Room: room, client: c})
}

func TestJoinAcksAndCreatesRoom(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)

	join(h, a, "LOVE01")

	m := expectType(t, a, TypeJoined)
	var p JoinedPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.ID != "a" || p.Count != 1 {
		t.Errorf("joined payload %+v, want id a count 1", p)
	}

	expectType(t, a, TypeRoomCount)

	if _, ok := h.Rooms["LOVE01"]; !ok {
		t.Error("room not created")
	}
}

func TestJoinRequiresRoomCode(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)

	join(h, a, "")

	expectType(t, a, TypeError)
	if len(h.Rooms) != 0 {
		t.Error("room created for empty code")
	}
}

func TestInitiatorElection(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)
	b := newTestClient("b", h)

	join(h, a, "LOVE01")
	expectType(t, a, TypeJoined)
	expectType(t, a, TypeRoomCount)

	join(h, b, "LOVE01")

	// Existing member: peer-joined, count, then the initiator role.
	expectType(t, a, TypePeerJoined)
	expectType(t, a, TypeRoomCount)
	m := expectType(t, a, TypeInitiator)
	var pa InitiatorPayload
	json.Unmarshal(m.Payload, &pa)
	if !pa.Initiator {
		t.Error("first member is not the initiator")
	}

	// Joiner: ack, count, responder role.
	mj := expectType(t, b, TypeJoined)
	var jp JoinedPayload
	json.Unmarshal(mj.Payload, &jp)
	if jp.Count != 2 {
		t.Errorf("joiner sees count %d, want 2", jp.Count)
	}
	expectType(t, b, TypeRoomCount)
	m = expectType(t, b, TypeInitiator)
	var pb InitiatorPayload
	json.Unmarshal(m.Payload, &pb)
	if pb.Initiator {
		t.Error("joiner elected initiator")
	}
}

func TestRejoinIsIdempotent(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)
	b := newTestClient("b", h)

	join(h, a, "LOVE01")
	join(h, b, "LOVE01")
	drain(a)
	drain(b)

	payload, _ := json.Marshal(JoinPayload{Name: "Laila"})
	h.dispatch(&Message{Type: TypeJoin, Room: "LOVE01", Payload: payload, client: a})

	// Only a fresh ack to the rejoiner, no broadcasts.
	expectType(t, a, TypeJoined)
	if len(a.Send) != 0 {
		t.Errorf("rejoiner got %d extra messages", len(a.Send))
	}
	if len(b.Send) != 0 {
		t.Errorf("peer got %d messages on idempotent rejoin", len(b.Send))
	}
	if a.Name != "Laila" {
		t.Errorf("name not refreshed, got %q", a.Name)
	}
	if got := len(h.Rooms["LOVE01"].Members); got != 2 {
		t.Errorf("room has %d members after rejoin, want 2", got)
	}
}

func TestLeaveBroadcastsAndDeletesEmptyRoom(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)
	b := newTestClient("b", h)

	join(h, a, "LOVE01")
	join(h, b, "LOVE01")
	drain(a)
	drain(b)

	h.dispatch(&Message{Type: TypeLeave, client: b})

	m := expectType(t, a, TypeRoomCount)
	var p RoomCountPayload
	json.Unmarshal(m.Payload, &p)
	if p.Count != 1 {
		t.Errorf("count %d after leave, want 1", p.Count)
	}

	h.dispatch(&Message{Type: TypeLeave, client: a})
	if _, ok := h.Rooms["LOVE01"]; ok {
		t.Error("empty room not deleted")
	}

	// Leaving again is harmless.
	h.dispatch(&Message{Type: TypeLeave, client: a})
}

func TestRelayStampsSender(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)
	b := newTestClient("b", h)

	join(h, a, "LOVE01")
	join(h, b, "LOVE01")
	drain(a)
	drain(b)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	h.dispatch(&Message{Type: TypeSignal, client: a, Payload: payload})

	m := expectType(t, b, TypeSignal)
	if m.From != "a" {
		t.Errorf("From %q, want a", m.From)
	}
	if string(m.Payload) != string(payload) {
		t.Errorf("payload altered in transit: %s", m.Payload)
	}
	if len(a.Send) != 0 {
		t.Error("relay echoed to sender")
	}
}

func TestRelayDroppedWithoutPeer(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)

	join(h, a, "LOVE01")
	drain(a)

	h.dispatch(&Message{Type: TypeRelay, client: a, Payload: json.RawMessage(`{}`)})

	if len(a.Send) != 0 {
		t.Error("expected silent drop, sender got a message")
	}
}

func TestRelayBeforeJoinRejected(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)

	h.dispatch(&Message{Type: TypePubkey, client: a, Payload: json.RawMessage(`{}`)})

	expectType(t, a, TypeError)
}

func TestFileUploadStoresAndForwards(t *testing.T) {
	h, store := newTestHub()
	a := newTestClient("a", h)
	b := newTestClient("b", h)

	join(h, a, "LOVE01")
	join(h, b, "LOVE01")
	drain(a)
	drain(b)

	cipher := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	payload, _ := json.Marshal(FilePayload{
		Filename: "photo.jpg",
		Data:     base64.StdEncoding.EncodeToString(cipher),
		Metadata: FileMetadata{IV: "aXY=", Mime: "image/jpeg"},
	})
	h.dispatch(&Message{Type: TypeFile, client: a, Payload: payload})

	saved := expectType(t, a, TypeFileSaved)
	var sp FileSavedPayload
	json.Unmarshal(saved.Payload, &sp)
	if sp.Filename != "photo.jpg" || sp.URL == "" {
		t.Errorf("file-saved payload %+v", sp)
	}

	fwd := expectType(t, b, TypeFile)
	if fwd.From != "a" {
		t.Errorf("forward From %q, want a", fwd.From)
	}
	var fp FileForwardPayload
	json.Unmarshal(fwd.Payload, &fp)
	if fp.URL != sp.URL || fp.Metadata.IV != "aXY=" {
		t.Errorf("forward payload %+v", fp)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.blobs) != 1 {
		t.Fatalf("store holds %d blobs, want 1", len(store.blobs))
	}
	for _, data := range store.blobs {
		if string(data) != string(cipher) {
			t.Error("stored bytes differ from upload")
		}
	}
}

func TestFileUploadWithoutPeerStillStored(t *testing.T) {
	h, store := newTestHub()
	a := newTestClient("a", h)

	join(h, a, "LOVE01")
	drain(a)

	payload, _ := json.Marshal(FilePayload{
		Filename: "note.txt",
		Data:     base64.StdEncoding.EncodeToString([]byte("x")),
	})
	h.dispatch(&Message{Type: TypeFile, client: a, Payload: payload})

	expectType(t, a, TypeFileSaved)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.blobs) != 1 {
		t.Error("blob not stored for a lone member")
	}
}

func TestMalformedFileRejected(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)

	join(h, a, "LOVE01")
	drain(a)

	payload, _ := json.Marshal(FilePayload{Filename: "x", Data: "not base64 !!!"})
	h.dispatch(&Message{Type: TypeFile, client: a, Payload: payload})
	expectType(t, a, TypeError)

	h.dispatch(&Message{Type: TypeFile, client: a, Payload: json.RawMessage(`{"filename":""}`)})
	expectType(t, a, TypeError)
}

func TestSlowClientDisconnected(t *testing.T) {
	h, _ := newTestHub()
	a := newTestClient("a", h)
	b := &Client{ID: "b", Hub: h, Send: make(chan *Message, 1)}

	join(h, a, "LOVE01")

	// b's single-slot buffer fills on the join ack, so the count broadcast
	// overflows and the hub drops the connection mid-join.
	join(h, b, "LOVE01")

	room := h.Rooms["LOVE01"]
	if room.has(b) {
		t.Error("slow client still in room")
	}
	if !room.has(a) {
		t.Error("healthy client was dropped")
	}

	// The channel must be closed once drained.
	for {
		if _, ok := <-b.Send; !ok {
			break
		}
	}

	// No initiator election for a room that fell back to one member.
	for len(a.Send) > 0 {
		if m := recv(t, a); m.Type == TypeInitiator {
			t.Error("initiator elected after peer was dropped")
		}
	}
}

// drain empties a client's buffered messages.
func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}
