package signaling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/amozeshoparvaresheIT/manar-chat/internal/blob"
)

// Hub is the room registry and relay router. It tracks which connections
// belong to which room, elects the initiator, and forwards opaque payloads
// between the members of a room without inspecting them.
//
// A single Run goroutine owns all room state, so membership mutations and
// the broadcasts they trigger are serialized: members of a room can never
// observe joins, leaves and counts out of order.
type Hub struct {
	// Rooms maps room codes to Room instances.
	Rooms map[string]*Room

	// Register is a channel for registering new connections.
	Register chan *Client

	// Unregister is a channel for unregistering connections.
	Unregister chan *Client

	// Inbound carries client messages into the hub loop.
	Inbound chan *Message

	store blob.Store
	log   *slog.Logger
}

// NewHub creates a hub that persists file ciphertext to store.
func NewHub(store blob.Store, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		Rooms:      make(map[string]*Room),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Message),
		store:      store,
		log:        log,
	}
}

// Run starts the hub's main processing loop. It returns when ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			// The client is not in a room yet; it joins with a message.
			h.log.Debug("client registered", "client", client.ID)

		case client := <-h.Unregister:
			h.log.Debug("client unregistered", "client", client.ID)
			h.leaveRoom(client)
			client.closeSend()

		case msg := <-h.Inbound:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) dispatch(msg *Message) {
	switch msg.Type {
	case TypeJoin:
		h.handleJoin(msg)

	case TypeLeave:
		h.leaveRoom(msg.client)

	case TypeSignal, TypePubkey, TypeRelay:
		h.handleRelay(msg)

	case TypeFile:
		h.handleFile(msg)

	default:
		h.log.Warn("unknown message type", "type", msg.Type, "client", msg.client.ID)
	}
}

// handleJoin adds the sender to the requested room and broadcasts the
// membership change. Joining the room the client is already in just
// refreshes its display name.
func (h *Hub) handleJoin(msg *Message) {
	c := msg.client

	if msg.Room == "" {
		h.sendError(c, "room code required")
		return
	}

	var p JoinPayload
	if msg.Payload != nil {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.sendError(c, "malformed join payload")
			return
		}
	}

	if c.Room == msg.Room {
		// Idempotent rejoin: refresh the name, re-acknowledge, no
		// membership change and so no broadcasts.
		c.Name = p.Name
		if room, ok := h.Rooms[c.Room]; ok {
			h.send(c, joinedMessage(c.ID, len(room.Members)))
		}
		return
	}

	// Switching rooms leaves the old one first; membership removal is
	// atomic with the switch.
	if c.Room != "" {
		h.leaveRoom(c)
	}

	room, ok := h.Rooms[msg.Room]
	if !ok {
		room = &Room{Code: msg.Room}
		h.Rooms[msg.Room] = room
		h.log.Info("room created", "room", room.Code)
	}

	room.add(c)
	c.Room = room.Code
	c.Name = p.Name

	count := len(room.Members)
	h.log.Info("client joined room", "client", c.ID, "room", room.Code, "count", count)

	h.send(c, joinedMessage(c.ID, count))

	for _, other := range room.others(c) {
		h.send(other, mustMessage(TypePeerJoined, "", PeerJoinedPayload{ID: c.ID, Name: c.Name}))
	}
	h.broadcastCount(room)

	// A broadcast above may have dropped a slow member, so re-read the
	// membership before electing.
	switch {
	case len(room.Members) == 2:
		// The member that was already present initiates; the joiner
		// responds. The hub loop serializes joins, so exactly one ordering
		// is ever observed even for simultaneous attempts.
		first, second := room.Members[0], room.Members[1]
		h.send(first, mustMessage(TypeInitiator, "", InitiatorPayload{Initiator: true}))
		h.send(second, mustMessage(TypeInitiator, "", InitiatorPayload{Initiator: false}))
	case len(room.Members) > 2:
		// The protocol assumes two parties. Extra members are relayed to
		// but get no role, and behavior beyond two is undefined.
		h.log.Warn("room exceeds two members", "room", room.Code, "count", count)
	}
}

// leaveRoom removes the client from its room, if any, and re-broadcasts the
// updated count to the remaining members. Safe to call for a client that
// never joined.
func (h *Hub) leaveRoom(c *Client) {
	if c.Room == "" {
		return
	}

	room, ok := h.Rooms[c.Room]
	c.Room = ""
	if !ok || !room.remove(c) {
		return
	}

	if len(room.Members) == 0 {
		delete(h.Rooms, room.Code)
		h.log.Info("room deleted", "room", room.Code)
		return
	}

	h.log.Info("client left room", "client", c.ID, "room", room.Code, "count", len(room.Members))
	h.broadcastCount(room)
}

// handleRelay forwards an opaque payload to all other current members of
// the sender's room, stamping the sender id. With no other members the
// message is silently dropped.
func (h *Hub) handleRelay(msg *Message) {
	c := msg.client

	room, ok := h.memberRoom(c)
	if !ok {
		return
	}

	others := room.others(c)
	if len(others) == 0 {
		h.log.Debug("relay dropped, no peer", "room", room.Code, "type", msg.Type)
		return
	}

	forward := &Message{Type: msg.Type, From: c.ID, Payload: msg.Payload}
	for _, other := range others {
		h.send(other, forward)
	}
}

// handleFile persists the uploaded ciphertext and then confirms to the
// sender and announces to the peers. The blob write happens off the hub
// goroutine so a slow disk cannot stall other rooms.
func (h *Hub) handleFile(msg *Message) {
	c := msg.client

	room, ok := h.memberRoom(c)
	if !ok {
		return
	}

	var p FilePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Filename == "" {
		h.sendError(c, "malformed file payload")
		return
	}

	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		h.sendError(c, "file data is not valid base64")
		return
	}

	// Membership at time of relay decides the recipients.
	recipients := room.others(c)

	go func() {
		url, err := h.store.Put(p.Filename, data)
		if err != nil {
			h.log.Error("blob store failed", "room", room.Code, "file", p.Filename, "err", err)
			h.sendAsync(c, mustMessage(TypeError, "", ErrorPayload{Error: "failed to store file"}))
			return
		}

		h.sendAsync(c, mustMessage(TypeFileSaved, "", FileSavedPayload{URL: url, Filename: p.Filename}))

		forward := mustMessage(TypeFile, c.ID, FileForwardPayload{
			Filename: p.Filename,
			URL:      url,
			Metadata: p.Metadata,
		})
		for _, other := range recipients {
			h.sendAsync(other, forward)
		}
	}()
}

// memberRoom resolves the sender's room, replying with an error when the
// client has not joined one.
func (h *Hub) memberRoom(c *Client) (*Room, bool) {
	if c.Room == "" {
		h.sendError(c, "you must join a room first")
		return nil, false
	}
	room, ok := h.Rooms[c.Room]
	if !ok || !room.has(c) {
		h.sendError(c, "room not found")
		return nil, false
	}
	return room, true
}

// send delivers a message without ever blocking the hub loop. A client
// whose buffer is full is dropped and disconnected so it cannot stall its
// room. Must only be called from the hub goroutine.
func (h *Hub) send(c *Client, m *Message) {
	if c.sendClosed {
		return
	}
	select {
	case c.Send <- m:
	default:
		h.log.Warn("send buffer full, disconnecting slow client", "client", c.ID)
		h.leaveRoom(c)
		c.closeSend()
	}
}

// sendAsync is the best-effort variant for goroutines outside the hub loop.
// It never touches room state; on overflow the message is dropped and the
// slow client is left for the ping/pong machinery to reap.
func (h *Hub) sendAsync(c *Client, m *Message) {
	defer func() {
		// The hub may have disconnected the client concurrently.
		_ = recover()
	}()
	select {
	case c.Send <- m:
	default:
		h.log.Warn("send buffer full, dropping message", "client", c.ID, "type", m.Type)
	}
}

func (h *Hub) sendError(c *Client, text string) {
	h.send(c, mustMessage(TypeError, "", ErrorPayload{Error: text}))
}

func (h *Hub) broadcastCount(room *Room) {
	count := len(room.Members)
	m := mustMessage(TypeRoomCount, "", RoomCountPayload{Count: count})
	for _, member := range append([]*Client(nil), room.Members...) {
		h.send(member, m)
	}
}

func joinedMessage(id string, count int) *Message {
	return mustMessage(TypeJoined, "", JoinedPayload{ID: id, Count: count})
}

// mustMessage builds a server-originated message. The payload types are all
// local structs, so marshalling cannot fail.
func mustMessage(msgType, from string, payload any) *Message {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &Message{Type: msgType, From: from, Payload: b}
}
