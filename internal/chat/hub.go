package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/vetchat/pkg/protocol"
)

// Client represents one channel connected to a room.
type Client struct {
	Conn     Conn
	Room     string
	Username string
	Format   protocol.Format
	Outgoing chan protocol.Frame
}

// NewClient creates a Client with a buffered outgoing queue.
func NewClient(conn Conn, room, username string, format protocol.Format) *Client {
	return &Client{
		Conn:     conn,
		Room:     room,
		Username: username,
		Format:   format,
		Outgoing: make(chan protocol.Frame, 16),
	}
}

// encode renders msg in the client's wire format.
func (c *Client) encode(room string, msg protocol.ChatMessage) (protocol.Frame, error) {
	if c.Format != protocol.FormatEnvelope {
		return protocol.TextFrame(protocol.FormatFrame(msg)), nil
	}
	data, err := protocol.MarshalEnvelope(protocol.EnvelopeFromMessage(room, msg))
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.BinaryFrame(data), nil
}

// Hub tracks the channels connected to each room and fans messages out to
// them.
type Hub struct {
	rooms  map[string]map[*Client]bool
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		logger: logger,
	}
}

// Register adds a client to its room.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[client.Room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[client.Room] = members
	}
	members[client] = true
}

// Unregister removes a client. Empty rooms are dropped.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[client.Room]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(h.rooms, client.Room)
	}
}

// Broadcast sends msg to every client in room, the sender included.
// Clients whose queue is full are skipped.
func (h *Hub) Broadcast(room string, msg protocol.ChatMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		frame, err := client.encode(room, msg)
		if err != nil {
			h.logger.Error().Err(err).Str("room", room).Msg("failed to encode broadcast")
			continue
		}
		select {
		case client.Outgoing <- frame:
		default:
			h.logger.Warn().Str("room", room).Str("user", client.Username).Msg("client queue full, skipping")
		}
	}
}

// BroadcastRaw sends a text frame that does not follow the message grammar.
func (h *Hub) BroadcastRaw(room, text string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[room] {
		if client.Format == protocol.FormatEnvelope {
			continue
		}
		select {
		case client.Outgoing <- protocol.TextFrame(text):
		default:
		}
	}
}

// ClientCount returns number of connected clients in room.
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomCount returns the number of rooms with at least one client.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
